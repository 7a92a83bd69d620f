// Package robotauth builds a robotchannel.Authenticator, the same
// bcrypt-hash-at-rest / JWT-bearer-in-transit split the teacher uses for user
// login (internal/user/domain/model/user.go,
// internal/auth/app/service/auth_service.go), applied to one shared robot
// credential rather than per-user ones: this service has no tenant/user
// model, only operators and robots (see the orchestrator server's API key
// note), so every robot in the fleet presents the same provisioned secret.
package robotauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
)

// Claims is the JWT payload a robot presents as RegisterPayload.BearerToken;
// Subject carries the robot ID it intends to register as.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTIssuer signs bearer tokens robots can use instead of the shared API key.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTIssuer(secret []byte, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{secret: secret, ttl: ttl}
}

// IssueToken signs a bearer token for robotID, valid for the issuer's TTL.
func (i *JWTIssuer) IssueToken(robotID string) (string, error) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   robotID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *JWTIssuer) verify(tokenString string) (string, bool) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// HashKey bcrypt-hashes a plaintext robot API key for storage in
// config/secrets, the same GenerateFromPassword call the teacher uses when
// provisioning a user's password hash.
func HashKey(plaintextKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticator builds a robotchannel.Authenticator accepting either a
// bearer token signed by issuer (robot ID taken from the token's Subject) or
// the fleet's shared API key hashed into keyHash (robot ID taken from the
// Register frame's reported Name, since a bare API key carries no identity
// of its own). Either keyHash or issuer may be empty/nil to disable that
// credential path; if both are disabled every Register is accepted, matching
// robotchannel.NewHub(nil, ...)'s accept-all development default.
func Authenticator(keyHash string, issuer *JWTIssuer) robotchannel.Authenticator {
	if keyHash == "" && issuer == nil {
		return nil
	}
	return func(payload robotchannel.RegisterPayload) (string, bool) {
		if issuer != nil && payload.BearerToken != "" {
			if robotID, ok := issuer.verify(payload.BearerToken); ok {
				return robotID, true
			}
		}
		if keyHash != "" && payload.APIKey != "" {
			if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(payload.APIKey)) == nil {
				return payload.Name, true
			}
		}
		return "", false
	}
}
