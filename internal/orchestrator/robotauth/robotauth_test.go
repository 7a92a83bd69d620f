package robotauth

import (
	"testing"
	"time"

	"github.com/linkflow-ai/linkflow-ai/internal/orchestrator/robotchannel"
)

func TestAuthenticator_NilWhenUnconfigured(t *testing.T) {
	if auth := Authenticator("", nil); auth != nil {
		t.Fatal("expected nil Authenticator when neither key hash nor issuer is configured")
	}
}

func TestAuthenticator_APIKeyAcceptsMatchingPlaintext(t *testing.T) {
	hash, err := HashKey("fleet-secret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	auth := Authenticator(hash, nil)

	robotID, ok := auth(robotchannel.RegisterPayload{Name: "robot-1", APIKey: "fleet-secret"})
	if !ok || robotID != "robot-1" {
		t.Fatalf("expected accept with robotID robot-1, got %q, %v", robotID, ok)
	}
}

func TestAuthenticator_APIKeyRejectsWrongSecret(t *testing.T) {
	hash, err := HashKey("fleet-secret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	auth := Authenticator(hash, nil)

	if _, ok := auth(robotchannel.RegisterPayload{Name: "robot-1", APIKey: "wrong"}); ok {
		t.Fatal("expected reject for mismatched API key")
	}
}

func TestAuthenticator_BearerTokenRoundTrip(t *testing.T) {
	issuer := NewJWTIssuer([]byte("jwt-signing-secret"), time.Hour)
	token, err := issuer.IssueToken("robot-42")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	auth := Authenticator("", issuer)
	robotID, ok := auth(robotchannel.RegisterPayload{Name: "robot-42", BearerToken: token})
	if !ok || robotID != "robot-42" {
		t.Fatalf("expected accept with robotID robot-42, got %q, %v", robotID, ok)
	}
}

func TestAuthenticator_BearerTokenRejectsExpired(t *testing.T) {
	issuer := NewJWTIssuer([]byte("jwt-signing-secret"), -time.Hour)
	token, err := issuer.IssueToken("robot-42")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	auth := Authenticator("", issuer)
	if _, ok := auth(robotchannel.RegisterPayload{Name: "robot-42", BearerToken: token}); ok {
		t.Fatal("expected reject for expired bearer token")
	}
}

func TestAuthenticator_BearerTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTIssuer([]byte("jwt-signing-secret"), time.Hour)
	token, err := issuer.IssueToken("robot-42")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	otherIssuer := NewJWTIssuer([]byte("different-secret"), time.Hour)
	auth := Authenticator("", otherIssuer)
	if _, ok := auth(robotchannel.RegisterPayload{Name: "robot-42", BearerToken: token}); ok {
		t.Fatal("expected reject for token signed with a different secret")
	}
}

func TestAuthenticator_FallsBackFromBearerToAPIKey(t *testing.T) {
	hash, err := HashKey("fleet-secret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	issuer := NewJWTIssuer([]byte("jwt-signing-secret"), time.Hour)
	auth := Authenticator(hash, issuer)

	robotID, ok := auth(robotchannel.RegisterPayload{Name: "robot-1", APIKey: "fleet-secret"})
	if !ok || robotID != "robot-1" {
		t.Fatalf("expected accept via API key fallback, got %q, %v", robotID, ok)
	}
}
