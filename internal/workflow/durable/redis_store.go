package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkflow-ai/linkflow-ai/internal/shared/apperrors"
)

// RedisCheckpointStore persists checkpoints as JSON blobs under
// <keyPrefix><jobID>, grounded on the teacher's use of redis/go-redis/v9 for
// caching elsewhere in the stack (internal/platform has the same client
// wired for session/rate-limit state).
type RedisCheckpointStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCheckpointStore builds a store. ttl of 0 disables expiry (matches
// go-redis's KeepTTL-free Set semantics of "no expiration").
func NewRedisCheckpointStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisCheckpointStore) key(jobID string) string {
	return s.keyPrefix + jobID
}

func (s *RedisCheckpointStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", jobID, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", jobID, err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.JobID, err)
	}
	if err := s.client.Set(ctx, s.key(cp.JobID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.JobID, err)
	}
	return nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", jobID, err)
	}
	return nil
}
