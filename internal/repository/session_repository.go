package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const revokedSessionPrefix = "session:revoked:"

// SessionRepository keeps a denylist of revoked session ids in Redis. Without a client every
// session is treated as live and revocations are dropped; expiry still applies on read.
type SessionRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSessionRepository constructs a session repository.
func NewSessionRepository(client *redis.Client, logger *zap.Logger) *SessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRepository{client: client, logger: logger}
}

// Revoke denylists a session id until ttl elapses.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	if r.client == nil || sessionID == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := revokedSessionPrefix + sessionID
	if err := r.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// IsRevoked reports whether a session id was revoked.
func (r *SessionRepository) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	if r.client == nil || sessionID == "" {
		return false, nil
	}
	key := revokedSessionPrefix + sessionID
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}
