package repository

import (
	"context"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// AccessTokenRepository persists class join tokens.
type AccessTokenRepository struct {
	store *Store
}

// NewAccessTokenRepository constructs an AccessTokenRepository.
func NewAccessTokenRepository(store *Store) *AccessTokenRepository {
	return &AccessTokenRepository{store: store}
}

// Create inserts a token.
func (r *AccessTokenRepository) Create(ctx context.Context, token *models.AccessToken) error {
	const query = `INSERT INTO access_tokens (token, class_id, expires_at, created_at) VALUES (:token, :class_id, :expires_at, :created_at)`
	return r.store.run(ctx, "access_tokens.create", func(ctx context.Context) error {
		_, err := r.store.db.NamedExecContext(ctx, query, token)
		return err
	})
}

// Find returns a token row. Expired rows are returned as-is; expiry is the caller's decision.
func (r *AccessTokenRepository) Find(ctx context.Context, token string) (*models.AccessToken, error) {
	const query = `SELECT token, class_id, expires_at, created_at FROM access_tokens WHERE token = $1 LIMIT 1`
	var row models.AccessToken
	err := r.store.run(ctx, "access_tokens.find", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &row, query, token)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}
