package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

type sessionRevocationStore interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// SessionConfig defines session lifetimes and signing.
type SessionConfig struct {
	Secret     string
	Issuer     string
	TeacherTTL time.Duration
	StudentTTL time.Duration
}

// SessionService issues, validates and expires signed session tokens.
type SessionService struct {
	config      SessionConfig
	revocations sessionRevocationStore
	clock       *civiltime.Clock
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewSessionService constructs a SessionService.
func NewSessionService(config SessionConfig, revocations sessionRevocationStore, clock *civiltime.Clock, metrics *MetricsService, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StudentTTL <= 0 {
		config.StudentTTL = 4 * time.Hour
	}
	if config.TeacherTTL <= 0 {
		config.TeacherTTL = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "peer-eval-api"
	}
	return &SessionService{config: config, revocations: revocations, clock: clock, metrics: metrics, logger: logger}
}

// Issue signs a session for principal.
func (s *SessionService) Issue(principal models.Principal) (*dto.SessionGrant, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl(principal.Role))
	claims := &models.SessionClaims{
		PrincipalID: principal.ID,
		Role:        principal.Role,
		Name:        principal.Name,
		ClassID:     principal.ClassID,
		TeamID:      principal.TeamID,
		CreatedAt:   now,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign session")
	}
	return &dto.SessionGrant{Token: signed, ExpiresAt: expiresAt, Principal: principal}, nil
}

// Validate checks signature, revocation and age. An aged-out session is expired as a side effect
// and reported as SESSION_EXPIRED.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid session")
	}
	if claims.ID == "" || claims.PrincipalID == "" || (claims.Role != models.RoleTeacher && claims.Role != models.RoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid session")
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Warn("session revocation lookup failed", zap.String("session_id", claims.ID), zap.Error(err))
	}
	if revoked {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session ended")
	}

	issuedAt := claims.CreatedAt
	var tokenExpiry time.Time
	if claims.ExpiresAt != nil {
		tokenExpiry = claims.ExpiresAt.Time
	}
	if s.clock.Expired(s.deadline(claims.Role, issuedAt, tokenExpiry)) {
		s.metrics.RecordSessionExpired()
		if err := s.Expire(ctx, claims); err != nil {
			s.logger.Warn("failed to record expired session", zap.String("session_id", claims.ID), zap.Error(err))
		}
		return nil, appErrors.Clone(appErrors.ErrSessionExpired, "")
	}
	return claims, nil
}

// Expire revokes the session until its token would have lapsed anyway.
func (s *SessionService) Expire(ctx context.Context, claims *models.SessionClaims) error {
	if claims == nil {
		return nil
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(s.clock.Now()); remaining > ttl {
			ttl = remaining
		}
	}
	if err := s.revocations.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke session %s: %w", claims.ID, err)
	}
	return nil
}

func (s *SessionService) ttl(role models.Role) time.Duration {
	if role == models.RoleStudent {
		return s.config.StudentTTL
	}
	return s.config.TeacherTTL
}

// deadline is the instant after which a session is dead. Student sessions live exactly StudentTTL
// from creation regardless of what the token claims; teacher sessions end at the token expiry.
func (s *SessionService) deadline(role models.Role, createdAt, tokenExpiry time.Time) time.Time {
	if role == models.RoleStudent || tokenExpiry.IsZero() {
		return createdAt.Add(s.ttl(role))
	}
	return tokenExpiry
}

// IsSessionExpired reports whether err is the aged-out session failure.
func IsSessionExpired(err error) bool {
	return errors.Is(err, appErrors.ErrSessionExpired)
}
