package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

const joinTokenBytes = 32

type accessTokenRepository interface {
	Create(ctx context.Context, token *models.AccessToken) error
	Find(ctx context.Context, token string) (*models.AccessToken, error)
}

type classFinder interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type classTeamLister interface {
	ListByClass(ctx context.Context, classID string) ([]models.Team, error)
}

// AccessTokenConfig controls join links.
type AccessTokenConfig struct {
	TTL     time.Duration
	BaseURL string
}

// AccessTokenService issues and validates time-boxed class join tokens.
type AccessTokenService struct {
	tokens  accessTokenRepository
	classes classFinder
	teams   classTeamLister
	config  AccessTokenConfig
	clock   *civiltime.Clock
	logger  *zap.Logger
}

// NewAccessTokenService constructs an AccessTokenService.
func NewAccessTokenService(tokens accessTokenRepository, classes classFinder, teams classTeamLister, config AccessTokenConfig, clock *civiltime.Clock, logger *zap.Logger) *AccessTokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TTL <= 0 {
		config.TTL = 4 * time.Hour
	}
	return &AccessTokenService{tokens: tokens, classes: classes, teams: teams, config: config, clock: clock, logger: logger}
}

// Issue creates a join token for a class owned by the acting teacher.
func (s *AccessTokenService) Issue(ctx context.Context, actor models.Principal, classID string) (*dto.JoinLink, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	value, err := randomToken(joinTokenBytes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create join token")
	}
	now := s.clock.Now()
	token := &models.AccessToken{
		Token:     value,
		ClassID:   classID,
		ExpiresAt: now.Add(s.config.TTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, storeFailure(ctx, s.logger, "access_tokens.create", err)
	}
	return &dto.JoinLink{Token: value, Link: s.link(value), ExpiresAt: token.ExpiresAt}, nil
}

// Validate returns the token row if it exists and has not expired. Tokens are not consumed.
func (s *AccessTokenService) Validate(ctx context.Context, token string) (*models.AccessToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid access link")
	}
	row, err := s.tokens.Find(ctx, token)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "access_tokens.find", err, "invalid access link")
	}
	if s.clock.Expired(row.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrAccessExpired, "access link has expired")
	}
	row.ExpiresAt = s.clock.Normalize(row.ExpiresAt)
	return row, nil
}

// JoinInfo returns what the join form needs: the class and its joinable teams.
func (s *AccessTokenService) JoinInfo(ctx context.Context, token string) (*dto.JoinInfo, error) {
	row, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	class, err := s.classes.FindByID(ctx, row.ClassID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "classes.find_by_id", err, "class not found")
	}
	teams, err := s.teams.ListByClass(ctx, row.ClassID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "teams.list_by_class", err)
	}
	joinable := make([]models.Team, 0, len(teams))
	for _, team := range teams {
		if team.IsGuests() || team.IsTeachers() {
			continue
		}
		joinable = append(joinable, team)
	}
	return &dto.JoinInfo{ClassID: class.ID, ClassName: class.Name, ExpiresAt: row.ExpiresAt, Teams: joinable}, nil
}

func (s *AccessTokenService) link(token string) string {
	base := strings.TrimRight(s.config.BaseURL, "/")
	return base + "/join/" + token
}

// ownedClass loads a class and checks the acting teacher owns it.
func ownedClass(ctx context.Context, classes classFinder, logger *zap.Logger, actor models.Principal, classID string) (*models.Class, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher access required")
	}
	class, err := classes.FindByID(ctx, classID)
	if err != nil {
		return nil, lookupFailure(ctx, logger, "classes.find_by_id", err, "class not found")
	}
	if class.TeacherID != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "class belongs to another teacher")
	}
	return class, nil
}
