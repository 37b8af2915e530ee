package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/repository"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/signer"
)

const selectionPurpose = "select"

// Auth paths used for metrics and ticket subjects.
const (
	authPathTeacher = "teacher"
	authPathStudent = "student"
	authPathGuest   = "guest"
	authPathSelect  = "select"
	authPathJoin    = "join"
)

type identityTeacherRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.Teacher, error)
}

type identityStudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindLoginCandidates(ctx context.Context, name string) ([]models.Student, error)
	FindGuestCandidates(ctx context.Context, name string) ([]models.Student, error)
	FindPreAdded(ctx context.Context, teamID, externalID string) (*models.Student, error)
	NamesInTeam(ctx context.Context, teamID string) ([]string, error)
	BindDevice(ctx context.Context, id, token string) (bool, error)
	UpdateJoin(ctx context.Context, id, name string, accessExpiresAt time.Time) error
}

type identityTeamRepository interface {
	FindByID(ctx context.Context, id string) (*models.Team, error)
	FindByName(ctx context.Context, classID, name string) (*models.Team, error)
	Create(ctx context.Context, team *models.Team) error
}

type joinTokenValidator interface {
	Validate(ctx context.Context, token string) (*models.AccessToken, error)
}

type sessionIssuer interface {
	Issue(principal models.Principal) (*dto.SessionGrant, error)
}

// IdentityRepositories groups the stores the identity flows read and write.
type IdentityRepositories struct {
	Teachers identityTeacherRepository
	Students identityStudentRepository
	Classes  classFinder
	Teams    identityTeamRepository
}

// IdentityService turns human-entered credentials and join links into exactly one authenticated
// principal bound to one device.
type IdentityService struct {
	teachers  identityTeacherRepository
	students  identityStudentRepository
	classes   classFinder
	teams     identityTeamRepository
	tokens    joinTokenValidator
	sessions  sessionIssuer
	hasher    *PasscodeHasher
	names     *NameAllocator
	tickets   *signer.Signer
	clock     *civiltime.Clock
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(repos IdentityRepositories, tokens joinTokenValidator, sessions sessionIssuer, hasher *PasscodeHasher, tickets *signer.Signer, clock *civiltime.Clock, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &IdentityService{
		teachers:  repos.Teachers,
		students:  repos.Students,
		classes:   repos.Classes,
		teams:     repos.Teams,
		tokens:    tokens,
		sessions:  sessions,
		hasher:    hasher,
		names:     NewNameAllocator(repos.Students),
		tickets:   tickets,
		clock:     clock,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// TeacherLogin authenticates an instructor by email and password.
func (s *IdentityService) TeacherLogin(ctx context.Context, req dto.TeacherLoginRequest) (*dto.SessionGrant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid login payload")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	teacher, err := s.teachers.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, storeFailure(ctx, s.logger, "teachers.find_by_email", err)
		}
		s.hasher.Burn(req.Password)
		return nil, s.fail(authPathTeacher, appErrors.Clone(appErrors.ErrInvalidCredentials, ""))
	}
	if !s.hasher.Verify(req.Password, teacher.PasswordHash) {
		return nil, s.fail(authPathTeacher, appErrors.Clone(appErrors.ErrInvalidCredentials, ""))
	}
	grant, err := s.sessions.Issue(models.Principal{ID: teacher.ID, Role: models.RoleTeacher, Name: teacher.Name})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthAttempt(authPathTeacher, AuthOutcomeSuccess)
	return grant, nil
}

// StudentLogin authenticates any enrolled or guest row by display name and passcode.
func (s *IdentityService) StudentLogin(ctx context.Context, req dto.StudentLoginRequest) (*dto.LoginResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid login payload")
	}
	candidates, err := s.students.FindLoginCandidates(ctx, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.find_login_candidates", err)
	}
	return s.resolve(ctx, authPathStudent, candidates, req.Passcode, req.DeviceToken)
}

// GuestLogin authenticates a walk-in guest by display name and the shared class passcode.
func (s *IdentityService) GuestLogin(ctx context.Context, req dto.GuestLoginRequest) (*dto.LoginResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid login payload")
	}
	candidates, err := s.students.FindGuestCandidates(ctx, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.find_guest_candidates", err)
	}
	return s.resolve(ctx, authPathGuest, candidates, req.Passcode, req.DeviceToken)
}

// Select completes a login that matched several enrollments. Only ids listed in the signed
// selection ticket are accepted, and class and team always come from the stored row.
func (s *IdentityService) Select(ctx context.Context, req dto.SelectClassRequest) (*dto.SessionGrant, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid selection payload")
	}
	ticket, err := s.tickets.Parse(req.Ticket, selectionPurpose)
	if err != nil {
		if errors.Is(err, signer.ErrExpired) {
			return nil, s.fail(authPathSelect, appErrors.Clone(appErrors.ErrUnauthorized, "selection expired, sign in again"))
		}
		return nil, s.fail(authPathSelect, appErrors.Clone(appErrors.ErrUnauthorized, "invalid selection"))
	}
	if !containsID(strings.Split(ticket.Payload, ","), req.StudentID) {
		return nil, s.fail(authPathSelect, appErrors.Clone(appErrors.ErrForbidden, "selection not offered"))
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "students.find_by_id", err, "student not found")
	}
	if (req.ClassID != "" && req.ClassID != student.ClassID) || (req.TeamID != "" && req.TeamID != student.TeamID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class and team do not match the selected enrollment")
	}
	grant, err := s.establish(ctx, student, req.DeviceToken)
	if err != nil {
		return nil, s.fail(authPathSelect, err)
	}
	s.metrics.RecordAuthAttempt(authPathSelect, AuthOutcomeSuccess)
	return grant, nil
}

// JoinByToken admits a participant through a class join link. Pre-added roster rows are claimed
// instead of duplicated; guests land in the class's Guests team. The account's access is pinned to
// the link's expiry.
func (s *IdentityService) JoinByToken(ctx context.Context, req dto.JoinRequest) (*dto.SessionGrant, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid join payload")
	}
	token, err := s.tokens.Validate(ctx, req.Token)
	if err != nil {
		return nil, s.fail(authPathJoin, err)
	}
	class, err := s.classes.FindByID(ctx, token.ClassID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "classes.find_by_id", err, "class not found")
	}

	var student *models.Student
	if req.IsGuest {
		student, err = s.joinAsGuest(ctx, class, token, req)
	} else {
		student, err = s.joinAsStudent(ctx, class, token, req)
	}
	if err != nil {
		return nil, s.fail(authPathJoin, err)
	}

	grant, err := s.sessions.Issue(principalFor(student))
	if err != nil {
		return nil, err
	}
	grant.DeviceToken = *student.DeviceToken
	s.metrics.RecordAuthAttempt(authPathJoin, AuthOutcomeSuccess)
	return grant, nil
}

func (s *IdentityService) joinAsGuest(ctx context.Context, class *models.Class, token *models.AccessToken, req dto.JoinRequest) (*models.Student, error) {
	team, err := ensureTeam(ctx, s.teams, class.ID, models.GuestsTeamName, s.clock.Now())
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "teams.ensure_guests", err)
	}
	passcode, err := s.hasher.Hash(class.Name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash passcode")
	}
	return s.insertJoined(ctx, team, token, req, "", passcode)
}

func (s *IdentityService) joinAsStudent(ctx context.Context, class *models.Class, token *models.AccessToken, req dto.JoinRequest) (*models.Student, error) {
	team, err := s.teams.FindByID(ctx, req.TeamID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "teams.find_by_id", err, "team not found")
	}
	if team.ClassID != class.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "team not found")
	}
	if team.IsGuests() || team.IsTeachers() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "choose your project team")
	}

	preAdded, err := s.students.FindPreAdded(ctx, team.ID, req.ExternalID)
	switch {
	case err == nil:
		return s.claimPreAdded(ctx, preAdded, token, req)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, storeFailure(ctx, s.logger, "students.find_pre_added", err)
	}

	passcode, err := s.hasher.Hash(req.ExternalID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash passcode")
	}
	return s.insertJoined(ctx, team, token, req, req.ExternalID, passcode)
}

// claimPreAdded renames a teacher-registered row to the joining student's display name. A row
// already bound to another device is not taken over.
func (s *IdentityService) claimPreAdded(ctx context.Context, student *models.Student, token *models.AccessToken, req dto.JoinRequest) (*models.Student, error) {
	if student.HasDevice() && !sameToken(req.DeviceToken, *student.DeviceToken) {
		return nil, appErrors.Clone(appErrors.ErrDeviceMismatch, "")
	}
	expiresAt := token.ExpiresAt
	if student.Name == req.Name {
		if err := s.students.UpdateJoin(ctx, student.ID, student.Name, expiresAt); err != nil {
			return nil, storeFailure(ctx, s.logger, "students.update_join", err)
		}
	} else {
		name, err := s.names.Claim(ctx, req.Name, student.TeamID, func(name string) error {
			return s.students.UpdateJoin(ctx, student.ID, name, expiresAt)
		})
		if err != nil {
			return nil, storeFailure(ctx, s.logger, "students.update_join", err)
		}
		student.Name = name
	}
	student.AccessExpiresAt = &expiresAt

	device, err := s.bindDevice(ctx, student, req.DeviceToken)
	if err != nil {
		return nil, err
	}
	student.DeviceToken = &device
	return student, nil
}

func (s *IdentityService) insertJoined(ctx context.Context, team *models.Team, token *models.AccessToken, req dto.JoinRequest, externalID, passcodeHash string) (*models.Student, error) {
	device, err := s.deviceTokenFor(req.DeviceToken)
	if err != nil {
		return nil, err
	}
	expiresAt := token.ExpiresAt
	student := &models.Student{
		ExternalID:      externalID,
		PasscodeHash:    passcodeHash,
		TeamID:          team.ID,
		ClassID:         team.ClassID,
		AccessExpiresAt: &expiresAt,
		DeviceToken:     &device,
		CreatedAt:       s.clock.Now(),
	}
	_, err = s.names.Claim(ctx, req.Name, team.ID, func(name string) error {
		student.ID = uuid.NewString()
		student.Name = name
		return s.students.Create(ctx, student)
	})
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.create", err)
	}
	return student, nil
}

// resolve narrows the rows sharing a display name to the ones the passcode unlocks. Several
// matches always go back to the caller as a choice; expiry and device are enforced on the row
// finally chosen.
func (s *IdentityService) resolve(ctx context.Context, path string, candidates []models.Student, passcode, device string) (*dto.LoginResult, error) {
	matches := make([]models.Student, 0, len(candidates))
	for _, candidate := range candidates {
		if s.hasher.Verify(passcode, candidate.PasscodeHash) {
			matches = append(matches, candidate)
		}
	}
	if len(candidates) == 0 {
		s.hasher.Burn(passcode)
	}
	if len(matches) == 0 {
		return nil, s.fail(path, appErrors.Clone(appErrors.ErrInvalidCredentials, ""))
	}
	if len(matches) == 1 {
		grant, err := s.establish(ctx, &matches[0], device)
		if err != nil {
			return nil, s.fail(path, err)
		}
		s.metrics.RecordAuthAttempt(path, AuthOutcomeSuccess)
		return &dto.LoginResult{Session: grant}, nil
	}

	disambiguation, err := s.disambiguate(ctx, path, matches)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAuthAttempt(path, AuthOutcomeDisambiguation)
	return &dto.LoginResult{Disambiguation: disambiguation}, nil
}

func (s *IdentityService) disambiguate(ctx context.Context, path string, matches []models.Student) (*dto.Disambiguation, error) {
	ids := make([]string, 0, len(matches))
	candidates := make([]dto.ClassCandidate, 0, len(matches))
	classNames := map[string]string{}
	for _, match := range matches {
		name, ok := classNames[match.ClassID]
		if !ok {
			class, err := s.classes.FindByID(ctx, match.ClassID)
			if err != nil {
				return nil, lookupFailure(ctx, s.logger, "classes.find_by_id", err, "class not found")
			}
			name = class.Name
			classNames[match.ClassID] = name
		}
		ids = append(ids, match.ID)
		candidates = append(candidates, dto.ClassCandidate{StudentID: match.ID, ClassID: match.ClassID, ClassName: name, TeamID: match.TeamID})
	}
	ticket, expiresAt, err := s.tickets.Generate(selectionPurpose, path, strings.Join(ids, ","))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign selection")
	}
	return &dto.Disambiguation{Ticket: ticket, ExpiresAt: expiresAt, Candidates: candidates}, nil
}

// establish applies the expiry and device rules to one resolved row and opens a session.
func (s *IdentityService) establish(ctx context.Context, student *models.Student, device string) (*dto.SessionGrant, error) {
	if s.accessExpired(student) {
		return nil, appErrors.Clone(appErrors.ErrAccessExpired, "")
	}
	bound, err := s.bindDevice(ctx, student, device)
	if err != nil {
		return nil, err
	}
	grant, err := s.sessions.Issue(principalFor(student))
	if err != nil {
		return nil, err
	}
	grant.DeviceToken = bound
	return grant, nil
}

// bindDevice enforces the one-device lock. A bound account accepts only its own token; an unbound
// account is locked to the presented token (or a fresh one) with a conditional write, and a lost
// race defers to whatever token won.
func (s *IdentityService) bindDevice(ctx context.Context, student *models.Student, presented string) (string, error) {
	if student.HasDevice() {
		if !sameToken(presented, *student.DeviceToken) {
			return "", appErrors.Clone(appErrors.ErrDeviceMismatch, "")
		}
		return *student.DeviceToken, nil
	}
	token, err := s.deviceTokenFor(presented)
	if err != nil {
		return "", err
	}
	won, err := s.students.BindDevice(ctx, student.ID, token)
	if err != nil {
		return "", storeFailure(ctx, s.logger, "students.bind_device", err)
	}
	if won {
		student.DeviceToken = &token
		return token, nil
	}

	current, err := s.students.FindByID(ctx, student.ID)
	if err != nil {
		return "", lookupFailure(ctx, s.logger, "students.find_by_id", err, "student not found")
	}
	if !current.HasDevice() {
		return "", storeFailure(ctx, s.logger, "students.bind_device", errors.New("device binding lost without a winner"))
	}
	student.DeviceToken = current.DeviceToken
	if !sameToken(presented, *current.DeviceToken) {
		return "", appErrors.Clone(appErrors.ErrDeviceMismatch, "")
	}
	return *current.DeviceToken, nil
}

// deviceTokenFor keeps a presented cookie only when it is one this service minted, so one device
// holds one token across all of its accounts. Anything else is replaced.
func (s *IdentityService) deviceTokenFor(presented string) (string, error) {
	if isMintedToken(presented, deviceTokenBytes) {
		return presented, nil
	}
	token, err := randomToken(deviceTokenBytes)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create device token")
	}
	return token, nil
}

func (s *IdentityService) accessExpired(student *models.Student) bool {
	return student.AccessExpiresAt != nil && s.clock.Expired(*student.AccessExpiresAt)
}

func (s *IdentityService) fail(path string, err error) error {
	s.metrics.RecordAuthAttempt(path, AuthOutcomeFailure)
	return err
}

func principalFor(student *models.Student) models.Principal {
	return models.Principal{
		ID:      student.ID,
		Role:    models.RoleStudent,
		Name:    student.Name,
		ClassID: student.ClassID,
		TeamID:  student.TeamID,
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
