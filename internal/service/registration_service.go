package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
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
	"github.com/noah-isme/peer-eval-api/pkg/notify"
	"github.com/noah-isme/peer-eval-api/pkg/signer"
)

const (
	verificationPurpose = "verify"
	verificationDigits  = 6
)

type registrationTeacherRepository interface {
	Create(ctx context.Context, teacher *models.Teacher) error
	FindByEmail(ctx context.Context, email string) (*models.Teacher, error)
}

type mailOutbox interface {
	Enqueue(msg notify.Message) error
}

// RegistrationConfig controls teacher sign-up.
type RegistrationConfig struct {
	EmailDomain     string
	VerificationTTL time.Duration
}

// RegistrationService signs up teachers after proving control of an institutional mailbox.
// No server-side state is kept between the two steps: the signed ticket carries the email, a keyed
// digest of the code and the deadline.
type RegistrationService struct {
	teachers  registrationTeacherRepository
	outbox    mailOutbox
	hasher    *PasscodeHasher
	tickets   *signer.Signer
	clock     *civiltime.Clock
	config    RegistrationConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(teachers registrationTeacherRepository, outbox mailOutbox, hasher *PasscodeHasher, tickets *signer.Signer, clock *civiltime.Clock, config RegistrationConfig, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.VerificationTTL <= 0 {
		config.VerificationTTL = 10 * time.Minute
	}
	config.EmailDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(config.EmailDomain)), "@")
	return &RegistrationService{teachers: teachers, outbox: outbox, hasher: hasher, tickets: tickets, clock: clock, config: config, validator: validate, logger: logger}
}

// RequestCode mails a verification code and returns the ticket that must accompany it.
func (s *RegistrationService) RequestCode(ctx context.Context, req dto.RegistrationCodeRequest) (*dto.RegistrationTicket, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid email")
	}
	email, err := s.institutionalEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUnregistered(ctx, email); err != nil {
		return nil, err
	}

	code, err := verificationCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification code")
	}
	ticket, expiresAt, err := s.tickets.GenerateFor(verificationPurpose, email, s.tickets.Digest(email, code), s.config.VerificationTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign verification")
	}
	msg := notify.Message{
		To:      email,
		Subject: "Your Peer Evaluation verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.config.VerificationTTL.Minutes())),
	}
	if err := s.outbox.Enqueue(msg); err != nil {
		s.logger.Error("failed to queue verification email", zap.String("email", email), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStoreTransient.Code, appErrors.ErrStoreTransient.Status, "could not send verification email, try again")
	}
	return &dto.RegistrationTicket{Ticket: ticket, ExpiresAt: expiresAt}, nil
}

// Register creates the teacher once ticket, email and code agree.
func (s *RegistrationService) Register(ctx context.Context, req dto.RegisterTeacherRequest) (*models.Teacher, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid registration payload")
	}
	email, err := s.institutionalEmail(req.Email)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.Parse(req.Ticket, verificationPurpose)
	if err != nil {
		if errors.Is(err, signer.ErrExpired) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "verification code expired, request a new one")
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid verification code")
	}
	if ticket.Subject != email || !hmac.Equal([]byte(ticket.Payload), []byte(s.tickets.Digest(email, strings.TrimSpace(req.Code)))) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid verification code")
	}
	if err := s.ensureUnregistered(ctx, email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	teacher := &models.Teacher{ID: uuid.NewString(), Name: req.Name, Email: email, PasswordHash: hash, CreatedAt: s.clock.Now()}
	if err := s.teachers.Create(ctx, teacher); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, storeFailure(ctx, s.logger, "teachers.create", err)
	}
	s.logger.Info("teacher registered", zap.String("teacher_id", teacher.ID))
	return teacher, nil
}

func (s *RegistrationService) institutionalEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if s.config.EmailDomain != "" && !strings.HasSuffix(email, "@"+s.config.EmailDomain) {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("must use a @%s email address", s.config.EmailDomain))
	}
	return email, nil
}

func (s *RegistrationService) ensureUnregistered(ctx context.Context, email string) error {
	_, err := s.teachers.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return appErrors.Clone(appErrors.ErrConflict, "email already registered")
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return storeFailure(ctx, s.logger, "teachers.find_by_email", err)
	}
}

func verificationCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < verificationDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", verificationDigits, n.Int64()), nil
}
