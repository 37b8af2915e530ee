package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

type assignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByClass(ctx context.Context, classID string) ([]models.Assignment, error)
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id string) error
}

// AssignmentService manages evaluation windows.
type AssignmentService struct {
	assignments assignmentRepository
	classes     classFinder
	clock       *civiltime.Clock
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(assignments assignmentRepository, classes classFinder, clock *civiltime.Clock, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AssignmentService{assignments: assignments, classes: classes, clock: clock, validator: validate, logger: logger}
}

// Create adds an assignment to a class owned by the acting teacher.
func (s *AssignmentService) Create(ctx context.Context, actor models.Principal, classID string, req dto.AssignmentRequest) (*models.Assignment, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	assignment := &models.Assignment{ID: uuid.NewString(), ClassID: classID, CreatedAt: s.clock.Now()}
	if err := s.apply(assignment, req); err != nil {
		return nil, err
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		return nil, storeFailure(ctx, s.logger, "assignments.create", err)
	}
	return assignment, nil
}

// List returns a class's assignments for its teacher.
func (s *AssignmentService) List(ctx context.Context, actor models.Principal, classID string) ([]models.Assignment, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	return s.list(ctx, classID)
}

// ListForStudent returns the assignments of the student's class ordered by start time.
func (s *AssignmentService) ListForStudent(ctx context.Context, actor models.Principal) ([]models.Assignment, error) {
	if actor.Role != models.RoleStudent || actor.ClassID == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student access required")
	}
	return s.list(ctx, actor.ClassID)
}

// Update rewrites the name and window of an assignment.
func (s *AssignmentService) Update(ctx context.Context, actor models.Principal, assignmentID string, req dto.AssignmentRequest) (*models.Assignment, error) {
	assignment, err := s.owned(ctx, actor, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(assignment, req); err != nil {
		return nil, err
	}
	if err := s.assignments.Update(ctx, assignment); err != nil {
		return nil, lookupFailure(ctx, s.logger, "assignments.update", err, "assignment not found")
	}
	return assignment, nil
}

// Delete removes an assignment and its evaluations.
func (s *AssignmentService) Delete(ctx context.Context, actor models.Principal, assignmentID string) error {
	if _, err := s.owned(ctx, actor, assignmentID); err != nil {
		return err
	}
	if err := s.assignments.Delete(ctx, assignmentID); err != nil {
		return lookupFailure(ctx, s.logger, "assignments.delete", err, "assignment not found")
	}
	return nil
}

func (s *AssignmentService) list(ctx context.Context, classID string) ([]models.Assignment, error) {
	assignments, err := s.assignments.ListByClass(ctx, classID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "assignments.list_by_class", err)
	}
	for i := range assignments {
		assignments[i].StartTime = s.clock.Normalize(assignments[i].StartTime)
		assignments[i].EndTime = s.clock.Normalize(assignments[i].EndTime)
	}
	return assignments, nil
}

func (s *AssignmentService) owned(ctx context.Context, actor models.Principal, assignmentID string) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "assignments.find_by_id", err, "assignment not found")
	}
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, assignment.ClassID); err != nil {
		return nil, err
	}
	return assignment, nil
}

// apply validates req and copies it onto assignment with times in the canonical zone.
func (s *AssignmentService) apply(assignment *models.Assignment, req dto.AssignmentRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return validationFailure(err, "invalid assignment payload")
	}
	start, err := s.clock.Parse(req.StartTime)
	if err != nil {
		return validationFailure(err, "start_time must be an ISO-8601 timestamp")
	}
	end, err := s.clock.Parse(req.EndTime)
	if err != nil {
		return validationFailure(err, "end_time must be an ISO-8601 timestamp")
	}
	if end.Before(start) {
		return appErrors.Clone(appErrors.ErrValidation, "end_time must not precede start_time")
	}
	assignment.Name = req.Name
	assignment.StartTime = start
	assignment.EndTime = end
	return nil
}
