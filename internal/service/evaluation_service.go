package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/repository"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/export"
)

type evaluationRepository interface {
	ReplaceBundle(ctx context.Context, team *models.TeamEvaluation, members []models.MemberEvaluation) error
	Exists(ctx context.Context, key models.EvaluationKey) (bool, error)
	ListReceivedByTeam(ctx context.Context, assignmentID, teamID string) ([]models.TeamEvaluationView, error)
	ListReceivedByStudent(ctx context.Context, assignmentID, studentID string) ([]models.MemberEvaluationView, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.TeamEvaluationView, error)
	ListMembersByAssignment(ctx context.Context, assignmentID string) ([]models.MemberEvaluationView, error)
}

type evaluationStudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindInTeamByName(ctx context.Context, teamID, name string) (*models.Student, error)
	ListByTeam(ctx context.Context, teamID string) ([]models.StudentSummary, error)
}

type evaluationTeamRepository interface {
	FindByID(ctx context.Context, id string) (*models.Team, error)
	FindByName(ctx context.Context, classID, name string) (*models.Team, error)
	Create(ctx context.Context, team *models.Team) error
}

type assignmentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
}

// EvaluationRepositories groups the stores the evaluation flows use.
type EvaluationRepositories struct {
	Evaluations evaluationRepository
	Students    evaluationStudentRepository
	Teams       evaluationTeamRepository
	Classes     classFinder
	Assignments assignmentFinder
}

// EvaluationService records peer evaluations with one current bundle per
// (assignment, evaluated team, evaluator) and serves the teacher reports.
type EvaluationService struct {
	evaluations evaluationRepository
	students    evaluationStudentRepository
	teams       evaluationTeamRepository
	classes     classFinder
	assignments assignmentFinder
	hasher      *PasscodeHasher
	clock       *civiltime.Clock
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEvaluationService constructs an EvaluationService.
func NewEvaluationService(repos EvaluationRepositories, hasher *PasscodeHasher, clock *civiltime.Clock, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EvaluationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EvaluationService{
		evaluations: repos.Evaluations,
		students:    repos.Students,
		teams:       repos.Teams,
		classes:     repos.Classes,
		assignments: repos.Assignments,
		hasher:      hasher,
		clock:       clock,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Submit stores an evaluation bundle, replacing any previous bundle for the same key.
func (s *EvaluationService) Submit(ctx context.Context, actor models.Principal, req dto.SubmitEvaluationRequest) (*models.TeamEvaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid evaluation payload")
	}
	assignment, err := s.assignmentFor(ctx, actor, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	target, err := s.teams.FindByID(ctx, req.EvaluatedTeamID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "teams.find_by_id", err, "team not found")
	}
	if target.ClassID != assignment.ClassID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "team not found")
	}
	if target.IsGuests() {
		return nil, appErrors.Clone(appErrors.ErrTargetIsGuestBucket, "")
	}

	var evaluatorID string
	switch actor.Role {
	case models.RoleTeacher:
		proxy, err := s.ensureTeacherProxy(ctx, assignment.ClassID, actor.Name)
		if err != nil {
			return nil, err
		}
		evaluatorID = proxy.ID
	default:
		if target.ID == actor.TeamID {
			return nil, appErrors.Clone(appErrors.ErrSelfEvaluationForbidden, "")
		}
		evaluatorID = actor.ID
	}

	if err := s.checkMembers(ctx, target.ID, req.MemberEvaluations); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	team := &models.TeamEvaluation{
		ID:                 uuid.NewString(),
		AssignmentID:       assignment.ID,
		EvaluatedTeamID:    target.ID,
		EvaluatorStudentID: evaluatorID,
		TeamComment:        req.TeamComment,
		TeamScore:          req.TeamScore,
		CreatedAt:          now,
	}
	members := make([]models.MemberEvaluation, 0, len(req.MemberEvaluations))
	for _, input := range req.MemberEvaluations {
		members = append(members, models.MemberEvaluation{
			ID:                 uuid.NewString(),
			TeamEvaluationID:   team.ID,
			EvaluatedStudentID: input.StudentID,
			Comment:            input.Comment,
			Score:              input.Score,
			CreatedAt:          now,
		})
	}
	err = s.evaluations.ReplaceBundle(ctx, team, members)
	if errors.Is(err, repository.ErrDuplicate) {
		// A concurrent identical submission committed between our delete and insert.
		s.logger.Debug("evaluation replace raced, retrying", zap.String("team_evaluation_id", team.ID))
		err = s.evaluations.ReplaceBundle(ctx, team, members)
	}
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "evaluations.replace_bundle", err)
	}
	s.metrics.RecordEvaluation(string(actor.Role))
	s.logger.Info("evaluation stored",
		zap.String("assignment_id", team.AssignmentID),
		zap.String("evaluated_team_id", team.EvaluatedTeamID),
		zap.String("evaluator_student_id", team.EvaluatorStudentID),
		zap.Int("members", len(members)),
	)
	return team, nil
}

// Exists reports whether the actor already has a bundle for (assignment, team).
func (s *EvaluationService) Exists(ctx context.Context, actor models.Principal, assignmentID, teamID string) (bool, error) {
	assignment, err := s.assignmentFor(ctx, actor, assignmentID)
	if err != nil {
		return false, err
	}
	evaluatorID := actor.ID
	if actor.Role == models.RoleTeacher {
		proxy, err := s.findTeacherProxy(ctx, assignment.ClassID, actor.Name)
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, storeFailure(ctx, s.logger, "students.find_teacher_proxy", err)
		}
		evaluatorID = proxy.ID
	}
	exists, err := s.evaluations.Exists(ctx, models.EvaluationKey{AssignmentID: assignment.ID, EvaluatedTeamID: teamID, EvaluatorStudentID: evaluatorID})
	if err != nil {
		return false, storeFailure(ctx, s.logger, "evaluations.exists", err)
	}
	return exists, nil
}

// Report aggregates what a student received for an assignment: team evaluations of their team
// and member evaluations of them. Students only see their own.
func (s *EvaluationService) Report(ctx context.Context, actor models.Principal, studentID, assignmentID string) (*dto.StudentReport, error) {
	if actor.Role == models.RoleStudent && actor.ID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own report")
	}
	assignment, err := s.assignmentFor(ctx, actor, assignmentID)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "students.find_by_id", err, "student not found")
	}
	if student.ClassID != assignment.ClassID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	team, err := s.teams.FindByID(ctx, student.TeamID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "teams.find_by_id", err, "team not found")
	}
	class, err := s.classes.FindByID(ctx, assignment.ClassID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "classes.find_by_id", err, "class not found")
	}
	teamEvaluations, err := s.evaluations.ListReceivedByTeam(ctx, assignment.ID, student.TeamID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "evaluations.list_received_by_team", err)
	}
	memberEvaluations, err := s.evaluations.ListReceivedByStudent(ctx, assignment.ID, student.ID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "evaluations.list_received_by_student", err)
	}
	return &dto.StudentReport{
		Student:           student.Summary(),
		TeamName:          team.Name,
		ClassName:         class.Name,
		Assignment:        *assignment,
		TeamEvaluations:   teamEvaluations,
		MemberEvaluations: memberEvaluations,
	}, nil
}

// ListByAssignment returns every bundle of an assignment with its member evaluations.
func (s *EvaluationService) ListByAssignment(ctx context.Context, actor models.Principal, assignmentID string) ([]dto.EvaluationDetail, error) {
	assignment, err := s.assignmentFor(ctx, actor, assignmentID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher access required")
	}
	teamViews, err := s.evaluations.ListByAssignment(ctx, assignment.ID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "evaluations.list_by_assignment", err)
	}
	memberViews, err := s.evaluations.ListMembersByAssignment(ctx, assignment.ID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "evaluations.list_members_by_assignment", err)
	}
	byParent := make(map[string][]models.MemberEvaluationView, len(teamViews))
	for _, member := range memberViews {
		byParent[member.TeamEvaluationID] = append(byParent[member.TeamEvaluationID], member)
	}
	details := make([]dto.EvaluationDetail, 0, len(teamViews))
	for _, view := range teamViews {
		members := byParent[view.ID]
		if members == nil {
			members = []models.MemberEvaluationView{}
		}
		details = append(details, dto.EvaluationDetail{TeamEvaluationView: view, MemberEvaluations: members})
	}
	return details, nil
}

// ExportReport renders Report as CSV or PDF.
func (s *EvaluationService) ExportReport(ctx context.Context, actor models.Principal, studentID, assignmentID string, format export.Format) ([]byte, string, error) {
	if format != export.FormatCSV && format != export.FormatPDF {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	report, err := s.Report(ctx, actor, studentID, assignmentID)
	if err != nil {
		return nil, "", err
	}
	doc := export.Section{
		Heading: fmt.Sprintf("%s - %s (%s, %s)", report.Assignment.Name, report.Student.Name, report.TeamName, report.ClassName),
		Tables: []export.Table{
			{Title: "Team evaluations", Headers: []string{"Evaluator", "Evaluator team", "Score", "Comment"}},
			{Title: "Individual evaluations", Headers: []string{"Evaluator", "Score", "Comment"}},
		},
	}
	for _, view := range report.TeamEvaluations {
		doc.Tables[0].Rows = append(doc.Tables[0].Rows, []string{view.EvaluatorName, view.EvaluatorTeamName, strconv.Itoa(view.TeamScore), view.TeamComment})
	}
	for _, view := range report.MemberEvaluations {
		doc.Tables[1].Rows = append(doc.Tables[1].Rows, []string{view.EvaluatorName, strconv.Itoa(view.Score), view.Comment})
	}
	body, err := export.Render(format, doc)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return body, format.ContentType(), nil
}

// assignmentFor loads an assignment the actor may see: students of its class, or the owning teacher.
func (s *EvaluationService) assignmentFor(ctx context.Context, actor models.Principal, assignmentID string) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "assignments.find_by_id", err, "assignment not found")
	}
	switch actor.Role {
	case models.RoleTeacher:
		if _, err := ownedClass(ctx, s.classes, s.logger, actor, assignment.ClassID); err != nil {
			return nil, err
		}
	case models.RoleStudent:
		if actor.ClassID != assignment.ClassID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	return assignment, nil
}

func (s *EvaluationService) checkMembers(ctx context.Context, teamID string, inputs []dto.MemberEvaluationInput) error {
	if len(inputs) == 0 {
		return nil
	}
	roster, err := s.students.ListByTeam(ctx, teamID)
	if err != nil {
		return storeFailure(ctx, s.logger, "students.list_by_team", err)
	}
	members := make(map[string]struct{}, len(roster))
	for _, member := range roster {
		members[member.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(inputs))
	for _, input := range inputs {
		if _, ok := members[input.StudentID]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, "member evaluations must target members of the evaluated team")
		}
		if _, dup := seen[input.StudentID]; dup {
			return appErrors.Clone(appErrors.ErrValidation, "each member may be evaluated once")
		}
		seen[input.StudentID] = struct{}{}
	}
	return nil
}

// ensureTeacherProxy returns the evaluator row standing in for a teacher in a class, creating the
// Teachers team and the row on first use. Concurrent first submissions converge on one row.
func (s *EvaluationService) ensureTeacherProxy(ctx context.Context, classID, teacherName string) (*models.Student, error) {
	team, err := ensureTeam(ctx, s.teams, classID, models.TeachersTeamName, s.clock.Now())
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "teams.ensure_teachers", err)
	}
	proxy, err := s.students.FindInTeamByName(ctx, team.ID, teacherName)
	if err == nil {
		return proxy, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, storeFailure(ctx, s.logger, "students.find_in_team_by_name", err)
	}
	passcode, err := s.hasher.UnusableHash()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluator")
	}
	proxy = &models.Student{
		ID:           uuid.NewString(),
		Name:         teacherName,
		ExternalID:   models.ExternalIDTeacher,
		PasscodeHash: passcode,
		TeamID:       team.ID,
		ClassID:      classID,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.students.Create(ctx, proxy); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, err := s.students.FindInTeamByName(ctx, team.ID, teacherName)
			if err != nil {
				return nil, storeFailure(ctx, s.logger, "students.find_in_team_by_name", err)
			}
			return existing, nil
		}
		return nil, storeFailure(ctx, s.logger, "students.create", err)
	}
	s.logger.Info("teacher evaluator created", zap.String("class_id", classID), zap.String("student_id", proxy.ID))
	return proxy, nil
}

func (s *EvaluationService) findTeacherProxy(ctx context.Context, classID, teacherName string) (*models.Student, error) {
	team, err := s.teams.FindByName(ctx, classID, models.TeachersTeamName)
	if err != nil {
		return nil, err
	}
	return s.students.FindInTeamByName(ctx, team.ID, teacherName)
}
