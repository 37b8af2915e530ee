package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/repository"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

type classRepository interface {
	Create(ctx context.Context, class *models.Class) error
	FindByID(ctx context.Context, id string) (*models.Class, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Class, error)
}

type classTeamRepository interface {
	Create(ctx context.Context, team *models.Team) error
	FindByID(ctx context.Context, id string) (*models.Team, error)
	FindByName(ctx context.Context, classID, name string) (*models.Team, error)
	ListByClass(ctx context.Context, classID string) ([]models.Team, error)
	Delete(ctx context.Context, id string) error
}

type classStudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	CreateMany(ctx context.Context, students []*models.Student) error
	NamesInTeam(ctx context.Context, teamID string) ([]string, error)
	ListByTeam(ctx context.Context, teamID string) ([]models.StudentSummary, error)
	ListByClass(ctx context.Context, classID string) ([]models.StudentSummary, error)
	Delete(ctx context.Context, classID, id string) error
}

// ClassService manages classes, teams and rosters.
type ClassService struct {
	classes   classRepository
	teams     classTeamRepository
	students  classStudentRepository
	names     *NameAllocator
	hasher    *PasscodeHasher
	clock     *civiltime.Clock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(classes classRepository, teams classTeamRepository, students classStudentRepository, hasher *PasscodeHasher, clock *civiltime.Clock, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ClassService{
		classes:   classes,
		teams:     teams,
		students:  students,
		names:     NewNameAllocator(students),
		hasher:    hasher,
		clock:     clock,
		validator: validate,
		logger:    logger,
	}
}

// CreateClass creates a class owned by the acting teacher together with its Guests team.
func (s *ClassService) CreateClass(ctx context.Context, actor models.Principal, req dto.CreateClassRequest) (*models.Class, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher access required")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid class payload")
	}
	now := s.clock.Now()
	class := &models.Class{ID: uuid.NewString(), Name: req.Name, TeacherID: actor.ID, CreatedAt: now}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, storeFailure(ctx, s.logger, "classes.create", err)
	}
	if _, err := ensureTeam(ctx, s.teams, class.ID, models.GuestsTeamName, now); err != nil {
		return nil, storeFailure(ctx, s.logger, "teams.ensure_guests", err)
	}
	return class, nil
}

// ListClasses returns the acting teacher's classes.
func (s *ClassService) ListClasses(ctx context.Context, actor models.Principal) ([]models.Class, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "teacher access required")
	}
	classes, err := s.classes.ListByTeacher(ctx, actor.ID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "classes.list_by_teacher", err)
	}
	return classes, nil
}

// CreateTeam adds a team to a class. Reserved and taken names are rejected.
func (s *ClassService) CreateTeam(ctx context.Context, actor models.Principal, classID string, req dto.CreateTeamRequest) (*models.Team, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid team payload")
	}
	if req.Name == models.GuestsTeamName || req.Name == models.TeachersTeamName {
		return nil, appErrors.Clone(appErrors.ErrConflict, "team name is reserved")
	}
	team := &models.Team{ID: uuid.NewString(), Name: req.Name, ClassID: classID, CreatedAt: s.clock.Now()}
	if err := s.teams.Create(ctx, team); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "team already exists in this class")
		}
		return nil, storeFailure(ctx, s.logger, "teams.create", err)
	}
	return team, nil
}

// ListTeams returns the teams of a class without the Teachers team.
func (s *ClassService) ListTeams(ctx context.Context, actor models.Principal, classID string) ([]models.Team, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	teams, err := s.teams.ListByClass(ctx, classID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "teams.list_by_class", err)
	}
	visible := make([]models.Team, 0, len(teams))
	for _, team := range teams {
		if !team.IsTeachers() {
			visible = append(visible, team)
		}
	}
	return visible, nil
}

// ListTeamMembers returns the roster of one team.
func (s *ClassService) ListTeamMembers(ctx context.Context, actor models.Principal, classID, teamID string) ([]models.StudentSummary, error) {
	if _, err := s.teamOf(ctx, actor, classID, teamID); err != nil {
		return nil, err
	}
	members, err := s.students.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.list_by_team", err)
	}
	return members, nil
}

// DeleteTeam removes a team and its students.
func (s *ClassService) DeleteTeam(ctx context.Context, actor models.Principal, classID, teamID string) error {
	if _, err := s.teamOf(ctx, actor, classID, teamID); err != nil {
		return err
	}
	if err := s.teams.Delete(ctx, teamID); err != nil {
		return lookupFailure(ctx, s.logger, "teams.delete", err, "team not found")
	}
	return nil
}

// AddStudents bulk-registers a pasted roster into a team. Regular teams take "Full Name StudentID"
// per line and the id becomes the passcode; the Guests team takes "Full Name" per line and the
// class name becomes the passcode.
func (s *ClassService) AddStudents(ctx context.Context, actor models.Principal, teamID string, req dto.AddStudentsRequest) ([]dto.AddedStudent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationFailure(err, "invalid roster payload")
	}
	team, err := s.teams.FindByID(ctx, teamID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "teams.find_by_id", err, "team not found")
	}
	class, err := ownedClass(ctx, s.classes, s.logger, actor, team.ClassID)
	if err != nil {
		return nil, err
	}
	if team.IsTeachers() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students cannot be added to the Teachers team")
	}

	entries := ParseRoster(req.Text, team.IsGuests())
	if err := checkRoster(entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []dto.AddedStudent{}, nil
	}

	students := make([]*models.Student, len(entries))
	bases := make([]string, len(entries))
	var guestPasscode string
	if team.IsGuests() {
		if guestPasscode, err = s.hasher.Hash(class.Name); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash passcode")
		}
	}
	for i, entry := range entries {
		student := &models.Student{
			ExternalID:   entry.ExternalID,
			PasscodeHash: guestPasscode,
			TeamID:       team.ID,
			ClassID:      team.ClassID,
			CreatedAt:    s.clock.Now(),
		}
		if !team.IsGuests() {
			if student.PasscodeHash, err = s.hasher.Hash(entry.ExternalID); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash passcode")
			}
			student.IsPreAdded = true
		}
		students[i] = student
		bases[i] = entry.Name
	}

	names, err := s.names.ClaimBatch(ctx, bases, team.ID, func(names []string) error {
		for i, student := range students {
			student.ID = uuid.NewString()
			student.Name = names[i]
		}
		return s.students.CreateMany(ctx, students)
	})
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.create_many", err)
	}
	added := make([]dto.AddedStudent, len(entries))
	for i, entry := range entries {
		added[i] = dto.AddedStudent{Name: names[i], ExternalID: entry.ExternalID}
	}
	s.logger.Info("roster imported", zap.String("team_id", team.ID), zap.Int("added", len(added)))
	return added, nil
}

// ListStudents returns every student of a class.
func (s *ClassService) ListStudents(ctx context.Context, actor models.Principal, classID string) ([]models.StudentSummary, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	students, err := s.students.ListByClass(ctx, classID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.list_by_class", err)
	}
	return students, nil
}

// DeleteStudent removes a student from a class.
func (s *ClassService) DeleteStudent(ctx context.Context, actor models.Principal, classID, studentID string) error {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return err
	}
	if err := s.students.Delete(ctx, classID, studentID); err != nil {
		return lookupFailure(ctx, s.logger, "students.delete", err, "student not found")
	}
	return nil
}

// StudentTeams lists the evaluable teams of the student's class with their members.
func (s *ClassService) StudentTeams(ctx context.Context, actor models.Principal) ([]models.TeamWithMembers, error) {
	if actor.Role != models.RoleStudent || actor.ClassID == "" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student access required")
	}
	teams, err := s.teams.ListByClass(ctx, actor.ClassID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "teams.list_by_class", err)
	}
	students, err := s.students.ListByClass(ctx, actor.ClassID)
	if err != nil {
		return nil, storeFailure(ctx, s.logger, "students.list_by_class", err)
	}
	byTeam := make(map[string][]models.StudentSummary, len(teams))
	for _, student := range students {
		byTeam[student.TeamID] = append(byTeam[student.TeamID], student)
	}
	result := make([]models.TeamWithMembers, 0, len(teams))
	for _, team := range teams {
		if team.IsGuests() || team.IsTeachers() {
			continue
		}
		members := byTeam[team.ID]
		if members == nil {
			members = []models.StudentSummary{}
		}
		result = append(result, models.TeamWithMembers{Team: team, Members: members})
	}
	return result, nil
}

func (s *ClassService) teamOf(ctx context.Context, actor models.Principal, classID, teamID string) (*models.Team, error) {
	if _, err := ownedClass(ctx, s.classes, s.logger, actor, classID); err != nil {
		return nil, err
	}
	team, err := s.teams.FindByID(ctx, teamID)
	if err != nil {
		return nil, lookupFailure(ctx, s.logger, "teams.find_by_id", err, "team not found")
	}
	if team.ClassID != classID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "team not found")
	}
	return team, nil
}

// Roster limits match what a join request accepts, so every imported row stays claimable.
const (
	maxRosterNameLength = 200
	maxRosterIDLength   = 64
)

func checkRoster(entries []RosterEntry) error {
	for _, entry := range entries {
		switch {
		case len(entry.Name) > maxRosterNameLength:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("roster names are limited to %d characters", maxRosterNameLength))
		case len(entry.ExternalID) > maxRosterIDLength:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student id for %q is longer than %d characters", entry.Name, maxRosterIDLength))
		}
	}
	return nil
}

// RosterEntry is one parsed roster line.
type RosterEntry struct {
	Name       string
	ExternalID string
}

// ParseRoster reads one student per non-blank line. Guest rosters are plain names with the
// "non-student" id; regular rosters split on the last space into name and id, and lines without an
// id are skipped.
func ParseRoster(text string, guests bool) []RosterEntry {
	var entries []RosterEntry
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if guests {
			entries = append(entries, RosterEntry{Name: line, ExternalID: models.ExternalIDNonStudent})
			continue
		}
		idx := strings.LastIndex(line, " ")
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		id := strings.TrimSpace(line[idx+1:])
		if name == "" || id == "" {
			continue
		}
		entries = append(entries, RosterEntry{Name: name, ExternalID: id})
	}
	return entries
}
