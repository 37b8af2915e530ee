package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/internal/repository"
)

// memDB is an in-memory store honouring the same unique keys as the SQL schema.
type memDB struct {
	mu          sync.Mutex
	teachers    map[string]models.Teacher
	classes     map[string]models.Class
	teams       map[string]models.Team
	students    map[string]models.Student
	assignments map[string]models.Assignment
	tokens      map[string]models.AccessToken
	teamEvals   map[string]models.TeamEvaluation
	memberEvals map[string]models.MemberEvaluation
	seq         int
	failNext    map[string]error
}

func newMemDB() *memDB {
	return &memDB{
		teachers:    map[string]models.Teacher{},
		classes:     map[string]models.Class{},
		teams:       map[string]models.Team{},
		students:    map[string]models.Student{},
		assignments: map[string]models.Assignment{},
		tokens:      map[string]models.AccessToken{},
		teamEvals:   map[string]models.TeamEvaluation{},
		memberEvals: map[string]models.MemberEvaluation{},
		failNext:    map[string]error{},
	}
}

// failOnce makes the next call labelled op return err.
func (db *memDB) failOnce(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failNext[op] = err
}

func (db *memDB) injected(op string) error {
	if err, ok := db.failNext[op]; ok {
		delete(db.failNext, op)
		return err
	}
	return nil
}

func (db *memDB) order() time.Time {
	db.seq++
	return time.Unix(int64(db.seq), 0)
}

type memTeachers struct{ db *memDB }

func (r memTeachers) Create(_ context.Context, t *models.Teacher) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.teachers {
		if existing.Email == t.Email {
			return repository.ErrDuplicate
		}
	}
	r.db.teachers[t.ID] = *t
	return nil
}

func (r memTeachers) FindByEmail(_ context.Context, email string) (*models.Teacher, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.injected("teachers.find_by_email"); err != nil {
		return nil, err
	}
	for _, t := range r.db.teachers {
		if t.Email == email {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

type memClasses struct{ db *memDB }

func (r memClasses) Create(_ context.Context, c *models.Class) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.classes[c.ID] = *c
	return nil
}

func (r memClasses) FindByID(_ context.Context, id string) (*models.Class, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.classes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r memClasses) ListByTeacher(_ context.Context, teacherID string) ([]models.Class, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Class{}
	for _, c := range r.db.classes {
		if c.TeacherID == teacherID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memTeams struct{ db *memDB }

func (r memTeams) Create(_ context.Context, t *models.Team) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.injected("teams.create"); err != nil {
		return err
	}
	for _, existing := range r.db.teams {
		if existing.ClassID == t.ClassID && existing.Name == t.Name {
			return repository.ErrDuplicate
		}
	}
	r.db.teams[t.ID] = *t
	return nil
}

func (r memTeams) FindByID(_ context.Context, id string) (*models.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.teams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r memTeams) FindByName(_ context.Context, classID, name string) (*models.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.teams {
		if t.ClassID == classID && t.Name == name {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memTeams) ListByClass(_ context.Context, classID string) ([]models.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Team{}
	for _, t := range r.db.teams {
		if t.ClassID == classID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memTeams) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.teams[id]; !ok {
		return repository.ErrNotFound
	}
	for sid, s := range r.db.students {
		if s.TeamID == id {
			delete(r.db.students, sid)
		}
	}
	delete(r.db.teams, id)
	return nil
}

func (db *memDB) teamCount(classID, name string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, t := range db.teams {
		if t.ClassID == classID && t.Name == name {
			n++
		}
	}
	return n
}

type memStudents struct{ db *memDB }

func (r memStudents) Create(_ context.Context, s *models.Student) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.injected("students.create"); err != nil {
		return err
	}
	for _, existing := range r.db.students {
		if existing.TeamID == s.TeamID && existing.Name == s.Name {
			return repository.ErrDuplicate
		}
	}
	row := *s
	row.CreatedAt = r.db.order()
	r.db.students[s.ID] = row
	return nil
}

func (r memStudents) CreateMany(_ context.Context, batch []*models.Student) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.injected("students.create_many"); err != nil {
		return err
	}
	seen := map[[2]string]bool{}
	for _, existing := range r.db.students {
		seen[[2]string{existing.TeamID, existing.Name}] = true
	}
	for _, s := range batch {
		key := [2]string{s.TeamID, s.Name}
		if seen[key] {
			return repository.ErrDuplicate
		}
		seen[key] = true
	}
	for _, s := range batch {
		row := *s
		row.CreatedAt = r.db.order()
		r.db.students[s.ID] = row
	}
	return nil
}

func (r memStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r memStudents) filter(keep func(models.Student) bool) []models.Student {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Student{}
	for _, s := range r.db.students {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r memStudents) FindLoginCandidates(_ context.Context, name string) ([]models.Student, error) {
	return r.filter(func(s models.Student) bool { return s.Name == name && !s.IsTeacherProxy() }), nil
}

func (r memStudents) FindGuestCandidates(_ context.Context, name string) ([]models.Student, error) {
	return r.filter(func(s models.Student) bool { return s.Name == name && s.IsGuest() }), nil
}

func (r memStudents) FindInTeamByName(_ context.Context, teamID, name string) (*models.Student, error) {
	found := r.filter(func(s models.Student) bool { return s.TeamID == teamID && s.Name == name })
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return &found[0], nil
}

func (r memStudents) FindPreAdded(_ context.Context, teamID, externalID string) (*models.Student, error) {
	found := r.filter(func(s models.Student) bool { return s.TeamID == teamID && s.ExternalID == externalID && s.IsPreAdded })
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return &found[0], nil
}

func (r memStudents) NamesInTeam(_ context.Context, teamID string) ([]string, error) {
	names := []string{}
	for _, s := range r.filter(func(s models.Student) bool { return s.TeamID == teamID }) {
		names = append(names, s.Name)
	}
	return names, nil
}

func (r memStudents) ListByTeam(_ context.Context, teamID string) ([]models.StudentSummary, error) {
	out := []models.StudentSummary{}
	for _, s := range r.filter(func(s models.Student) bool { return s.TeamID == teamID }) {
		out = append(out, s.Summary())
	}
	return out, nil
}

func (r memStudents) ListByClass(_ context.Context, classID string) ([]models.StudentSummary, error) {
	out := []models.StudentSummary{}
	for _, s := range r.filter(func(s models.Student) bool { return s.ClassID == classID }) {
		out = append(out, s.Summary())
	}
	return out, nil
}

func (r memStudents) BindDevice(_ context.Context, id, token string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.injected("students.bind_device"); err != nil {
		return false, err
	}
	s, ok := r.db.students[id]
	if !ok || s.DeviceToken != nil {
		return false, nil
	}
	s.DeviceToken = &token
	r.db.students[id] = s
	return true, nil
}

func (r memStudents) UpdateJoin(_ context.Context, id, name string, accessExpiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.students[id]
	if !ok {
		return repository.ErrNotFound
	}
	for otherID, other := range r.db.students {
		if otherID != id && other.TeamID == s.TeamID && other.Name == name {
			return repository.ErrDuplicate
		}
	}
	s.Name = name
	s.AccessExpiresAt = &accessExpiresAt
	r.db.students[id] = s
	return nil
}

func (r memStudents) Delete(_ context.Context, classID, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.students[id]
	if !ok || s.ClassID != classID {
		return repository.ErrNotFound
	}
	delete(r.db.students, id)
	return nil
}

// put stores a row directly, bypassing uniqueness, for arranging fixtures.
func (db *memDB) put(s models.Student) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s.CreatedAt = db.order()
	db.students[s.ID] = s
}

func (db *memDB) student(id string) models.Student {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.students[id]
}

func (db *memDB) studentsNamed(prefix string) []models.Student {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Student
	for _, s := range db.students {
		if strings.HasPrefix(s.Name, prefix) {
			out = append(out, s)
		}
	}
	return out
}

type memAssignments struct{ db *memDB }

func (r memAssignments) Create(_ context.Context, a *models.Assignment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.assignments[a.ID] = *a
	return nil
}

func (r memAssignments) FindByID(_ context.Context, id string) (*models.Assignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r memAssignments) ListByClass(_ context.Context, classID string) ([]models.Assignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Assignment{}
	for _, a := range r.db.assignments {
		if a.ClassID == classID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r memAssignments) Update(_ context.Context, a *models.Assignment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.assignments[a.ID]; !ok {
		return repository.ErrNotFound
	}
	r.db.assignments[a.ID] = *a
	return nil
}

func (r memAssignments) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.assignments[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.assignments, id)
	return nil
}

type memTokens struct{ db *memDB }

func (r memTokens) Create(_ context.Context, t *models.AccessToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.tokens[t.Token] = *t
	return nil
}

func (r memTokens) Find(_ context.Context, token string) (*models.AccessToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tokens[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

type memEvaluations struct{ db *memDB }

func (r memEvaluations) ReplaceBundle(_ context.Context, team *models.TeamEvaluation, members []models.MemberEvaluation) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.injected("evaluations.replace_bundle"); err != nil {
		return err
	}
	for id, existing := range r.db.teamEvals {
		if existing.AssignmentID == team.AssignmentID && existing.EvaluatedTeamID == team.EvaluatedTeamID && existing.EvaluatorStudentID == team.EvaluatorStudentID {
			for mid, m := range r.db.memberEvals {
				if m.TeamEvaluationID == id {
					delete(r.db.memberEvals, mid)
				}
			}
			delete(r.db.teamEvals, id)
		}
	}
	r.db.teamEvals[team.ID] = *team
	for _, m := range members {
		m.TeamEvaluationID = team.ID
		r.db.memberEvals[m.ID] = m
	}
	return nil
}

func (r memEvaluations) Exists(_ context.Context, key models.EvaluationKey) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.teamEvals {
		if e.AssignmentID == key.AssignmentID && e.EvaluatedTeamID == key.EvaluatedTeamID && e.EvaluatorStudentID == key.EvaluatorStudentID {
			return true, nil
		}
	}
	return false, nil
}

func (r memEvaluations) teamView(e models.TeamEvaluation) models.TeamEvaluationView {
	evaluator := r.db.students[e.EvaluatorStudentID]
	return models.TeamEvaluationView{
		TeamEvaluation:    e,
		EvaluatorName:     evaluator.Name,
		EvaluatorTeamName: r.db.teams[evaluator.TeamID].Name,
		EvaluatedTeamName: r.db.teams[e.EvaluatedTeamID].Name,
	}
}

func (r memEvaluations) memberView(m models.MemberEvaluation) models.MemberEvaluationView {
	parent := r.db.teamEvals[m.TeamEvaluationID]
	return models.MemberEvaluationView{
		MemberEvaluation:     m,
		EvaluatorName:        r.db.students[parent.EvaluatorStudentID].Name,
		EvaluatedStudentName: r.db.students[m.EvaluatedStudentID].Name,
	}
}

func (r memEvaluations) ListReceivedByTeam(_ context.Context, assignmentID, teamID string) ([]models.TeamEvaluationView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.TeamEvaluationView{}
	for _, e := range r.db.teamEvals {
		if e.AssignmentID == assignmentID && e.EvaluatedTeamID == teamID {
			out = append(out, r.teamView(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatorName < out[j].EvaluatorName })
	return out, nil
}

func (r memEvaluations) ListReceivedByStudent(_ context.Context, assignmentID, studentID string) ([]models.MemberEvaluationView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.MemberEvaluationView{}
	for _, m := range r.db.memberEvals {
		if m.EvaluatedStudentID == studentID && r.db.teamEvals[m.TeamEvaluationID].AssignmentID == assignmentID {
			out = append(out, r.memberView(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatorName < out[j].EvaluatorName })
	return out, nil
}

func (r memEvaluations) ListByAssignment(_ context.Context, assignmentID string) ([]models.TeamEvaluationView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.TeamEvaluationView{}
	for _, e := range r.db.teamEvals {
		if e.AssignmentID == assignmentID {
			out = append(out, r.teamView(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatedTeamName < out[j].EvaluatedTeamName })
	return out, nil
}

func (r memEvaluations) ListMembersByAssignment(_ context.Context, assignmentID string) ([]models.MemberEvaluationView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.MemberEvaluationView{}
	for _, m := range r.db.memberEvals {
		if r.db.teamEvals[m.TeamEvaluationID].AssignmentID == assignmentID {
			out = append(out, r.memberView(m))
		}
	}
	return out, nil
}

func (db *memDB) bundles(assignmentID, teamID, evaluatorID string) ([]models.TeamEvaluation, []models.MemberEvaluation) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var teams []models.TeamEvaluation
	var members []models.MemberEvaluation
	for _, e := range db.teamEvals {
		if e.AssignmentID == assignmentID && e.EvaluatedTeamID == teamID && e.EvaluatorStudentID == evaluatorID {
			teams = append(teams, e)
			for _, m := range db.memberEvals {
				if m.TeamEvaluationID == e.ID {
					members = append(members, m)
				}
			}
		}
	}
	return teams, members
}

type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: map[string]time.Duration{}}
}

func (r *memRevocations) Revoke(_ context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[id] = ttl
	return nil
}

func (r *memRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[id]
	return ok, nil
}
