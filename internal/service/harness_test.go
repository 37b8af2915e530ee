package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/civiltime"
	"github.com/noah-isme/peer-eval-api/pkg/signer"
)

var testZone = time.FixedZone("EST", -5*60*60)

type harness struct {
	t           *testing.T
	db          *memDB
	now         time.Time
	clock       *civiltime.Clock
	hasher      *PasscodeHasher
	tickets     *signer.Signer
	revocations *memRevocations
	metrics     *MetricsService
	sessions    *SessionService
	tokens      *AccessTokenService
	identity    *IdentityService
	evaluations *EvaluationService
	classes     *ClassService
	assignments *AssignmentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:           t,
		db:          newMemDB(),
		now:         time.Date(2026, 3, 2, 9, 0, 0, 0, testZone),
		hasher:      NewPasscodeHasher(bcrypt.MinCost),
		revocations: newMemRevocations(),
		metrics:     NewMetricsService(),
	}
	h.clock = civiltime.Fixed(testZone, func() time.Time { return h.now })
	h.tickets = signer.New("ticket-secret", 5*time.Minute).WithClock(func() time.Time { return h.now })
	h.sessions = NewSessionService(SessionConfig{Secret: "session-secret", TeacherTTL: 24 * time.Hour, StudentTTL: 4 * time.Hour}, h.revocations, h.clock, h.metrics, nil)
	h.tokens = NewAccessTokenService(memTokens{h.db}, memClasses{h.db}, memTeams{h.db}, AccessTokenConfig{TTL: 4 * time.Hour, BaseURL: "https://peer.example.edu/"}, h.clock, nil)
	h.identity = NewIdentityService(IdentityRepositories{
		Teachers: memTeachers{h.db},
		Students: memStudents{h.db},
		Classes:  memClasses{h.db},
		Teams:    memTeams{h.db},
	}, h.tokens, h.sessions, h.hasher, h.tickets, h.clock, h.metrics, nil, nil)
	h.evaluations = NewEvaluationService(EvaluationRepositories{
		Evaluations: memEvaluations{h.db},
		Students:    memStudents{h.db},
		Teams:       memTeams{h.db},
		Classes:     memClasses{h.db},
		Assignments: memAssignments{h.db},
	}, h.hasher, h.clock, h.metrics, nil, nil)
	h.classes = NewClassService(memClasses{h.db}, memTeams{h.db}, memStudents{h.db}, h.hasher, h.clock, nil, nil)
	h.assignments = NewAssignmentService(memAssignments{h.db}, memClasses{h.db}, h.clock, nil, nil)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) hash(secret string) string {
	digest, err := h.hasher.Hash(secret)
	require.NoError(h.t, err)
	return digest
}

func (h *harness) seedTeacher(name, email, password string) models.Principal {
	teacher := models.Teacher{ID: uuid.NewString(), Name: name, Email: email, PasswordHash: h.hash(password), CreatedAt: h.now}
	require.NoError(h.t, memTeachers{h.db}.Create(context.Background(), &teacher))
	return models.Principal{ID: teacher.ID, Role: models.RoleTeacher, Name: name}
}

func (h *harness) seedClass(teacherID, name string) models.Class {
	class := models.Class{ID: uuid.NewString(), Name: name, TeacherID: teacherID, CreatedAt: h.now}
	require.NoError(h.t, memClasses{h.db}.Create(context.Background(), &class))
	return class
}

func (h *harness) seedTeam(classID, name string) models.Team {
	team := models.Team{ID: uuid.NewString(), Name: name, ClassID: classID, CreatedAt: h.now}
	require.NoError(h.t, memTeams{h.db}.Create(context.Background(), &team))
	return team
}

func (h *harness) seedStudent(name, externalID, passcode string, team models.Team, mutate ...func(*models.Student)) models.Student {
	student := models.Student{
		ID:           uuid.NewString(),
		Name:         name,
		ExternalID:   externalID,
		PasscodeHash: h.hash(passcode),
		TeamID:       team.ID,
		ClassID:      team.ClassID,
	}
	for _, fn := range mutate {
		fn(&student)
	}
	h.db.put(student)
	return h.db.student(student.ID)
}

func (h *harness) seedAssignment(classID, name string) models.Assignment {
	assignment := models.Assignment{ID: uuid.NewString(), ClassID: classID, Name: name, StartTime: h.now, EndTime: h.now.Add(7 * 24 * time.Hour), CreatedAt: h.now}
	require.NoError(h.t, memAssignments{h.db}.Create(context.Background(), &assignment))
	return assignment
}

func withDevice(token string) func(*models.Student) {
	return func(s *models.Student) { s.DeviceToken = &token }
}

// deviceCookie returns a stable cookie value with the shape of a minted device token.
func deviceCookie(label string) string {
	sum := sha256.Sum256([]byte(label))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func withAccessUntil(deadline time.Time) func(*models.Student) {
	return func(s *models.Student) { s.AccessExpiresAt = &deadline }
}

func preAdded(s *models.Student) { s.IsPreAdded = true }

func studentPrincipal(s models.Student) models.Principal {
	return models.Principal{ID: s.ID, Role: models.RoleStudent, Name: s.Name, ClassID: s.ClassID, TeamID: s.TeamID}
}
