package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

type classServiceMock struct {
	classService
	teamErr error
	added   dto.AddStudentsRequest
	deleted []string
}

func (m *classServiceMock) CreateTeam(ctx context.Context, actor models.Principal, classID string, req dto.CreateTeamRequest) (*models.Team, error) {
	if m.teamErr != nil {
		return nil, m.teamErr
	}
	return &models.Team{ID: "team-1", ClassID: classID, Name: req.Name}, nil
}

func (m *classServiceMock) AddStudents(ctx context.Context, actor models.Principal, teamID string, req dto.AddStudentsRequest) ([]dto.AddedStudent, error) {
	m.added = req
	return []dto.AddedStudent{{}, {}}, nil
}

func (m *classServiceMock) DeleteTeam(ctx context.Context, actor models.Principal, classID, teamID string) error {
	m.deleted = append(m.deleted, teamID)
	return nil
}

func (m *classServiceMock) StudentTeams(ctx context.Context, actor models.Principal) ([]models.TeamWithMembers, error) {
	return []models.TeamWithMembers{{}}, nil
}

type assignmentListerMock struct{}

func (assignmentListerMock) ListForStudent(ctx context.Context, actor models.Principal) ([]models.Assignment, error) {
	if actor.ClassID == "" {
		return nil, appErrors.ErrForbidden
	}
	return []models.Assignment{{ID: "a1", ClassID: actor.ClassID}}, nil
}

func teacherContext(method, path string, body []byte) (*gin.Context, func() int) {
	c, w := newGinContext(method, path, body)
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	return c, func() int { return w.Code }
}

func TestCreateTeamConflict(t *testing.T) {
	h := NewClassHandler(&classServiceMock{teamErr: appErrors.Clone(appErrors.ErrConflict, "team name already used")})

	c, code := teacherContext(http.MethodPost, "/classes/c1/teams", mustJSON(t, dto.CreateTeamRequest{Name: "Team 1"}))
	c.Params = gin.Params{{Key: "classId", Value: "c1"}}
	h.CreateTeam(c)

	assert.Equal(t, http.StatusConflict, code())
}

func TestCreateTeamCreated(t *testing.T) {
	h := NewClassHandler(&classServiceMock{})

	c, code := teacherContext(http.MethodPost, "/classes/c1/teams", mustJSON(t, dto.CreateTeamRequest{Name: "Team 1"}))
	c.Params = gin.Params{{Key: "classId", Value: "c1"}}
	h.CreateTeam(c)

	assert.Equal(t, http.StatusCreated, code())
}

func TestAddStudentsReportsCount(t *testing.T) {
	svc := &classServiceMock{}
	h := NewClassHandler(svc)

	c, w := newGinContext(http.MethodPost, "/teams/team-1/students", mustJSON(t, dto.AddStudentsRequest{Text: "Ana Smith S1\nBo Chan S2"}))
	c.Params = gin.Params{{Key: "teamId", Value: "team-1"}}
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	h.AddStudents(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Ana Smith S1\nBo Chan S2", svc.added.Text)
	assert.JSONEq(t, `{"added":2}`, string(decodeEnvelope(t, w)["meta"]))
}

func TestDeleteTeam(t *testing.T) {
	svc := &classServiceMock{}
	h := NewClassHandler(svc)

	c, w := newGinContext(http.MethodDelete, "/classes/c1/teams/team-1", nil)
	c.Params = gin.Params{{Key: "classId", Value: "c1"}, {Key: "teamId", Value: "team-1"}}
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	h.DeleteTeam(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"team-1"}, svc.deleted)
}

func TestStudentHandlerViews(t *testing.T) {
	h := NewStudentHandler(&classServiceMock{}, assignmentListerMock{})

	c, w := newGinContext(http.MethodGet, "/student/teams", nil)
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent, ClassID: "c1"})
	h.Teams(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/student/assignments", nil)
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent, ClassID: "c1"})
	h.Assignments(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"a1"`)

	c, w = newGinContext(http.MethodGet, "/student/assignments", nil)
	h.Assignments(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)

	h = NewMetricsHandler(nil, nil)
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
}
