package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/middleware"
	"github.com/noah-isme/peer-eval-api/internal/models"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/export"
)

var testCookies = Cookies{
	Session:   middleware.SessionCookie{Name: "session"},
	Device:    "device",
	DeviceTTL: 365 * 24 * time.Hour,
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func asPrincipal(c *gin.Context, principal models.Principal) {
	c.Set(middleware.ContextPrincipalKey, principal)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

type identityMock struct {
	grant     *dto.SessionGrant
	result    *dto.LoginResult
	err       error
	studentRq dto.StudentLoginRequest
	joinRq    dto.JoinRequest
}

func (m *identityMock) TeacherLogin(ctx context.Context, req dto.TeacherLoginRequest) (*dto.SessionGrant, error) {
	return m.grant, m.err
}

func (m *identityMock) StudentLogin(ctx context.Context, req dto.StudentLoginRequest) (*dto.LoginResult, error) {
	m.studentRq = req
	return m.result, m.err
}

func (m *identityMock) GuestLogin(ctx context.Context, req dto.GuestLoginRequest) (*dto.LoginResult, error) {
	return m.result, m.err
}

func (m *identityMock) Select(ctx context.Context, req dto.SelectClassRequest) (*dto.SessionGrant, error) {
	return m.grant, m.err
}

func (m *identityMock) JoinByToken(ctx context.Context, req dto.JoinRequest) (*dto.SessionGrant, error) {
	m.joinRq = req
	return m.grant, m.err
}

type expirerMock struct {
	expired *models.SessionClaims
	err     error
}

func (m *expirerMock) Expire(ctx context.Context, claims *models.SessionClaims) error {
	m.expired = claims
	return m.err
}

type registrationMock struct{}

func (registrationMock) RequestCode(ctx context.Context, req dto.RegistrationCodeRequest) (*dto.RegistrationTicket, error) {
	return &dto.RegistrationTicket{Ticket: "t"}, nil
}

func (registrationMock) Register(ctx context.Context, req dto.RegisterTeacherRequest) (*models.Teacher, error) {
	return &models.Teacher{ID: "teacher-1", Email: req.Email}, nil
}

func studentGrant() *dto.SessionGrant {
	return &dto.SessionGrant{
		Token:       "session-token",
		ExpiresAt:   time.Now().Add(4 * time.Hour),
		Principal:   models.Principal{ID: "stu-1", Role: models.RoleStudent, Name: "Ana"},
		DeviceToken: "device-a",
	}
}

func TestStudentLoginSetsCookies(t *testing.T) {
	identity := &identityMock{result: &dto.LoginResult{Session: studentGrant()}}
	h := NewAuthHandler(identity, &expirerMock{}, registrationMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/auth/student/login", mustJSON(t, dto.StudentLoginRequest{Name: "Ana", Passcode: "S1"}))
	c.Request.AddCookie(&http.Cookie{Name: "device", Value: "device-a"})
	h.StudentLogin(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "device-a", identity.studentRq.DeviceToken)

	session := cookieNamed(w, "session")
	require.NotNil(t, session)
	assert.Equal(t, "session-token", session.Value)
	assert.True(t, session.HttpOnly)
	device := cookieNamed(w, "device")
	require.NotNil(t, device)
	assert.Equal(t, "device-a", device.Value)
	assert.NotContains(t, w.Body.String(), "device-a")
}

func TestStudentLoginMultipleClasses(t *testing.T) {
	identity := &identityMock{result: &dto.LoginResult{Disambiguation: &dto.Disambiguation{
		Ticket:     "ticket",
		Candidates: []dto.ClassCandidate{{StudentID: "a", ClassName: "A"}, {StudentID: "b", ClassName: "B"}},
	}}}
	h := NewAuthHandler(identity, &expirerMock{}, registrationMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/auth/student/login", mustJSON(t, dto.StudentLoginRequest{Name: "Mike Lee", Passcode: "p"}))
	h.StudentLogin(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, cookieNamed(w, "session"))
	envelope := decodeEnvelope(t, w)
	assert.JSONEq(t, `{"multiple_classes":true}`, string(envelope["meta"]))
	assert.Contains(t, string(envelope["data"]), `"ticket":"ticket"`)
}

func TestLoginFailureUsesErrorEnvelope(t *testing.T) {
	identity := &identityMock{err: appErrors.ErrInvalidCredentials}
	h := NewAuthHandler(identity, &expirerMock{}, registrationMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/auth/guest/login", mustJSON(t, dto.GuestLoginRequest{Name: "Pat", Passcode: "x"}))
	h.GuestLogin(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CREDENTIALS")
	assert.Nil(t, cookieNamed(w, "session"))
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	h := NewAuthHandler(&identityMock{}, &expirerMock{}, registrationMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/auth/teacher/login", []byte("{"))
	h.TeacherLogin(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogoutExpiresSessionAndClearsCookie(t *testing.T) {
	expirer := &expirerMock{}
	h := NewAuthHandler(&identityMock{}, expirer, registrationMock{}, testCookies)

	claims := &models.SessionClaims{PrincipalID: "stu-1", Role: models.RoleStudent}
	c, w := newGinContext(http.MethodPost, "/auth/logout", nil)
	c.Set(middleware.ContextClaimsKey, claims)
	h.Logout(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Same(t, claims, expirer.expired)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "session=;")
}

func TestLogoutStoreFailureIsRetryable(t *testing.T) {
	h := NewAuthHandler(&identityMock{}, &expirerMock{err: errors.New("redis down")}, registrationMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/auth/logout", nil)
	c.Set(middleware.ContextClaimsKey, &models.SessionClaims{PrincipalID: "stu-1"})
	h.Logout(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRegisterFlowStatuses(t *testing.T) {
	h := NewAuthHandler(&identityMock{}, &expirerMock{}, registrationMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/auth/register/code", mustJSON(t, dto.RegistrationCodeRequest{Email: "x@monmouth.edu"}))
	h.RequestRegistrationCode(c)
	require.Equal(t, http.StatusAccepted, w.Code)

	c, w = newGinContext(http.MethodPost, "/auth/register", mustJSON(t, dto.RegisterTeacherRequest{
		Ticket: "t", Name: "Dr. X", Email: "x@monmouth.edu", Password: "longenough", Code: "123456",
	}))
	h.Register(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

type joinLinkMock struct {
	info *dto.JoinInfo
	err  error
}

func (m *joinLinkMock) Issue(ctx context.Context, actor models.Principal, classID string) (*dto.JoinLink, error) {
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.ErrForbidden
	}
	return &dto.JoinLink{Token: "tok", Link: "https://peer.example.edu/join/tok"}, nil
}

func (m *joinLinkMock) JoinInfo(ctx context.Context, token string) (*dto.JoinInfo, error) {
	return m.info, m.err
}

func TestJoinUsesPathTokenAndDeviceCookie(t *testing.T) {
	identity := &identityMock{grant: studentGrant()}
	h := NewJoinHandler(&joinLinkMock{}, identity, testCookies)

	c, w := newGinContext(http.MethodPost, "/join/tok", mustJSON(t, map[string]string{
		"student_name": "Ana", "student_id": "S1", "team_id": "team-1",
	}))
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	c.Request.AddCookie(&http.Cookie{Name: "device", Value: "device-a"})
	h.Join(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tok", identity.joinRq.Token)
	assert.Equal(t, "device-a", identity.joinRq.DeviceToken)
	assert.Equal(t, "S1", identity.joinRq.ExternalID)
	require.NotNil(t, cookieNamed(w, "session"))
}

func TestJoinInfoExpiredToken(t *testing.T) {
	h := NewJoinHandler(&joinLinkMock{err: appErrors.ErrAccessExpired}, &identityMock{}, testCookies)

	c, w := newGinContext(http.MethodGet, "/join/tok", nil)
	c.Params = gin.Params{{Key: "token", Value: "tok"}}
	h.Info(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "ACCESS_EXPIRED")
}

func TestIssueLinkRequiresPrincipal(t *testing.T) {
	h := NewJoinHandler(&joinLinkMock{}, &identityMock{}, testCookies)

	c, w := newGinContext(http.MethodPost, "/classes/c1/join-links", nil)
	h.IssueLink(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/classes/c1/join-links", nil)
	c.Params = gin.Params{{Key: "classId", Value: "c1"}}
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	h.IssueLink(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "https://peer.example.edu/join/tok")
}

type evaluationMock struct {
	submitted  dto.SubmitEvaluationRequest
	submitErr  error
	reportFor  string
	exportBody []byte
}

func (m *evaluationMock) Submit(ctx context.Context, actor models.Principal, req dto.SubmitEvaluationRequest) (*models.TeamEvaluation, error) {
	m.submitted = req
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return &models.TeamEvaluation{ID: "eval-1"}, nil
}

func (m *evaluationMock) Exists(ctx context.Context, actor models.Principal, assignmentID, teamID string) (bool, error) {
	return assignmentID == "a1" && teamID == "team-2", nil
}

func (m *evaluationMock) Report(ctx context.Context, actor models.Principal, studentID, assignmentID string) (*dto.StudentReport, error) {
	m.reportFor = studentID
	return &dto.StudentReport{}, nil
}

func (m *evaluationMock) ListByAssignment(ctx context.Context, actor models.Principal, assignmentID string) ([]dto.EvaluationDetail, error) {
	return []dto.EvaluationDetail{{}, {}}, nil
}

func (m *evaluationMock) ExportReport(ctx context.Context, actor models.Principal, studentID, assignmentID string, format export.Format) ([]byte, string, error) {
	if format != export.FormatCSV && format != export.FormatPDF {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported format")
	}
	m.reportFor = studentID
	return m.exportBody, "text/csv", nil
}

func TestSubmitEvaluation(t *testing.T) {
	svc := &evaluationMock{}
	h := NewEvaluationHandler(svc)

	body := `{"assignment_id":"a1","evaluated_team_id":"team-2","team_score":90,"member_evaluations":[{"student_id":"bo","score":80}]}`
	c, w := newGinContext(http.MethodPost, "/evaluations", []byte(body))
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent})
	h.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "a1", svc.submitted.AssignmentID)
}

func TestSubmitEvaluationSelfTarget(t *testing.T) {
	h := NewEvaluationHandler(&evaluationMock{submitErr: appErrors.ErrSelfEvaluationForbidden})

	c, w := newGinContext(http.MethodPost, "/evaluations", []byte(`{"assignment_id":"a1"}`))
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent})
	h.Submit(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "SELF_EVALUATION_FORBIDDEN")
}

func TestEvaluationExists(t *testing.T) {
	h := NewEvaluationHandler(&evaluationMock{})

	c, w := newGinContext(http.MethodGet, "/evaluations/exists?assignment_id=a1&team_id=team-2", nil)
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent})
	h.Exists(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exists":true`)

	c, w = newGinContext(http.MethodGet, "/evaluations/exists?assignment_id=a1", nil)
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent})
	h.Exists(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStudentReportDefaultsToSelf(t *testing.T) {
	svc := &evaluationMock{}
	h := NewEvaluationHandler(svc)

	c, w := newGinContext(http.MethodGet, "/student/assignments/a1/report", nil)
	c.Params = gin.Params{{Key: "assignmentId", Value: "a1"}}
	asPrincipal(c, models.Principal{ID: "stu-1", Role: models.RoleStudent})
	h.StudentReport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", svc.reportFor)
}

func TestExportReportAttachment(t *testing.T) {
	svc := &evaluationMock{exportBody: []byte("section,value\n")}
	h := NewEvaluationHandler(svc)

	c, w := newGinContext(http.MethodGet, "/assignments/a1/students/stu-2/report/export?format=CSV", nil)
	c.Params = gin.Params{{Key: "assignmentId", Value: "a1"}, {Key: "studentId", Value: "stu-2"}}
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	h.ExportReport(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-2", svc.reportFor)
	assert.True(t, strings.Contains(w.Header().Get("Content-Disposition"), "report-stu-2.csv"))
	assert.Equal(t, "section,value\n", w.Body.String())

	c, w = newGinContext(http.MethodGet, "/assignments/a1/students/stu-2/report/export?format=xlsx", nil)
	c.Params = gin.Params{{Key: "assignmentId", Value: "a1"}, {Key: "studentId", Value: "stu-2"}}
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	h.ExportReport(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListByAssignmentCountsDetails(t *testing.T) {
	h := NewEvaluationHandler(&evaluationMock{})

	c, w := newGinContext(http.MethodGet, "/assignments/a1/evaluations", nil)
	c.Params = gin.Params{{Key: "assignmentId", Value: "a1"}}
	asPrincipal(c, models.Principal{ID: "t1", Role: models.RoleTeacher})
	h.ListByAssignment(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, string(decodeEnvelope(t, w)["meta"]))
}
