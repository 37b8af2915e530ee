package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/middleware"
	"github.com/noah-isme/peer-eval-api/internal/models"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

type identityService interface {
	TeacherLogin(ctx context.Context, req dto.TeacherLoginRequest) (*dto.SessionGrant, error)
	StudentLogin(ctx context.Context, req dto.StudentLoginRequest) (*dto.LoginResult, error)
	GuestLogin(ctx context.Context, req dto.GuestLoginRequest) (*dto.LoginResult, error)
	Select(ctx context.Context, req dto.SelectClassRequest) (*dto.SessionGrant, error)
	JoinByToken(ctx context.Context, req dto.JoinRequest) (*dto.SessionGrant, error)
}

type sessionExpirer interface {
	Expire(ctx context.Context, claims *models.SessionClaims) error
}

type registrationService interface {
	RequestCode(ctx context.Context, req dto.RegistrationCodeRequest) (*dto.RegistrationTicket, error)
	Register(ctx context.Context, req dto.RegisterTeacherRequest) (*models.Teacher, error)
}

// AuthHandler wires HTTP endpoints to the identity, session and registration services.
type AuthHandler struct {
	identity     identityService
	sessions     sessionExpirer
	registration registrationService
	cookies      Cookies
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(identity identityService, sessions sessionExpirer, registration registrationService, cookies Cookies) *AuthHandler {
	return &AuthHandler{identity: identity, sessions: sessions, registration: registration, cookies: cookies}
}

// TeacherLogin godoc
// @Summary Teacher login
// @Description Authenticate an instructor by email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body dto.TeacherLoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/teacher/login [post]
func (h *AuthHandler) TeacherLogin(c *gin.Context) {
	var req dto.TeacherLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid login payload"))
		return
	}
	grant, err := h.identity.TeacherLogin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeGrant(c, http.StatusOK, grant)
}

// StudentLogin godoc
// @Summary Student login
// @Description Authenticate a student by display name and passcode. When the credentials match
// @Description enrollments in several classes the response carries a disambiguation instead of a session.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body dto.StudentLoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/student/login [post]
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req dto.StudentLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid login payload"))
		return
	}
	req.DeviceToken = h.deviceToken(c)
	result, err := h.identity.StudentLogin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeLogin(c, result)
}

// GuestLogin godoc
// @Summary Guest login
// @Description Authenticate a walk-in guest by display name and the shared class passcode
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body dto.GuestLoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/guest/login [post]
func (h *AuthHandler) GuestLogin(c *gin.Context) {
	var req dto.GuestLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid login payload"))
		return
	}
	req.DeviceToken = h.deviceToken(c)
	result, err := h.identity.GuestLogin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeLogin(c, result)
}

// SelectClass godoc
// @Summary Complete a multi-class login
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body dto.SelectClassRequest true "Selection"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/select [post]
func (h *AuthHandler) SelectClass(c *gin.Context) {
	var req dto.SelectClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid selection payload"))
		return
	}
	req.DeviceToken = h.deviceToken(c)
	grant, err := h.identity.Select(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeGrant(c, http.StatusOK, grant)
}

// Logout godoc
// @Summary Logout current session
// @Description Expires the session and clears the session cookie. The device cookie is kept.
// @Tags Authentication
// @Produce json
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.sessions.Expire(c.Request.Context(), claims); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrStoreTransient.Code, appErrors.ErrStoreTransient.Status, appErrors.ErrStoreTransient.Message))
		return
	}
	middleware.ClearCookie(c, h.cookies.Session)
	response.NoContent(c)
}

// Me godoc
// @Summary Current principal
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, principal)
}

// RequestRegistrationCode godoc
// @Summary Send a teacher registration code
// @Description Mails a verification code to an institutional address and returns the ticket that must accompany it
// @Tags Registration
// @Accept json
// @Produce json
// @Param payload body dto.RegistrationCodeRequest true "Email"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register/code [post]
func (h *AuthHandler) RequestRegistrationCode(c *gin.Context) {
	var req dto.RegistrationCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid email"))
		return
	}
	ticket, err := h.registration.RequestCode(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, ticket)
}

// Register godoc
// @Summary Register a teacher
// @Tags Registration
// @Accept json
// @Produce json
// @Param payload body dto.RegisterTeacherRequest true "Registration"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterTeacherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid registration payload"))
		return
	}
	teacher, err := h.registration.Register(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, teacher)
}

func (h *AuthHandler) writeLogin(c *gin.Context, result *dto.LoginResult) {
	if result.MultipleClasses() {
		response.JSON(c, http.StatusOK, result, map[string]interface{}{"multiple_classes": true})
		return
	}
	h.writeGrant(c, http.StatusOK, result.Session)
}

func (h *AuthHandler) writeGrant(c *gin.Context, status int, grant *dto.SessionGrant) {
	writeSessionCookies(c, h.cookies, grant)
	response.JSON(c, status, dto.LoginResult{Session: grant})
}

func (h *AuthHandler) deviceToken(c *gin.Context) string {
	return readDeviceToken(c, h.cookies)
}

func readDeviceToken(c *gin.Context, cookies Cookies) string {
	if cookies.Device == "" {
		return ""
	}
	value, err := c.Cookie(cookies.Device)
	if err != nil {
		return ""
	}
	return value
}

// writeSessionCookies sets the session cookie for the grant's lifetime and, for students, the
// long-lived device cookie.
func writeSessionCookies(c *gin.Context, cookies Cookies, grant *dto.SessionGrant) {
	c.SetSameSite(http.SameSiteLaxMode)
	if cookies.Session.Name != "" {
		maxAge := int(time.Until(grant.ExpiresAt).Seconds())
		if maxAge < 1 {
			maxAge = 1
		}
		c.SetCookie(cookies.Session.Name, grant.Token, maxAge, "/", "", cookies.Session.Secure, true)
	}
	if cookies.Device != "" && grant.DeviceToken != "" {
		c.SetCookie(cookies.Device, grant.DeviceToken, int(cookies.DeviceTTL.Seconds()), "/", "", cookies.Session.Secure, true)
	}
}
