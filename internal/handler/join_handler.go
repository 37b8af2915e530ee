package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

type joinLinkService interface {
	Issue(ctx context.Context, actor models.Principal, classID string) (*dto.JoinLink, error)
	JoinInfo(ctx context.Context, token string) (*dto.JoinInfo, error)
}

// JoinHandler serves class join links.
type JoinHandler struct {
	tokens   joinLinkService
	identity identityService
	cookies  Cookies
}

// NewJoinHandler constructs a JoinHandler.
func NewJoinHandler(tokens joinLinkService, identity identityService, cookies Cookies) *JoinHandler {
	return &JoinHandler{tokens: tokens, identity: identity, cookies: cookies}
}

// IssueLink godoc
// @Summary Create a join link for a class
// @Tags Join
// @Produce json
// @Param classId path string true "Class ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classes/{classId}/join-links [post]
func (h *JoinHandler) IssueLink(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := h.tokens.Issue(c.Request.Context(), principal, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// Info godoc
// @Summary Join form data
// @Description Validates a join token and lists the teams a newcomer may join
// @Tags Join
// @Produce json
// @Param token path string true "Join token"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /join/{token} [get]
func (h *JoinHandler) Info(c *gin.Context) {
	info, err := h.tokens.JoinInfo(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info)
}

// Join godoc
// @Summary Join a class
// @Description Admits a student or guest through a join token and opens a session
// @Tags Join
// @Accept json
// @Produce json
// @Param token path string true "Join token"
// @Param payload body dto.JoinRequest true "Join payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /join/{token} [post]
func (h *JoinHandler) Join(c *gin.Context) {
	var req dto.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid join payload"))
		return
	}
	req.Token = c.Param("token")
	req.DeviceToken = readDeviceToken(c, h.cookies)
	grant, err := h.identity.JoinByToken(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeSessionCookies(c, h.cookies, grant)
	response.JSON(c, http.StatusCreated, dto.LoginResult{Session: grant})
}
