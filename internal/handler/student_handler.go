package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

type studentTeamLister interface {
	StudentTeams(ctx context.Context, actor models.Principal) ([]models.TeamWithMembers, error)
}

type studentAssignmentLister interface {
	ListForStudent(ctx context.Context, actor models.Principal) ([]models.Assignment, error)
}

// StudentHandler serves the signed-in student's view of their class.
type StudentHandler struct {
	teams       studentTeamLister
	assignments studentAssignmentLister
}

// NewStudentHandler constructs a StudentHandler.
func NewStudentHandler(teams studentTeamLister, assignments studentAssignmentLister) *StudentHandler {
	return &StudentHandler{teams: teams, assignments: assignments}
}

// Teams godoc
// @Summary Teams of my class
// @Description Evaluable teams of the student's class with their members
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /student/teams [get]
func (h *StudentHandler) Teams(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	teams, err := h.teams.StudentTeams(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teams)
}

// Assignments godoc
// @Summary Assignments of my class
// @Tags Student
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /student/assignments [get]
func (h *StudentHandler) Assignments(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	assignments, err := h.assignments.ListForStudent(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments)
}
