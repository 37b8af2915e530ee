package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

type classService interface {
	CreateClass(ctx context.Context, actor models.Principal, req dto.CreateClassRequest) (*models.Class, error)
	ListClasses(ctx context.Context, actor models.Principal) ([]models.Class, error)
	CreateTeam(ctx context.Context, actor models.Principal, classID string, req dto.CreateTeamRequest) (*models.Team, error)
	ListTeams(ctx context.Context, actor models.Principal, classID string) ([]models.Team, error)
	ListTeamMembers(ctx context.Context, actor models.Principal, classID, teamID string) ([]models.StudentSummary, error)
	DeleteTeam(ctx context.Context, actor models.Principal, classID, teamID string) error
	AddStudents(ctx context.Context, actor models.Principal, teamID string, req dto.AddStudentsRequest) ([]dto.AddedStudent, error)
	ListStudents(ctx context.Context, actor models.Principal, classID string) ([]models.StudentSummary, error)
	DeleteStudent(ctx context.Context, actor models.Principal, classID, studentID string) error
}

// ClassHandler manages classes, teams and rosters for teachers.
type ClassHandler struct {
	service classService
}

// NewClassHandler constructs a ClassHandler.
func NewClassHandler(svc classService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body dto.CreateClassRequest true "Class"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid class payload"))
		return
	}
	class, err := h.service.CreateClass(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// List godoc
// @Summary List own classes
// @Tags Classes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	classes, err := h.service.ListClasses(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes)
}

// CreateTeam godoc
// @Summary Create team
// @Tags Teams
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param payload body dto.CreateTeamRequest true "Team"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes/{classId}/teams [post]
func (h *ClassHandler) CreateTeam(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid team payload"))
		return
	}
	team, err := h.service.CreateTeam(c.Request.Context(), principal, c.Param("classId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, team)
}

// ListTeams godoc
// @Summary List teams of a class
// @Tags Teams
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/teams [get]
func (h *ClassHandler) ListTeams(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	teams, err := h.service.ListTeams(c.Request.Context(), principal, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teams)
}

// ListTeamMembers godoc
// @Summary List team members
// @Tags Teams
// @Produce json
// @Param classId path string true "Class ID"
// @Param teamId path string true "Team ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/teams/{teamId}/members [get]
func (h *ClassHandler) ListTeamMembers(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	members, err := h.service.ListTeamMembers(c.Request.Context(), principal, c.Param("classId"), c.Param("teamId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members)
}

// DeleteTeam godoc
// @Summary Delete team and its students
// @Tags Teams
// @Param classId path string true "Class ID"
// @Param teamId path string true "Team ID"
// @Success 204 {object} response.Envelope
// @Router /classes/{classId}/teams/{teamId} [delete]
func (h *ClassHandler) DeleteTeam(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.DeleteTeam(c.Request.Context(), principal, c.Param("classId"), c.Param("teamId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddStudents godoc
// @Summary Bulk add students to a team
// @Description One student per line: "Full Name StudentID", or "Full Name" for the Guests team
// @Tags Students
// @Accept json
// @Produce json
// @Param teamId path string true "Team ID"
// @Param payload body dto.AddStudentsRequest true "Roster"
// @Success 201 {object} response.Envelope
// @Router /teams/{teamId}/students [post]
func (h *ClassHandler) AddStudents(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.AddStudentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid roster payload"))
		return
	}
	added, err := h.service.AddStudents(c.Request.Context(), principal, c.Param("teamId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, added, map[string]interface{}{"added": len(added)})
}

// ListStudents godoc
// @Summary List students of a class
// @Tags Students
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/students [get]
func (h *ClassHandler) ListStudents(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	students, err := h.service.ListStudents(c.Request.Context(), principal, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students)
}

// DeleteStudent godoc
// @Summary Delete a student
// @Tags Students
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId} [delete]
func (h *ClassHandler) DeleteStudent(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.DeleteStudent(c.Request.Context(), principal, c.Param("classId"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
