package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

type assignmentService interface {
	Create(ctx context.Context, actor models.Principal, classID string, req dto.AssignmentRequest) (*models.Assignment, error)
	List(ctx context.Context, actor models.Principal, classID string) ([]models.Assignment, error)
	Update(ctx context.Context, actor models.Principal, assignmentID string, req dto.AssignmentRequest) (*models.Assignment, error)
	Delete(ctx context.Context, actor models.Principal, assignmentID string) error
}

// AssignmentHandler manages assignments for teachers.
type AssignmentHandler struct {
	service assignmentService
}

// NewAssignmentHandler constructs an AssignmentHandler.
func NewAssignmentHandler(svc assignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: svc}
}

// Create godoc
// @Summary Create assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param payload body dto.AssignmentRequest true "Assignment"
// @Success 201 {object} response.Envelope
// @Router /classes/{classId}/assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Create(c.Request.Context(), principal, c.Param("classId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// List godoc
// @Summary List assignments of a class
// @Tags Assignments
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	assignments, err := h.service.List(c.Request.Context(), principal, c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments)
}

// Update godoc
// @Summary Update assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param assignmentId path string true "Assignment ID"
// @Param payload body dto.AssignmentRequest true "Assignment"
// @Success 200 {object} response.Envelope
// @Router /assignments/{assignmentId} [put]
func (h *AssignmentHandler) Update(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.AssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid assignment payload"))
		return
	}
	assignment, err := h.service.Update(c.Request.Context(), principal, c.Param("assignmentId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment)
}

// Delete godoc
// @Summary Delete assignment
// @Tags Assignments
// @Param assignmentId path string true "Assignment ID"
// @Success 204 {object} response.Envelope
// @Router /assignments/{assignmentId} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), principal, c.Param("assignmentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
