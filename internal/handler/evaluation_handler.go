package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/dto"
	"github.com/noah-isme/peer-eval-api/internal/models"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/export"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

type evaluationService interface {
	Submit(ctx context.Context, actor models.Principal, req dto.SubmitEvaluationRequest) (*models.TeamEvaluation, error)
	Exists(ctx context.Context, actor models.Principal, assignmentID, teamID string) (bool, error)
	Report(ctx context.Context, actor models.Principal, studentID, assignmentID string) (*dto.StudentReport, error)
	ListByAssignment(ctx context.Context, actor models.Principal, assignmentID string) ([]dto.EvaluationDetail, error)
	ExportReport(ctx context.Context, actor models.Principal, studentID, assignmentID string, format export.Format) ([]byte, string, error)
}

// EvaluationHandler records evaluations and serves reports.
type EvaluationHandler struct {
	service evaluationService
}

// NewEvaluationHandler constructs an EvaluationHandler.
func NewEvaluationHandler(svc evaluationService) *EvaluationHandler {
	return &EvaluationHandler{service: svc}
}

// Submit godoc
// @Summary Submit an evaluation
// @Description Stores a team evaluation with member evaluations, replacing any earlier submission
// @Description by the same evaluator for the same assignment and team
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param payload body dto.SubmitEvaluationRequest true "Evaluation"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /evaluations [post]
func (h *EvaluationHandler) Submit(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SubmitEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid evaluation payload"))
		return
	}
	evaluation, err := h.service.Submit(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, evaluation)
}

// Exists godoc
// @Summary Check for an earlier submission
// @Tags Evaluations
// @Produce json
// @Param assignment_id query string true "Assignment ID"
// @Param team_id query string true "Evaluated team ID"
// @Success 200 {object} response.Envelope
// @Router /evaluations/exists [get]
func (h *EvaluationHandler) Exists(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	assignmentID, teamID := c.Query("assignment_id"), c.Query("team_id")
	if assignmentID == "" || teamID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "assignment_id and team_id required"))
		return
	}
	exists, err := h.service.Exists(c.Request.Context(), principal, assignmentID, teamID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.EvaluationStatus{Exists: exists})
}

// ListByAssignment godoc
// @Summary All evaluations of an assignment
// @Tags Evaluations
// @Produce json
// @Param assignmentId path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{assignmentId}/evaluations [get]
func (h *EvaluationHandler) ListByAssignment(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	details, err := h.service.ListByAssignment(c.Request.Context(), principal, c.Param("assignmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, details, map[string]interface{}{"count": len(details)})
}

// StudentReport godoc
// @Summary Evaluations a student received
// @Tags Evaluations
// @Produce json
// @Param assignmentId path string true "Assignment ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{assignmentId}/students/{studentId}/report [get]
func (h *EvaluationHandler) StudentReport(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.service.Report(c.Request.Context(), principal, h.studentID(c, principal), c.Param("assignmentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// ExportReport godoc
// @Summary Export a student report
// @Tags Evaluations
// @Produce text/csv
// @Produce application/pdf
// @Param assignmentId path string true "Assignment ID"
// @Param studentId path string true "Student ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /assignments/{assignmentId}/students/{studentId}/report/export [get]
func (h *EvaluationHandler) ExportReport(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := export.Format(strings.ToLower(c.DefaultQuery("format", string(export.FormatCSV))))
	studentID := h.studentID(c, principal)
	body, contentType, err := h.service.ExportReport(c.Request.Context(), principal, studentID, c.Param("assignmentId"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, fmt.Sprintf("report-%s.%s", studentID, format), contentType, body)
}

// studentID reads the report subject from the path; student routes omit it and mean themselves.
func (h *EvaluationHandler) studentID(c *gin.Context, principal models.Principal) string {
	if id := c.Param("studentId"); id != "" {
		return id
	}
	return principal.ID
}
