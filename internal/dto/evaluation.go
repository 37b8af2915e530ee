package dto

import "github.com/noah-isme/peer-eval-api/internal/models"

// MemberEvaluationInput scores one member of the evaluated team.
type MemberEvaluationInput struct {
	StudentID string `json:"student_id" validate:"required"`
	Comment   string `json:"comment" validate:"max=5000"`
	Score     int    `json:"score" validate:"gte=0,lte=100"`
}

// SubmitEvaluationRequest is a full evaluation bundle; it replaces any previous one.
type SubmitEvaluationRequest struct {
	AssignmentID      string                  `json:"assignment_id" validate:"required"`
	EvaluatedTeamID   string                  `json:"evaluated_team_id" validate:"required"`
	TeamComment       string                  `json:"team_comment" validate:"max=5000"`
	TeamScore         int                     `json:"team_score" validate:"gte=0,lte=100"`
	MemberEvaluations []MemberEvaluationInput `json:"member_evaluations" validate:"dive"`
}

// EvaluationStatus answers the "already submitted" check.
type EvaluationStatus struct {
	Exists bool `json:"exists"`
}

// EvaluationDetail is one team evaluation with its member evaluations.
type EvaluationDetail struct {
	models.TeamEvaluationView
	MemberEvaluations []models.MemberEvaluationView `json:"member_evaluations"`
}

// StudentReport aggregates the evaluations a student received for one assignment.
type StudentReport struct {
	Student           models.StudentSummary         `json:"student"`
	TeamName          string                        `json:"team_name"`
	ClassName         string                        `json:"class_name"`
	Assignment        models.Assignment             `json:"assignment"`
	TeamEvaluations   []models.TeamEvaluationView   `json:"team_evaluations"`
	MemberEvaluations []models.MemberEvaluationView `json:"member_evaluations"`
}
