package models

import "time"

// TeamEvaluation is the current evaluation of a team by one evaluator for one assignment.
// At most one row exists per (AssignmentID, EvaluatedTeamID, EvaluatorStudentID).
type TeamEvaluation struct {
	ID                 string    `db:"id" json:"id"`
	AssignmentID       string    `db:"assignment_id" json:"assignment_id"`
	EvaluatedTeamID    string    `db:"evaluated_team_id" json:"evaluated_team_id"`
	EvaluatorStudentID string    `db:"evaluator_student_id" json:"evaluator_student_id"`
	TeamComment        string    `db:"team_comment" json:"team_comment"`
	TeamScore          int       `db:"team_score" json:"team_score"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// MemberEvaluation scores one member of the evaluated team. It lives and dies with its parent.
type MemberEvaluation struct {
	ID                 string    `db:"id" json:"id"`
	TeamEvaluationID   string    `db:"team_evaluation_id" json:"team_evaluation_id"`
	EvaluatedStudentID string    `db:"evaluated_student_id" json:"evaluated_student_id"`
	Comment            string    `db:"comment" json:"comment"`
	Score              int       `db:"score" json:"score"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// EvaluationKey is the natural key of a TeamEvaluation.
type EvaluationKey struct {
	AssignmentID       string
	EvaluatedTeamID    string
	EvaluatorStudentID string
}

// TeamEvaluationView is a team evaluation joined with evaluator and team names.
type TeamEvaluationView struct {
	TeamEvaluation
	EvaluatorName     string `db:"evaluator_name" json:"evaluator_name"`
	EvaluatorTeamName string `db:"evaluator_team_name" json:"evaluator_team_name"`
	EvaluatedTeamName string `db:"evaluated_team_name" json:"evaluated_team_name"`
}

// MemberEvaluationView is a member evaluation joined with the evaluator and evaluee names.
type MemberEvaluationView struct {
	MemberEvaluation
	EvaluatorName        string `db:"evaluator_name" json:"evaluator_name"`
	EvaluatedStudentName string `db:"evaluated_student_name" json:"evaluated_student_name"`
}
