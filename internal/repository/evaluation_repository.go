package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// EvaluationRepository persists team evaluations and their member evaluations.
type EvaluationRepository struct {
	store *Store
}

// NewEvaluationRepository constructs an EvaluationRepository.
func NewEvaluationRepository(store *Store) *EvaluationRepository {
	return &EvaluationRepository{store: store}
}

// ReplaceBundle removes any evaluation with the same natural key as team, together with its
// member evaluations, and inserts team and members in its place. Readers see either the old
// bundle or the complete new one. Replacing a bundle that does not exist is not an error.
func (r *EvaluationRepository) ReplaceBundle(ctx context.Context, team *models.TeamEvaluation, members []models.MemberEvaluation) error {
	const (
		deleteMembers = `DELETE FROM member_evaluations WHERE team_evaluation_id IN (SELECT id FROM team_evaluations WHERE assignment_id = $1 AND evaluated_team_id = $2 AND evaluator_student_id = $3)`
		deleteTeam    = `DELETE FROM team_evaluations WHERE assignment_id = $1 AND evaluated_team_id = $2 AND evaluator_student_id = $3`
		insertTeam    = `INSERT INTO team_evaluations (id, assignment_id, evaluated_team_id, evaluator_student_id, team_comment, team_score, created_at) VALUES (:id, :assignment_id, :evaluated_team_id, :evaluator_student_id, :team_comment, :team_score, :created_at)`
		insertMember  = `INSERT INTO member_evaluations (id, team_evaluation_id, evaluated_student_id, comment, score, created_at) VALUES (:id, :team_evaluation_id, :evaluated_student_id, :comment, :score, :created_at)`
	)
	return r.store.withTx(ctx, "evaluations.replace_bundle", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteMembers, team.AssignmentID, team.EvaluatedTeamID, team.EvaluatorStudentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteTeam, team.AssignmentID, team.EvaluatedTeamID, team.EvaluatorStudentID); err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, insertTeam, team); err != nil {
			return err
		}
		for i := range members {
			members[i].TeamEvaluationID = team.ID
			if _, err := tx.NamedExecContext(ctx, insertMember, &members[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Exists reports whether an evaluation is stored for the natural key.
func (r *EvaluationRepository) Exists(ctx context.Context, key models.EvaluationKey) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM team_evaluations WHERE assignment_id = $1 AND evaluated_team_id = $2 AND evaluator_student_id = $3)`
	var exists bool
	err := r.store.run(ctx, "evaluations.exists", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &exists, query, key.AssignmentID, key.EvaluatedTeamID, key.EvaluatorStudentID)
	})
	return exists, err
}

const teamEvaluationViewSelect = `SELECT te.id, te.assignment_id, te.evaluated_team_id, te.evaluator_student_id, te.team_comment, te.team_score, te.created_at,
    ev.name AS evaluator_name, evt.name AS evaluator_team_name, tt.name AS evaluated_team_name
FROM team_evaluations te
JOIN students ev ON ev.id = te.evaluator_student_id
JOIN teams evt ON evt.id = ev.team_id
JOIN teams tt ON tt.id = te.evaluated_team_id`

const memberEvaluationViewSelect = `SELECT me.id, me.team_evaluation_id, me.evaluated_student_id, me.comment, me.score, me.created_at,
    ev.name AS evaluator_name, es.name AS evaluated_student_name
FROM member_evaluations me
JOIN team_evaluations te ON te.id = me.team_evaluation_id
JOIN students ev ON ev.id = te.evaluator_student_id
JOIN students es ON es.id = me.evaluated_student_id`

// ListReceivedByTeam returns the team evaluations targeting a team for an assignment.
func (r *EvaluationRepository) ListReceivedByTeam(ctx context.Context, assignmentID, teamID string) ([]models.TeamEvaluationView, error) {
	const query = teamEvaluationViewSelect + ` WHERE te.assignment_id = $1 AND te.evaluated_team_id = $2 ORDER BY te.created_at ASC`
	views := []models.TeamEvaluationView{}
	err := r.store.run(ctx, "evaluations.list_received_by_team", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &views, query, assignmentID, teamID)
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// ListReceivedByStudent returns the member evaluations targeting a student for an assignment.
func (r *EvaluationRepository) ListReceivedByStudent(ctx context.Context, assignmentID, studentID string) ([]models.MemberEvaluationView, error) {
	const query = memberEvaluationViewSelect + ` WHERE te.assignment_id = $1 AND me.evaluated_student_id = $2 ORDER BY me.created_at ASC`
	views := []models.MemberEvaluationView{}
	err := r.store.run(ctx, "evaluations.list_received_by_student", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &views, query, assignmentID, studentID)
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// ListByAssignment returns every team evaluation of an assignment.
func (r *EvaluationRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.TeamEvaluationView, error) {
	const query = teamEvaluationViewSelect + ` WHERE te.assignment_id = $1 ORDER BY tt.name ASC, te.created_at ASC`
	views := []models.TeamEvaluationView{}
	err := r.store.run(ctx, "evaluations.list_by_assignment", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &views, query, assignmentID)
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// ListMembersByAssignment returns every member evaluation of an assignment.
func (r *EvaluationRepository) ListMembersByAssignment(ctx context.Context, assignmentID string) ([]models.MemberEvaluationView, error) {
	const query = memberEvaluationViewSelect + ` WHERE te.assignment_id = $1 ORDER BY es.name ASC`
	views := []models.MemberEvaluationView{}
	err := r.store.run(ctx, "evaluations.list_members_by_assignment", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &views, query, assignmentID)
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}
