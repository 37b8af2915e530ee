package repository

import (
	"context"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// AssignmentRepository persists assignments.
type AssignmentRepository struct {
	store *Store
}

// NewAssignmentRepository constructs an AssignmentRepository.
func NewAssignmentRepository(store *Store) *AssignmentRepository {
	return &AssignmentRepository{store: store}
}

// Create inserts an assignment.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	const query = `INSERT INTO assignments (id, class_id, name, start_time, end_time, created_at) VALUES (:id, :class_id, :name, :start_time, :end_time, :created_at)`
	return r.store.run(ctx, "assignments.create", func(ctx context.Context) error {
		_, err := r.store.db.NamedExecContext(ctx, query, assignment)
		return err
	})
}

// FindByID returns an assignment by id.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, class_id, name, start_time, end_time, created_at FROM assignments WHERE id = $1 LIMIT 1`
	var assignment models.Assignment
	err := r.store.run(ctx, "assignments.find_by_id", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &assignment, query, id)
	})
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListByClass returns the assignments of a class ordered by start time.
func (r *AssignmentRepository) ListByClass(ctx context.Context, classID string) ([]models.Assignment, error) {
	const query = `SELECT id, class_id, name, start_time, end_time, created_at FROM assignments WHERE class_id = $1 ORDER BY start_time ASC`
	assignments := []models.Assignment{}
	err := r.store.run(ctx, "assignments.list_by_class", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &assignments, query, classID)
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// Update rewrites the name and window of an assignment.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	const query = `UPDATE assignments SET name = :name, start_time = :start_time, end_time = :end_time WHERE id = :id`
	return r.store.run(ctx, "assignments.update", func(ctx context.Context) error {
		res, err := r.store.db.NamedExecContext(ctx, query, assignment)
		if err != nil {
			return err
		}
		return affected(res)
	})
}

// Delete removes an assignment and, through the schema, its evaluations.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM assignments WHERE id = $1`
	return r.store.run(ctx, "assignments.delete", func(ctx context.Context) error {
		res, err := r.store.db.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		return affected(res)
	})
}
