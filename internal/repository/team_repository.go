package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// TeamRepository persists teams. Names are unique per class.
type TeamRepository struct {
	store *Store
}

// NewTeamRepository constructs a TeamRepository.
func NewTeamRepository(store *Store) *TeamRepository {
	return &TeamRepository{store: store}
}

// Create inserts a team. A name already used in the class surfaces as ErrDuplicate.
func (r *TeamRepository) Create(ctx context.Context, team *models.Team) error {
	const query = `INSERT INTO teams (id, name, class_id, created_at) VALUES (:id, :name, :class_id, :created_at)`
	return r.store.run(ctx, "teams.create", func(ctx context.Context) error {
		_, err := r.store.db.NamedExecContext(ctx, query, team)
		return err
	})
}

// FindByID returns a team by id.
func (r *TeamRepository) FindByID(ctx context.Context, id string) (*models.Team, error) {
	const query = `SELECT id, name, class_id, created_at FROM teams WHERE id = $1 LIMIT 1`
	var team models.Team
	err := r.store.run(ctx, "teams.find_by_id", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &team, query, id)
	})
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// FindByName returns the team of a class with the exact name.
func (r *TeamRepository) FindByName(ctx context.Context, classID, name string) (*models.Team, error) {
	const query = `SELECT id, name, class_id, created_at FROM teams WHERE class_id = $1 AND name = $2 LIMIT 1`
	var team models.Team
	err := r.store.run(ctx, "teams.find_by_name", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &team, query, classID, name)
	})
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// ListByClass returns every team of a class ordered by name.
func (r *TeamRepository) ListByClass(ctx context.Context, classID string) ([]models.Team, error) {
	const query = `SELECT id, name, class_id, created_at FROM teams WHERE class_id = $1 ORDER BY name ASC`
	teams := []models.Team{}
	err := r.store.run(ctx, "teams.list_by_class", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &teams, query, classID)
	})
	if err != nil {
		return nil, err
	}
	return teams, nil
}

// Delete removes a team and its students in one transaction.
func (r *TeamRepository) Delete(ctx context.Context, id string) error {
	return r.store.withTx(ctx, "teams.delete", func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM students WHERE team_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
		if err != nil {
			return err
		}
		return affected(res)
	})
}
