package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

const studentColumns = `id, name, student_id, passcode_hash, team_id, class_id, is_pre_added, access_expires_at, device_token, created_at`

// StudentRepository persists evaluator/evaluee principals: enrolled students, guests and teacher proxies.
type StudentRepository struct {
	store *Store
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(store *Store) *StudentRepository {
	return &StudentRepository{store: store}
}

const insertStudent = `INSERT INTO students (` + studentColumns + `) VALUES (:id, :name, :student_id, :passcode_hash, :team_id, :class_id, :is_pre_added, :access_expires_at, :device_token, :created_at)`

// Create inserts a student. A display name already used in the team surfaces as ErrDuplicate.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	return r.store.run(ctx, "students.create", func(ctx context.Context) error {
		_, err := r.store.db.NamedExecContext(ctx, insertStudent, student)
		return err
	})
}

// CreateMany inserts a batch of students in one transaction. Any failed row rolls back the batch.
func (r *StudentRepository) CreateMany(ctx context.Context, students []*models.Student) error {
	if len(students) == 0 {
		return nil
	}
	return r.store.withTx(ctx, "students.create_many", func(ctx context.Context, tx *sqlx.Tx) error {
		for _, student := range students {
			if _, err := tx.NamedExecContext(ctx, insertStudent, student); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByID returns a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE id = $1 LIMIT 1`
	var student models.Student
	err := r.store.run(ctx, "students.find_by_id", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &student, query, id)
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// FindLoginCandidates returns every enrolled or guest row with the exact display name across all classes.
// Teacher proxies are never login candidates.
func (r *StudentRepository) FindLoginCandidates(ctx context.Context, name string) ([]models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE name = $1 AND student_id <> $2 ORDER BY created_at ASC`
	students := []models.Student{}
	err := r.store.run(ctx, "students.find_login_candidates", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &students, query, name, models.ExternalIDTeacher)
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

// FindGuestCandidates returns guest rows with the exact display name across all classes.
func (r *StudentRepository) FindGuestCandidates(ctx context.Context, name string) ([]models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE name = $1 AND student_id IN ('', $2) ORDER BY created_at ASC`
	students := []models.Student{}
	err := r.store.run(ctx, "students.find_guest_candidates", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &students, query, name, models.ExternalIDNonStudent)
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

// FindInTeamByName returns the student of a team with the exact display name.
func (r *StudentRepository) FindInTeamByName(ctx context.Context, teamID, name string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE team_id = $1 AND name = $2 LIMIT 1`
	var student models.Student
	err := r.store.run(ctx, "students.find_in_team_by_name", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &student, query, teamID, name)
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// FindPreAdded returns the teacher-registered row for an institutional id within a team.
func (r *StudentRepository) FindPreAdded(ctx context.Context, teamID, externalID string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE student_id = $1 AND team_id = $2 AND is_pre_added = TRUE ORDER BY created_at ASC LIMIT 1`
	var student models.Student
	err := r.store.run(ctx, "students.find_pre_added", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &student, query, externalID, teamID)
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// NamesInTeam returns the display names already used in a team.
func (r *StudentRepository) NamesInTeam(ctx context.Context, teamID string) ([]string, error) {
	const query = `SELECT name FROM students WHERE team_id = $1`
	names := []string{}
	err := r.store.run(ctx, "students.names_in_team", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &names, query, teamID)
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ListByTeam returns the roster of a team ordered by name.
func (r *StudentRepository) ListByTeam(ctx context.Context, teamID string) ([]models.StudentSummary, error) {
	const query = `SELECT id, name, student_id, team_id FROM students WHERE team_id = $1 ORDER BY name ASC`
	students := []models.StudentSummary{}
	err := r.store.run(ctx, "students.list_by_team", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &students, query, teamID)
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

// ListByClass returns every student of a class ordered by name.
func (r *StudentRepository) ListByClass(ctx context.Context, classID string) ([]models.StudentSummary, error) {
	const query = `SELECT id, name, student_id, team_id FROM students WHERE class_id = $1 ORDER BY name ASC`
	students := []models.StudentSummary{}
	err := r.store.run(ctx, "students.list_by_class", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &students, query, classID)
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

// BindDevice sets the device token only if none is stored yet. It reports whether this call won.
func (r *StudentRepository) BindDevice(ctx context.Context, id, token string) (bool, error) {
	const query = `UPDATE students SET device_token = $2 WHERE id = $1 AND device_token IS NULL`
	var won bool
	err := r.store.run(ctx, "students.bind_device", func(ctx context.Context) error {
		res, err := r.store.db.ExecContext(ctx, query, id, token)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		won = n > 0
		return nil
	})
	return won, err
}

// UpdateJoin renames a pre-added student and pins its access window to the join link.
func (r *StudentRepository) UpdateJoin(ctx context.Context, id, name string, accessExpiresAt time.Time) error {
	const query = `UPDATE students SET name = $2, access_expires_at = $3 WHERE id = $1`
	return r.store.run(ctx, "students.update_join", func(ctx context.Context) error {
		res, err := r.store.db.ExecContext(ctx, query, id, name, accessExpiresAt)
		if err != nil {
			return err
		}
		return affected(res)
	})
}

// Delete removes a student of a class.
func (r *StudentRepository) Delete(ctx context.Context, classID, id string) error {
	const query = `DELETE FROM students WHERE id = $1 AND class_id = $2`
	return r.store.run(ctx, "students.delete", func(ctx context.Context) error {
		res, err := r.store.db.ExecContext(ctx, query, id, classID)
		if err != nil {
			return err
		}
		return affected(res)
	})
}
