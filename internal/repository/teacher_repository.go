package repository

import (
	"context"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// TeacherRepository persists instructor accounts.
type TeacherRepository struct {
	store *Store
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(store *Store) *TeacherRepository {
	return &TeacherRepository{store: store}
}

// Create inserts a teacher. A taken email surfaces as ErrDuplicate.
func (r *TeacherRepository) Create(ctx context.Context, teacher *models.Teacher) error {
	const query = `INSERT INTO teachers (id, name, email, password_hash, created_at) VALUES (:id, :name, :email, :password_hash, :created_at)`
	return r.store.run(ctx, "teachers.create", func(ctx context.Context) error {
		_, err := r.store.db.NamedExecContext(ctx, query, teacher)
		return err
	})
}

// FindByEmail returns the teacher with the exact email.
func (r *TeacherRepository) FindByEmail(ctx context.Context, email string) (*models.Teacher, error) {
	const query = `SELECT id, name, email, password_hash, created_at FROM teachers WHERE email = $1 LIMIT 1`
	var teacher models.Teacher
	err := r.store.run(ctx, "teachers.find_by_email", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &teacher, query, email)
	})
	if err != nil {
		return nil, err
	}
	return &teacher, nil
}

// FindByID returns a teacher by id.
func (r *TeacherRepository) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	const query = `SELECT id, name, email, password_hash, created_at FROM teachers WHERE id = $1 LIMIT 1`
	var teacher models.Teacher
	err := r.store.run(ctx, "teachers.find_by_id", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &teacher, query, id)
	})
	if err != nil {
		return nil, err
	}
	return &teacher, nil
}
