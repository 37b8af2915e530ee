package repository

import (
	"context"

	"github.com/noah-isme/peer-eval-api/internal/models"
)

// ClassRepository persists classes.
type ClassRepository struct {
	store *Store
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(store *Store) *ClassRepository {
	return &ClassRepository{store: store}
}

// Create inserts a class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	const query = `INSERT INTO classes (id, name, teacher_id, created_at) VALUES (:id, :name, :teacher_id, :created_at)`
	return r.store.run(ctx, "classes.create", func(ctx context.Context) error {
		_, err := r.store.db.NamedExecContext(ctx, query, class)
		return err
	})
}

// FindByID returns a class by id.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT id, name, teacher_id, created_at FROM classes WHERE id = $1 LIMIT 1`
	var class models.Class
	err := r.store.run(ctx, "classes.find_by_id", func(ctx context.Context) error {
		return r.store.db.GetContext(ctx, &class, query, id)
	})
	if err != nil {
		return nil, err
	}
	return &class, nil
}

// ListByTeacher returns the classes owned by a teacher, newest first.
func (r *ClassRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Class, error) {
	const query = `SELECT id, name, teacher_id, created_at FROM classes WHERE teacher_id = $1 ORDER BY created_at DESC`
	classes := []models.Class{}
	err := r.store.run(ctx, "classes.list_by_teacher", func(ctx context.Context) error {
		return r.store.db.SelectContext(ctx, &classes, query, teacherID)
	})
	if err != nil {
		return nil, err
	}
	return classes, nil
}
