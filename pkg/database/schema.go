package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate creates the tables used by the service. Safe to call repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// The unique indexes back the invariants the services rely on: one display name per team,
// one team evaluation per (assignment, evaluated team, evaluator), one "Guests"/"Teachers"
// team per class.
const schema = `
CREATE TABLE IF NOT EXISTS teachers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS classes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    teacher_id TEXT NOT NULL REFERENCES teachers(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_classes_teacher_id ON classes(teacher_id);

CREATE TABLE IF NOT EXISTS teams (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (class_id, name)
);

CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    student_id TEXT NOT NULL DEFAULT '',
    passcode_hash TEXT NOT NULL,
    team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    is_pre_added BOOLEAN NOT NULL DEFAULT FALSE,
    access_expires_at TIMESTAMPTZ,
    device_token TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (team_id, name)
);

CREATE INDEX IF NOT EXISTS idx_students_name ON students(name);
CREATE INDEX IF NOT EXISTS idx_students_class_id ON students(class_id);
CREATE INDEX IF NOT EXISTS idx_students_external ON students(student_id, team_id) WHERE is_pre_added;

CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_assignments_class_start ON assignments(class_id, start_time);

CREATE TABLE IF NOT EXISTS access_tokens (
    token TEXT PRIMARY KEY,
    class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS team_evaluations (
    id TEXT PRIMARY KEY,
    assignment_id TEXT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
    evaluated_team_id TEXT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    evaluator_student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    team_comment TEXT NOT NULL DEFAULT '',
    team_score INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (assignment_id, evaluated_team_id, evaluator_student_id)
);

CREATE TABLE IF NOT EXISTS member_evaluations (
    id TEXT PRIMARY KEY,
    team_evaluation_id TEXT NOT NULL REFERENCES team_evaluations(id) ON DELETE CASCADE,
    evaluated_student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    comment TEXT NOT NULL DEFAULT '',
    score INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_member_evaluations_parent ON member_evaluations(team_evaluation_id);
CREATE INDEX IF NOT EXISTS idx_member_evaluations_student ON member_evaluations(evaluated_student_id);
`
