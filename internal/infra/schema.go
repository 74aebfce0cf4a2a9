package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order; every statement must be idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL CHECK (role IN ('admin', 'student')),
		password_hash TEXT NOT NULL,
		token_version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS classes (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS student_funds (
		id BIGSERIAL PRIMARY KEY,
		student_id BIGINT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL CHECK (kind IN ('deposit', 'withdrawal')),
		date DATE NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS student_funds_student_id_idx ON student_funds (student_id)`,
	`CREATE TABLE IF NOT EXISTS class_funds (
		id BIGSERIAL PRIMARY KEY,
		class_id BIGINT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL CHECK (kind IN ('deposit', 'withdrawal')),
		date DATE NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS class_funds_class_id_idx ON class_funds (class_id)`,
}

// EnsureSchema creates the tables the ledger and identity stores rely on.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
