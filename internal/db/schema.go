package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables the coordinator needs if they do not
// exist yet. Statements are idempotent so every binary can run it at
// startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			phone TEXT NOT NULL,
			age INT NOT NULL,
			gender TEXT NOT NULL,
			district TEXT NOT NULL,
			problems TEXT[] NOT NULL DEFAULT '{}',
			medical_history TEXT[] NOT NULL DEFAULT '{}',
			medical_notes TEXT NOT NULL DEFAULT '',
			medical_history_declared BOOLEAN NOT NULL DEFAULT false,
			additional_notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'RECEIVED',
			assigned_student_id TEXT,
			claim_token TEXT,
			broadcast_chat_id BIGINT,
			broadcast_message_id BIGINT,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_claim_token ON cases (claim_token)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_assigned_student ON cases (assigned_student_id)`,
		`CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			university_id TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			telegram_chat_id BIGINT,
			terms_accepted BOOLEAN NOT NULL DEFAULT false,
			liability_accepted BOOLEAN NOT NULL DEFAULT false,
			consented_at TIMESTAMPTZ,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_students_telegram_chat ON students (telegram_chat_id)`,
		`CREATE TABLE IF NOT EXISTS case_events (
			id BIGSERIAL PRIMARY KEY,
			case_id TEXT NOT NULL,
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_case_events_case ON case_events (case_id)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}
