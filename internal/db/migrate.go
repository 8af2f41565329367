package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order and is safe to re-run. The unique indexes are
// the authority for no-double-booking, one ledger row per slot and queue
// position uniqueness.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS counters (
		scope TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS dentists (
		code          TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		active        BOOLEAN NOT NULL DEFAULT true,
		working_hours JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS slots (
		dentist_code     TEXT NOT NULL,
		day              DATE NOT NULL,
		time_slot        TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'available'
		                 CHECK (status IN ('available', 'booked', 'blocked_leave', 'blocked_event', 'blocked_maintenance')),
		appointment_code TEXT,
		patient_ref      TEXT,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (dentist_code, day, time_slot)
	)`,
	`CREATE INDEX IF NOT EXISTS slots_appointment_idx ON slots (appointment_code) WHERE appointment_code IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS appointments (
		code                TEXT PRIMARY KEY,
		patient_kind        TEXT NOT NULL,
		patient_ref         TEXT NOT NULL,
		patient             JSONB NOT NULL,
		dentist_code        TEXT NOT NULL,
		day                 DATE NOT NULL,
		time_slot           TEXT NOT NULL,
		starts_at           TIMESTAMPTZ NOT NULL,
		ends_at             TIMESTAMPTZ NOT NULL,
		reason              TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL
		                    CHECK (status IN ('pending', 'confirmed', 'completed', 'cancelled')),
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		pending_expires_at  TIMESTAMPTZ,
		accepted_at         TIMESTAMPTZ,
		accepted_by         TEXT NOT NULL DEFAULT '',
		cancelled_at        TIMESTAMPTZ,
		cancelled_by        TEXT NOT NULL DEFAULT '',
		cancellation_reason TEXT NOT NULL DEFAULT '',
		completed_at        TIMESTAMPTZ,
		migrated_at         TIMESTAMPTZ,
		reminded_at         TIMESTAMPTZ,
		notification_status TEXT NOT NULL DEFAULT 'none',
		notification_error  TEXT NOT NULL DEFAULT '',
		CHECK (ends_at > starts_at)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_active_instant_uq
		ON appointments (dentist_code, starts_at)
		WHERE status IN ('pending', 'confirmed', 'completed')`,
	`CREATE INDEX IF NOT EXISTS appointments_dentist_day_idx ON appointments (dentist_code, day)`,
	`CREATE INDEX IF NOT EXISTS appointments_pending_idx ON appointments (pending_expires_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS appointments_cancelled_idx ON appointments (cancelled_at) WHERE status = 'cancelled'`,

	`CREATE TABLE IF NOT EXISTS queue_entries (
		code             TEXT PRIMARY KEY,
		appointment_code TEXT,
		patient_kind     TEXT NOT NULL,
		patient_ref      TEXT NOT NULL,
		patient          JSONB NOT NULL,
		dentist_code     TEXT NOT NULL,
		day              DATE NOT NULL,
		position         INT NOT NULL CHECK (position > 0),
		scheduled_at     TIMESTAMPTZ NOT NULL,
		previous_time    TIMESTAMPTZ,
		status           TEXT NOT NULL
		                 CHECK (status IN ('waiting', 'called', 'in_treatment', 'completed')),
		reason           TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT queue_entries_position_uq UNIQUE (dentist_code, day, position)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS queue_entries_appointment_uq
		ON queue_entries (appointment_code)
		WHERE appointment_code IS NOT NULL`,
}

// Migrate applies the schema inside one transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for i, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
