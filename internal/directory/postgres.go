package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDirectory reads the dentists table created by db.Migrate.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) WorkingHours(ctx context.Context, dentistCode string, weekday time.Weekday) (string, error) {
	var hours *string
	err := d.pool.QueryRow(ctx, `
		SELECT working_hours ->> $2
		FROM dentists
		WHERE code = $1
	`, dentistCode, WeekdayKey(weekday)).Scan(&hours)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("working hours for %s: %w", dentistCode, err)
	}
	if hours == nil {
		return "", nil
	}
	return *hours, nil
}

func (d *PgDirectory) IsActive(ctx context.Context, dentistCode string) (bool, error) {
	var active bool
	err := d.pool.QueryRow(ctx, `
		SELECT active
		FROM dentists
		WHERE code = $1
	`, dentistCode).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dentist status for %s: %w", dentistCode, err)
	}
	return active, nil
}

// Upsert inserts or replaces a dentist. Used by cmd/seed.
func (d *PgDirectory) Upsert(ctx context.Context, dentist Dentist) error {
	if dentist.WorkingHours == nil {
		dentist.WorkingHours = map[string]string{}
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO dentists (code, name, active, working_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
		    active = EXCLUDED.active,
		    working_hours = EXCLUDED.working_hours,
		    updated_at = now()
	`, dentist.Code, dentist.Name, dentist.Active, dentist.WorkingHours)
	if err != nil {
		return fmt.Errorf("upsert dentist %s: %w", dentist.Code, err)
	}
	return nil
}

func (d *PgDirectory) List(ctx context.Context) ([]Dentist, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT code, name, active, working_hours
		FROM dentists
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list dentists: %w", err)
	}
	defer rows.Close()

	var out []Dentist
	for rows.Next() {
		var dentist Dentist
		if err := rows.Scan(&dentist.Code, &dentist.Name, &dentist.Active, &dentist.WorkingHours); err != nil {
			return nil, fmt.Errorf("scan dentist: %w", err)
		}
		out = append(out, dentist)
	}
	return out, rows.Err()
}
