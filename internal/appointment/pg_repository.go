package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names created by db.Migrate.
const (
	constraintActiveInstant    = "appointments_active_instant_uq"
	constraintQueuePosition    = "queue_entries_position_uq"
	constraintQueueAppointment = "queue_entries_appointment_uq"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) View(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return fn(ctx, &PgRepository{q: s.pool})
}

func (s *PgStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &PgRepository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translatePgError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// PgRepository runs against either the pool or one transaction.
type PgRepository struct {
	q queryable
}

// translatePgError maps store-level constraint and serialisation failures
// to engine errors. Anything else is returned unchanged.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case constraintActiveInstant:
			return &Error{Kind: KindDuplicateBooking, Message: ErrDuplicateBooking.Message, Err: err}
		case constraintQueuePosition, constraintQueueAppointment:
			return &Error{Kind: KindConflict, Message: "queue entry already exists", Err: err}
		}
		return &Error{Kind: KindConflict, Message: "unique constraint " + pgErr.ConstraintName, Err: err}
	case "40001", "40P01":
		return &Error{Kind: KindConflict, Message: ErrConcurrencyConflict.Message, Err: err}
	}
	return err
}

// Day values travel as DATE; the engine keeps them as YYYY-MM-DD strings.
func dayParam(day string) (time.Time, error) {
	d, err := time.Parse(DayLayout, day)
	if err != nil {
		return time.Time{}, validationErr("date %q must be YYYY-MM-DD", day)
	}
	return d, nil
}

func dayString(d time.Time) string {
	return d.Format(DayLayout)
}

// Helpers

const slotCols = `dentist_code, day, time_slot, status, appointment_code, patient_ref, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var day time.Time
	var apptCode, patientRef *string

	err := row.Scan(
		&s.DentistCode,
		&day,
		&s.TimeSlot,
		&s.Status,
		&apptCode,
		&patientRef,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Day = dayString(day)
	if apptCode != nil {
		s.AppointmentCode = *apptCode
	}
	if patientRef != nil {
		s.PatientRef = *patientRef
	}
	return &s, nil
}

const appointmentCols = `code, patient_kind, patient, dentist_code, day, time_slot, starts_at, ends_at,
	reason, status, created_at, updated_at, pending_expires_at, accepted_at, accepted_by,
	cancelled_at, cancelled_by, cancellation_reason, completed_at, migrated_at, reminded_at,
	notification_status, notification_error`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var kind PatientKind
	var snapshot []byte
	var day time.Time

	err := row.Scan(
		&a.Code,
		&kind,
		&snapshot,
		&a.DentistCode,
		&day,
		&a.TimeSlot,
		&a.StartsAt,
		&a.EndsAt,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.PendingExpiresAt,
		&a.AcceptedAt,
		&a.AcceptedBy,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.CompletedAt,
		&a.MigratedAt,
		&a.RemindedAt,
		&a.NotificationStatus,
		&a.NotificationError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Day = dayString(day)
	a.Patient, err = DecodePatient(kind, snapshot)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const queueCols = `code, appointment_code, patient_kind, patient, dentist_code, day, position,
	scheduled_at, previous_time, status, reason, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	var apptCode *string
	var kind PatientKind
	var snapshot []byte
	var day time.Time

	err := row.Scan(
		&e.Code,
		&apptCode,
		&kind,
		&snapshot,
		&e.DentistCode,
		&day,
		&e.Position,
		&e.ScheduledAt,
		&e.PreviousTime,
		&e.Status,
		&e.Reason,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}

	e.Day = dayString(day)
	if apptCode != nil {
		e.AppointmentCode = *apptCode
	}
	e.Patient, err = DecodePatient(kind, snapshot)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Counters and locks

func (r *PgRepository) NextSequence(ctx context.Context, scope string) (int64, error) {
	var value int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO counters (scope, value)
		VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, scope).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", scope, err)
	}
	return value, nil
}

func (r *PgRepository) LockDentistDay(ctx context.Context, dentistCode, day string) error {
	_, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "dentist-day:"+dentistCode+":"+day)
	if err != nil {
		return fmt.Errorf("lock dentist day: %w", err)
	}
	return nil
}

// Slot ledger

func (r *PgRepository) ListSlots(ctx context.Context, dentistCode, day string) ([]Slot, error) {
	d, err := dayParam(day)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE dentist_code = $1 AND day = $2
		ORDER BY time_slot
	`, dentistCode, d)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) GetSlot(ctx context.Context, key SlotKey) (*Slot, error) {
	d, err := dayParam(key.Day)
	if err != nil {
		return nil, err
	}
	row := r.q.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE dentist_code = $1 AND day = $2 AND time_slot = $3
	`, key.DentistCode, d, key.TimeSlot)
	return scanSlot(row)
}

func (r *PgRepository) EnsureSlot(ctx context.Context, key SlotKey) error {
	d, err := dayParam(key.Day)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO slots (dentist_code, day, time_slot, status, updated_at)
		VALUES ($1, $2, $3, 'available', now())
		ON CONFLICT (dentist_code, day, time_slot) DO NOTHING
	`, key.DentistCode, d, key.TimeSlot)
	if err != nil {
		return fmt.Errorf("ensure slot %s: %w", key, err)
	}
	return nil
}

func (r *PgRepository) BookSlot(ctx context.Context, key SlotKey, appointmentCode, patientRef string) error {
	d, err := dayParam(key.Day)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET status = 'booked',
		    appointment_code = $4,
		    patient_ref = $5,
		    updated_at = now()
		WHERE dentist_code = $1 AND day = $2 AND time_slot = $3
		  AND status = 'available'
	`, key.DentistCode, d, key.TimeSlot, appointmentCode, nullableString(patientRef))
	if err != nil {
		return fmt.Errorf("book slot %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindSlotUnavailable, "slot %s is not available", key)
	}
	return nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, appointmentCode string) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET status = 'available',
		    appointment_code = NULL,
		    patient_ref = NULL,
		    updated_at = now()
		WHERE appointment_code = $1
		  AND status = 'booked'
	`, appointmentCode)
	if err != nil {
		return 0, fmt.Errorf("release slot for %s: %w", appointmentCode, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) BlockSlot(ctx context.Context, key SlotKey, status SlotStatus) error {
	d, err := dayParam(key.Day)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET status = $4, updated_at = now()
		WHERE dentist_code = $1 AND day = $2 AND time_slot = $3
		  AND status = 'available'
	`, key.DentistCode, d, key.TimeSlot, status)
	if err != nil {
		return fmt.Errorf("block slot %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindSlotUnavailable, "slot %s cannot be blocked", key)
	}
	return nil
}

func (r *PgRepository) UnblockSlot(ctx context.Context, key SlotKey) error {
	d, err := dayParam(key.Day)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET status = 'available', updated_at = now()
		WHERE dentist_code = $1 AND day = $2 AND time_slot = $3
		  AND status IN ('blocked_leave', 'blocked_event', 'blocked_maintenance')
	`, key.DentistCode, d, key.TimeSlot)
	if err != nil {
		return fmt.Errorf("unblock slot %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	kind, snapshot, err := EncodePatient(a.Patient)
	if err != nil {
		return err
	}
	d, err := dayParam(a.Day)
	if err != nil {
		return err
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO appointments (
			code, patient_kind, patient_ref, patient, dentist_code, day, time_slot,
			starts_at, ends_at, reason, status, created_at, updated_at,
			pending_expires_at, accepted_at, accepted_by, migrated_at, notification_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $13, $14, $15, $16, $17)
	`, a.Code, kind, a.Patient.RecipientCode(), snapshot, a.DentistCode, d, a.TimeSlot,
		a.StartsAt, a.EndsAt, a.Reason, a.Status, a.CreatedAt,
		a.PendingExpiresAt, a.AcceptedAt, a.AcceptedBy, a.MigratedAt, a.NotificationStatus)
	if err != nil {
		return translatePgError(fmt.Errorf("insert appointment: %w", err))
	}
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, code string) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE code = $1
	`, code)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error {
	d, err := dayParam(a.Day)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET dentist_code = $3,
		    day = $4,
		    time_slot = $5,
		    starts_at = $6,
		    ends_at = $7,
		    status = $8,
		    pending_expires_at = $9,
		    accepted_at = $10,
		    accepted_by = $11,
		    cancelled_at = $12,
		    cancelled_by = $13,
		    cancellation_reason = $14,
		    completed_at = $15,
		    migrated_at = $16,
		    reminded_at = $17,
		    updated_at = $18
		WHERE code = $1
		  AND status = $2
	`, a.Code, from, a.DentistCode, d, a.TimeSlot, a.StartsAt, a.EndsAt, a.Status,
		a.PendingExpiresAt, a.AcceptedAt, a.AcceptedBy, a.CancelledAt, a.CancelledBy,
		a.CancellationReason, a.CompletedAt, a.MigratedAt, a.RemindedAt, a.UpdatedAt)
	if err != nil {
		return translatePgError(fmt.Errorf("update appointment %s: %w", a.Code, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, code string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM appointments WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete appointment %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindActiveAt(ctx context.Context, dentistCode string, startsAt time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE dentist_code = $1
		  AND starts_at = $2
		  AND status IN ('pending', 'confirmed', 'completed')
	`, dentistCode, startsAt)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.DentistCode != "" {
		add("dentist_code = $%d", f.DentistCode)
	}
	if f.Day != "" {
		d, err := dayParam(f.Day)
		if err != nil {
			return nil, err
		}
		add("day = $%d", d)
	}
	if f.PatientRef != "" {
		add("patient_ref = $%d", f.PatientRef)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.NotMigrated {
		where = append(where, "migrated_at IS NULL")
	}
	if !f.StartsFrom.IsZero() {
		add("starts_at >= $%d", f.StartsFrom)
	}
	if !f.StartsBefore.IsZero() {
		add("starts_at < $%d", f.StartsBefore)
	}

	sql := `SELECT ` + appointmentCols + ` FROM appointments`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY starts_at, code"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) CountOpenForDay(ctx context.Context, dentistCode, day, excludeCode string) (int, error) {
	d, err := dayParam(day)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE dentist_code = $1
		  AND day = $2
		  AND status IN ('pending', 'confirmed')
		  AND code <> $3
	`, dentistCode, d, excludeCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListExpiredPending(ctx context.Context, now time.Time, window time.Duration) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'pending'
		  AND (
		        (pending_expires_at IS NOT NULL AND pending_expires_at <= $1)
		     OR (pending_expires_at IS NULL AND created_at <= $2)
		  )
		ORDER BY created_at, code
	`, now, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListCancelledBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE status = 'cancelled'
		  AND COALESCE(cancelled_at, updated_at) < $1
		ORDER BY cancelled_at, code
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list cancelled: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) SetNotificationStatus(ctx context.Context, code string, status NotificationStatus, detail string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET notification_status = $2,
		    notification_error = $3
		WHERE code = $1
	`, code, status, detail)
	if err != nil {
		return fmt.Errorf("set notification status %s: %w", code, err)
	}
	return nil
}

// Queue

func (r *PgRepository) NextQueuePosition(ctx context.Context, dentistCode, day string) (int, error) {
	d, err := dayParam(day)
	if err != nil {
		return 0, err
	}
	var pos int
	err = r.q.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1
		FROM queue_entries
		WHERE dentist_code = $1 AND day = $2
	`, dentistCode, d).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("next queue position: %w", err)
	}
	return pos, nil
}

func (r *PgRepository) InsertQueueEntry(ctx context.Context, e *QueueEntry) error {
	kind, snapshot, err := EncodePatient(e.Patient)
	if err != nil {
		return err
	}
	d, err := dayParam(e.Day)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO queue_entries (
			code, appointment_code, patient_kind, patient_ref, patient, dentist_code, day,
			position, scheduled_at, previous_time, status, reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, e.Code, nullableString(e.AppointmentCode), kind, e.Patient.RecipientCode(), snapshot,
		e.DentistCode, d, e.Position, e.ScheduledAt, e.PreviousTime, e.Status, e.Reason, e.CreatedAt)
	if err != nil {
		return translatePgError(fmt.Errorf("insert queue entry: %w", err))
	}
	return nil
}

func (r *PgRepository) GetQueueEntry(ctx context.Context, code string) (*QueueEntry, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+queueCols+`
		FROM queue_entries
		WHERE code = $1
	`, code)
	return scanQueueEntry(row)
}

func (r *PgRepository) FindQueueEntryByAppointment(ctx context.Context, appointmentCode string) (*QueueEntry, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+queueCols+`
		FROM queue_entries
		WHERE appointment_code = $1
	`, appointmentCode)
	return scanQueueEntry(row)
}

func (r *PgRepository) ListQueue(ctx context.Context, dentistCode, day string) ([]QueueEntry, error) {
	d, err := dayParam(day)
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, `
		SELECT `+queueCols+`
		FROM queue_entries
		WHERE dentist_code = $1 AND day = $2
		ORDER BY position
	`, dentistCode, d)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return collect(rows, scanQueueEntry)
}

func (r *PgRepository) UpdateQueueEntry(ctx context.Context, e *QueueEntry) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE queue_entries
		SET scheduled_at = $2,
		    previous_time = $3,
		    status = $4,
		    updated_at = $5
		WHERE code = $1
	`, e.Code, e.ScheduledAt, e.PreviousTime, e.Status, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update queue entry %s: %w", e.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQueueEntryNotFound
	}
	return nil
}

func (r *PgRepository) DeleteQueueEntry(ctx context.Context, code string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM queue_entries WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete queue entry %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQueueEntryNotFound
	}
	return nil
}

func (r *PgRepository) DeleteQueueEntriesByAppointment(ctx context.Context, appointmentCode string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM queue_entries WHERE appointment_code = $1`, appointmentCode)
	if err != nil {
		return 0, fmt.Errorf("delete queue entries for %s: %w", appointmentCode, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) PurgeQueueBefore(ctx context.Context, day string) (int64, error) {
	d, err := dayParam(day)
	if err != nil {
		return 0, err
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM queue_entries WHERE day < $1`, d)
	if err != nil {
		return 0, fmt.Errorf("purge queue before %s: %w", day, err)
	}
	return tag.RowsAffected(), nil
}
