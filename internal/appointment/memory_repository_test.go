package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAppointment(code string, start time.Time, status AppointmentStatus) *Appointment {
	return &Appointment{
		Code:        code,
		Patient:     RegisteredPatient{Code: "PT-" + code},
		DentistCode: dentistA,
		Day:         start.Format(DayLayout),
		TimeSlot:    TimeRange{Start: start, End: start.Add(30 * time.Minute)}.Label(),
		StartsAt:    start,
		EndsAt:      start.Add(30 * time.Minute),
		Status:      status,
		CreatedAt:   startOfTest,
	}
}

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.NextSequence(ctx, "appointment"); err != nil {
			return err
		}
		if err := repo.InsertAppointment(ctx, sampleAppointment("AP-0001", start, StatusPending)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.View(ctx, func(ctx context.Context, repo Repository) error {
		_, err := repo.GetAppointment(ctx, "AP-0001")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		n, err := repo.NextSequence(ctx, "appointment")
		assert.Equal(t, int64(1), n)
		return err
	})
	require.NoError(t, err)
}

func TestMemoryStoreActiveInstantIsUnique(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	insert := func(a *Appointment) error {
		return store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
			return repo.InsertAppointment(ctx, a)
		})
	}

	require.NoError(t, insert(sampleAppointment("AP-0001", start, StatusPending)))
	assert.ErrorIs(t, insert(sampleAppointment("AP-0002", start, StatusConfirmed)), ErrDuplicateBooking)
	assert.NoError(t, insert(sampleAppointment("AP-0003", start, StatusCancelled)))

	// a stale status guard is a concurrency conflict
	err := store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := repo.GetAppointment(ctx, "AP-0001")
		require.NoError(t, err)
		a.Status = StatusCancelled
		return repo.UpdateAppointment(ctx, a, StatusConfirmed)
	})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestMemoryStoreSlotLedger(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := SlotKey{DentistCode: dentistA, Day: tomorrow, TimeSlot: "09:00-09:30"}

	err := store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		require.NoError(t, repo.EnsureSlot(ctx, key))
		require.NoError(t, repo.EnsureSlot(ctx, key))
		require.NoError(t, repo.BookSlot(ctx, key, "AP-0001", "PT-1"))
		assert.ErrorIs(t, repo.BookSlot(ctx, key, "AP-0002", "PT-2"), ErrSlotUnavailable)
		assert.ErrorIs(t, repo.BlockSlot(ctx, key, SlotBlockedLeave), ErrSlotUnavailable)

		n, err := repo.ReleaseSlot(ctx, "AP-0001")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		slots, err := repo.ListSlots(ctx, dentistA, tomorrow)
		require.NoError(t, err)
		require.Len(t, slots, 1)
		assert.Equal(t, SlotAvailable, slots[0].Status)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreQueueConstraints(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry := func(code, appt string, pos int) *QueueEntry {
		return &QueueEntry{
			Code: code, AppointmentCode: appt, Patient: RegisteredPatient{Code: "PT-1"},
			DentistCode: dentistA, Day: today, Position: pos, Status: QueueWaiting,
			ScheduledAt: startOfTest, CreatedAt: startOfTest,
		}
	}

	err := store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		require.NoError(t, repo.InsertQueueEntry(ctx, entry("Q-0001", "AP-0001", 1)))
		assert.ErrorIs(t, repo.InsertQueueEntry(ctx, entry("Q-0002", "", 1)), ErrConcurrencyConflict)
		assert.ErrorIs(t, repo.InsertQueueEntry(ctx, entry("Q-0003", "AP-0001", 2)), ErrConcurrencyConflict)
		require.NoError(t, repo.InsertQueueEntry(ctx, entry("Q-0004", "", 2)))
		require.NoError(t, repo.InsertQueueEntry(ctx, entry("Q-0005", "", 3)))

		pos, err := repo.NextQueuePosition(ctx, dentistA, today)
		require.NoError(t, err)
		assert.Equal(t, 4, pos)

		n, err := repo.PurgeQueueBefore(ctx, tomorrow)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		return nil
	})
	require.NoError(t, err)
}
