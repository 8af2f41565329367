package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walkIn(name string) Patient {
	return GuestPatient{Name: name, Phone: "+91 98000 00001"}
}

func TestConcurrentWalkInsGetDistinctPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: dentistA, Patient: walkIn("Walk In")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	require.Len(t, queue, n)

	seen := make(map[int]bool, n)
	for i, e := range queue {
		assert.False(t, seen[e.Position], "position %d reused", e.Position)
		seen[e.Position] = true
		assert.Equal(t, i+1, e.Position)
		assert.Empty(t, e.AppointmentCode)
	}
}

func TestPositionsContinueAfterGaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: dentistA, Patient: walkIn("One")})
	require.NoError(t, err)
	second, err := f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: dentistA, Patient: walkIn("Two")})
	require.NoError(t, err)

	_, err = f.svc.CancelQueueEntry(ctx, first.Code, "reception", "left")
	require.NoError(t, err)

	a := f.book(t, dentistA, at(t, today, 11, 0), patient("PT-1"))
	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, second.Code, queue[0].Code)
	assert.Equal(t, 2, queue[0].Position)
	assert.Equal(t, a.Code, queue[1].AppointmentCode)
	assert.Equal(t, 3, queue[1].Position)
}

func TestAddWalkInValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: inactive, Patient: walkIn("X")})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: dentistA, Patient: GuestPatient{Name: "X"}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: dentistA, Patient: walkIn("X"), ScheduledAt: at(t, tomorrow, 9, 0)})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestQueueStatusMovesForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, dentistA, at(t, today, 9, 0), patient("PT-1"))

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	code := queue[0].Code

	e, err := f.svc.UpdateQueueStatus(ctx, code, QueueCalled)
	require.NoError(t, err)
	assert.Equal(t, QueueCalled, e.Status)

	_, err = f.svc.UpdateQueueStatus(ctx, code, QueueWaiting)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateQueueStatus(ctx, code, "sleeping")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateQueueStatus(ctx, code, QueueInTreatment)
	require.NoError(t, err)
	_, err = f.svc.UpdateQueueStatus(ctx, code, QueueCompleted)
	require.NoError(t, err)

	got, err := f.svc.GetAppointment(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = f.svc.UpdateQueueStatus(ctx, code, QueueCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateQueueStatus(ctx, "Q-4040", QueueCalled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSwitchTimeKeepsPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, dentistA, at(t, today, 9, 0), patient("PT-1"))
	f.book(t, dentistA, at(t, today, 9, 30), patient("PT-2"))

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	target := queue[0]

	e, err := f.svc.SwitchTime(ctx, target.Code, at(t, today, 11, 30))
	require.NoError(t, err)
	assert.Equal(t, target.Position, e.Position)
	assert.Equal(t, at(t, today, 11, 30), e.ScheduledAt)
	require.NotNil(t, e.PreviousTime)
	assert.Equal(t, at(t, today, 9, 0), *e.PreviousTime)

	queue, err = f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	assert.Equal(t, target.Code, queue[0].Code)

	_, err = f.svc.SwitchTime(ctx, target.Code, at(t, tomorrow, 9, 0))
	assert.ErrorIs(t, err, ErrValidation)

	f.svc.WaitNotifications()
	assert.Contains(t, f.notifier.kinds(), NotifyConfirmed)
}

func TestSwitchTimeMovesLinkedAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, dentistA, at(t, today, 9, 0), patient("PT-1"))
	f.book(t, dentistA, at(t, today, 10, 0), patient("PT-3"))

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	entry := queue[0]
	require.Equal(t, a.Code, entry.AppointmentCode)

	e, err := f.svc.SwitchTime(ctx, entry.Code, at(t, today, 11, 0))
	require.NoError(t, err)
	assert.Equal(t, entry.Position, e.Position)
	assert.Equal(t, at(t, today, 11, 0), e.ScheduledAt)
	require.NotNil(t, e.PreviousTime)
	assert.Equal(t, at(t, today, 9, 0), *e.PreviousTime)

	moved, err := f.svc.GetAppointment(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, at(t, today, 11, 0), moved.StartsAt)
	assert.Equal(t, "11:00-11:30", moved.TimeSlot)
	assert.Equal(t, StatusConfirmed, moved.Status)
	assert.Equal(t, SlotAvailable, f.slot(t, a.SlotKey()).Status)
	newSlot := f.slot(t, moved.SlotKey())
	assert.Equal(t, SlotBooked, newSlot.Status)
	assert.Equal(t, a.Code, newSlot.AppointmentCode)

	_, err = f.svc.CreateAppointment(ctx, CreateInput{DentistCode: dentistA, StartsAt: at(t, today, 11, 0), Patient: patient("PT-2")})
	assert.ErrorIs(t, err, ErrDuplicateBooking)
	f.book(t, dentistA, at(t, today, 9, 0), patient("PT-2"))

	_, err = f.svc.SwitchTime(ctx, entry.Code, at(t, today, 10, 15))
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	unchanged, err := f.svc.GetQueueEntry(ctx, entry.Code)
	require.NoError(t, err)
	assert.Equal(t, at(t, today, 11, 0), unchanged.ScheduledAt)

	queue, err = f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	seen := map[time.Time]string{}
	for _, q := range queue {
		if other, dup := seen[q.ScheduledAt]; dup {
			t.Fatalf("%s and %s both scheduled at %s", other, q.Code, q.ScheduledAt)
		}
		seen[q.ScheduledAt] = q.Code
	}
}

func TestSwitchTimeOfWalkInOnlyMovesEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, dentistA, at(t, today, 10, 0), patient("PT-1"))

	guest, err := f.svc.AddWalkIn(ctx, WalkInInput{DentistCode: dentistA, Patient: walkIn("Ravi")})
	require.NoError(t, err)

	e, err := f.svc.SwitchTime(ctx, guest.Code, at(t, today, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, at(t, today, 10, 0), e.ScheduledAt)
	assert.Empty(t, e.AppointmentCode)
}

func TestDeleteAndRebook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, dentistA, at(t, today, 9, 0), patient("PT-1"))

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	entry := queue[0]

	created, err := f.svc.DeleteAndRebook(ctx, entry.Code, RebookInput{StartsAt: at(t, tomorrow, 10, 0)})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, dentistA, created.DentistCode)
	assert.Equal(t, "PT-1", created.Patient.RecipientCode())
	assert.Equal(t, "checkup", created.Reason)

	_, err = f.svc.GetQueueEntry(ctx, entry.Code)
	assert.ErrorIs(t, err, ErrNotFound)

	old, err := f.svc.GetAppointment(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, old.Status)
	assert.Equal(t, SlotAvailable, f.slot(t, a.SlotKey()).Status)

	f.svc.WaitNotifications()
	assert.ElementsMatch(t,
		[]NotificationKind{NotifyConfirmed, NotifyRequested, NotifyCancelled},
		f.notifier.kinds())
}

func TestDeleteAndRebookIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, dentistA, at(t, today, 9, 0), patient("PT-1"))
	f.book(t, dentistA, at(t, tomorrow, 10, 0), patient("PT-2"))

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	entry := queue[0]

	_, err = f.svc.DeleteAndRebook(ctx, entry.Code, RebookInput{StartsAt: at(t, tomorrow, 10, 0)})
	assert.ErrorIs(t, err, ErrDuplicateBooking)

	still, err := f.svc.GetQueueEntry(ctx, entry.Code)
	require.NoError(t, err)
	assert.Equal(t, entry.Position, still.Position)

	got, err := f.svc.GetAppointment(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, SlotBooked, f.slot(t, a.SlotKey()).Status)
}

func TestCancelQueueEntryRetiresAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, dentistA, at(t, today, 9, 0), patient("PT-1"))

	queue, err := f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)

	e, err := f.svc.CancelQueueEntry(ctx, queue[0].Code, "reception", "no show")
	require.NoError(t, err)
	assert.Equal(t, a.Code, e.AppointmentCode)

	got, err := f.svc.GetAppointment(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "no show", got.CancellationReason)
	assert.Equal(t, SlotAvailable, f.slot(t, a.SlotKey()).Status)

	queue, err = f.svc.ListQueue(ctx, dentistA, today)
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = f.svc.CancelQueueEntry(ctx, e.Code, "reception", "")
	assert.ErrorIs(t, err, ErrNotFound)

	f.svc.WaitNotifications()
	assert.Contains(t, f.notifier.kinds(), NotifyCancelled)
}
