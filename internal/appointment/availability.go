package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
)

// Directory resolves dentist working hours and status. Working hours are
// strings such as "09:00 - 17:00" or "Not Available".
type Directory interface {
	WorkingHours(ctx context.Context, dentistCode string, weekday time.Weekday) (string, error)
	IsActive(ctx context.Context, dentistCode string) (bool, error)
}

// Resolver computes bookable slots. It never writes, so it can run inside a
// booking transaction or on a plain read view.
type Resolver struct {
	dir   Directory
	clock clock.Clock
	loc   *time.Location
}

func NewResolver(dir Directory, clk clock.Clock, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{dir: dir, clock: clk, loc: loc}
}

// workingWindow returns the dentist's working interval on day. ok is false
// when the dentist is inactive or does not work that day.
func (r *Resolver) workingWindow(ctx context.Context, dentistCode string, dayStart time.Time) (TimeRange, bool, error) {
	active, err := r.dir.IsActive(ctx, dentistCode)
	if err != nil {
		return TimeRange{}, false, fmt.Errorf("directory is active %s: %w", dentistCode, err)
	}
	if !active {
		return TimeRange{}, false, nil
	}

	raw, err := r.dir.WorkingHours(ctx, dentistCode, dayStart.Weekday())
	if err != nil {
		return TimeRange{}, false, fmt.Errorf("directory working hours %s: %w", dentistCode, err)
	}
	window, ok := ParseWorkingHours(dayStart, raw)
	return window, ok, nil
}

// occupied lists the ranges taken on one dentist-day: blocking ledger rows
// and active appointments. Rows belonging to excludeCode are skipped.
func (r *Resolver) occupied(ctx context.Context, repo Repository, dentistCode string, dayStart time.Time, excludeCode string) ([]TimeRange, error) {
	day := dayStart.Format(DayLayout)

	slots, err := repo.ListSlots(ctx, dentistCode, day)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	var taken []TimeRange
	for _, s := range slots {
		if !s.Status.Blocking() {
			continue
		}
		if excludeCode != "" && s.AppointmentCode == excludeCode {
			continue
		}
		rng, err := ParseSlotLabel(dayStart, s.TimeSlot)
		if err != nil {
			continue
		}
		taken = append(taken, rng)
	}

	appts, err := repo.ListAppointments(ctx, AppointmentFilter{
		DentistCode: dentistCode,
		Day:         day,
		Statuses:    []AppointmentStatus{StatusPending, StatusConfirmed, StatusCompleted},
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	for _, a := range appts {
		if a.Code == excludeCode {
			continue
		}
		taken = append(taken, a.Range())
	}

	return taken, nil
}

// ListAvailableSlots returns the free chunks of length d in chronological
// order. Chunks that overlap a blocked or booked range, or that do not start
// strictly after now, are left out.
func (r *Resolver) ListAvailableSlots(ctx context.Context, repo Repository, dentistCode, day string, d time.Duration) ([]TimeRange, error) {
	if d <= 0 {
		return nil, validationErr("duration must be positive")
	}
	dayStart, err := ParseDay(day, r.loc)
	if err != nil {
		return nil, err
	}

	window, ok, err := r.workingWindow(ctx, dentistCode, dayStart)
	if err != nil || !ok {
		return nil, err
	}

	taken, err := r.occupied(ctx, repo, dentistCode, dayStart, "")
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	free := make([]TimeRange, 0)
	for _, chunk := range Partition(window, d) {
		if !chunk.Start.After(now) {
			continue
		}
		if overlapsAny(chunk, taken) {
			continue
		}
		free = append(free, chunk)
	}
	return free, nil
}

// CheckRange reports whether rng can be booked for dentistCode. It returns a
// slot_unavailable error naming the first reason it cannot.
func (r *Resolver) CheckRange(ctx context.Context, repo Repository, dentistCode string, rng TimeRange, excludeCode string) error {
	if !rng.End.After(rng.Start) {
		return validationErr("appointment end must be after its start")
	}
	start := rng.Start.In(r.loc)
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, r.loc)

	if !rng.Start.After(r.clock.Now()) {
		return newError(KindSlotUnavailable, "%s is in the past", start.Format(time.RFC3339))
	}

	window, ok, err := r.workingWindow(ctx, dentistCode, dayStart)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindSlotUnavailable, "dentist %s is not available on %s", dentistCode, dayStart.Format(DayLayout))
	}
	if rng.Start.Before(window.Start) || rng.End.After(window.End) {
		return newError(KindSlotUnavailable, "%s is outside working hours %s", rangeIn(rng, r.loc).Label(), window.Label())
	}

	taken, err := r.occupied(ctx, repo, dentistCode, dayStart, excludeCode)
	if err != nil {
		return err
	}
	if overlapsAny(rng, taken) {
		return newError(KindSlotUnavailable, "%s overlaps an existing booking or block", rangeIn(rng, r.loc).Label())
	}
	return nil
}

func overlapsAny(rng TimeRange, taken []TimeRange) bool {
	for _, t := range taken {
		if rng.Overlaps(t) {
			return true
		}
	}
	return false
}

func rangeIn(rng TimeRange, loc *time.Location) TimeRange {
	return TimeRange{Start: rng.Start.In(loc), End: rng.End.In(loc)}
}
