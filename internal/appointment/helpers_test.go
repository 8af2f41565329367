package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
)

const (
	dentistA = "DEN-01"
	dentistB = "DEN-02"
	inactive = "DEN-99"
	today    = "2026-03-02" // a Monday
	tomorrow = "2026-03-03"
)

// startOfTest is 07:00 on today, before the 09:00 opening.
var startOfTest = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

type announcement struct {
	Kind      NotificationKind
	Recipient string
	Payload   map[string]any
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []announcement
	fail  error
}

func (n *recordingNotifier) Announce(_ context.Context, kind NotificationKind, recipient string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, announcement{Kind: kind, Recipient: recipient, Payload: payload})
	return n.fail
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.Kind)
	}
	return out
}

func allWeek(hours string) map[string]string {
	out := make(map[string]string, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		out[directory.WeekdayKey(d)] = hours
	}
	return out
}

func directoryDentist(code, hours string) directory.Dentist {
	return directory.Dentist{Code: code, Name: code, Active: true, WorkingHours: allWeek(hours)}
}

type fixture struct {
	svc      *Service
	store    Store
	clock    *clock.Manual
	notifier *recordingNotifier
	dir      *directory.StaticDirectory
}

func testConfig() config.Config {
	return config.Config{
		DailyCap:        20,
		PendingWindow:   4 * time.Hour,
		CancelledTTL:    3 * time.Hour,
		DefaultDuration: 30 * time.Minute,
		StoreTimeout:    5 * time.Second,
		NotifyTimeout:   time.Second,
		Location:        time.UTC,
	}
}

func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	return newFixtureOn(t, NewMemoryStore(), tweak...)
}

func newFixtureOn(t *testing.T, store Store, tweak ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}

	f := &fixture{
		store:    store,
		clock:    clock.NewManual(startOfTest),
		notifier: &recordingNotifier{},
		dir: directory.NewStatic(
			directory.Dentist{Code: dentistA, Name: "Asha Rao", Active: true, WorkingHours: allWeek("09:00 - 12:00")},
			directory.Dentist{Code: dentistB, Name: "Vik Menon", Active: true, WorkingHours: allWeek("9:00 AM - 5:00 PM")},
			directory.Dentist{Code: inactive, Name: "Old Timer", Active: false, WorkingHours: allWeek("09:00 - 17:00")},
		),
	}
	f.svc = NewService(f.store, f.dir, nil, f.notifier, f.clock, cfg)
	t.Cleanup(f.svc.WaitNotifications)
	return f
}

// at returns hh:mm on day in UTC.
func at(t *testing.T, day string, hh, mm int) time.Time {
	t.Helper()
	d, err := time.Parse(DayLayout, day)
	require.NoError(t, err)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, time.UTC)
}

func patient(code string) Patient {
	return RegisteredPatient{Code: code}
}

func (f *fixture) book(t *testing.T, dentist string, start time.Time, p Patient) *Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		DentistCode: dentist,
		StartsAt:    start,
		Patient:     p,
		Reason:      "checkup",
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) slot(t *testing.T, key SlotKey) *Slot {
	t.Helper()
	var s *Slot
	err := f.store.View(context.Background(), func(ctx context.Context, repo Repository) error {
		var err error
		s, err = repo.GetSlot(ctx, key)
		return err
	})
	require.NoError(t, err)
	return s
}

func labels(ranges []TimeRange) []string {
	out := make([]string, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, r.Label())
	}
	return out
}
