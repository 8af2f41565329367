package appointment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. Transactions run one at a time
// against a private copy of the state which replaces the live state only
// when fn succeeds, so a failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := s.state.clone()
	if err := fn(ctx, &memRepository{st: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &memRepository{st: s.state.clone()})
}

type memState struct {
	counters     map[string]int64
	slots        map[SlotKey]Slot
	appointments map[string]Appointment
	queue        map[string]QueueEntry
}

func newMemState() *memState {
	return &memState{
		counters:     make(map[string]int64),
		slots:        make(map[SlotKey]Slot),
		appointments: make(map[string]Appointment),
		queue:        make(map[string]QueueEntry),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		counters:     make(map[string]int64, len(st.counters)),
		slots:        make(map[SlotKey]Slot, len(st.slots)),
		appointments: make(map[string]Appointment, len(st.appointments)),
		queue:        make(map[string]QueueEntry, len(st.queue)),
	}
	for k, v := range st.counters {
		c.counters[k] = v
	}
	for k, v := range st.slots {
		c.slots[k] = v
	}
	for k, v := range st.appointments {
		c.appointments[k] = v
	}
	for k, v := range st.queue {
		c.queue[k] = v
	}
	return c
}

type memRepository struct {
	st *memState
}

func (r *memRepository) NextSequence(_ context.Context, scope string) (int64, error) {
	r.st.counters[scope]++
	return r.st.counters[scope], nil
}

// LockDentistDay is a no-op: MemoryStore already runs transactions serially.
func (r *memRepository) LockDentistDay(context.Context, string, string) error {
	return nil
}

func (r *memRepository) ListSlots(_ context.Context, dentistCode, day string) ([]Slot, error) {
	var out []Slot
	for _, s := range r.st.slots {
		if s.DentistCode == dentistCode && s.Day == day {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeSlot < out[j].TimeSlot })
	return out, nil
}

func (r *memRepository) GetSlot(_ context.Context, key SlotKey) (*Slot, error) {
	s, ok := r.st.slots[key]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepository) EnsureSlot(_ context.Context, key SlotKey) error {
	if _, ok := r.st.slots[key]; ok {
		return nil
	}
	r.st.slots[key] = Slot{
		DentistCode: key.DentistCode,
		Day:         key.Day,
		TimeSlot:    key.TimeSlot,
		Status:      SlotAvailable,
		UpdatedAt:   time.Now(),
	}
	return nil
}

func (r *memRepository) BookSlot(_ context.Context, key SlotKey, appointmentCode, patientRef string) error {
	s, ok := r.st.slots[key]
	if !ok || s.Status != SlotAvailable {
		return newError(KindSlotUnavailable, "slot %s is not available", key)
	}
	s.Status = SlotBooked
	s.AppointmentCode = appointmentCode
	s.PatientRef = patientRef
	s.UpdatedAt = time.Now()
	r.st.slots[key] = s
	return nil
}

func (r *memRepository) ReleaseSlot(_ context.Context, appointmentCode string) (int64, error) {
	var n int64
	for k, s := range r.st.slots {
		if s.AppointmentCode != appointmentCode || s.Status != SlotBooked {
			continue
		}
		s.Status = SlotAvailable
		s.AppointmentCode = ""
		s.PatientRef = ""
		s.UpdatedAt = time.Now()
		r.st.slots[k] = s
		n++
	}
	return n, nil
}

func (r *memRepository) BlockSlot(_ context.Context, key SlotKey, status SlotStatus) error {
	s, ok := r.st.slots[key]
	if !ok || s.Status != SlotAvailable {
		return newError(KindSlotUnavailable, "slot %s cannot be blocked", key)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	r.st.slots[key] = s
	return nil
}

func (r *memRepository) UnblockSlot(_ context.Context, key SlotKey) error {
	s, ok := r.st.slots[key]
	if !ok || !s.Status.Blocked() {
		return ErrSlotNotFound
	}
	s.Status = SlotAvailable
	s.UpdatedAt = time.Now()
	r.st.slots[key] = s
	return nil
}

// activeConflict mirrors appointments_active_instant_uq.
func (r *memRepository) activeConflict(a *Appointment) bool {
	if !a.Status.Active() {
		return false
	}
	for code, other := range r.st.appointments {
		if code == a.Code || !other.Status.Active() {
			continue
		}
		if other.DentistCode == a.DentistCode && other.StartsAt.Equal(a.StartsAt) {
			return true
		}
	}
	return false
}

func (r *memRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	if a.Patient == nil {
		return validationErr("patient is required")
	}
	if _, ok := r.st.appointments[a.Code]; ok {
		return newError(KindConflict, "appointment %s already exists", a.Code)
	}
	if r.activeConflict(a) {
		return ErrDuplicateBooking
	}
	stored := *a
	stored.UpdatedAt = a.CreatedAt
	r.st.appointments[a.Code] = stored
	return nil
}

func (r *memRepository) GetAppointment(_ context.Context, code string) (*Appointment, error) {
	a, ok := r.st.appointments[code]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepository) UpdateAppointment(_ context.Context, a *Appointment, from AppointmentStatus) error {
	cur, ok := r.st.appointments[a.Code]
	if !ok || cur.Status != from {
		return ErrConcurrencyConflict
	}
	if r.activeConflict(a) {
		return ErrDuplicateBooking
	}
	next := *a
	next.Patient = cur.Patient
	next.CreatedAt = cur.CreatedAt
	next.NotificationStatus = cur.NotificationStatus
	next.NotificationError = cur.NotificationError
	r.st.appointments[a.Code] = next
	return nil
}

func (r *memRepository) DeleteAppointment(_ context.Context, code string) error {
	if _, ok := r.st.appointments[code]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.st.appointments, code)
	return nil
}

func (r *memRepository) FindActiveAt(_ context.Context, dentistCode string, startsAt time.Time) (*Appointment, error) {
	for _, a := range r.st.appointments {
		if a.DentistCode == dentistCode && a.StartsAt.Equal(startsAt) && a.Status.Active() {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepository) ListAppointments(_ context.Context, f AppointmentFilter) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.st.appointments {
		if f.matches(&a) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortAppointments(list []Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartsAt.Equal(list[j].StartsAt) {
			return list[i].StartsAt.Before(list[j].StartsAt)
		}
		return list[i].Code < list[j].Code
	})
}

func (r *memRepository) CountOpenForDay(_ context.Context, dentistCode, day, excludeCode string) (int, error) {
	n := 0
	for _, a := range r.st.appointments {
		if a.DentistCode != dentistCode || a.Day != day || a.Code == excludeCode {
			continue
		}
		if a.Status == StatusPending || a.Status == StatusConfirmed {
			n++
		}
	}
	return n, nil
}

func (r *memRepository) ListExpiredPending(_ context.Context, now time.Time, window time.Duration) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.st.appointments {
		if a.Status != StatusPending {
			continue
		}
		if a.PendingExpiresAt != nil {
			if !a.PendingExpiresAt.After(now) {
				out = append(out, a)
			}
			continue
		}
		if !a.CreatedAt.After(now.Add(-window)) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (r *memRepository) ListCancelledBefore(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.st.appointments {
		if a.Status != StatusCancelled {
			continue
		}
		at := a.UpdatedAt
		if a.CancelledAt != nil {
			at = *a.CancelledAt
		}
		if at.Before(cutoff) {
			out = append(out, a)
		}
	}
	sortAppointments(out)
	return out, nil
}

func (r *memRepository) SetNotificationStatus(_ context.Context, code string, status NotificationStatus, detail string) error {
	a, ok := r.st.appointments[code]
	if !ok {
		return nil
	}
	a.NotificationStatus = status
	a.NotificationError = detail
	r.st.appointments[code] = a
	return nil
}

func (r *memRepository) NextQueuePosition(_ context.Context, dentistCode, day string) (int, error) {
	max := 0
	for _, e := range r.st.queue {
		if e.DentistCode == dentistCode && e.Day == day && e.Position > max {
			max = e.Position
		}
	}
	return max + 1, nil
}

func (r *memRepository) InsertQueueEntry(_ context.Context, e *QueueEntry) error {
	if e.Patient == nil {
		return validationErr("patient is required")
	}
	if _, ok := r.st.queue[e.Code]; ok {
		return newError(KindConflict, "queue entry %s already exists", e.Code)
	}
	for _, other := range r.st.queue {
		if other.DentistCode == e.DentistCode && other.Day == e.Day && other.Position == e.Position {
			return newError(KindConflict, "queue entry already exists")
		}
		if e.AppointmentCode != "" && other.AppointmentCode == e.AppointmentCode {
			return newError(KindConflict, "queue entry already exists")
		}
	}
	stored := *e
	stored.UpdatedAt = e.CreatedAt
	r.st.queue[e.Code] = stored
	return nil
}

func (r *memRepository) GetQueueEntry(_ context.Context, code string) (*QueueEntry, error) {
	e, ok := r.st.queue[code]
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	return &e, nil
}

func (r *memRepository) FindQueueEntryByAppointment(_ context.Context, appointmentCode string) (*QueueEntry, error) {
	for _, e := range r.st.queue {
		if appointmentCode != "" && e.AppointmentCode == appointmentCode {
			return &e, nil
		}
	}
	return nil, ErrQueueEntryNotFound
}

func (r *memRepository) ListQueue(_ context.Context, dentistCode, day string) ([]QueueEntry, error) {
	var out []QueueEntry
	for _, e := range r.st.queue {
		if e.DentistCode == dentistCode && e.Day == day {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *memRepository) UpdateQueueEntry(_ context.Context, e *QueueEntry) error {
	cur, ok := r.st.queue[e.Code]
	if !ok {
		return ErrQueueEntryNotFound
	}
	cur.ScheduledAt = e.ScheduledAt
	cur.PreviousTime = e.PreviousTime
	cur.Status = e.Status
	cur.UpdatedAt = e.UpdatedAt
	r.st.queue[e.Code] = cur
	return nil
}

func (r *memRepository) DeleteQueueEntry(_ context.Context, code string) error {
	if _, ok := r.st.queue[code]; !ok {
		return ErrQueueEntryNotFound
	}
	delete(r.st.queue, code)
	return nil
}

func (r *memRepository) DeleteQueueEntriesByAppointment(_ context.Context, appointmentCode string) (int64, error) {
	var n int64
	for code, e := range r.st.queue {
		if appointmentCode != "" && e.AppointmentCode == appointmentCode {
			delete(r.st.queue, code)
			n++
		}
	}
	return n, nil
}

func (r *memRepository) PurgeQueueBefore(_ context.Context, day string) (int64, error) {
	var n int64
	for code, e := range r.st.queue {
		if e.Day < day {
			delete(r.st.queue, code)
			n++
		}
	}
	return n, nil
}
