package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellnest/wellness-scheduling/internal/availability"
)

// memStore mirrors the PgStore's conditional-write semantics behind a mutex
// so invariants can be exercised under real goroutine concurrency.
type memStore struct {
	mu          sync.Mutex
	services    map[uuid.UUID]*Service
	patients    map[uuid.UUID]*Patient
	appts       map[uuid.UUID]*Appointment
	refunds     map[uuid.UUID]*RefundRequest
	reschedules map[uuid.UUID]*RescheduleRequest
	events      []EventLog
}

func newMemStore() *memStore {
	return &memStore{
		services:    make(map[uuid.UUID]*Service),
		patients:    make(map[uuid.UUID]*Patient),
		appts:       make(map[uuid.UUID]*Appointment),
		refunds:     make(map[uuid.UUID]*RefundRequest),
		reschedules: make(map[uuid.UUID]*RescheduleRequest),
	}
}

func (m *memStore) GetService(_ context.Context, id uuid.UUID) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAppointmentsForService(_ context.Context, serviceID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.appts {
		if a.ServiceID == serviceID && !a.Date.Before(from) && !a.Date.After(to) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memStore) ListAppointmentsForPatient(_ context.Context, patientID uuid.UUID, limit, _ int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID && len(result) < limit {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memStore) CreateAppointment(_ context.Context, appt Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appts {
		if existing.Status == StatusScheduled && existing.SlotKey() == appt.SlotKey() {
			return nil, ErrConflict
		}
	}
	appt.Status = StatusScheduled
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	m.appts[appt.ID] = &appt
	cp := appt
	return &cp, nil
}

func (m *memStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to StoredStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrConflict
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.PaymentStatus != from {
		return nil, ErrConflict
	}
	a.PaymentStatus = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memStore) MoveAppointment(_ context.Context, id uuid.UUID, newDate time.Time, newStart, newEnd availability.TimeOfDay) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != StatusScheduled {
		return nil, ErrAppointmentNotScheduled
	}
	newKey := availability.Slot{Date: newDate, Start: newStart}.Key(a.ServiceID.String())
	for otherID, other := range m.appts {
		if otherID != id && other.Status == StatusScheduled && other.SlotKey() == newKey {
			return nil, ErrConflict
		}
	}
	a.Date = newDate
	a.StartTime = newStart
	a.EndTime = newEnd
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memStore) FindPastScheduled(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.appts {
		if a.Status != StatusScheduled {
			continue
		}
		end, ok := endInstant(*a)
		if ok && end.Before(now) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memStore) CreateRefundRequest(_ context.Context, req RefundRequest) (*RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.refunds {
		if existing.AppointmentID == req.AppointmentID && existing.Status == RequestPending {
			return nil, ErrConflict
		}
	}
	req.Status = RequestPending
	req.CreatedAt = time.Now()
	m.refunds[req.ID] = &req
	cp := req
	return &cp, nil
}

func (m *memStore) GetRefundRequest(_ context.Context, id uuid.UUID) (*RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListPendingRefundRequests(_ context.Context, professionalID uuid.UUID) ([]RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []RefundRequest
	for _, r := range m.refunds {
		if r.Status != RequestPending {
			continue
		}
		appt, ok := m.appts[r.AppointmentID]
		if !ok {
			continue
		}
		svc, ok := m.services[appt.ServiceID]
		if ok && svc.ProfessionalID == professionalID {
			result = append(result, *r)
		}
	}
	return result, nil
}

func (m *memStore) ResolveRefundRequest(_ context.Context, id uuid.UUID, to RequestStatus) (*RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if r.Status != RequestPending {
		return nil, ErrConflict
	}
	now := time.Now()
	r.Status = to
	r.ResolvedAt = &now
	cp := *r
	return &cp, nil
}

func (m *memStore) CreateRescheduleRequest(_ context.Context, req RescheduleRequest) (*RescheduleRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Status = RequestPending
	req.CreatedAt = time.Now()
	m.reschedules[req.ID] = &req
	cp := req
	return &cp, nil
}

func (m *memStore) GetRescheduleRequest(_ context.Context, id uuid.UUID) (*RescheduleRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reschedules[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ResolveRescheduleRequest(_ context.Context, id uuid.UUID, to RequestStatus) (*RescheduleRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reschedules[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if r.Status != RequestPending {
		return nil, ErrConflict
	}
	now := time.Now()
	r.Status = to
	r.ResolvedAt = &now
	cp := *r
	return &cp, nil
}

func (m *memStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) eventCount(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// passLocker runs the critical section directly; the memStore's mutex plays
// the store's conditional-write role.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (n *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notification channel down")
	}
	n.messages = append(n.messages, message)
	return nil
}

// Fixtures. 2026-03-02 is a Monday.

var (
	testMonday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) // the Sunday before
)

type fixture struct {
	sched    *Scheduler
	store    *memStore
	notifier *recordingNotifier
	gen      *availability.Generator
	svc      *Service
	patient  *Patient
}

// schedulerWith builds a second scheduler over the same fixture state but a
// different store, for tests that inject store failures.
func (f *fixture) schedulerWith(store Store) *Scheduler {
	sched := NewScheduler(store, passLocker{}, f.notifier, f.gen, zerolog.Nop())
	sched.now = func() time.Time { return testNow }
	return sched
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	notifier := &recordingNotifier{}

	gen := availability.NewGenerator()
	gen.Now = func() time.Time { return testNow }

	sched := NewScheduler(store, passLocker{}, notifier, gen, zerolog.Nop())
	sched.now = func() time.Time { return testNow }

	address := "12 Harbor St"
	svc := &Service{
		ID:             uuid.New(),
		ProfessionalID: uuid.New(),
		Slug:           "nutrition-intake",
		DurationMin:    30,
		PriceCents:     4500,
		Mode:           ModeInPerson,
		Address:        &address,
		Active:         true,
		Availability: availability.Availability{
			Type:    availability.ScheduleSame,
			Days:    []availability.Weekday{availability.Monday},
			Windows: []availability.Window{{Start: "08:00", End: "08:30"}, {Start: "08:30", End: "09:00"}},
		},
	}
	store.services[svc.ID] = svc

	patient := &Patient{ID: uuid.New(), Name: "Jess Okafor"}
	store.patients[patient.ID] = patient

	return &fixture{sched: sched, store: store, notifier: notifier, gen: gen, svc: svc, patient: patient}
}

func (f *fixture) book(t *testing.T, start availability.TimeOfDay) *Appointment {
	t.Helper()
	appt, err := f.sched.Book(context.Background(), f.patient.ID, f.svc.ID, testMonday, start)
	require.NoError(t, err)
	return appt
}

// Booking

func TestBookSnapshotsService(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "08:00")

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, PaymentPending, appt.PaymentStatus)
	assert.Equal(t, availability.TimeOfDay("08:30"), appt.EndTime)
	assert.Equal(t, 4500, appt.PriceCents)
	assert.Equal(t, ModeInPerson, appt.Mode)
	require.NotNil(t, appt.Location)
	assert.Equal(t, "12 Harbor St", *appt.Location)
	assert.Equal(t, 1, f.store.eventCount(EventAppointmentBooked))

	// Later service edits must not drift the snapshot.
	f.store.services[f.svc.ID].PriceCents = 9900
	stored, _, err := f.sched.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, 4500, stored.PriceCents)
}

func TestBookSlotNotOffered(t *testing.T) {
	f := newFixture(t)

	_, err := f.sched.Book(context.Background(), f.patient.ID, f.svc.ID, testMonday, "10:00")
	assert.ErrorIs(t, err, ErrSlotNotOffered)

	// Tuesday is not a listed day at all.
	_, err = f.sched.Book(context.Background(), f.patient.ID, f.svc.ID, testMonday.AddDate(0, 0, 1), "08:00")
	assert.ErrorIs(t, err, ErrSlotNotOffered)
}

func TestBookServiceInactive(t *testing.T) {
	f := newFixture(t)
	f.svc.Active = false

	_, err := f.sched.Book(context.Background(), f.patient.ID, f.svc.ID, testMonday, "08:00")
	assert.ErrorIs(t, err, ErrServiceInactive)
}

func TestBookWithoutIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.sched.Book(context.Background(), uuid.Nil, f.svc.ID, testMonday, "08:00")
	assert.ErrorIs(t, err, ErrPatientUnauthenticated)
}

func TestBookSlotTaken(t *testing.T) {
	f := newFixture(t)

	f.book(t, "08:00")

	other := &Patient{ID: uuid.New(), Name: "Sam Reyes"}
	f.store.patients[other.ID] = other

	_, err := f.sched.Book(context.Background(), other.ID, f.svc.ID, testMonday, "08:00")
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestConcurrentBookingsSingleWinner(t *testing.T) {
	f := newFixture(t)

	const n = 16
	patients := make([]uuid.UUID, n)
	for i := range patients {
		p := &Patient{ID: uuid.New(), Name: "patient"}
		f.store.patients[p.ID] = p
		patients[i] = p.ID
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(pid uuid.UUID) {
			defer wg.Done()
			_, err := f.sched.Book(context.Background(), pid, f.svc.ID, testMonday, "08:30")
			results <- err
		}(patients[i])
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrSlotBeingBooked):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestSlotsReflectBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.sched.Slots(ctx, f.svc.ID, testMonday)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.False(t, before[0].Taken)
	assert.False(t, before[1].Taken)

	f.book(t, "08:00")

	after, err := f.sched.Slots(ctx, f.svc.ID, testMonday)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.True(t, after[0].Taken)
	assert.False(t, after[1].Taken)
}

// No-show sweep

func TestSweepNoShowsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")

	// Jump the clock past the appointment's end.
	f.sched.now = func() time.Time { return testMonday.Add(10 * time.Hour) }

	require.NoError(t, f.sched.SweepNoShows(ctx))
	stored, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, stored.Status)
	assert.Equal(t, 1, f.store.eventCount(EventAppointmentNoShow))

	// A second concurrent observer sweeping again is a no-op.
	require.NoError(t, f.sched.SweepNoShows(ctx))
	stored, err = f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, stored.Status)
	assert.Equal(t, 1, f.store.eventCount(EventAppointmentNoShow))
}

func TestSweepNeverOverwritesCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.Complete(ctx, appt.ID)
	require.NoError(t, err)

	f.sched.now = func() time.Time { return testMonday.Add(10 * time.Hour) }
	require.NoError(t, f.sched.SweepNoShows(ctx))

	stored, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

// Lifecycle transitions

func TestCompleteThenCancelConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")

	_, err := f.sched.Complete(ctx, appt.ID)
	require.NoError(t, err)

	_, err = f.sched.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrNotTransitionable)
}

func TestMarkPaidOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")

	paid, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, paid.PaymentStatus)

	_, err = f.sched.MarkPaid(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrNotTransitionable)
}

// Refund workflow

func TestRequestRefundRequiresPaid(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "08:00")

	_, err := f.sched.RequestRefund(context.Background(), appt.ID, nil)
	assert.ErrorIs(t, err, ErrNotPaid)
}

func TestRequestRefundDuplicatePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)

	_, err = f.sched.RequestRefund(ctx, appt.ID, nil)
	require.NoError(t, err)

	_, err = f.sched.RequestRefund(ctx, appt.ID, nil)
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestResolveRefundApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)

	req, err := f.sched.RequestRefund(ctx, appt.ID, nil)
	require.NoError(t, err)

	resolved, err := f.sched.ResolveRefund(ctx, req.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, resolved.PaymentStatus)
	assert.NotEmpty(t, f.notifier.messages)

	// Resolving again is rejected, not re-applied.
	_, err = f.sched.ResolveRefund(ctx, req.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestResolveRefundReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)

	req, err := f.sched.RequestRefund(ctx, appt.ID, nil)
	require.NoError(t, err)

	resolved, err := f.sched.ResolveRefund(ctx, req.ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, resolved.PaymentStatus)
	assert.NotEmpty(t, f.notifier.messages)
}

// flakyPaymentStore fails every payment write with a fixed error.
type flakyPaymentStore struct {
	*memStore
	paymentErr error
}

func (s *flakyPaymentStore) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	return s.memStore.UpdatePaymentStatus(ctx, id, from, to)
}

func TestResolveRefundToleratesConcurrentFlip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)
	req, err := f.sched.RequestRefund(ctx, appt.ID, nil)
	require.NoError(t, err)

	// The conditional paid -> refunded write loses to a concurrent approver.
	sched := f.schedulerWith(&flakyPaymentStore{memStore: f.store, paymentErr: ErrConflict})

	resolved, err := sched.ResolveRefund(ctx, req.ID, DecisionApprove)
	require.NoError(t, err)
	require.NotNil(t, resolved)

	stored, err := f.store.GetRefundRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, stored.Status)
}

func TestResolveRefundRetriesAfterPaymentWriteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)
	req, err := f.sched.RequestRefund(ctx, appt.ID, nil)
	require.NoError(t, err)

	flaky := &flakyPaymentStore{memStore: f.store, paymentErr: errors.New("connection reset")}
	sched := f.schedulerWith(flaky)

	_, err = sched.ResolveRefund(ctx, req.ID, DecisionApprove)
	require.Error(t, err)

	// The request must still be pending so the same call can be retried.
	stored, err := f.store.GetRefundRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, stored.Status)

	flaky.paymentErr = nil
	resolved, err := sched.ResolveRefund(ctx, req.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, resolved.PaymentStatus)

	stored, err = f.store.GetRefundRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, stored.Status)
}

func TestRefundNotificationFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)

	req, err := f.sched.RequestRefund(ctx, appt.ID, nil)
	require.NoError(t, err)

	resolved, err := f.sched.ResolveRefund(ctx, req.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, resolved.PaymentStatus)
}

// Reschedule workflow

func TestRequestRescheduleRequiresScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	_, err := f.sched.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	_, err = f.sched.RequestReschedule(ctx, appt.ID, testMonday, "08:30", nil)
	assert.ErrorIs(t, err, ErrAppointmentNotScheduled)
}

func TestResolveRescheduleApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")

	nextMonday := testMonday.AddDate(0, 0, 7)
	req, err := f.sched.RequestReschedule(ctx, appt.ID, nextMonday, "08:30", nil)
	require.NoError(t, err)

	// The service duration changing after booking must not affect the moved
	// appointment's span.
	f.store.services[f.svc.ID].DurationMin = 60

	moved, err := f.sched.ResolveReschedule(ctx, req.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, nextMonday, moved.Date)
	assert.Equal(t, availability.TimeOfDay("08:30"), moved.StartTime)
	assert.Equal(t, availability.TimeOfDay("09:00"), moved.EndTime)

	stored, err := f.store.GetRescheduleRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, stored.Status)

	_, err = f.sched.ResolveReschedule(ctx, req.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestResolveRescheduleSlotNoLongerAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")

	req, err := f.sched.RequestReschedule(ctx, appt.ID, testMonday, "08:30", nil)
	require.NoError(t, err)

	// A concurrent booking grabs the proposed slot before approval.
	other := &Patient{ID: uuid.New(), Name: "Sam Reyes"}
	f.store.patients[other.ID] = other
	_, err = f.sched.Book(ctx, other.ID, f.svc.ID, testMonday, "08:30")
	require.NoError(t, err)

	_, err = f.sched.ResolveReschedule(ctx, req.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)

	// The request stays pending so the approver can retry or decline.
	stored, err := f.store.GetRescheduleRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, stored.Status)

	// The appointment never moved.
	current, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, availability.TimeOfDay("08:00"), current.StartTime)
}

// staleAppointmentStore serves one appointment from a stale snapshot while
// the embedded store holds the current row.
type staleAppointmentStore struct {
	*memStore
	stale *Appointment
}

func (s *staleAppointmentStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if s.stale != nil && s.stale.ID == id {
		cp := *s.stale
		return &cp, nil
	}
	return s.memStore.GetAppointment(ctx, id)
}

func TestResolveRescheduleAppointmentCancelledUnderneath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	req, err := f.sched.RequestReschedule(ctx, appt.ID, testMonday, "08:30", nil)
	require.NoError(t, err)

	// The appointment is cancelled between the resolver's read and the move:
	// the resolver still sees a scheduled row, the store no longer has one.
	stale := *appt
	sched := f.schedulerWith(&staleAppointmentStore{memStore: f.store, stale: &stale})
	_, err = f.sched.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	_, err = sched.ResolveReschedule(ctx, req.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrAppointmentNotScheduled)
	assert.NotErrorIs(t, err, ErrSlotNoLongerAvailable)

	stored, err := f.store.GetRescheduleRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestPending, stored.Status)
}

func TestResolveRescheduleDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00")
	req, err := f.sched.RequestReschedule(ctx, appt.ID, testMonday, "08:30", nil)
	require.NoError(t, err)

	_, err = f.sched.ResolveReschedule(ctx, req.ID, DecisionReject)
	require.NoError(t, err)

	stored, err := f.store.GetRescheduleRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestDeclined, stored.Status)
	assert.NotEmpty(t, f.notifier.messages)

	current, err := f.store.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, availability.TimeOfDay("08:00"), current.StartTime)
}
