package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wellnest/wellness-scheduling/internal/availability"
	"github.com/wellnest/wellness-scheduling/internal/notify"
	redisclient "github.com/wellnest/wellness-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventPaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventRefundRequested      = "REFUND_REQUESTED"
	EventRefundResolved       = "REFUND_RESOLVED"
	EventRescheduleRequested  = "RESCHEDULE_REQUESTED"
	EventRescheduleResolved   = "RESCHEDULE_RESOLVED"
)

var (
	ErrPatientUnauthenticated  = errors.New("caller has no patient identity")
	ErrServiceInactive         = errors.New("service is not accepting bookings")
	ErrSlotNotOffered          = errors.New("requested time is not offered by this service")
	ErrSlotTaken               = errors.New("slot already has a scheduled appointment")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrNotTransitionable       = errors.New("appointment is not in a state that allows this change")
	ErrNotPaid                 = errors.New("appointment has not been paid")
	ErrDuplicatePending        = errors.New("a pending refund request already exists for this appointment")
	ErrAlreadyResolved         = errors.New("request has already been resolved")
	ErrAppointmentNotScheduled = errors.New("appointment is not scheduled")
	ErrSlotNoLongerAvailable   = errors.New("proposed slot is no longer available")
	ErrInvalidDecision         = errors.New("decision must be approve or reject/decline")
)

// Decision is a professional's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Scheduler coordinates bookings, the no-show sweep, and the refund and
// reschedule workflows. All slot mutations go through a per-slot lock plus a
// conditional store write; the lock narrows the race window, the conditional
// write closes it.
type Scheduler struct {
	store    Store
	locker   redisclient.Locker
	notifier notify.Notifier
	gen      *availability.Generator
	logger   zerolog.Logger
	now      func() time.Time
}

func NewScheduler(store Store, locker redisclient.Locker, notifier notify.Notifier, gen *availability.Generator, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		locker:   locker,
		notifier: notifier,
		gen:      gen,
		logger:   logger,
		now:      time.Now,
	}
}

// ServiceSlot is a generated slot together with its occupancy classification.
type ServiceSlot struct {
	availability.Slot
	Taken bool
}

// Slots generates the bookable windows of a service for one date and marks
// the ones a scheduled appointment already occupies.
func (s *Scheduler) Slots(ctx context.Context, serviceID uuid.UUID, forDate time.Time) ([]ServiceSlot, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	generated := s.gen.Generate(svc.Availability, svc.DurationMin, forDate)
	if len(generated) == 0 {
		return nil, nil
	}

	existing, err := s.store.ListAppointmentsForService(ctx, serviceID, forDate, forDate)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	occupied := make(map[availability.TimeOfDay]bool, len(existing))
	for _, a := range existing {
		if a.Status == StatusScheduled {
			occupied[a.StartTime] = true
		}
	}

	slots := make([]ServiceSlot, 0, len(generated))
	for _, slot := range generated {
		slots = append(slots, ServiceSlot{Slot: slot, Taken: occupied[slot.Start]})
	}
	return slots, nil
}

// Book allocates one slot to one patient. The requested time must be a member
// of the generated slot set for that date, and no scheduled appointment may
// already hold the (service, date, start) key. Price, mode and location are
// snapshotted from the service at this moment.
func (s *Scheduler) Book(ctx context.Context, patientID, serviceID uuid.UUID, date time.Time, start availability.TimeOfDay) (*Appointment, error) {
	if patientID == uuid.Nil {
		return nil, ErrPatientUnauthenticated
	}
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active {
		return nil, ErrServiceInactive
	}

	slot, ok := s.gen.Contains(svc.Availability, svc.DurationMin, date, start)
	if !ok {
		return nil, ErrSlotNotOffered
	}

	startMin, err := start.Minutes()
	if err != nil {
		return nil, ErrSlotNotOffered
	}

	appt := Appointment{
		ID:            uuid.New(),
		PatientID:     patientID,
		ServiceID:     serviceID,
		Date:          date,
		StartTime:     start,
		// End is fixed from the service duration now and never recomputed,
		// even if the service duration later changes.
		EndTime:       availability.FromMinutes(startMin + svc.DurationMin),
		PriceCents:    svc.PriceCents,
		Mode:          svc.Mode,
		PaymentStatus: PaymentPending,
	}
	if svc.Mode == ModeInPerson {
		appt.Location = svc.Address
	}

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, slot.Key(serviceID.String()), func(lockCtx context.Context) error {
		c, err := s.store.CreateAppointment(lockCtx, appt)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrSlotTaken
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		created = c
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"service_id": serviceID.String(),
		"patient_id": patientID.String(),
		"date":       date.Format("2006-01-02"),
		"start":      string(start),
	})

	return created, nil
}

// Complete marks a scheduled appointment done.
func (s *Scheduler) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

// Cancel marks a scheduled appointment cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

// Decline marks a scheduled appointment declined by the professional.
func (s *Scheduler) Decline(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusDeclined, EventAppointmentCancelled)
}

func (s *Scheduler) transition(ctx context.Context, id uuid.UUID, to StoredStatus, event string) (*Appointment, error) {
	if !StatusScheduled.CanTransition(to) {
		return nil, ErrNotTransitionable
	}
	updated, err := s.store.UpdateAppointmentStatus(ctx, id, StatusScheduled, to)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrNotTransitionable
		}
		return nil, err
	}
	s.logEvent(ctx, updated.ID, event, map[string]any{"status": string(to)})
	return updated, nil
}

// MarkPaid records external payment capture. pending -> paid is the only way
// in; refunded is only reachable afterwards through an approved refund.
func (s *Scheduler) MarkPaid(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if !PaymentPending.CanTransition(PaymentPaid) {
		return nil, ErrNotTransitionable
	}
	updated, err := s.store.UpdatePaymentStatus(ctx, id, PaymentPending, PaymentPaid)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrNotTransitionable
		}
		return nil, err
	}
	s.logEvent(ctx, updated.ID, EventPaymentConfirmed, map[string]any{})
	return updated, nil
}

// SweepNoShows persists the scheduled -> no_show transition for every
// appointment whose end has passed. Redundant sweeps are harmless: the
// conditional write only fires while the row is still scheduled, so a
// completion or cancellation that lands in between is never overwritten.
func (s *Scheduler) SweepNoShows(ctx context.Context) error {
	candidates, err := s.store.FindPastScheduled(ctx, s.now())
	if err != nil {
		return fmt.Errorf("find past scheduled appointments: %w", err)
	}

	for _, appt := range candidates {
		if DeriveState(appt, s.now()) != EffectiveMissed {
			continue
		}
		_, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusNoShow)
		if err != nil {
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrAppointmentNotFound) {
				continue // another observer got there first, or the row moved on
			}
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark no-show")
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{"reason": "sweep"})
	}

	return nil
}

// RequestRefund opens a refund request against a paid appointment. At most
// one pending request may exist per appointment.
func (s *Scheduler) RequestRefund(ctx context.Context, appointmentID uuid.UUID, reason *string) (*RefundRequest, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.PaymentStatus != PaymentPaid {
		return nil, ErrNotPaid
	}

	req := RefundRequest{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Reason:        reason,
	}
	created, err := s.store.CreateRefundRequest(ctx, req)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrDuplicatePending
		}
		return nil, fmt.Errorf("create refund request: %w", err)
	}

	s.logEvent(ctx, appointmentID, EventRefundRequested, map[string]any{
		"request_id": created.ID.String(),
	})
	return created, nil
}

// ResolveRefund settles a pending refund request. Approval flips the
// appointment's payment status paid -> refunded before the request is marked
// approved: a failure between the two writes leaves the request pending, so
// the same call can be retried verbatim and will finish the job. Rejection
// leaves the payment untouched. Either way the patient is notified and the
// request is terminal.
func (s *Scheduler) ResolveRefund(ctx context.Context, requestID uuid.UUID, decision Decision) (*Appointment, error) {
	var to RequestStatus
	switch decision {
	case DecisionApprove:
		to = RequestApproved
	case DecisionReject:
		to = RequestRejected
	default:
		return nil, ErrInvalidDecision
	}

	req, err := s.store.GetRefundRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load refund request: %w", err)
	}
	if req.Status != RequestPending {
		return nil, ErrAlreadyResolved
	}

	appt, err := s.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if decision == DecisionApprove {
		switch appt.PaymentStatus {
		case PaymentPaid:
			updated, err := s.store.UpdatePaymentStatus(ctx, appt.ID, PaymentPaid, PaymentRefunded)
			switch {
			case err == nil:
				appt = updated
			case errors.Is(err, ErrConflict):
				// A concurrent approver flipped the payment first; re-read
				// and carry on to resolve the request.
				appt, err = s.store.GetAppointment(ctx, req.AppointmentID)
				if err != nil {
					return nil, fmt.Errorf("load appointment: %w", err)
				}
			default:
				return nil, fmt.Errorf("mark refunded: %w", err)
			}
		case PaymentRefunded:
			// An earlier attempt flipped the payment but died before
			// resolving the request; fall through and resolve it now.
		default:
			return nil, ErrNotPaid
		}
	}

	if _, err := s.store.ResolveRefundRequest(ctx, requestID, to); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrAlreadyResolved
		}
		return nil, fmt.Errorf("resolve refund request: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventRefundResolved, map[string]any{
		"request_id": requestID.String(),
		"decision":   string(decision),
	})
	s.notifyPatient(ctx, appt.PatientID, refundMessage(decision))

	return appt, nil
}

// RequestReschedule opens a reschedule request proposing a new slot for a
// still-scheduled appointment. The proposed time must be one the service
// actually offers; whether it is still free is re-checked at approval.
func (s *Scheduler) RequestReschedule(ctx context.Context, appointmentID uuid.UUID, newDate time.Time, newStart availability.TimeOfDay, reason *string) (*RescheduleRequest, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusScheduled {
		return nil, ErrAppointmentNotScheduled
	}

	svc, err := s.store.GetService(ctx, appt.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if _, ok := s.gen.Contains(svc.Availability, svc.DurationMin, newDate, newStart); !ok {
		return nil, ErrSlotNotOffered
	}

	req := RescheduleRequest{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Reason:        reason,
		NewDate:       newDate,
		NewStart:      newStart,
	}
	created, err := s.store.CreateRescheduleRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create reschedule request: %w", err)
	}

	s.logEvent(ctx, appointmentID, EventRescheduleRequested, map[string]any{
		"request_id": created.ID.String(),
		"new_date":   newDate.Format("2006-01-02"),
		"new_start":  string(newStart),
	})
	return created, nil
}

// ResolveReschedule settles a pending reschedule request. Approval moves the
// appointment only if the proposed slot is still free, under the same lock
// and conditional-write discipline as booking; on conflict the request stays
// pending and the approver gets ErrSlotNoLongerAvailable so they can decide
// again with fresh availability.
func (s *Scheduler) ResolveReschedule(ctx context.Context, requestID uuid.UUID, decision Decision) (*Appointment, error) {
	req, err := s.store.GetRescheduleRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load reschedule request: %w", err)
	}
	if req.Status != RequestPending {
		return nil, ErrAlreadyResolved
	}

	appt, err := s.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch decision {
	case DecisionReject:
		if _, err := s.store.ResolveRescheduleRequest(ctx, requestID, RequestDeclined); err != nil {
			if errors.Is(err, ErrConflict) {
				return nil, ErrAlreadyResolved
			}
			return nil, fmt.Errorf("decline reschedule request: %w", err)
		}
		s.logEvent(ctx, appt.ID, EventRescheduleResolved, map[string]any{
			"request_id": requestID.String(),
			"decision":   "decline",
		})
		s.notifyPatient(ctx, appt.PatientID, "Your reschedule request was declined.")
		return appt, nil

	case DecisionApprove:
		// fall through
	default:
		return nil, ErrInvalidDecision
	}

	if appt.Status != StatusScheduled {
		return nil, ErrAppointmentNotScheduled
	}

	startMin, err := req.NewStart.Minutes()
	if err != nil {
		return nil, ErrSlotNotOffered
	}
	// End is recomputed from this appointment's original span, not from the
	// service's current duration.
	newEnd := availability.FromMinutes(startMin + appt.durationMinutes())

	newKey := availability.Slot{Date: req.NewDate, Start: req.NewStart}.Key(appt.ServiceID.String())

	var moved *Appointment
	err = s.locker.WithSlotLock(ctx, newKey, func(lockCtx context.Context) error {
		m, err := s.store.MoveAppointment(lockCtx, appt.ID, req.NewDate, req.NewStart, newEnd)
		if err != nil {
			switch {
			case errors.Is(err, ErrConflict):
				return ErrSlotNoLongerAvailable
			case errors.Is(err, ErrAppointmentNotScheduled):
				return err
			default:
				return fmt.Errorf("move appointment: %w", err)
			}
		}
		moved = m
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotNoLongerAvailable
		}
		return nil, err
	}

	if _, err := s.store.ResolveRescheduleRequest(ctx, requestID, RequestApproved); err != nil && !errors.Is(err, ErrConflict) {
		s.logger.Error().Err(err).Str("request_id", requestID.String()).Msg("appointment moved but request not marked approved")
	}

	s.logEvent(ctx, moved.ID, EventRescheduleResolved, map[string]any{
		"request_id": requestID.String(),
		"decision":   "approve",
	})
	s.notifyPatient(ctx, moved.PatientID, "Your appointment was rescheduled.")

	return moved, nil
}

// GetAppointment returns one appointment with its derived effective state.
func (s *Scheduler) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, EffectiveState, error) {
	appt, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("load appointment: %w", err)
	}
	return appt, DeriveState(*appt, s.now()), nil
}

// GetPatient looks up a patient profile.
func (s *Scheduler) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	patient, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return patient, nil
}

// ListPatientAppointments lists a patient's appointments newest first.
func (s *Scheduler) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	appts, err := s.store.ListAppointmentsForPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// ListPendingRefunds lists a professional's open refund queue.
func (s *Scheduler) ListPendingRefunds(ctx context.Context, professionalID uuid.UUID) ([]RefundRequest, error) {
	reqs, err := s.store.ListPendingRefundRequests(ctx, professionalID)
	if err != nil {
		return nil, fmt.Errorf("list refund requests: %w", err)
	}
	return reqs, nil
}

func (a Appointment) durationMinutes() int {
	start, err := a.StartTime.Minutes()
	if err != nil {
		return 0
	}
	end, err := a.EndTime.Minutes()
	if err != nil {
		return 0
	}
	return end - start
}

func refundMessage(decision Decision) string {
	if decision == DecisionApprove {
		return "Your refund request was approved and the payment will be returned."
	}
	return "Your refund request was reviewed and declined."
}

func (s *Scheduler) notifyPatient(ctx context.Context, patientID uuid.UUID, message string) {
	if err := s.notifier.Notify(ctx, patientID, message); err != nil {
		// Delivery problems never unwind the state change they follow.
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("notification failed")
	}
}

func (s *Scheduler) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.store.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("failed to insert event log")
	}
}
