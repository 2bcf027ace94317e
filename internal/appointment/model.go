package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/wellnest/wellness-scheduling/internal/availability"
)

type ServiceMode string

const (
	ModeInPerson ServiceMode = "in_person"
	ModeVirtual  ServiceMode = "virtual"
)

// StoredStatus is the persisted lifecycle label on an appointment. Only the
// transitions enumerated in storedTransitions are legal; everything else is a
// conflict, not a silent overwrite.
type StoredStatus string

const (
	StatusScheduled StoredStatus = "scheduled"
	StatusCompleted StoredStatus = "completed"
	StatusCancelled StoredStatus = "cancelled"
	StatusDeclined  StoredStatus = "declined"
	StatusNoShow    StoredStatus = "no_show"
)

var storedTransitions = map[StoredStatus][]StoredStatus{
	StatusScheduled: {StatusCompleted, StatusCancelled, StatusDeclined, StatusNoShow},
}

// CanTransition reports whether from -> to is a legal stored-status change.
// All states except scheduled are terminal.
func (from StoredStatus) CanTransition(to StoredStatus) bool {
	for _, next := range storedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status can never change again.
func (s StoredStatus) Terminal() bool {
	return len(storedTransitions[s]) == 0
}

// PaymentStatus tracks the payment label on an appointment. refunded is only
// reachable through paid; pending -> refunded directly is illegal.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid},
	PaymentPaid:    {PaymentRefunded},
}

func (from PaymentStatus) CanTransition(to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected" // refund requests
	RequestDeclined RequestStatus = "declined" // reschedule requests
)

// Professional owns services and resolves refund/reschedule requests.
type Professional struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Service is a bookable offering owned by one professional. Its availability
// config is stored alongside and drives slot generation; the service is never
// hard-deleted while appointments reference it, only soft-disabled.
type Service struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	Slug           string
	DurationMin    int
	PriceCents     int
	Mode           ServiceMode
	Address        *string // required when Mode is in_person
	Active         bool
	Availability   availability.Availability
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Appointment binds one patient to one service slot. Price, mode and location
// are snapshots taken at booking time and never recomputed, so later service
// edits cannot drift history.
type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ServiceID     uuid.UUID
	Date          time.Time
	StartTime     availability.TimeOfDay
	EndTime       availability.TimeOfDay
	PriceCents    int
	Mode          ServiceMode
	Location      *string
	Status        StoredStatus
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SlotKey is the occupancy key the at-most-one-booking invariant is enforced
// on: (service, date, start time).
func (a Appointment) SlotKey() string {
	return availability.Slot{Date: a.Date, Start: a.StartTime}.Key(a.ServiceID.String())
}

type RefundRequest struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Reason        *string
	Status        RequestStatus
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

type RescheduleRequest struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Reason        *string
	NewDate       time.Time
	NewStart      availability.TimeOfDay
	Status        RequestStatus
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
