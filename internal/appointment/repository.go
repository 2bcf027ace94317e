package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wellnest/wellness-scheduling/internal/availability"
)

var (
	ErrServiceNotFound     = errors.New("service not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrRequestNotFound     = errors.New("request not found")

	// ErrConflict is returned by conditional writes whose precondition no
	// longer holds: the slot key is occupied, the row left the expected
	// status, or a pending request already exists. Callers translate it to
	// the operation-specific sentinel.
	ErrConflict = errors.New("conditional write precondition failed")
)

// Store contains all persistence the scheduling core needs. Every write that
// guards an invariant is conditional: it names the state it expects and fails
// with ErrConflict when the row has moved on. Nothing here does a
// read-then-write from the application side.
type Store interface {
	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsForService(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// CreateAppointment inserts only if no scheduled appointment occupies
	// the same (service, date, start) key; ErrConflict otherwise.
	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)

	// UpdateAppointmentStatus succeeds only while the row still holds from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to StoredStatus) (*Appointment, error)

	// UpdatePaymentStatus succeeds only while the row still holds from.
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error)

	// MoveAppointment rebinds a still-scheduled appointment to a new slot.
	// ErrConflict means the target key is occupied;
	// ErrAppointmentNotScheduled means the row has left scheduled.
	MoveAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newStart, newEnd availability.TimeOfDay) (*Appointment, error)

	// FindPastScheduled returns scheduled appointments whose end has passed.
	FindPastScheduled(ctx context.Context, now time.Time) ([]Appointment, error)

	// CreateRefundRequest inserts only if the appointment has no pending
	// refund request; ErrConflict otherwise.
	CreateRefundRequest(ctx context.Context, req RefundRequest) (*RefundRequest, error)
	GetRefundRequest(ctx context.Context, id uuid.UUID) (*RefundRequest, error)
	ListPendingRefundRequests(ctx context.Context, professionalID uuid.UUID) ([]RefundRequest, error)

	// ResolveRefundRequest moves pending -> to; ErrConflict once resolved.
	ResolveRefundRequest(ctx context.Context, id uuid.UUID, to RequestStatus) (*RefundRequest, error)

	CreateRescheduleRequest(ctx context.Context, req RescheduleRequest) (*RescheduleRequest, error)
	GetRescheduleRequest(ctx context.Context, id uuid.UUID) (*RescheduleRequest, error)

	// ResolveRescheduleRequest moves pending -> to; ErrConflict once resolved.
	ResolveRescheduleRequest(ctx context.Context, id uuid.UUID, to RequestStatus) (*RescheduleRequest, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
