package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wellnest/wellness-scheduling/internal/availability"
)

// PgStore is the Postgres-backed Store. The at-most-one-booking invariant is
// enforced by a partial unique index on (service_id, date, start_time) WHERE
// status = 'scheduled', and the at-most-one-pending-refund invariant by a
// partial unique index on appointment_id WHERE status = 'pending'; both
// surface as unique violations mapped to ErrConflict.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	var rawAvailability []byte

	err := row.Scan(
		&s.ID,
		&s.ProfessionalID,
		&s.Slug,
		&s.DurationMin,
		&s.PriceCents,
		&s.Mode,
		&s.Address,
		&s.Active,
		&rawAvailability,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	s.Availability, err = availability.ParseJSON(rawAvailability)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", s.ID, err)
	}
	return &s, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ServiceID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.PriceCents,
		&a.Mode,
		&a.Location,
		&a.Status,
		&a.PaymentStatus,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanRefundRequest(row pgx.Row) (*RefundRequest, error) {
	var r RefundRequest

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Reason,
		&r.Status,
		&r.CreatedAt,
		&r.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanRescheduleRequest(row pgx.Row) (*RescheduleRequest, error) {
	var r RescheduleRequest

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Reason,
		&r.NewDate,
		&r.NewStart,
		&r.Status,
		&r.CreatedAt,
		&r.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const appointmentColumns = `id, patient_id, service_id, date, start_time, end_time,
		price_cents, mode, location, status, payment_status, created_at, updated_at`

// Interface methods

func (s *PgStore) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, professional_id, slug, duration_min, price_cents, mode, address, active, availability, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (s *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) ListAppointmentsForService(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE service_id = $1
		  AND date >= $2
		  AND date <= $3
		ORDER BY date, start_time
	`, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (s *PgStore) ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PgStore) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, service_id, date, start_time, end_time,
			price_cents, mode, location, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'scheduled', $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, appt.ID, appt.PatientID, appt.ServiceID, appt.Date, appt.StartTime, appt.EndTime,
		appt.PriceCents, appt.Mode, appt.Location, appt.PaymentStatus)

	created, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *PgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to StoredStatus) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.appointmentConflictOrMissing(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

func (s *PgStore) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, s.appointmentConflictOrMissing(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

func (s *PgStore) MoveAppointment(ctx context.Context, id uuid.UUID, newDate time.Time, newStart, newEnd availability.TimeOfDay) (*Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_time = $3,
		    end_time = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+appointmentColumns+`
	`, id, newDate, newStart, newEnd)

	moved, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			// Zero rows without a unique violation means the row is gone or
			// has left scheduled, not that the target slot is occupied.
			current, getErr := s.GetAppointment(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status != StatusScheduled {
				return nil, ErrAppointmentNotScheduled
			}
			return nil, ErrConflict
		}
		return nil, err
	}
	return moved, nil
}

// appointmentConflictOrMissing disambiguates a conditional update that
// matched no rows: the row either left the expected state or never existed.
func (s *PgStore) appointmentConflictOrMissing(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetAppointment(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (s *PgStore) FindPastScheduled(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled'
		  AND date + end_time::time < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (s *PgStore) CreateRefundRequest(ctx context.Context, req RefundRequest) (*RefundRequest, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO refund_requests (id, appointment_id, reason, status, created_at)
		VALUES ($1, $2, $3, 'pending', now())
		RETURNING id, appointment_id, reason, status, created_at, resolved_at
	`, req.ID, req.AppointmentID, req.Reason)

	created, err := scanRefundRequest(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return created, nil
}

func (s *PgStore) GetRefundRequest(ctx context.Context, id uuid.UUID) (*RefundRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, appointment_id, reason, status, created_at, resolved_at
		FROM refund_requests
		WHERE id = $1
	`, id)
	return scanRefundRequest(row)
}

func (s *PgStore) ListPendingRefundRequests(ctx context.Context, professionalID uuid.UUID) ([]RefundRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.appointment_id, r.reason, r.status, r.created_at, r.resolved_at
		FROM refund_requests r
		JOIN appointments a ON a.id = r.appointment_id
		JOIN services sv ON sv.id = a.service_id
		WHERE sv.professional_id = $1
		  AND r.status = 'pending'
		ORDER BY r.created_at
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RefundRequest
	for rows.Next() {
		r, err := scanRefundRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PgStore) ResolveRefundRequest(ctx context.Context, id uuid.UUID, to RequestStatus) (*RefundRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE refund_requests
		SET status = $2,
		    resolved_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING id, appointment_id, reason, status, created_at, resolved_at
	`, id, to)

	resolved, err := scanRefundRequest(row)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, s.refundConflictOrMissing(ctx, id)
		}
		return nil, err
	}
	return resolved, nil
}

func (s *PgStore) refundConflictOrMissing(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetRefundRequest(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (s *PgStore) CreateRescheduleRequest(ctx context.Context, req RescheduleRequest) (*RescheduleRequest, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO reschedule_requests (id, appointment_id, reason, new_date, new_start, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
		RETURNING id, appointment_id, reason, new_date, new_start, status, created_at, resolved_at
	`, req.ID, req.AppointmentID, req.Reason, req.NewDate, req.NewStart)

	return scanRescheduleRequest(row)
}

func (s *PgStore) GetRescheduleRequest(ctx context.Context, id uuid.UUID) (*RescheduleRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, appointment_id, reason, new_date, new_start, status, created_at, resolved_at
		FROM reschedule_requests
		WHERE id = $1
	`, id)
	return scanRescheduleRequest(row)
}

func (s *PgStore) ResolveRescheduleRequest(ctx context.Context, id uuid.UUID, to RequestStatus) (*RescheduleRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE reschedule_requests
		SET status = $2,
		    resolved_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING id, appointment_id, reason, new_date, new_start, status, created_at, resolved_at
	`, id, to)

	resolved, err := scanRescheduleRequest(row)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, s.rescheduleConflictOrMissing(ctx, id)
		}
		return nil, err
	}
	return resolved, nil
}

func (s *PgStore) rescheduleConflictOrMissing(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetRescheduleRequest(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
