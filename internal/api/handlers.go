package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wellnest/wellness-scheduling/internal/appointment"
	"github.com/wellnest/wellness-scheduling/internal/availability"
	"github.com/wellnest/wellness-scheduling/internal/cache"
)

const dateLayout = "2006-01-02"

func listSlotsHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serviceID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "id must be a valid UUID")
			return
		}

		date, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := sched.Slots(r.Context(), serviceID, date)
		if err != nil {
			if errors.Is(err, appointment.ErrServiceNotFound) {
				writeError(w, http.StatusNotFound, "service_not_found", "no service with that id")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				Date:  s.Date.Format(dateLayout),
				Start: string(s.Start),
				End:   string(s.End),
				Taken: s.Taken,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookAppointmentHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := sched.Book(r.Context(), patientID, serviceID, date, availability.TimeOfDay(req.Start))
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, appointmentResponse(appt, ""))
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientUnauthenticated):
		writeError(w, http.StatusUnauthorized, "patient_unauthenticated", "sign in before booking")
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceInactive):
		writeError(w, http.StatusConflict, "service_inactive", "this service is not currently accepting bookings")
	case errors.Is(err, appointment.ErrSlotNotOffered):
		writeError(w, http.StatusUnprocessableEntity, "slot_not_offered", "that time is not offered by this service; refresh the available slots")
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "this slot was just booked by someone else; please choose another time")
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked; please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func getAppointmentHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, state, err := sched.GetAppointment(r.Context(), id)
		if err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", "no appointment with that id")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt, state))
	}
}

// listAppointmentsHandler serves a patient's appointment list through the
// read-through cache: fresh entries short-circuit the store, stale entries
// are only served when the store itself is unavailable.
func listAppointmentsHandler(sched *appointment.Scheduler, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		cached, fresh, cacheErr := c.Get(r.Context(), cache.KindAppointments, patientID.String())
		if cacheErr == nil && fresh {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}

		appts, err := sched.ListPatientAppointments(r.Context(), patientID, limit, offset)
		if err != nil {
			// Source down: a stale list beats no list.
			if cacheErr == nil {
				w.Header().Set("X-Cache", "STALE")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "appointments are temporarily unavailable; please retry")
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, appointmentResponse(&appts[i], appointment.DeriveState(appts[i], time.Now())))
		}

		body, err := json.Marshal(resp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if err := c.Put(r.Context(), cache.KindAppointments, patientID.String(), body); err != nil {
			log.Warn().Err(err).Msg("failed to cache appointment list")
		}

		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// getPatientHandler serves patient profiles through the longer cache window:
// profiles change rarely, so a slightly dated name or email is acceptable.
func getPatientHandler(sched *appointment.Scheduler, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		cached, fresh, cacheErr := c.Get(r.Context(), cache.KindProfile, id.String())
		if cacheErr == nil && fresh {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}

		patient, err := sched.GetPatient(r.Context(), id)
		if err != nil {
			if errors.Is(err, appointment.ErrPatientNotFound) {
				writeError(w, http.StatusNotFound, "patient_not_found", "no patient with that id")
				return
			}
			if cacheErr == nil {
				w.Header().Set("X-Cache", "STALE")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "profiles are temporarily unavailable; please retry")
			return
		}

		body, err := json.Marshal(PatientResponse{ID: patient.ID, Name: patient.Name, Email: patient.Email})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if err := c.Put(r.Context(), cache.KindProfile, id.String(), body); err != nil {
			log.Warn().Err(err).Msg("failed to cache patient profile")
		}

		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func transitionHandler(fn func(*http.Request, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := fn(r, id)
		if err != nil {
			switch {
			case errors.Is(err, appointment.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "appointment_not_found", "no appointment with that id")
			case errors.Is(err, appointment.ErrNotTransitionable):
				writeError(w, http.StatusConflict, "invalid_status_transition", "the appointment has already left the state this change requires")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt, ""))
	}
}

func requestRefundHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var body RefundRequestBody
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		req, err := sched.RequestRefund(r.Context(), id, body.Reason)
		if err != nil {
			switch {
			case errors.Is(err, appointment.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "appointment_not_found", "no appointment with that id")
			case errors.Is(err, appointment.ErrNotPaid):
				writeError(w, http.StatusConflict, "not_paid", "only paid appointments can be refunded")
			case errors.Is(err, appointment.ErrDuplicatePending):
				writeError(w, http.StatusConflict, "duplicate_pending_refund", "a refund request for this appointment is already awaiting review")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusCreated, refundResponse(req))
	}
}

func listRefundQueueHandler(sched *appointment.Scheduler, c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		professionalID, err := uuid.Parse(r.URL.Query().Get("professional_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_professional_id", "professional_id must be a valid UUID")
			return
		}

		cached, fresh, cacheErr := c.Get(r.Context(), cache.KindRefundQueue, professionalID.String())
		if cacheErr == nil && fresh {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}

		reqs, err := sched.ListPendingRefunds(r.Context(), professionalID)
		if err != nil {
			if cacheErr == nil {
				w.Header().Set("X-Cache", "STALE")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(cached)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "refund queue is temporarily unavailable; please retry")
			return
		}

		resp := make([]RequestResponse, 0, len(reqs))
		for i := range reqs {
			resp = append(resp, refundResponse(&reqs[i]))
		}

		body, err := json.Marshal(resp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if err := c.Put(r.Context(), cache.KindRefundQueue, professionalID.String(), body); err != nil {
			log.Warn().Err(err).Msg("failed to cache refund queue")
		}

		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func resolveRefundHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		decision, ok := parseDecision(w, r)
		if !ok {
			return
		}

		appt, err := sched.ResolveRefund(r.Context(), id, decision)
		if err != nil {
			handleResolveError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt, ""))
	}
}

func requestRescheduleHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var body RescheduleRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newDate, err := time.Parse(dateLayout, body.NewDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "new_date must be YYYY-MM-DD")
			return
		}

		req, err := sched.RequestReschedule(r.Context(), id, newDate, availability.TimeOfDay(body.NewStart), body.Reason)
		if err != nil {
			switch {
			case errors.Is(err, appointment.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "appointment_not_found", "no appointment with that id")
			case errors.Is(err, appointment.ErrAppointmentNotScheduled):
				writeError(w, http.StatusConflict, "appointment_not_scheduled", "only scheduled appointments can be rescheduled")
			case errors.Is(err, appointment.ErrSlotNotOffered):
				writeError(w, http.StatusUnprocessableEntity, "slot_not_offered", "the proposed time is not offered by this service; refresh the available slots")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusCreated, rescheduleResponse(req))
	}
}

func resolveRescheduleHandler(sched *appointment.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "id must be a valid UUID")
			return
		}

		decision, ok := parseDecision(w, r)
		if !ok {
			return
		}

		appt, err := sched.ResolveReschedule(r.Context(), id, decision)
		if err != nil {
			handleResolveError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appointmentResponse(appt, ""))
	}
}

func parseDecision(w http.ResponseWriter, r *http.Request) (appointment.Decision, bool) {
	var body ResolveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return "", false
	}
	switch body.Decision {
	case "approve":
		return appointment.DecisionApprove, true
	case "reject", "decline":
		return appointment.DecisionReject, true
	default:
		writeError(w, http.StatusBadRequest, "invalid_decision", "decision must be approve, reject or decline")
		return "", false
	}
}

func handleResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", "no pending request with that id")
	case errors.Is(err, appointment.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", "this request has already been resolved")
	case errors.Is(err, appointment.ErrSlotNoLongerAvailable):
		writeError(w, http.StatusConflict, "slot_no_longer_available", "the proposed slot was booked in the meantime; the request is still pending")
	case errors.Is(err, appointment.ErrAppointmentNotScheduled):
		writeError(w, http.StatusConflict, "appointment_not_scheduled", "the appointment is no longer scheduled")
	case errors.Is(err, appointment.ErrNotPaid):
		writeError(w, http.StatusConflict, "not_paid", "the appointment is not in a refundable payment state")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func appointmentResponse(a *appointment.Appointment, state appointment.EffectiveState) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		ServiceID:      a.ServiceID,
		Date:           a.Date.Format(dateLayout),
		Start:          string(a.StartTime),
		End:            string(a.EndTime),
		PriceCents:     a.PriceCents,
		Mode:           string(a.Mode),
		Location:       a.Location,
		Status:         string(a.Status),
		PaymentStatus:  string(a.PaymentStatus),
		EffectiveState: string(state),
	}
}

func refundResponse(r *appointment.RefundRequest) RequestResponse {
	return RequestResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		Status:        string(r.Status),
		Reason:        r.Reason,
		CreatedAt:     r.CreatedAt,
		ResolvedAt:    r.ResolvedAt,
	}
}

func rescheduleResponse(r *appointment.RescheduleRequest) RequestResponse {
	return RequestResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		Status:        string(r.Status),
		Reason:        r.Reason,
		NewDate:       r.NewDate.Format(dateLayout),
		NewStart:      string(r.NewStart),
		CreatedAt:     r.CreatedAt,
		ResolvedAt:    r.ResolvedAt,
	}
}
