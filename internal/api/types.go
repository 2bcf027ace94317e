package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`  // YYYY-MM-DD
	Start     string `json:"start"` // HH:MM
}

type AppointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ServiceID      uuid.UUID `json:"service_id"`
	Date           string    `json:"date"`
	Start          string    `json:"start"`
	End            string    `json:"end"`
	PriceCents     int       `json:"price_cents"`
	Mode           string    `json:"mode"`
	Location       *string   `json:"location,omitempty"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	EffectiveState string    `json:"effective_state,omitempty"`
}

type SlotResponse struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
	Taken bool   `json:"taken"`
}

type RefundRequestBody struct {
	Reason *string `json:"reason,omitempty"`
}

type RescheduleRequestBody struct {
	NewDate  string  `json:"new_date"`  // YYYY-MM-DD
	NewStart string  `json:"new_start"` // HH:MM
	Reason   *string `json:"reason,omitempty"`
}

type ResolveRequestBody struct {
	Decision string `json:"decision"` // approve | reject
}

type RequestResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Status        string     `json:"status"`
	Reason        *string    `json:"reason,omitempty"`
	NewDate       string     `json:"new_date,omitempty"`
	NewStart      string     `json:"new_start,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

type PatientResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
