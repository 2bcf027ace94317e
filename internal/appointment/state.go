package appointment

import (
	"time"

	"github.com/rs/zerolog/log"
)

// EffectiveState is the read-only, time-aware projection of an appointment's
// lifecycle. It is what callers display, and what triggers the no-show
// transition; it can run ahead of the stored status until the sweep
// reconciles the row.
type EffectiveState string

const (
	EffectiveCompleted EffectiveState = "completed"
	EffectiveMissed    EffectiveState = "missed"
	EffectiveScheduled EffectiveState = "scheduled"
)

// DeriveState projects an appointment's effective state at the given instant.
// Rules in priority order, first match wins:
//
//  1. completed/done stored status -> completed
//  2. cancelled/declined/no_show stored status -> missed
//  3. scheduled end already behind now -> missed (callers persist this via
//     the conditional no-show write, never here)
//  4. otherwise -> scheduled
//
// The function is total. Rows with a date or end time that cannot be
// interpreted derive as scheduled rather than disappearing into missed; a
// malformed row hiding a legitimate appointment is the worse failure. The
// malformed case is logged so data problems stay visible.
func DeriveState(a Appointment, now time.Time) EffectiveState {
	switch a.Status {
	case StatusCompleted, "done":
		return EffectiveCompleted
	case StatusCancelled, "canceled", StatusDeclined, StatusNoShow, "no-show":
		return EffectiveMissed
	}

	end, ok := endInstant(a)
	if !ok {
		log.Warn().
			Str("appointment_id", a.ID.String()).
			Str("end_time", string(a.EndTime)).
			Msg("appointment has unusable date or end time, deriving as scheduled")
		return EffectiveScheduled
	}

	if end.Before(now) {
		return EffectiveMissed
	}
	return EffectiveScheduled
}

// endInstant combines the appointment's calendar date with its end time of
// day in the date's location.
func endInstant(a Appointment) (time.Time, bool) {
	if a.Date.IsZero() {
		return time.Time{}, false
	}
	minutes, err := a.EndTime.Minutes()
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := a.Date.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, a.Date.Location()), true
}
