package availability

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type ScheduleType string

const (
	ScheduleSame   ScheduleType = "same"
	ScheduleCustom ScheduleType = "custom"
)

// Weekday is the token stored in availability configs ("Mon".."Sun").
type Weekday string

const (
	Monday    Weekday = "Mon"
	Tuesday   Weekday = "Tue"
	Wednesday Weekday = "Wed"
	Thursday  Weekday = "Thu"
	Friday    Weekday = "Fri"
	Saturday  Weekday = "Sat"
	Sunday    Weekday = "Sun"
)

var weekdayFromTime = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// ForDate returns the weekday token for a calendar date.
func ForDate(d time.Time) Weekday {
	return weekdayFromTime[d.Weekday()]
}

func (w Weekday) Valid() bool {
	switch w {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// TimeOfDay is a clock-face time in "HH:MM" 24h format.
type TimeOfDay string

// Minutes parses the time of day into minutes since midnight.
func (t TimeOfDay) Minutes() (int, error) {
	parsed, err := time.Parse("15:04", string(t))
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", t, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// FromMinutes renders minutes since midnight as a TimeOfDay.
func FromMinutes(m int) TimeOfDay {
	return TimeOfDay(fmt.Sprintf("%02d:%02d", m/60, m%60))
}

// Window is a single bookable time range within a day.
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// DaySchedule is one weekday's hand-picked windows in a custom schedule.
type DaySchedule struct {
	NumberOfSlots int      `json:"numberOfSlots"`
	TimeSlots     []Window `json:"timeSlots"`
}

// Availability describes when a service can be booked. It is a tagged union:
// when Type is "same" every listed day shares Windows; when Type is "custom"
// each listed day has its own entry in Custom. Invalid combinations (a day
// listed but missing from Custom) make that day unbookable rather than
// erroring at generation time, but are rejected by Validate on write.
type Availability struct {
	Type    ScheduleType            `json:"scheduleType"`
	Days    []Weekday               `json:"days"`
	Windows []Window                `json:"timeSlots,omitempty"`
	Custom  map[Weekday]DaySchedule `json:"customSchedules,omitempty"`
}

var (
	ErrNoDays            = errors.New("availability has no days")
	ErrDuplicateDay      = errors.New("availability lists a day twice")
	ErrUnknownDay        = errors.New("availability lists an unknown weekday token")
	ErrUnknownType       = errors.New("availability has an unknown schedule type")
	ErrMissingDay        = errors.New("custom schedule is missing an entry for a listed day")
	ErrWindowInverted    = errors.New("time window end is not after start")
	ErrSlotCountMismatch = errors.New("numberOfSlots does not match timeSlots length")
)

// ValidationError reports which part of an availability config was rejected.
type ValidationError struct {
	Day    Weekday // empty when the problem is not day-specific
	Window *Window // nil when the problem is not window-specific
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Window != nil && e.Day != "":
		return fmt.Sprintf("availability %s %s-%s: %v", e.Day, e.Window.Start, e.Window.End, e.Err)
	case e.Window != nil:
		return fmt.Sprintf("availability window %s-%s: %v", e.Window.Start, e.Window.End, e.Err)
	case e.Day != "":
		return fmt.Sprintf("availability day %s: %v", e.Day, e.Err)
	default:
		return fmt.Sprintf("availability: %v", e.Err)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks an availability config for internal consistency. It is pure
// and returns the first problem found.
func (a Availability) Validate() error {
	if a.Type != ScheduleSame && a.Type != ScheduleCustom {
		return &ValidationError{Err: ErrUnknownType}
	}
	if len(a.Days) == 0 {
		return &ValidationError{Err: ErrNoDays}
	}

	seen := make(map[Weekday]bool, len(a.Days))
	for _, d := range a.Days {
		if !d.Valid() {
			return &ValidationError{Day: d, Err: ErrUnknownDay}
		}
		if seen[d] {
			return &ValidationError{Day: d, Err: ErrDuplicateDay}
		}
		seen[d] = true
	}

	if a.Type == ScheduleSame {
		for i := range a.Windows {
			if err := validateWindow(a.Windows[i]); err != nil {
				return &ValidationError{Window: &a.Windows[i], Err: err}
			}
		}
		return nil
	}

	for _, d := range a.Days {
		ds, ok := a.Custom[d]
		if !ok {
			return &ValidationError{Day: d, Err: ErrMissingDay}
		}
		if ds.NumberOfSlots != len(ds.TimeSlots) {
			return &ValidationError{Day: d, Err: ErrSlotCountMismatch}
		}
		for i := range ds.TimeSlots {
			if err := validateWindow(ds.TimeSlots[i]); err != nil {
				return &ValidationError{Day: d, Window: &ds.TimeSlots[i], Err: err}
			}
		}
	}
	return nil
}

func validateWindow(w Window) error {
	start, err := w.Start.Minutes()
	if err != nil {
		return err
	}
	end, err := w.End.Minutes()
	if err != nil {
		return err
	}
	if end <= start {
		return ErrWindowInverted
	}
	return nil
}

// windowsFor returns the configured windows for one weekday, or nil when the
// day is not bookable. A day listed under a custom schedule but absent from
// the per-day map yields nil, never an error.
func (a Availability) windowsFor(day Weekday) []Window {
	listed := false
	for _, d := range a.Days {
		if d == day {
			listed = true
			break
		}
	}
	if !listed {
		return nil
	}
	if a.Type == ScheduleCustom {
		return a.Custom[day].TimeSlots
	}
	return a.Windows
}

// ParseJSON decodes a stored availability document.
func ParseJSON(raw []byte) (Availability, error) {
	var a Availability
	if err := json.Unmarshal(raw, &a); err != nil {
		return Availability{}, fmt.Errorf("decode availability: %w", err)
	}
	return a, nil
}
