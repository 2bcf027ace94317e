package availability

import (
	"fmt"
	"time"
)

// Grid bounds for services whose professional has not hand-picked windows.
const (
	DefaultDayStart = "08:00"
	DefaultDayEnd   = "18:00"
)

// Slot is a candidate bookable window on a specific calendar date. Slots are
// derived on demand from a service's availability and never stored.
type Slot struct {
	Date    time.Time
	Weekday Weekday
	Start   TimeOfDay
	End     TimeOfDay
}

// Key is the stable occupancy key for the at-most-one-booking invariant.
func (s Slot) Key(serviceID string) string {
	return fmt.Sprintf("%s:%s:%s", serviceID, s.Date.Format("2006-01-02"), s.Start)
}

// Generator produces bookable slots from availability configs. The clock is
// injectable so "already past" filtering is deterministic in tests.
type Generator struct {
	DayStart TimeOfDay
	DayEnd   TimeOfDay
	Now      func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{
		DayStart: DefaultDayStart,
		DayEnd:   DefaultDayEnd,
		Now:      time.Now,
	}
}

// Generate returns the ordered slots for one calendar date.
//
// When the professional has hand-picked windows (explicit mode) those windows
// are returned as-is, dropping any whose end has already passed when forDate
// is today. When no windows are configured the uniform grid between DayStart
// and DayEnd is stepped by the service duration, so slots are back-to-back
// and never overlap.
//
// A forDate whose weekday is not listed in the availability yields an empty
// result: no availability that day is a normal outcome, not an error.
func (g *Generator) Generate(a Availability, durationMinutes int, forDate time.Time) []Slot {
	if durationMinutes <= 0 {
		return nil
	}

	day := ForDate(forDate)
	windows := a.windowsFor(day)
	if a.Type == ScheduleCustom && len(windows) == 0 {
		return nil
	}
	if len(a.Days) == 0 {
		return nil
	}
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

	if len(windows) == 0 {
		windows = g.uniformGrid(durationMinutes)
	}

	now := g.Now()
	sameDay := sameDate(forDate, now)
	nowMinutes := now.Hour()*60 + now.Minute()

	slots := make([]Slot, 0, len(windows))
	for _, w := range windows {
		end, err := w.End.Minutes()
		if err != nil {
			continue // malformed stored window, skip rather than fail the whole day
		}
		if sameDay && end <= nowMinutes {
			continue
		}
		slots = append(slots, Slot{
			Date:    forDate,
			Weekday: day,
			Start:   w.Start,
			End:     w.End,
		})
	}
	return slots
}

// uniformGrid steps from DayStart to DayEnd by the service duration, emitting
// only windows that fit entirely before DayEnd.
func (g *Generator) uniformGrid(durationMinutes int) []Window {
	start, err := g.DayStart.Minutes()
	if err != nil {
		return nil
	}
	end, err := g.DayEnd.Minutes()
	if err != nil {
		return nil
	}

	var windows []Window
	for cur := start; cur+durationMinutes <= end; cur += durationMinutes {
		windows = append(windows, Window{
			Start: FromMinutes(cur),
			End:   FromMinutes(cur + durationMinutes),
		})
	}
	return windows
}

// Contains reports whether the generated set for forDate includes a slot
// starting at start. Booking preconditions use this rather than trusting the
// caller-supplied time.
func (g *Generator) Contains(a Availability, durationMinutes int, forDate time.Time, start TimeOfDay) (Slot, bool) {
	for _, s := range g.Generate(a, durationMinutes, forDate) {
		if s.Start == start {
			return s, true
		}
	}
	return Slot{}, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
