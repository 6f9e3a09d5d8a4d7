package models

import (
	"fmt"
	"time"
)

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
)

// Calendar is the booking calendar owned by a single agent.
type Calendar struct {
	ID        string               `json:"id"`
	AgentID   string               `json:"agent_id"`
	Timezone  string               `json:"timezone"`
	Windows   []AvailabilityWindow `json:"windows"`
	CreatedAt time.Time            `json:"created_at"`
}

// AvailabilityWindow is a recurring weekly opening. Start and End are "HH:MM"
// wall-clock times in the calendar timezone.
type AvailabilityWindow struct {
	Weekday   time.Weekday `json:"weekday"`
	Start     string       `json:"start"`
	End       string       `json:"end"`
	Available bool         `json:"available"`
}

// WindowFor returns the window configured for the given weekday.
func (c *Calendar) WindowFor(day time.Weekday) (AvailabilityWindow, bool) {
	for _, w := range c.Windows {
		if w.Weekday == day {
			return w, true
		}
	}
	return AvailabilityWindow{}, false
}

// Location resolves the calendar timezone, falling back to UTC.
func (c *Calendar) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultWindows is the Monday to Friday 09:00-18:00 week used for lazily
// created calendars.
func DefaultWindows() []AvailabilityWindow {
	windows := make([]AvailabilityWindow, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		w := AvailabilityWindow{Weekday: d, Start: "09:00", End: "18:00"}
		w.Available = d != time.Saturday && d != time.Sunday
		windows = append(windows, w)
	}
	return windows
}

// CalendarEvent is a booked appointment. Cancelled events are kept.
type CalendarEvent struct {
	ID            string      `json:"id"`
	CalendarID    string      `json:"calendar_id"`
	Start         time.Time   `json:"start"`
	End           time.Time   `json:"end"`
	CustomerName  string      `json:"customer_name"`
	CustomerPhone string      `json:"customer_phone"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Description   string      `json:"description,omitempty"`
	Status        EventStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Active reports whether the event still occupies its interval.
func (e *CalendarEvent) Active() bool {
	return e.Status != EventCancelled
}

// Overlaps reports whether the event intersects [start, end).
func (e *CalendarEvent) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}

// Summary renders the event for customer-facing text.
func (e *CalendarEvent) Summary(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	start := e.Start.In(loc)
	return fmt.Sprintf("%s at %s", start.Format("Mon, Jan 2 2006"), start.Format("15:04"))
}

// Slot is a derived bookable start time.
type Slot struct {
	Time     string    `json:"time"`
	Datetime time.Time `json:"datetime"`
}

// Availability is the result of an availability lookup for one date.
type Availability struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
	Slots     []Slot `json:"slots"`
	Reason    string `json:"reason,omitempty"`
}

// AppointmentReport aggregates event counts by status over a window.
type AppointmentReport struct {
	AgentID  string              `json:"agent_id"`
	From     time.Time           `json:"from"`
	To       time.Time           `json:"to"`
	Total    int                 `json:"total"`
	ByStatus map[EventStatus]int `json:"by_status"`
}
