package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"go.uber.org/zap"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	DefaultSlotStep            = 30 * time.Minute
	DefaultAppointmentDuration = time.Hour
)

var (
	// ErrSlotUnavailable means the requested start is not an open slot.
	ErrSlotUnavailable = errors.New("calendar: time slot not available")
	// ErrInvalidSlot means the date or time could not be parsed.
	ErrInvalidSlot = errors.New("calendar: invalid date or time")
	ErrNotFound    = errors.New("calendar: appointment not found")
)

type Config struct {
	DefaultTimezone     string
	SlotStep            time.Duration
	AppointmentDuration time.Duration
}

// Engine computes availability and books appointments on per-agent calendars.
type Engine struct {
	store    storage.CalendarStore
	logger   *zap.Logger
	now      func() time.Time
	timezone string
	step     time.Duration
	duration time.Duration
}

func NewEngine(store storage.CalendarStore, cfg Config, now func() time.Time, logger *zap.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.SlotStep <= 0 {
		cfg.SlotStep = DefaultSlotStep
	}
	if cfg.AppointmentDuration <= 0 {
		cfg.AppointmentDuration = DefaultAppointmentDuration
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	return &Engine{
		store:    store,
		logger:   logger,
		now:      now,
		timezone: cfg.DefaultTimezone,
		step:     cfg.SlotStep,
		duration: cfg.AppointmentDuration,
	}
}

// Duration is the fixed length of a booked appointment.
func (e *Engine) Duration() time.Duration {
	return e.duration
}

// Calendar loads the agent's calendar, creating the default one if absent.
func (e *Engine) Calendar(ctx context.Context, agentID string) (*models.Calendar, error) {
	cal, err := e.store.GetCalendar(ctx, agentID)
	if err == nil {
		return cal, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load calendar: %w", err)
	}

	cal, err = e.store.GetOrCreateCalendar(ctx, &models.Calendar{
		AgentID:  agentID,
		Timezone: e.timezone,
		Windows:  models.DefaultWindows(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar: %w", err)
	}
	e.logger.Info("Created default calendar",
		zap.String("agent_id", agentID),
		zap.String("calendar_id", cal.ID))
	return cal, nil
}

// GetAvailability lists the open slots for one date, in chronological order.
func (e *Engine) GetAvailability(ctx context.Context, agentID, date string) (*models.Availability, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	loc := cal.Location()

	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidSlot, date)
	}

	result := &models.Availability{Date: date, Slots: []models.Slot{}}
	open, closeAt, ok := windowBounds(cal, day)
	if !ok {
		result.Reason = "closed"
		return result, nil
	}

	events, err := e.store.ListEvents(ctx, cal.ID, open, closeAt)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	// A slot is taken when an event covers any part of its step; the
	// appointment itself must still end inside the window.
	now := e.now()
	for t := open; !t.Add(e.duration).After(closeAt); t = t.Add(e.step) {
		if !t.After(now) || overlapsAny(events, t, t.Add(e.step)) {
			continue
		}
		result.Slots = append(result.Slots, models.Slot{Time: t.Format(TimeLayout), Datetime: t})
	}
	result.Available = len(result.Slots) > 0
	if !result.Available {
		result.Reason = "fully booked"
	}
	return result, nil
}

// GetAvailabilityRange runs GetAvailability for days consecutive dates.
func (e *Engine) GetAvailabilityRange(ctx context.Context, agentID, date string, days int) ([]*models.Availability, error) {
	if days < 1 {
		days = 1
	}
	start, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidSlot, date)
	}
	out := make([]*models.Availability, 0, days)
	for i := 0; i < days; i++ {
		a, err := e.GetAvailability(ctx, agentID, start.AddDate(0, 0, i).Format(DateLayout))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// NextAvailable collects up to limit open slots starting from today.
func (e *Engine) NextAvailable(ctx context.Context, agentID string, days, limit int) ([]models.Slot, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	today := e.now().In(cal.Location()).Format(DateLayout)
	schedule, err := e.GetAvailabilityRange(ctx, agentID, today, days)
	if err != nil {
		return nil, err
	}
	var slots []models.Slot
	for _, d := range schedule {
		for _, s := range d.Slots {
			if len(slots) == limit {
				return slots, nil
			}
			slots = append(slots, s)
		}
	}
	return slots, nil
}

type BookingRequest struct {
	Date          string
	Time          string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Description   string
}

// BookAppointment books [start, start+duration). It fails with
// ErrSlotUnavailable for any start GetAvailability would not offer.
func (e *Engine) BookAppointment(ctx context.Context, agentID string, req BookingRequest) (*models.CalendarEvent, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	event, err := e.candidate(cal, req)
	if err != nil {
		return nil, err
	}

	if err := e.store.InsertEvent(ctx, event); err != nil {
		if errors.Is(err, storage.ErrOverlap) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	e.logger.Info("Appointment booked",
		zap.String("agent_id", agentID),
		zap.String("event_id", event.ID),
		zap.Time("start", event.Start))
	return event, nil
}

// RescheduleAppointment cancels eventID and books the new slot in one
// transaction. The old event's own interval is not a conflict.
func (e *Engine) RescheduleAppointment(ctx context.Context, agentID, eventID string, req BookingRequest) (*models.CalendarEvent, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	old, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && (!old.Active() || old.CalendarID != cal.ID)) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	if req.CustomerName == "" {
		req.CustomerName = old.CustomerName
	}
	if req.CustomerPhone == "" {
		req.CustomerPhone = old.CustomerPhone
	}
	if req.CustomerEmail == "" {
		req.CustomerEmail = old.CustomerEmail
	}
	if req.Description == "" {
		req.Description = old.Description
	}

	event, err := e.candidate(cal, req)
	if err != nil {
		return nil, err
	}
	err = e.store.RescheduleEvent(ctx, eventID, event)
	switch {
	case errors.Is(err, storage.ErrOverlap):
		return nil, ErrSlotUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to reschedule event: %w", err)
	}

	e.logger.Info("Appointment rescheduled",
		zap.String("agent_id", agentID),
		zap.String("old_event_id", eventID),
		zap.String("event_id", event.ID),
		zap.Time("start", event.Start))
	return event, nil
}

// candidate validates the requested start against the window, the slot grid
// and the clock. Overlap is checked by the store inside the insert.
func (e *Engine) candidate(cal *models.Calendar, req BookingRequest) (*models.CalendarEvent, error) {
	loc := cal.Location()
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, req.Date+" "+req.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q %q", ErrInvalidSlot, req.Date, req.Time)
	}
	end := start.Add(e.duration)

	open, closeAt, ok := windowBounds(cal, start)
	if !ok || start.Before(open) || end.After(closeAt) {
		return nil, ErrSlotUnavailable
	}
	if start.Sub(open)%e.step != 0 || !start.After(e.now()) {
		return nil, ErrSlotUnavailable
	}

	return &models.CalendarEvent{
		CalendarID:    cal.ID,
		Start:         start,
		End:           end,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
		Status:        models.EventScheduled,
	}, nil
}

func (e *Engine) GetEvent(ctx context.Context, eventID string) (*models.CalendarEvent, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return event, nil
}

// ConfirmAppointment marks a scheduled event confirmed. Confirming a
// confirmed or missing event is a no-op; a cancelled event stays cancelled.
func (e *Engine) ConfirmAppointment(ctx context.Context, eventID string) (*models.CalendarEvent, error) {
	event, err := e.store.TransitionEventStatus(ctx, eventID,
		[]models.EventStatus{models.EventScheduled}, models.EventConfirmed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm event: %w", err)
	}
	return event, nil
}

// CancelAppointment marks the event cancelled. Missing and already
// cancelled events are not an error.
func (e *Engine) CancelAppointment(ctx context.Context, eventID string) (*models.CalendarEvent, error) {
	event, err := e.store.TransitionEventStatus(ctx, eventID,
		[]models.EventStatus{models.EventScheduled, models.EventConfirmed}, models.EventCancelled)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel event: %w", err)
	}
	return event, nil
}

// GetUpcomingAppointments lists non-cancelled events starting from now.
// A non-empty phone restricts the list to that customer.
func (e *Engine) GetUpcomingAppointments(ctx context.Context, agentID, phone string, limit int) ([]*models.CalendarEvent, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.ListUpcomingEvents(ctx, cal.ID, e.now(), phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	return events, nil
}

// GetTodayEvents lists today's non-cancelled events in calendar time.
func (e *Engine) GetTodayEvents(ctx context.Context, agentID string) ([]*models.CalendarEvent, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := e.now().In(cal.Location())
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := e.store.ListEvents(ctx, cal.ID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to list today's events: %w", err)
	}
	return events, nil
}

func (e *Engine) GetAppointmentReport(ctx context.Context, agentID string, from, to time.Time) (*models.AppointmentReport, error) {
	cal, err := e.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	counts, err := e.store.CountEventsByStatus(ctx, cal.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	report := &models.AppointmentReport{AgentID: agentID, From: from, To: to, ByStatus: counts}
	for _, n := range counts {
		report.Total += n
	}
	return report, nil
}

// windowBounds returns the open and close instants of the available window
// covering day's weekday.
func windowBounds(cal *models.Calendar, day time.Time) (time.Time, time.Time, bool) {
	w, ok := cal.WindowFor(day.Weekday())
	if !ok || !w.Available {
		return time.Time{}, time.Time{}, false
	}
	open, err1 := clockOn(day, w.Start)
	closeAt, err2 := clockOn(day, w.End)
	if err1 != nil || err2 != nil || !closeAt.After(open) {
		return time.Time{}, time.Time{}, false
	}
	return open, closeAt, true
}

func clockOn(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

func overlapsAny(events []*models.CalendarEvent, start, end time.Time) bool {
	for _, ev := range events {
		if ev.Active() && ev.Overlaps(start, end) {
			return true
		}
	}
	return false
}
