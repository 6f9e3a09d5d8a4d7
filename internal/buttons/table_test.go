package buttons

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"github.com/xaenox/bizchat/internal/testfixtures"
	"go.uber.org/zap/zaptest"
)

type tableFixture struct {
	table   *Table
	store   *storage.MemoryStorage
	engine  *calendar.Engine
	gateway *testfixtures.RecordingGateway
	session models.Session
}

func newTableFixture(t *testing.T, interactive bool) *tableFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	clock := testfixtures.NewClock(time.Time{})
	engine := calendar.NewEngine(store, calendar.Config{}, clock.Now, logger)

	rec := &testfixtures.RecordingGateway{}
	var gw gateway.Gateway = rec
	if interactive {
		gw = rec.Interactive()
	}

	conv, err := store.GetOrCreateConversation(context.Background(), "telegram:9", "agent-1", "+15550001")
	require.NoError(t, err)

	return &tableFixture{
		table:   NewTable(store, engine, gw, Config{}, clock.Now, logger),
		store:   store,
		engine:  engine,
		gateway: rec,
		session: models.Session{
			AgentID:        "agent-1",
			OwnerID:        "owner-1",
			ConversationID: conv.ID,
			BusinessAddr:   "bizbot",
			CustomerAddr:   "9",
			CustomerPhone:  "+15550001",
			CustomerName:   "Ana",
		},
	}
}

func (f *tableFixture) tap(t *testing.T, id string) Result {
	t.Helper()
	return f.table.Handle(context.Background(), f.session, Tap{ID: id})
}

func (f *tableFixture) metadata(t *testing.T) models.ConversationMetadata {
	t.Helper()
	conv, err := f.store.GetConversation(context.Background(), f.session.ConversationID, 1)
	require.NoError(t, err)
	return conv.Metadata
}

func (f *tableFixture) book(t *testing.T, date, hhmm string) *models.CalendarEvent {
	t.Helper()
	event, err := f.engine.BookAppointment(context.Background(), "agent-1", calendar.BookingRequest{Date: date, Time: hhmm, CustomerName: "Ana", CustomerPhone: "+15550001"})
	require.NoError(t, err)
	_, err = f.store.MergeMetadata(context.Background(), f.session.ConversationID, models.MetadataPatch{
		LastAppointment: &models.AppointmentRef{EventID: event.ID, Start: event.Start, Status: string(event.Status)},
	})
	require.NoError(t, err)
	return event
}

func TestMatch(t *testing.T) {
	f := newTableFixture(t, false)

	cases := []struct {
		id     string
		action string
		arg    string
	}{
		{"confirm_appointment", ActionConfirmAppointment, ""},
		{"APPOINTMENT_CONFIRM", ActionConfirmAppointment, ""},
		{"cancel_appointment:ev-1", ActionCancelAppointment, "ev-1"},
		{"book_slot:2025-03-10T09:00", ActionBookSlot, "2025-03-10T09:00"},
		{"rate_4", ActionServiceRating, "4"},
		{"rating:5", ActionServiceRating, "5"},
		{"request_service_Deep_Clean", ActionServiceRequest, "Deep_Clean"},
		{"view_menu", ActionMenu, ""},
		{"talk_to_human", ActionHumanHandoff, ""},
	}
	for _, tc := range cases {
		r, arg, ok := f.table.match(tc.id)
		require.True(t, ok, tc.id)
		assert.Equal(t, tc.action, r.action, tc.id)
		assert.Equal(t, tc.arg, arg, tc.id)
	}

	for _, id := range []string{"", "yes_please", "menus", "book_slot:"} {
		_, _, ok := f.table.match(id)
		assert.False(t, ok, id)
	}
}

func TestUnknownButtonIsRecorded(t *testing.T) {
	f := newTableFixture(t, false)

	res := f.table.Handle(context.Background(), f.session, Tap{ID: "option_blue", Title: "Blue"})
	assert.True(t, res.Success)
	assert.Equal(t, ActionGeneric, res.Action)
	require.NotNil(t, res.Response)

	records, err := f.store.ListRecords(context.Background(), f.session.ConversationID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RecordButtonAction, records[0].Kind)
	assert.Equal(t, "option_blue", records[0].Data["button_id"])

	conv, err := f.store.GetConversation(context.Background(), f.session.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, "[button] Blue", conv.Turns[0].Content)
}

func TestConfirmAppointment(t *testing.T) {
	f := newTableFixture(t, false)

	res := f.tap(t, "confirm_appointment")
	require.NotNil(t, res.Response)
	assert.Contains(t, *res.Response, "couldn't find a recent appointment")

	event := f.book(t, "2025-03-10", "10:00")
	res = f.tap(t, "confirm_appointment")
	assert.True(t, res.Success)
	assert.Equal(t, "Your appointment on Mon, Mar 10 2025 at 10:00 is confirmed. See you then!", *res.Response)

	stored, err := f.engine.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventConfirmed, stored.Status)
	assert.Equal(t, string(models.EventConfirmed), f.metadata(t).LastAppointment.Status)

	// Tapping twice is harmless
	res = f.tap(t, "confirm_appointment")
	assert.True(t, res.Success)
	assert.Contains(t, *res.Response, "is confirmed")
}

func TestCancelAppointment(t *testing.T) {
	f := newTableFixture(t, false)
	event := f.book(t, "2025-03-10", "10:00")

	res := f.tap(t, "cancel_appointment")
	assert.True(t, res.Success)
	assert.Contains(t, *res.Response, "has been cancelled")

	stored, err := f.engine.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventCancelled, stored.Status)
	assert.Equal(t, string(models.EventCancelled), f.metadata(t).LastAppointment.Status)

	res = f.tap(t, "cancel_appointment")
	assert.True(t, res.Success, "cancelling again is not an error")

	res = f.tap(t, "confirm_appointment")
	assert.Contains(t, *res.Response, "was cancelled")

	res = f.tap(t, "cancel_appointment:missing-id")
	assert.Equal(t, "You don't have an appointment to cancel.", *res.Response)
}

func TestShowAvailabilitySendsSlotButtons(t *testing.T) {
	f := newTableFixture(t, true)

	res := f.tap(t, "show_availability")
	assert.True(t, res.Success)
	assert.Nil(t, res.Response, "the handler sends its own message")

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Choice)
	buttons := sent[0].Choice.Buttons
	require.Len(t, buttons, 3)
	assert.Equal(t, "book_slot:2025-03-10T09:00", buttons[0].ID)
	assert.Equal(t, "Mon Mar 10 09:00", buttons[0].Title)
	assert.Equal(t, "book_slot:2025-03-10T10:00", buttons[2].ID)
}

func TestBookSlot(t *testing.T) {
	f := newTableFixture(t, false)

	res := f.tap(t, "book_slot:2025-03-10T09:00")
	assert.True(t, res.Success)
	require.NotNil(t, res.Response)
	assert.Equal(t, "Hi Ana, your appointment is booked for Mon, Mar 10 2025 at 09:00. Reply here if you need to change it.", *res.Response)

	md := f.metadata(t)
	require.NotNil(t, md.LastAppointment)
	assert.Equal(t, testfixtures.Monday.Add(time.Hour), md.LastAppointment.Start)

	res = f.tap(t, "book_slot:2025-03-10T09:30")
	assert.False(t, res.Success)
	assert.Contains(t, *res.Response, "no longer available")

	res = f.tap(t, "book_slot:yesterday")
	assert.Equal(t, ActionGeneric, res.Action)
}

func TestRescheduleFlow(t *testing.T) {
	f := newTableFixture(t, true)
	old := f.book(t, "2025-03-10", "09:00")

	res := f.tap(t, "reschedule_appointment")
	assert.True(t, res.Success)
	assert.Nil(t, res.Response)

	md := f.metadata(t)
	require.NotNil(t, md.PendingReschedule)
	assert.Equal(t, old.ID, md.PendingReschedule.EventID)
	require.Len(t, md.PendingReschedule.Options, 3)

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "Mon, Mar 10 2025 at 09:00")
	target := sent[0].Choice.Buttons[1].ID

	res = f.tap(t, target)
	assert.True(t, res.Success)
	assert.Contains(t, *res.Response, "has been moved to")

	prev, err := f.engine.GetEvent(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventCancelled, prev.Status)

	md = f.metadata(t)
	assert.Nil(t, md.PendingReschedule)
	assert.NotEqual(t, old.ID, md.LastAppointment.EventID)

	upcoming, err := f.engine.GetUpcomingAppointments(context.Background(), "agent-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, upcoming, 1, "rescheduling never leaves two bookings")
}

func TestSlotOutsideRescheduleOptionsIsANewBooking(t *testing.T) {
	f := newTableFixture(t, true)
	ctx := context.Background()
	old := f.book(t, "2025-03-10", "09:00")

	f.tap(t, "reschedule_appointment")
	require.NotNil(t, f.metadata(t).PendingReschedule)

	res := f.tap(t, "book_slot:2025-03-12T15:00")
	assert.True(t, res.Success)
	assert.Equal(t, "Hi Ana, your appointment is booked for Wed, Mar 12 2025 at 15:00. Reply here if you need to change it.", *res.Response)

	prev, err := f.engine.GetEvent(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventScheduled, prev.Status, "the first appointment is not moved")
	assert.Nil(t, f.metadata(t).PendingReschedule)

	upcoming, err := f.engine.GetUpcomingAppointments(ctx, "agent-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, upcoming, 2)
}

func TestShowAvailabilityDropsPendingReschedule(t *testing.T) {
	f := newTableFixture(t, true)
	old := f.book(t, "2025-03-10", "09:00")

	f.tap(t, "reschedule_appointment")
	slotID := f.gateway.Sent()[0].Choice.Buttons[0].ID

	f.tap(t, "show_availability")
	assert.Nil(t, f.metadata(t).PendingReschedule)

	// The same slot tapped now books alongside the first appointment
	res := f.tap(t, slotID)
	assert.True(t, res.Success)
	assert.Contains(t, *res.Response, "your appointment is booked")

	prev, err := f.engine.GetEvent(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventScheduled, prev.Status)
}

func TestConfirmAndCancelIgnoreOtherCalendars(t *testing.T) {
	f := newTableFixture(t, false)
	ctx := context.Background()
	foreign, err := f.engine.BookAppointment(ctx, "agent-2", calendar.BookingRequest{
		Date: "2025-03-10", Time: "10:00", CustomerName: "Bo", CustomerPhone: "+15550002",
	})
	require.NoError(t, err)

	res := f.tap(t, "confirm_appointment:"+foreign.ID)
	assert.Equal(t, "I couldn't find that appointment. Would you like to book a new one?", *res.Response)

	res = f.tap(t, "cancel_appointment:"+foreign.ID)
	assert.Equal(t, "You don't have an appointment to cancel.", *res.Response)

	stored, err := f.engine.GetEvent(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventScheduled, stored.Status)
}

func TestRescheduleWithoutAppointmentShowsAvailability(t *testing.T) {
	f := newTableFixture(t, false)

	res := f.tap(t, "reschedule_appointment")
	assert.Equal(t, ActionShowAvailability, res.Action)
	assert.Nil(t, res.Response)

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "1. Mon Mar 10 09:00", "text fallback lists the slots")
}

func TestMenu(t *testing.T) {
	f := newTableFixture(t, false)

	res := f.tap(t, "view_menu")
	assert.False(t, res.Success)
	require.NotNil(t, res.Response)

	require.NoError(t, f.store.UpsertMediaAsset(context.Background(), &models.MediaAsset{
		OwnerID: "owner-1", Category: "menu", URL: "https://cdn/menu.png", Caption: "Today's menu", Active: true,
	}))
	res = f.tap(t, "menu")
	assert.True(t, res.Success)
	assert.Nil(t, res.Response)

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"https://cdn/menu.png"}, sent[0].MediaURLs)
}

func TestHandlerErrorGetsApology(t *testing.T) {
	f := newTableFixture(t, false)
	f.gateway.Fail(true)

	res := f.tap(t, "show_availability")
	assert.False(t, res.Success)
	assert.Equal(t, ActionShowAvailability, res.Action)
	require.NotNil(t, res.Response)
	assert.Equal(t, apologyReply, *res.Response)
}

func TestServiceRating(t *testing.T) {
	f := newTableFixture(t, false)
	ctx := context.Background()

	res := f.tap(t, "rate_5")
	assert.Contains(t, *res.Response, "glad")
	tasks, err := f.store.ListFollowUpTasks(ctx, f.session.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	res = f.tap(t, "rate_2")
	assert.Contains(t, *res.Response, "sorry")
	tasks, err = f.store.ListFollowUpTasks(ctx, f.session.ConversationID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "feedback_request", tasks[0].Type)

	lead, err := f.store.GetLead(ctx, "owner-1", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, []string{"rating_5", "rating_2"}, lead.Tags)

	res = f.tap(t, "rate_9")
	assert.Equal(t, ActionGeneric, res.Action)
}

func TestServiceRequestAndSupportTicket(t *testing.T) {
	f := newTableFixture(t, false)
	ctx := context.Background()

	res := f.tap(t, "request_service_deep_clean")
	assert.Contains(t, *res.Response, "deep clean")

	res = f.tap(t, "support_ticket")
	assert.Contains(t, *res.Response, "support ticket #")

	records, err := f.store.ListRecords(ctx, f.session.ConversationID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.RecordInquiry, records[0].Kind)
	assert.Equal(t, models.RecordSupportTicket, records[1].Kind)
	assert.Contains(t, *res.Response, "#"+TicketRef(records[1].ID))

	tasks, err := f.store.ListFollowUpTasks(ctx, f.session.ConversationID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, testfixtures.Monday.Add(time.Hour), tasks[0].DueAt)
	assert.Equal(t, testfixtures.Monday.Add(2*time.Hour), tasks[1].DueAt)
}

func TestTicketRef(t *testing.T) {
	assert.Equal(t, "3F2504E0", TicketRef("3f2504e0-4f89-11d3-9a0c-0305e82c3301"))
	assert.Equal(t, "AB", TicketRef("ab"))
}

func TestHumanHandoff(t *testing.T) {
	f := newTableFixture(t, false)

	res := f.tap(t, "talk_to_human")
	assert.True(t, res.Success)
	assert.True(t, f.metadata(t).HandedOff())

	tasks, err := f.store.ListFollowUpTasks(context.Background(), f.session.ConversationID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "urgent", tasks[0].Priority)

	res = f.tap(t, "human_agent")
	assert.Contains(t, *res.Response, "already been notified")
	tasks, err = f.store.ListFollowUpTasks(context.Background(), f.session.ConversationID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
