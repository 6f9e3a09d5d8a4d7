package buttons

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xaenox/bizchat/internal/actions"
	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"go.uber.org/zap"
)

// slotIDLayout is the argument format of book_slot buttons.
const slotIDLayout = "2006-01-02T15:04"

// SlotButtonID is the button id that books the given slot.
func SlotButtonID(slot models.Slot) string {
	return ActionBookSlot + ":" + slot.Datetime.Format(slotIDLayout)
}

func slotTitle(slot models.Slot) string {
	return slot.Datetime.Format("Mon Jan 2 15:04")
}

// appointmentID prefers an id carried in the button over the last booked one.
func appointmentID(c call) string {
	if c.arg != "" {
		return c.arg
	}
	if c.metadata.LastAppointment != nil {
		return c.metadata.LastAppointment.EventID
	}
	return ""
}

// ownedEvent loads the event the button refers to. Events missing from the
// session's calendar are reported as nil, since callback data can be forged.
func (t *Table) ownedEvent(ctx context.Context, c call, id string) (*models.CalendarEvent, error) {
	cal, err := t.calendar.Calendar(ctx, c.session.AgentID)
	if err != nil {
		return nil, err
	}
	event, err := t.calendar.GetEvent(ctx, id)
	if errors.Is(err, calendar.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if event.CalendarID != cal.ID {
		t.logger.Warn("Button referenced an event on another calendar",
			zap.String("agent_id", c.session.AgentID),
			zap.String("event_id", id))
		return nil, nil
	}
	return event, nil
}

func (t *Table) confirmAppointment(ctx context.Context, c call) (Result, error) {
	id := appointmentID(c)
	if id == "" {
		return reply(true, ActionConfirmAppointment, "I couldn't find a recent appointment to confirm. Would you like to book one?"), nil
	}
	owned, err := t.ownedEvent(ctx, c, id)
	if err != nil {
		return Result{}, err
	}
	var event *models.CalendarEvent
	if owned != nil {
		if event, err = t.calendar.ConfirmAppointment(ctx, id); err != nil {
			return Result{}, err
		}
	}
	if event == nil {
		return reply(true, ActionConfirmAppointment, "I couldn't find that appointment. Would you like to book a new one?"), nil
	}
	if event.Status == models.EventCancelled {
		return reply(true, ActionConfirmAppointment, "That appointment was cancelled. Tap below or send a message to book a new time."), nil
	}

	t.rememberAppointment(ctx, c, event)
	summary := t.summary(ctx, c.session.AgentID, event)
	return reply(true, ActionConfirmAppointment, fmt.Sprintf("Your appointment on %s is confirmed. See you then!", summary)), nil
}

func (t *Table) cancelAppointment(ctx context.Context, c call) (Result, error) {
	id := appointmentID(c)
	if id == "" {
		return reply(true, ActionCancelAppointment, "You don't have an appointment to cancel."), nil
	}
	owned, err := t.ownedEvent(ctx, c, id)
	if err != nil {
		return Result{}, err
	}
	var event *models.CalendarEvent
	if owned != nil {
		if event, err = t.calendar.CancelAppointment(ctx, id); err != nil {
			return Result{}, err
		}
	}
	if event == nil {
		return reply(true, ActionCancelAppointment, "You don't have an appointment to cancel."), nil
	}

	patch := models.MetadataPatch{ClearPendingReschedule: true}
	if ref := c.metadata.LastAppointment; ref != nil && ref.EventID == event.ID {
		updated := *ref
		updated.Status = string(models.EventCancelled)
		patch.LastAppointment = &updated
	}
	t.mergeMetadata(ctx, c, patch)

	summary := t.summary(ctx, c.session.AgentID, event)
	return reply(true, ActionCancelAppointment, fmt.Sprintf("Your appointment on %s has been cancelled. We hope to see you another time!", summary)), nil
}

func (t *Table) rescheduleAppointment(ctx context.Context, c call) (Result, error) {
	id := appointmentID(c)
	if id == "" {
		return t.showAvailability(ctx, c)
	}
	event, err := t.calendar.GetEvent(ctx, id)
	if errors.Is(err, calendar.ErrNotFound) || (err == nil && !event.Active()) {
		return reply(true, ActionRescheduleAppointment, "I couldn't find an active appointment to move. Would you like to book a new one?"), nil
	}
	if err != nil {
		return Result{}, err
	}

	slots, err := t.calendar.NextAvailable(ctx, c.session.AgentID, t.config.SlotDays, t.config.SlotOptions)
	if err != nil {
		return Result{}, err
	}
	if len(slots) == 0 {
		return reply(true, ActionRescheduleAppointment, "Sorry, there are no open times in the coming days. Our team will reach out to find a time that works."), nil
	}

	t.mergeMetadata(ctx, c, models.MetadataPatch{PendingReschedule: &models.RescheduleOptions{
		EventID:   event.ID,
		Options:   slots,
		OfferedAt: t.now(),
	}})

	current := t.summary(ctx, c.session.AgentID, event)
	if err := t.sendSlots(ctx, c, "Reschedule", fmt.Sprintf("Your appointment is on %s. Pick a new time:", current), slots); err != nil {
		return Result{}, err
	}
	return sent(ActionRescheduleAppointment), nil
}

func (t *Table) showAvailability(ctx context.Context, c call) (Result, error) {
	// Fresh slots are for a new booking, not for a reschedule offered earlier.
	if c.metadata.PendingReschedule != nil {
		t.mergeMetadata(ctx, c, models.MetadataPatch{ClearPendingReschedule: true})
	}
	slots, err := t.calendar.NextAvailable(ctx, c.session.AgentID, t.config.SlotDays, t.config.SlotOptions)
	if err != nil {
		return Result{}, err
	}
	if len(slots) == 0 {
		return reply(true, ActionShowAvailability, "Sorry, we're fully booked for the coming days. Please check back soon."), nil
	}
	if err := t.sendSlots(ctx, c, "Available times", "Here are the next open times. Tap one to book it:", slots); err != nil {
		return Result{}, err
	}
	return sent(ActionShowAvailability), nil
}

func (t *Table) sendSlots(ctx context.Context, c call, header, body string, slots []models.Slot) error {
	buttons := make([]models.Button, 0, len(slots))
	for _, s := range slots {
		buttons = append(buttons, models.Button{ID: SlotButtonID(s), Title: slotTitle(s)})
	}
	choice := gateway.Choice{Header: header, Body: body, Buttons: buttons}
	deliveryID, _, err := gateway.SendChoice(ctx, t.gateway, c.session.BusinessAddr, c.session.CustomerAddr, choice)
	if err != nil {
		return fmt.Errorf("failed to send slot options: %w", err)
	}
	t.appendTurn(ctx, c, &models.Turn{Role: models.RoleAssistant, Content: body, Buttons: buttons, DeliveryID: deliveryID})
	return nil
}

// offered reports whether arg, a book_slot argument, names one of options.
func offered(options []models.Slot, arg string) bool {
	for _, opt := range options {
		if opt.Datetime.Format(slotIDLayout) == arg {
			return true
		}
	}
	return false
}

// bookSlot books the tapped slot, or moves the pending appointment there
// when the slot is one of the options offered for the reschedule. Any
// other slot is a new booking and drops the pending reschedule.
func (t *Table) bookSlot(ctx context.Context, c call) (Result, error) {
	at, err := time.Parse(slotIDLayout, c.arg)
	if err != nil {
		return t.generic(ctx, c)
	}
	req := calendar.BookingRequest{
		Date:          at.Format(calendar.DateLayout),
		Time:          at.Format(calendar.TimeLayout),
		CustomerName:  c.session.CustomerName,
		CustomerPhone: c.session.CustomerPhone,
		Description:   "Booked from chat",
	}

	var event *models.CalendarEvent
	pending := c.metadata.PendingReschedule
	rescheduling := pending != nil && pending.EventID != "" && offered(pending.Options, c.arg)
	if pending != nil && !rescheduling {
		t.mergeMetadata(ctx, c, models.MetadataPatch{ClearPendingReschedule: true})
	}
	if rescheduling {
		event, err = t.calendar.RescheduleAppointment(ctx, c.session.AgentID, pending.EventID, req)
	} else {
		event, err = t.calendar.BookAppointment(ctx, c.session.AgentID, req)
	}

	switch {
	case errors.Is(err, calendar.ErrSlotUnavailable), errors.Is(err, calendar.ErrInvalidSlot):
		return reply(false, ActionBookSlot, "Sorry, that time is no longer available. Tap \"Show availability\" or ask me for other times."), nil
	case errors.Is(err, calendar.ErrNotFound):
		t.mergeMetadata(ctx, c, models.MetadataPatch{ClearPendingReschedule: true})
		return reply(false, ActionBookSlot, "I couldn't find the appointment you wanted to move. Tap a time again to book a new appointment."), nil
	case err != nil:
		return Result{}, err
	}

	t.mergeMetadata(ctx, c, models.MetadataPatch{
		ClearPendingReschedule: rescheduling,
		LastAppointment: &models.AppointmentRef{
			EventID:  event.ID,
			Start:    event.Start,
			Status:   string(event.Status),
			BookedAt: t.now(),
		},
	})

	summary := t.summary(ctx, c.session.AgentID, event)
	if rescheduling {
		return reply(true, ActionBookSlot, fmt.Sprintf("Done! Your appointment has been moved to %s.", summary)), nil
	}
	return reply(true, ActionBookSlot, actions.ConfirmationMessage(c.session.CustomerName, summary)), nil
}

func (t *Table) serviceRequest(ctx context.Context, c call) (Result, error) {
	service := strings.ReplaceAll(c.arg, "_", " ")
	if service == "" {
		service = c.tap.Title
	}
	if service == "" {
		service = "a service"
	}

	record := &models.ConversationRecord{
		ConversationID:   c.session.ConversationID,
		OwnerID:          c.session.OwnerID,
		CustomerPhone:    c.session.CustomerPhone,
		Kind:             models.RecordInquiry,
		Data:             map[string]any{"service": service, "source": "button", "button_id": c.tap.ID},
		FollowUpRequired: true,
	}
	if err := t.store.CreateRecord(ctx, record); err != nil {
		return Result{}, err
	}
	t.scheduleTask(ctx, c, "service_request", time.Hour, "Customer requested "+service, "high")

	return reply(true, ActionServiceRequest,
		fmt.Sprintf("Thanks! We've received your request for %s. Our team will contact you shortly.", service)), nil
}

func (t *Table) serviceRating(ctx context.Context, c call) (Result, error) {
	rating, err := strconv.Atoi(c.arg)
	if err != nil || rating < 1 || rating > 5 {
		return t.generic(ctx, c)
	}

	low := rating <= 2
	record := &models.ConversationRecord{
		ConversationID:   c.session.ConversationID,
		OwnerID:          c.session.OwnerID,
		CustomerPhone:    c.session.CustomerPhone,
		Kind:             models.RecordFeedback,
		Data:             map[string]any{"rating": rating, "source": "button"},
		FollowUpRequired: low,
	}
	if err := t.store.CreateRecord(ctx, record); err != nil {
		return Result{}, err
	}

	if _, err := t.store.UpdateLead(ctx, c.session.OwnerID, c.session.CustomerPhone, models.LeadUpdate{
		Note: fmt.Sprintf("Rated service %d/5", rating),
		Tags: []string{fmt.Sprintf("rating_%d", rating)},
	}); err != nil {
		t.logger.Warn("Failed to note rating on lead",
			zap.Error(err),
			zap.String("conversation_id", c.session.ConversationID))
	}

	if low {
		t.scheduleTask(ctx, c, "feedback_request", time.Hour, fmt.Sprintf("Customer rated the service %d/5", rating), "high")
		return reply(true, ActionServiceRating, "Thank you for your honest feedback. We're sorry we fell short, someone from our team will reach out to make it right."), nil
	}
	return reply(true, ActionServiceRating, "Thank you for your rating! We're glad you had a good experience."), nil
}

func (t *Table) supportTicket(ctx context.Context, c call) (Result, error) {
	data := map[string]any{"source": "button", "button_id": c.tap.ID, "status": "open"}
	if c.metadata.LastIntent != nil {
		data["last_intent"] = c.metadata.LastIntent.Label
	}
	if c.arg != "" {
		data["topic"] = strings.ReplaceAll(c.arg, "_", " ")
	}
	record := &models.ConversationRecord{
		ConversationID:   c.session.ConversationID,
		OwnerID:          c.session.OwnerID,
		CustomerPhone:    c.session.CustomerPhone,
		Kind:             models.RecordSupportTicket,
		Data:             data,
		FollowUpRequired: true,
	}
	if err := t.store.CreateRecord(ctx, record); err != nil {
		return Result{}, err
	}
	ref := TicketRef(record.ID)
	t.scheduleTask(ctx, c, "support", 2*time.Hour, "Support ticket #"+ref, "high")

	return reply(true, ActionSupportTicket,
		fmt.Sprintf("We've opened support ticket #%s for you. A member of our team will get back to you soon.", ref)), nil
}

// TicketRef is the short customer-facing reference of a ticket record.
func TicketRef(recordID string) string {
	ref := strings.ToUpper(strings.ReplaceAll(recordID, "-", ""))
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return ref
}

func (t *Table) menu(ctx context.Context, c call) (Result, error) {
	asset, err := t.store.GetActiveMediaAsset(ctx, c.session.OwnerID, "menu")
	if errors.Is(err, storage.ErrNotFound) {
		return reply(false, ActionMenu, "Sorry, our menu isn't available right now. Feel free to ask me about anything on it!"), nil
	}
	if err != nil {
		return Result{}, err
	}

	deliveryID, err := t.gateway.Send(ctx, c.session.BusinessAddr, c.session.CustomerAddr, asset.Caption, asset.URL)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send menu: %w", err)
	}
	t.appendTurn(ctx, c, &models.Turn{Role: models.RoleAssistant, Content: asset.Caption, Attachment: asset.URL, DeliveryID: deliveryID})
	return sent(ActionMenu), nil
}

func (t *Table) humanHandoff(ctx context.Context, c call) (Result, error) {
	if c.metadata.HandedOff() {
		return reply(true, ActionHumanHandoff, "A member of our team has already been notified and will reply here shortly."), nil
	}
	_, err := t.store.MergeMetadata(ctx, c.session.ConversationID, models.MetadataPatch{
		HumanTransfer: &models.HumanTransfer{Requested: true, RequestedAt: t.now(), Reason: "customer tapped " + c.tap.ID},
	})
	if err != nil {
		return Result{}, err
	}
	t.scheduleTask(ctx, c, "human_handoff", 0, "Customer asked to talk to a person", "urgent")

	return reply(true, ActionHumanHandoff, "I've asked a member of our team to join the conversation. They'll reply here shortly."), nil
}

// generic logs any tap without a dedicated handler so no tap goes unrecorded.
func (t *Table) generic(ctx context.Context, c call) (Result, error) {
	record := &models.ConversationRecord{
		ConversationID: c.session.ConversationID,
		OwnerID:        c.session.OwnerID,
		CustomerPhone:  c.session.CustomerPhone,
		Kind:           models.RecordButtonAction,
		Data:           map[string]any{"button_id": c.tap.ID, "title": c.tap.Title},
	}
	if err := t.store.CreateRecord(ctx, record); err != nil {
		return Result{}, err
	}
	return reply(true, ActionGeneric, "Thanks! We've received your selection and will get back to you if anything else is needed."), nil
}

func (t *Table) scheduleTask(ctx context.Context, c call, kind string, delay time.Duration, message, priority string) {
	task := &models.FollowUpTask{
		ConversationID: c.session.ConversationID,
		OwnerID:        c.session.OwnerID,
		CustomerPhone:  c.session.CustomerPhone,
		Type:           kind,
		DueAt:          t.now().Add(delay),
		Message:        message,
		Priority:       priority,
		Status:         models.TaskPending,
	}
	if err := t.store.CreateFollowUpTasks(ctx, task); err != nil {
		t.logger.Error("Failed to create follow-up task",
			zap.Error(err),
			zap.String("type", kind),
			zap.String("conversation_id", c.session.ConversationID))
	}
}

func (t *Table) rememberAppointment(ctx context.Context, c call, event *models.CalendarEvent) {
	ref := &models.AppointmentRef{EventID: event.ID, Start: event.Start, Status: string(event.Status), BookedAt: event.CreatedAt}
	if last := c.metadata.LastAppointment; last != nil && last.EventID == event.ID {
		ref.BookedAt = last.BookedAt
	}
	t.mergeMetadata(ctx, c, models.MetadataPatch{LastAppointment: ref})
}

func (t *Table) mergeMetadata(ctx context.Context, c call, patch models.MetadataPatch) {
	if _, err := t.store.MergeMetadata(ctx, c.session.ConversationID, patch); err != nil {
		t.logger.Error("Failed to merge conversation metadata",
			zap.Error(err),
			zap.String("conversation_id", c.session.ConversationID))
	}
}

func (t *Table) appendTurn(ctx context.Context, c call, turn *models.Turn) {
	if err := t.store.AppendTurn(ctx, c.session.ConversationID, turn); err != nil {
		t.logger.Error("Failed to append turn",
			zap.Error(err),
			zap.String("conversation_id", c.session.ConversationID))
	}
}

func (t *Table) summary(ctx context.Context, agentID string, event *models.CalendarEvent) string {
	cal, err := t.calendar.Calendar(ctx, agentID)
	if err != nil {
		return event.Summary(time.UTC)
	}
	return event.Summary(cal.Location())
}
