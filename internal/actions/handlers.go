package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultUpcomingLimit = 5
	defaultPriority      = "medium"
)

func (x *Executor) sendMultimedia(ctx context.Context, s models.Session, a *SendMultimedia) Result {
	asset, err := x.store.GetActiveMediaAsset(ctx, s.OwnerID, a.MediaCategory)
	if errors.Is(err, storage.ErrNotFound) {
		return fail(CodeAssetNotFound,
			fmt.Sprintf("No %s is configured for this business", a.MediaCategory),
			map[string]any{"media_category": a.MediaCategory, "suggestion": "Tell the customer this media is not available right now."})
	}
	if err != nil {
		return failFrom(err, "failed to load media")
	}

	caption := a.Message
	if caption == "" {
		caption = asset.Caption
	}
	deliveryID, err := x.gateway.Send(ctx, s.BusinessAddr, s.CustomerAddr, caption, asset.URL)
	if err != nil {
		x.logger.Error("Failed to send media",
			zap.Error(err),
			zap.String("conversation_id", s.ConversationID),
			zap.String("media_category", a.MediaCategory))
		return failFrom(err, "failed to send media")
	}

	x.appendTurn(ctx, s, &models.Turn{
		Role:       models.RoleAssistant,
		Content:    caption,
		Attachment: asset.URL,
		DeliveryID: deliveryID,
	})

	return ok(map[string]any{
		"media_sent":     true,
		"media_category": a.MediaCategory,
		"delivery_id":    deliveryID,
	})
}

func (x *Executor) saveConversationData(ctx context.Context, s models.Session, a *SaveConversationData) Result {
	record := &models.ConversationRecord{
		ConversationID:   s.ConversationID,
		OwnerID:          s.OwnerID,
		CustomerPhone:    s.CustomerPhone,
		Kind:             a.DataType,
		Data:             a.Data,
		FollowUpRequired: a.FollowUpRequired,
	}
	if err := x.store.CreateRecord(ctx, record); err != nil {
		return failFrom(err, "failed to save conversation data")
	}

	// The record is already written; a lead failure only loses enrichment.
	update := models.LeadUpdate{
		Name:  firstString(a.Data, "customer_name", "name"),
		Email: firstString(a.Data, "customer_email", "email"),
		Note:  firstString(a.Data, "notes", "note"),
	}
	leadUpdated := false
	if update.Name != "" || update.Email != "" || update.Note != "" {
		if _, err := x.store.UpdateLead(ctx, s.OwnerID, s.CustomerPhone, update); err != nil {
			x.logger.Warn("Failed to update lead from saved data",
				zap.Error(err),
				zap.String("conversation_id", s.ConversationID))
		} else {
			leadUpdated = true
		}
	}

	return ok(map[string]any{
		"saved":              true,
		"record_id":          record.ID,
		"data_type":          string(a.DataType),
		"follow_up_required": a.FollowUpRequired,
		"lead_updated":       leadUpdated,
	})
}

func (x *Executor) analyzeCustomerIntent(ctx context.Context, s models.Session, a *AnalyzeCustomerIntent) Result {
	update := models.LeadUpdate{Score: a.LeadScore, Tags: a.Tags}
	if a.LeadScore != nil {
		update.Status = models.LeadStatusForScore(*a.LeadScore)
	}
	lead, err := x.store.UpdateLead(ctx, s.OwnerID, s.CustomerPhone, update)
	if err != nil {
		return failFrom(err, "failed to update lead")
	}

	_, err = x.store.MergeMetadata(ctx, s.ConversationID, models.MetadataPatch{
		LastIntent: &models.IntentSnapshot{
			Label:      a.Intent,
			Confidence: a.Confidence,
			Score:      a.LeadScore,
			DetectedAt: x.now(),
		},
	})
	if err != nil {
		return failFrom(err, "failed to record intent")
	}

	return ok(map[string]any{
		"intent":      a.Intent,
		"confidence":  a.Confidence,
		"lead_score":  lead.Score,
		"lead_status": lead.Status,
		"tags":        lead.Tags,
	})
}

func (x *Executor) scheduleFollowUp(ctx context.Context, s models.Session, a *ScheduleFollowUp) Result {
	priority := a.Priority
	if priority == "" {
		priority = defaultPriority
	}
	task := &models.FollowUpTask{
		ConversationID: s.ConversationID,
		OwnerID:        s.OwnerID,
		CustomerPhone:  s.CustomerPhone,
		Type:           a.FollowUpType,
		DueAt:          x.now().Add(time.Duration(a.DelayHours) * time.Hour),
		Message:        a.Message,
		Priority:       priority,
		Status:         models.TaskPending,
	}
	if err := x.store.CreateFollowUpTasks(ctx, task); err != nil {
		return failFrom(err, "failed to schedule follow-up")
	}

	return ok(map[string]any{
		"scheduled": true,
		"task_id":   task.ID,
		"type":      task.Type,
		"due_at":    task.DueAt.Format(time.RFC3339),
		"priority":  task.Priority,
		"status":    task.Status,
	})
}

func (x *Executor) checkAvailability(ctx context.Context, s models.Session, a *CheckAvailability) Result {
	days := a.DaysAhead
	if days < 1 {
		days = 1
	}
	schedule, err := x.calendar.GetAvailabilityRange(ctx, s.AgentID, a.Date, days)
	if err != nil {
		return failFrom(err, "failed to check availability")
	}

	if days == 1 {
		return ok(availabilityFields(schedule[0]))
	}
	out := make([]map[string]any, 0, len(schedule))
	anyOpen := false
	for _, d := range schedule {
		out = append(out, availabilityFields(d))
		anyOpen = anyOpen || d.Available
	}
	return ok(map[string]any{
		"available": anyOpen,
		"days":      out,
	})
}

func availabilityFields(a *models.Availability) map[string]any {
	times := make([]string, 0, len(a.Slots))
	for _, slot := range a.Slots {
		times = append(times, slot.Time)
	}
	fields := map[string]any{
		"date":      a.Date,
		"available": a.Available,
		"slots":     times,
	}
	if a.Reason != "" {
		fields["reason"] = a.Reason
	}
	return fields
}

func (x *Executor) bookAppointment(ctx context.Context, s models.Session, a *BookAppointment) Result {
	phone := a.CustomerPhone
	if phone == "" {
		phone = s.CustomerPhone
	}
	event, err := x.calendar.BookAppointment(ctx, s.AgentID, calendar.BookingRequest{
		Date:          a.Date,
		Time:          a.Time,
		CustomerName:  a.CustomerName,
		CustomerPhone: phone,
		CustomerEmail: a.CustomerEmail,
		Description:   a.Description,
	})
	if errors.Is(err, calendar.ErrSlotUnavailable) {
		res := failFrom(err, "")
		res.Fields["booked"] = false
		res.Fields["suggestion"] = "Check availability for this date and offer the customer one of the open slots."
		return res
	}
	if err != nil {
		return failFrom(err, "failed to book appointment")
	}

	summary := x.eventSummary(ctx, s.AgentID, event)
	if _, err := x.store.MergeMetadata(ctx, s.ConversationID, models.MetadataPatch{
		LastAppointment: &models.AppointmentRef{
			EventID:  event.ID,
			Start:    event.Start,
			Status:   string(event.Status),
			BookedAt: x.now(),
		},
	}); err != nil {
		x.logger.Error("Failed to remember booked appointment",
			zap.Error(err),
			zap.String("conversation_id", s.ConversationID),
			zap.String("event_id", event.ID))
	}

	fields := map[string]any{
		"booked":         true,
		"appointment_id": event.ID,
		"date":           a.Date,
		"time":           a.Time,
		"start":          event.Start.Format(time.RFC3339),
		"end":            event.End.Format(time.RFC3339),
		"summary":        summary,
		"status":         string(event.Status),
	}

	if a.SendConfirmation {
		body := ConfirmationMessage(a.CustomerName, summary)
		deliveryID, err := x.gateway.Send(ctx, s.BusinessAddr, s.CustomerAddr, body)
		if err != nil {
			x.logger.Error("Failed to send booking confirmation",
				zap.Error(err),
				zap.String("event_id", event.ID))
			fields["confirmation_sent"] = false
		} else {
			x.appendTurn(ctx, s, &models.Turn{Role: models.RoleAssistant, Content: body, DeliveryID: deliveryID})
			fields["confirmation_sent"] = true
		}
	}
	return ok(fields)
}

// ConfirmationMessage is the text sent to a customer after booking.
func ConfirmationMessage(name, summary string) string {
	greeting := "Hi"
	if name != "" {
		greeting = "Hi " + name
	}
	return fmt.Sprintf("%s, your appointment is booked for %s. Reply here if you need to change it.", greeting, summary)
}

func (x *Executor) sendInteractiveMessage(ctx context.Context, s models.Session, a *SendInteractiveMessage) Result {
	choice := gateway.Choice{Header: a.Header, Body: a.Body, Footer: a.Footer, Buttons: a.Buttons}
	deliveryID, native, err := gateway.SendChoice(ctx, x.gateway, s.BusinessAddr, s.CustomerAddr, choice)
	if err != nil {
		x.logger.Error("Failed to send interactive message",
			zap.Error(err),
			zap.String("conversation_id", s.ConversationID))
		return failFrom(err, "failed to send interactive message")
	}

	x.appendTurn(ctx, s, &models.Turn{
		Role:       models.RoleAssistant,
		Content:    a.Body,
		Buttons:    a.Buttons,
		DeliveryID: deliveryID,
	})

	interactive := map[string]any{"message_type": a.MessageType}
	for k, v := range a.Context {
		interactive[k] = v
	}
	if _, err := x.store.MergeMetadata(ctx, s.ConversationID, models.MetadataPatch{InteractiveContext: interactive}); err != nil {
		x.logger.Warn("Failed to store interactive context",
			zap.Error(err),
			zap.String("conversation_id", s.ConversationID))
	}

	return ok(map[string]any{
		"sent":           true,
		"delivery_id":    deliveryID,
		"native_buttons": native,
		"button_count":   len(a.Buttons),
	})
}

func (x *Executor) getUpcomingAppointments(ctx context.Context, s models.Session, a *GetUpcomingAppointments) Result {
	limit := a.Limit
	if limit <= 0 {
		limit = defaultUpcomingLimit
	}

	var (
		events []*models.CalendarEvent
		err    error
	)
	switch a.Scope {
	case "today":
		events, err = x.calendar.GetTodayEvents(ctx, s.AgentID)
		if len(events) > limit {
			events = events[:limit]
		}
	case "agent":
		events, err = x.calendar.GetUpcomingAppointments(ctx, s.AgentID, "", limit)
	default:
		events, err = x.calendar.GetUpcomingAppointments(ctx, s.AgentID, s.CustomerPhone, limit)
	}
	if err != nil {
		return failFrom(err, "failed to list appointments")
	}

	cal, err := x.calendar.Calendar(ctx, s.AgentID)
	if err != nil {
		return failFrom(err, "failed to load calendar")
	}
	loc := cal.Location()
	items := make([]map[string]any, 0, len(events))
	for _, e := range events {
		start := e.Start.In(loc)
		items = append(items, map[string]any{
			"id":            e.ID,
			"date":          start.Format(calendar.DateLayout),
			"time":          start.Format(calendar.TimeLayout),
			"customer_name": e.CustomerName,
			"status":        string(e.Status),
			"description":   e.Description,
		})
	}
	return ok(map[string]any{
		"scope":        a.Scope,
		"count":        len(items),
		"appointments": items,
	})
}

func (x *Executor) eventSummary(ctx context.Context, agentID string, event *models.CalendarEvent) string {
	cal, err := x.calendar.Calendar(ctx, agentID)
	if err != nil {
		return event.Summary(time.UTC)
	}
	return event.Summary(cal.Location())
}

// appendTurn logs outbound side effects into the conversation. The side
// effect already happened, so a failure here is logged and not returned.
func (x *Executor) appendTurn(ctx context.Context, s models.Session, turn *models.Turn) {
	if err := x.store.AppendTurn(ctx, s.ConversationID, turn); err != nil {
		x.logger.Error("Failed to append turn",
			zap.Error(err),
			zap.String("conversation_id", s.ConversationID))
	}
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
