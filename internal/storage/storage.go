package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/bizchat/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrOverlap is returned when an insert would overlap a non-cancelled
	// event on the same calendar.
	ErrOverlap = errors.New("storage: event overlaps an existing event")
)

type Storage interface {
	CalendarStore
	ConversationStore
	LeadStore
	RecordStore
	MediaStore
	Close() error
}

// CalendarStore persists calendars and their events. InsertEvent and
// RescheduleEvent perform the overlap check and the write atomically.
type CalendarStore interface {
	GetCalendar(ctx context.Context, agentID string) (*models.Calendar, error)
	GetOrCreateCalendar(ctx context.Context, defaults *models.Calendar) (*models.Calendar, error)
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*models.CalendarEvent, error)
	InsertEvent(ctx context.Context, event *models.CalendarEvent) error
	RescheduleEvent(ctx context.Context, oldEventID string, event *models.CalendarEvent) error
	GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error)
	// TransitionEventStatus moves the event to status to only when its
	// current status is one of from. Otherwise the event is returned as is.
	TransitionEventStatus(ctx context.Context, id string, from []models.EventStatus, to models.EventStatus) (*models.CalendarEvent, error)
	ListUpcomingEvents(ctx context.Context, calendarID string, from time.Time, phone string, limit int) ([]*models.CalendarEvent, error)
	CountEventsByStatus(ctx context.Context, calendarID string, from, to time.Time) (map[models.EventStatus]int, error)
}

type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, sessionKey, agentID, phone string) (*models.Conversation, error)
	// GetConversation loads the conversation with at most turnLimit of its
	// most recent turns, oldest first. A non-positive limit loads all turns.
	GetConversation(ctx context.Context, id string, turnLimit int) (*models.Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error
	MergeMetadata(ctx context.Context, conversationID string, patch models.MetadataPatch) (*models.ConversationMetadata, error)
}

type LeadStore interface {
	GetLead(ctx context.Context, ownerID, phone string) (*models.CustomerLead, error)
	// UpdateLead upserts the lead for (ownerID, phone) and applies update.
	UpdateLead(ctx context.Context, ownerID, phone string, update models.LeadUpdate) (*models.CustomerLead, error)
}

type RecordStore interface {
	CreateRecord(ctx context.Context, record *models.ConversationRecord) error
	ListRecords(ctx context.Context, conversationID string) ([]*models.ConversationRecord, error)
	CreateFollowUpTasks(ctx context.Context, tasks ...*models.FollowUpTask) error
	ListFollowUpTasks(ctx context.Context, conversationID string) ([]*models.FollowUpTask, error)
}

type MediaStore interface {
	// UpsertMediaAsset makes asset the single active asset for its
	// owner and category.
	UpsertMediaAsset(ctx context.Context, asset *models.MediaAsset) error
	GetActiveMediaAsset(ctx context.Context, ownerID, category string) (*models.MediaAsset, error)
}

// FormatNote renders an appended lead note with its timestamp marker.
func FormatNote(at time.Time, note string) string {
	return "[" + at.Format("2006-01-02 15:04") + "] " + note
}

// AppendNote appends a marked note to existing notes.
func AppendNote(existing string, at time.Time, note string) string {
	if note == "" {
		return existing
	}
	if existing == "" {
		return FormatNote(at, note)
	}
	return existing + "\n" + FormatNote(at, note)
}

// UnionTags appends the tags not already present, preserving order.
func UnionTags(existing []string, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, t := range existing {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range add {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
