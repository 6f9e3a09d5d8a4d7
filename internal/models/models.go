package models

import "time"

// CustomerLead is the qualification record for one customer of one business owner.
type CustomerLead struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Score     int       `json:"score"`
	Status    string    `json:"status"`
	Tags      []string  `json:"tags"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	LeadNew        = "new"
	LeadInterested = "interested"
	LeadQualified  = "qualified"
)

// LeadStatusForScore maps a qualification score to a lead status.
func LeadStatusForScore(score int) string {
	switch {
	case score >= 70:
		return LeadQualified
	case score >= 40:
		return LeadInterested
	default:
		return LeadNew
	}
}

// LeadUpdate carries optional changes to a lead. Tags are unioned into the
// stored set and Note is appended, never replacing earlier notes.
type LeadUpdate struct {
	Name   string
	Email  string
	Note   string
	Score  *int
	Status string
	Tags   []string
}

type RecordKind string

const (
	RecordOrder         RecordKind = "order"
	RecordAppointment   RecordKind = "appointment"
	RecordInquiry       RecordKind = "inquiry"
	RecordLead          RecordKind = "lead"
	RecordComplaint     RecordKind = "complaint"
	RecordFeedback      RecordKind = "feedback"
	RecordSupportTicket RecordKind = "support_ticket"
	RecordButtonAction  RecordKind = "button_action"
)

// ConversationRecord is an immutable fact extracted from a conversation.
type ConversationRecord struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	OwnerID          string         `json:"owner_id"`
	CustomerPhone    string         `json:"customer_phone"`
	Kind             RecordKind     `json:"kind"`
	Data             map[string]any `json:"data"`
	FollowUpRequired bool           `json:"follow_up_required"`
	CreatedAt        time.Time      `json:"created_at"`
}

const (
	TaskPending   = "PENDING"
	TaskCompleted = "COMPLETED"
	TaskCancelled = "CANCELLED"
)

// FollowUpTask is a deferred action drained by an external scheduler.
type FollowUpTask struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	CustomerPhone  string    `json:"customer_phone"`
	Type           string    `json:"type"`
	DueAt          time.Time `json:"due_at"`
	Message        string    `json:"message"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// MediaAsset is a configured piece of media an agent can send.
type MediaAsset struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Category string `json:"category"`
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	Active   bool   `json:"active"`
}

// Session identifies who is on both sides of the turn being handled.
type Session struct {
	AgentID        string
	OwnerID        string
	ConversationID string
	BusinessAddr   string
	CustomerAddr   string
	CustomerPhone  string
	CustomerName   string
}
