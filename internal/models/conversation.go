package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation is the long-lived record for one session key.
type Conversation struct {
	ID            string               `json:"id"`
	SessionKey    string               `json:"session_key"`
	AgentID       string               `json:"agent_id"`
	CustomerPhone string               `json:"customer_phone"`
	Turns         []Turn               `json:"turns"`
	Metadata      ConversationMetadata `json:"metadata"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Turn is one entry of the append-only conversation log.
type Turn struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Attachment string    `json:"attachment,omitempty"`
	Buttons    []Button  `json:"buttons,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Button is a predefined choice offered to the customer.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// AppointmentRef points at the most recently booked appointment.
type AppointmentRef struct {
	EventID  string    `json:"event_id"`
	Start    time.Time `json:"start"`
	Status   string    `json:"status"`
	BookedAt time.Time `json:"booked_at"`
}

type IntentSnapshot struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Score      *int      `json:"score,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// RescheduleOptions are the slots offered for moving an appointment.
type RescheduleOptions struct {
	EventID   string    `json:"event_id"`
	Options   []Slot    `json:"options"`
	OfferedAt time.Time `json:"offered_at"`
}

type HumanTransfer struct {
	Requested   bool      `json:"requested"`
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}

// ConversationMetadata is the cross-turn side channel. Every field is
// optional and is only ever changed through Merge.
type ConversationMetadata struct {
	LastAppointment    *AppointmentRef    `json:"last_appointment,omitempty"`
	LastIntent         *IntentSnapshot    `json:"last_intent,omitempty"`
	PendingReschedule  *RescheduleOptions `json:"pending_reschedule,omitempty"`
	HumanTransfer      *HumanTransfer     `json:"human_transfer,omitempty"`
	InteractiveContext map[string]any     `json:"interactive_context,omitempty"`
}

// MetadataPatch is a partial update. Nil fields leave the stored value alone.
type MetadataPatch struct {
	LastAppointment        *AppointmentRef    `json:"last_appointment,omitempty"`
	LastIntent             *IntentSnapshot    `json:"last_intent,omitempty"`
	PendingReschedule      *RescheduleOptions `json:"pending_reschedule,omitempty"`
	HumanTransfer          *HumanTransfer     `json:"human_transfer,omitempty"`
	InteractiveContext     map[string]any     `json:"interactive_context,omitempty"`
	ClearPendingReschedule bool               `json:"-"`
	ClearHumanTransfer     bool               `json:"-"`
}

// IsEmpty reports whether applying the patch would change nothing.
func (p MetadataPatch) IsEmpty() bool {
	return p.LastAppointment == nil && p.LastIntent == nil && p.PendingReschedule == nil &&
		p.HumanTransfer == nil && len(p.InteractiveContext) == 0 &&
		!p.ClearPendingReschedule && !p.ClearHumanTransfer
}

// ClearedKeys lists the JSON keys the patch removes.
func (p MetadataPatch) ClearedKeys() []string {
	keys := []string{}
	if p.ClearPendingReschedule {
		keys = append(keys, "pending_reschedule")
	}
	if p.ClearHumanTransfer {
		keys = append(keys, "human_transfer")
	}
	return keys
}

// Merge applies the patch. Clears run before sets so a patch can replace a
// value in one step. InteractiveContext merges key by key.
func (m *ConversationMetadata) Merge(p MetadataPatch) {
	if p.ClearPendingReschedule {
		m.PendingReschedule = nil
	}
	if p.ClearHumanTransfer {
		m.HumanTransfer = nil
	}
	if p.LastAppointment != nil {
		v := *p.LastAppointment
		m.LastAppointment = &v
	}
	if p.LastIntent != nil {
		v := *p.LastIntent
		m.LastIntent = &v
	}
	if p.PendingReschedule != nil {
		v := *p.PendingReschedule
		v.Options = append([]Slot(nil), p.PendingReschedule.Options...)
		m.PendingReschedule = &v
	}
	if p.HumanTransfer != nil {
		v := *p.HumanTransfer
		m.HumanTransfer = &v
	}
	if len(p.InteractiveContext) > 0 {
		if m.InteractiveContext == nil {
			m.InteractiveContext = make(map[string]any, len(p.InteractiveContext))
		}
		for k, v := range p.InteractiveContext {
			m.InteractiveContext[k] = v
		}
	}
}

// HandedOff reports whether a human has taken over the conversation.
func (m ConversationMetadata) HandedOff() bool {
	return m.HumanTransfer != nil && m.HumanTransfer.Requested
}
