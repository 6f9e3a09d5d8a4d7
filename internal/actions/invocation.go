package actions

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xaenox/bizchat/internal/models"
)

// Invocation is a decoded, validated action request. The set of
// implementations is closed: one per Kind.
type Invocation interface {
	Kind() Kind
	isInvocation()
}

type SendMultimedia struct {
	MediaCategory string `json:"media_category"`
	Message       string `json:"message,omitempty"`
}

type SaveConversationData struct {
	DataType         models.RecordKind `json:"data_type"`
	Data             map[string]any    `json:"data"`
	FollowUpRequired bool              `json:"follow_up_required,omitempty"`
}

type AnalyzeCustomerIntent struct {
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	LeadScore  *int     `json:"lead_score,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

type ScheduleFollowUp struct {
	FollowUpType string `json:"follow_up_type"`
	DelayHours   int    `json:"delay_hours"`
	Message      string `json:"message"`
	Priority     string `json:"priority,omitempty"`
}

type CheckAvailability struct {
	Date      string `json:"date"`
	DaysAhead int    `json:"days_ahead,omitempty"`
}

type BookAppointment struct {
	Date             string `json:"date"`
	Time             string `json:"time"`
	CustomerName     string `json:"customer_name"`
	CustomerPhone    string `json:"customer_phone,omitempty"`
	CustomerEmail    string `json:"customer_email,omitempty"`
	Description      string `json:"description,omitempty"`
	SendConfirmation bool   `json:"send_confirmation,omitempty"`
}

type SendInteractiveMessage struct {
	MessageType string          `json:"message_type"`
	Header      string          `json:"header,omitempty"`
	Body        string          `json:"body"`
	Footer      string          `json:"footer,omitempty"`
	Buttons     []models.Button `json:"buttons"`
	Context     map[string]any  `json:"context,omitempty"`
}

type GetUpcomingAppointments struct {
	Scope string `json:"scope"`
	Limit int    `json:"limit,omitempty"`
}

func (*SendMultimedia) Kind() Kind          { return KindSendMultimedia }
func (*SaveConversationData) Kind() Kind    { return KindSaveConversationData }
func (*AnalyzeCustomerIntent) Kind() Kind   { return KindAnalyzeCustomerIntent }
func (*ScheduleFollowUp) Kind() Kind        { return KindScheduleFollowUp }
func (*CheckAvailability) Kind() Kind       { return KindCheckAvailability }
func (*BookAppointment) Kind() Kind         { return KindBookAppointment }
func (*SendInteractiveMessage) Kind() Kind  { return KindSendInteractiveMessage }
func (*GetUpcomingAppointments) Kind() Kind { return KindGetUpcomingAppointments }

func (*SendMultimedia) isInvocation()          {}
func (*SaveConversationData) isInvocation()    {}
func (*AnalyzeCustomerIntent) isInvocation()   {}
func (*ScheduleFollowUp) isInvocation()        {}
func (*CheckAvailability) isInvocation()       {}
func (*BookAppointment) isInvocation()         {}
func (*SendInteractiveMessage) isInvocation()  {}
func (*GetUpcomingAppointments) isInvocation() {}

func newInvocation(kind Kind) Invocation {
	switch kind {
	case KindSendMultimedia:
		return &SendMultimedia{}
	case KindSaveConversationData:
		return &SaveConversationData{}
	case KindAnalyzeCustomerIntent:
		return &AnalyzeCustomerIntent{}
	case KindScheduleFollowUp:
		return &ScheduleFollowUp{}
	case KindCheckAvailability:
		return &CheckAvailability{}
	case KindBookAppointment:
		return &BookAppointment{}
	case KindSendInteractiveMessage:
		return &SendInteractiveMessage{}
	case KindGetUpcomingAppointments:
		return &GetUpcomingAppointments{}
	}
	return nil
}

// Decode validates raw arguments against the action's schema and decodes
// them into its typed invocation. Any failure is a *ValidationError.
func Decode(name string, raw json.RawMessage) (Invocation, error) {
	def, ok := Lookup(name)
	if !ok {
		return nil, newValidationError("action", fmt.Sprintf("unknown action %q", name))
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var args map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, newValidationError("arguments", "arguments must be a JSON object")
	}

	vErr := &ValidationError{}
	validateObject(def.Params, args, "", vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}

	inv := newInvocation(def.Kind)
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, newValidationError("arguments", err.Error())
	}
	return inv, nil
}
