package actions

// CatalogVersion changes whenever an action or its schema changes.
const CatalogVersion = "2025-03.1"

type Kind string

const (
	KindSendMultimedia          Kind = "send_multimedia"
	KindSaveConversationData    Kind = "save_conversation_data"
	KindAnalyzeCustomerIntent   Kind = "analyze_customer_intent"
	KindScheduleFollowUp        Kind = "schedule_follow_up"
	KindCheckAvailability       Kind = "check_availability"
	KindBookAppointment         Kind = "book_appointment"
	KindSendInteractiveMessage  Kind = "send_interactive_message"
	KindGetUpcomingAppointments Kind = "get_upcoming_appointments"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// Format constrains string parameters beyond their type.
type Format string

const (
	FormatDate Format = "date" // YYYY-MM-DD
	FormatTime Format = "time" // HH:MM
)

// Param declares one argument. An object with no Properties accepts any
// keys; an object with Properties rejects undeclared ones.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Format      Format
	MaxLength   int
	Minimum     *float64
	Maximum     *float64
	MinItems    int
	MaxItems    int
	Items       *Param
	Properties  []Param
}

// Definition is one entry of the catalog.
type Definition struct {
	Kind        Kind
	Description string
	Params      []Param
}

func bound(v float64) *float64 { return &v }

var (
	mediaCategories = []string{"menu", "catalog", "price_list", "promotion", "location", "brochure"}
	recordKinds     = []string{"order", "appointment", "inquiry", "lead", "complaint", "feedback", "support_ticket"}
	intents         = []string{"purchase", "booking", "information", "pricing", "support", "complaint", "feedback", "greeting", "other"}
	followUpTypes   = []string{"reminder", "check_in", "promotion", "appointment_reminder", "feedback_request", "payment_reminder"}
	priorities      = []string{"low", "medium", "high", "urgent"}
	messageTypes    = []string{"buttons", "confirmation", "options"}
	scopes          = []string{"customer", "agent", "today"}
)

var catalog = []Definition{
	{
		Kind:        KindSendMultimedia,
		Description: "Send the business's configured media (menu, catalog, price list...) to the customer.",
		Params: []Param{
			{Name: "media_category", Type: TypeString, Required: true, Enum: mediaCategories, Description: "Which configured media to send."},
			{Name: "message", Type: TypeString, MaxLength: 1024, Description: "Optional caption sent with the media."},
		},
	},
	{
		Kind:        KindSaveConversationData,
		Description: "Persist a structured fact from the conversation (order, inquiry, complaint...). Records are permanent; call once per fact.",
		Params: []Param{
			{Name: "data_type", Type: TypeString, Required: true, Enum: recordKinds, Description: "Kind of fact being saved."},
			{Name: "data", Type: TypeObject, Required: true, Description: "Structured payload. Keys customer_name, email and notes also update the customer's lead."},
			{Name: "follow_up_required", Type: TypeBoolean, Description: "Whether a human should follow up on this record."},
		},
	},
	{
		Kind:        KindAnalyzeCustomerIntent,
		Description: "Record the customer's detected intent, qualification score and interest tags.",
		Params: []Param{
			{Name: "intent", Type: TypeString, Required: true, Enum: intents},
			{Name: "confidence", Type: TypeNumber, Required: true, Minimum: bound(0), Maximum: bound(1)},
			{Name: "lead_score", Type: TypeInteger, Minimum: bound(0), Maximum: bound(100), Description: "Qualification score, 0-100."},
			{Name: "tags", Type: TypeArray, MaxItems: 10, Items: &Param{Type: TypeString, MaxLength: 50}, Description: "Interest tags; added to the lead's existing tags."},
		},
	},
	{
		Kind:        KindScheduleFollowUp,
		Description: "Schedule a follow-up message to the customer after a delay.",
		Params: []Param{
			{Name: "follow_up_type", Type: TypeString, Required: true, Enum: followUpTypes},
			{Name: "delay_hours", Type: TypeInteger, Required: true, Minimum: bound(1), Maximum: bound(720)},
			{Name: "message", Type: TypeString, Required: true, MaxLength: 1024},
			{Name: "priority", Type: TypeString, Enum: priorities},
		},
	},
	{
		Kind:        KindCheckAvailability,
		Description: "List open appointment slots for a date, optionally for several consecutive days.",
		Params: []Param{
			{Name: "date", Type: TypeString, Required: true, Format: FormatDate, Description: "First date to check, YYYY-MM-DD."},
			{Name: "days_ahead", Type: TypeInteger, Minimum: bound(1), Maximum: bound(14), Description: "Number of consecutive days to check."},
		},
	},
	{
		Kind:        KindBookAppointment,
		Description: "Book an appointment in an open slot. Check availability first.",
		Params: []Param{
			{Name: "date", Type: TypeString, Required: true, Format: FormatDate},
			{Name: "time", Type: TypeString, Required: true, Format: FormatTime, Description: "Start time, HH:MM."},
			{Name: "customer_name", Type: TypeString, Required: true, MaxLength: 200},
			{Name: "customer_phone", Type: TypeString, MaxLength: 50, Description: "Defaults to the current customer's number."},
			{Name: "customer_email", Type: TypeString, MaxLength: 200},
			{Name: "description", Type: TypeString, MaxLength: 1000},
			{Name: "send_confirmation", Type: TypeBoolean, Description: "Send the customer a confirmation message."},
		},
	},
	{
		Kind:        KindSendInteractiveMessage,
		Description: "Send a message with up to three buttons the customer can tap.",
		Params: []Param{
			{Name: "message_type", Type: TypeString, Required: true, Enum: messageTypes},
			{Name: "header", Type: TypeString, MaxLength: 60},
			{Name: "body", Type: TypeString, Required: true, MaxLength: 1024},
			{Name: "footer", Type: TypeString, MaxLength: 60},
			{Name: "buttons", Type: TypeArray, Required: true, MinItems: 1, MaxItems: 3, Items: &Param{
				Type: TypeObject,
				Properties: []Param{
					{Name: "id", Type: TypeString, Required: true, MaxLength: 64},
					{Name: "title", Type: TypeString, Required: true, MaxLength: 20},
				},
			}},
			{Name: "context", Type: TypeObject, Description: "Context remembered for when a button is tapped."},
		},
	},
	{
		Kind:        KindGetUpcomingAppointments,
		Description: "List upcoming appointments for the current customer, the whole agent, or today.",
		Params: []Param{
			{Name: "scope", Type: TypeString, Required: true, Enum: scopes},
			{Name: "limit", Type: TypeInteger, Minimum: bound(1), Maximum: bound(20)},
		},
	},
}

// Catalog returns the action definitions in a stable order.
func Catalog() []Definition {
	return append([]Definition(nil), catalog...)
}

// Lookup finds the definition for an action name.
func Lookup(name string) (Definition, bool) {
	for _, d := range catalog {
		if string(d.Kind) == name {
			return d, true
		}
	}
	return Definition{}, false
}

// JSONSchema renders the parameters as a JSON-schema object.
func (d Definition) JSONSchema() map[string]any {
	return objectSchema(d.Params)
}

func objectSchema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.Name] = p.schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

func (p Param) schema() map[string]any {
	if p.Type == TypeObject && len(p.Properties) > 0 {
		s := objectSchema(p.Properties)
		if p.Description != "" {
			s["description"] = p.Description
		}
		return s
	}

	s := map[string]any{"type": string(p.Type)}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	switch p.Format {
	case FormatDate:
		s["pattern"] = `^\d{4}-\d{2}-\d{2}$`
	case FormatTime:
		s["pattern"] = `^\d{2}:\d{2}$`
	}
	if p.MaxLength > 0 {
		s["maxLength"] = p.MaxLength
	}
	if p.Minimum != nil {
		s["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		s["maximum"] = *p.Maximum
	}
	if p.MinItems > 0 {
		s["minItems"] = p.MinItems
	}
	if p.MaxItems > 0 {
		s["maxItems"] = p.MaxItems
	}
	if p.Items != nil {
		s["items"] = p.Items.schema()
	}
	return s
}
