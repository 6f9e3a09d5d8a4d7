package buttons

import (
	"context"
	"strings"
	"time"

	"github.com/xaenox/bizchat/internal/actions"
	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"go.uber.org/zap"
)

const (
	ActionConfirmAppointment    = "confirm_appointment"
	ActionRescheduleAppointment = "reschedule_appointment"
	ActionCancelAppointment     = "cancel_appointment"
	ActionShowAvailability      = "show_availability"
	ActionBookSlot              = "book_slot"
	ActionServiceRequest        = "service_request"
	ActionServiceRating         = "service_rating"
	ActionSupportTicket         = "support_ticket"
	ActionMenu                  = "menu"
	ActionHumanHandoff          = "human_handoff"
	ActionGeneric               = "generic"
)

const apologyReply = "Sorry, something went wrong on our side. Please try again in a moment or just type your question."

// Tap is one press of a predefined button.
type Tap struct {
	ID    string
	Title string
}

// Result is what a button handler produced. Response is nil when the
// handler already sent its own outbound message.
type Result struct {
	Success  bool    `json:"success"`
	Response *string `json:"response"`
	Action   string  `json:"action"`
}

func reply(success bool, action, text string) Result {
	return Result{Success: success, Response: &text, Action: action}
}

func sent(action string) Result {
	return Result{Success: true, Action: action}
}

// call is the context handed to a handler: who tapped, the argument
// carried in the button id, and the conversation metadata at tap time.
type call struct {
	session  models.Session
	tap      Tap
	arg      string
	metadata models.ConversationMetadata
}

type handlerFunc func(ctx context.Context, c call) (Result, error)

type route struct {
	action   string
	patterns []string
	handle   handlerFunc
}

type Config struct {
	SlotDays    int
	SlotOptions int
}

// Table resolves button ids to handlers. It is the deterministic
// counterpart of the action executor for customer taps.
type Table struct {
	store    actions.Store
	calendar *calendar.Engine
	gateway  gateway.Gateway
	logger   *zap.Logger
	now      func() time.Time
	config   Config
	routes   []route
}

func NewTable(store actions.Store, engine *calendar.Engine, gw gateway.Gateway, cfg Config, now func() time.Time, logger *zap.Logger) *Table {
	if now == nil {
		now = time.Now
	}
	if cfg.SlotDays <= 0 {
		cfg.SlotDays = 7
	}
	if cfg.SlotOptions <= 0 || cfg.SlotOptions > 3 {
		cfg.SlotOptions = 3
	}
	t := &Table{
		store:    store,
		calendar: engine,
		gateway:  gw,
		logger:   logger,
		now:      now,
		config:   cfg,
	}
	t.routes = []route{
		{ActionConfirmAppointment, []string{"confirm_appointment", "appointment_confirm"}, t.confirmAppointment},
		{ActionRescheduleAppointment, []string{"reschedule_appointment", "appointment_reschedule"}, t.rescheduleAppointment},
		{ActionCancelAppointment, []string{"cancel_appointment", "appointment_cancel"}, t.cancelAppointment},
		{ActionShowAvailability, []string{"show_availability", "check_availability"}, t.showAvailability},
		{ActionBookSlot, []string{"book_slot"}, t.bookSlot},
		{ActionServiceRequest, []string{"service_request", "request_service"}, t.serviceRequest},
		{ActionServiceRating, []string{"rate", "rating"}, t.serviceRating},
		{ActionSupportTicket, []string{"support_ticket", "create_ticket"}, t.supportTicket},
		{ActionMenu, []string{"view_menu", "menu"}, t.menu},
		{ActionHumanHandoff, []string{"talk_to_human", "human_agent", "handoff"}, t.humanHandoff},
	}
	return t
}

// match finds the route for a button id. An id matches a pattern exactly
// or as "pattern:arg" / "pattern_arg".
func (t *Table) match(id string) (route, string, bool) {
	id = strings.TrimSpace(id)
	lower := strings.ToLower(id)
	for _, r := range t.routes {
		for _, p := range r.patterns {
			if lower == p {
				return r, "", true
			}
			if strings.HasPrefix(lower, p) && len(lower) > len(p)+1 && (lower[len(p)] == ':' || lower[len(p)] == '_') {
				return r, id[len(p)+1:], true
			}
		}
	}
	return route{}, "", false
}

// Handle runs the handler for a tap. It always returns a Result with either
// a response to send or a handler that already replied.
func (t *Table) Handle(ctx context.Context, session models.Session, tap Tap) Result {
	label := tap.Title
	if label == "" {
		label = tap.ID
	}
	if err := t.store.AppendTurn(ctx, session.ConversationID, &models.Turn{Role: models.RoleUser, Content: "[button] " + label}); err != nil {
		t.logger.Error("Failed to record button tap",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID),
			zap.String("button_id", tap.ID))
	}

	c := call{session: session, tap: tap}
	if conv, err := t.store.GetConversation(ctx, session.ConversationID, 1); err != nil {
		t.logger.Warn("Failed to load conversation metadata",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID))
	} else {
		c.metadata = conv.Metadata
	}

	r, arg, found := t.match(tap.ID)
	if !found {
		r = route{action: ActionGeneric, handle: t.generic}
	}
	c.arg = arg

	res, err := r.handle(ctx, c)
	if err != nil {
		t.logger.Error("Button handler failed",
			zap.Error(err),
			zap.String("action", r.action),
			zap.String("button_id", tap.ID),
			zap.String("conversation_id", session.ConversationID))
		return reply(false, r.action, apologyReply)
	}

	t.logger.Info("Button handled",
		zap.String("action", res.Action),
		zap.String("button_id", tap.ID),
		zap.Bool("success", res.Success),
		zap.Bool("sent_by_handler", res.Response == nil))
	return res
}
