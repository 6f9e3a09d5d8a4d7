package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/bizchat/internal/actions"
	"github.com/xaenox/bizchat/internal/classifier"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 20

	summaryReply = "Thanks, I've taken care of that for you. Is there anything else I can help with?"
)

// Runner executes one catalog action. *actions.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, session models.Session, name string, raw json.RawMessage) actions.Result
}

type Config struct {
	SystemPrompt string
	HistoryLimit int
	Params       Params
}

// Outcome records one executed action of a turn.
type Outcome struct {
	Action string
	Result actions.Result
}

// Reply is the result of one agent turn. Text is empty when the
// conversation has been handed to a human and nothing should be sent.
type Reply struct {
	Text      string
	Outcomes  []Outcome
	Fallback  bool
	HandedOff bool
}

// Loop drives one inbound message through the reasoning provider and the
// action executor.
type Loop struct {
	store      storage.ConversationStore
	reasoner   Reasoner
	runner     Runner
	classifier classifier.Classifier
	config     Config
	logger     *zap.Logger
}

func NewLoop(store storage.ConversationStore, reasoner Reasoner, runner Runner, clf classifier.Classifier, cfg Config, logger *zap.Logger) *Loop {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if clf == nil {
		clf = classifier.NewKeywordClassifier()
	}
	return &Loop{
		store:      store,
		reasoner:   reasoner,
		runner:     runner,
		classifier: clf,
		config:     cfg,
		logger:     logger,
	}
}

// HandleMessage records the inbound text and produces the reply for it.
// Actions requested by the provider run one after another, in order, and a
// failed action is passed back to the provider instead of ending the turn.
func (l *Loop) HandleMessage(ctx context.Context, session models.Session, text string) (*Reply, error) {
	if err := l.store.AppendTurn(ctx, session.ConversationID, &models.Turn{Role: models.RoleUser, Content: text}); err != nil {
		return nil, fmt.Errorf("failed to record inbound message: %w", err)
	}

	conv, err := l.store.GetConversation(ctx, session.ConversationID, l.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.Metadata.HandedOff() {
		l.logger.Info("Conversation handed off, not replying",
			zap.String("conversation_id", session.ConversationID))
		return &Reply{HandedOff: true}, nil
	}

	// Compose
	messages := l.compose(session, conv)

	// Decide
	resp, err := l.reasoner.Decide(ctx, Request{Messages: messages, Tools: actions.Catalog(), Params: l.config.Params})
	if err != nil {
		intent := l.classifier.Classify(text)
		l.logger.Error("Reasoning provider unavailable, using fallback reply",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID),
			zap.String("intent", string(intent)))
		return &Reply{Text: classifier.FallbackReply(intent), Fallback: true}, nil
	}

	if len(resp.Calls) == 0 {
		return &Reply{Text: resp.Content}, nil
	}

	// Execute
	messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content, Calls: resp.Calls})
	reply := &Reply{}
	for _, call := range resp.Calls {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn abandoned: %w", err)
		}
		result := l.runner.Execute(ctx, session, call.Name, call.Arguments)
		reply.Outcomes = append(reply.Outcomes, Outcome{Action: call.Name, Result: result})
		messages = append(messages, Message{Role: RoleTool, CallID: call.ID, Content: result.JSON()})
	}

	// Finalize
	final, err := l.reasoner.Decide(ctx, Request{Messages: messages, Params: l.config.Params})
	if err != nil || strings.TrimSpace(final.Content) == "" {
		l.logger.Warn("No final reply from reasoning provider",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID),
			zap.Int("actions", len(reply.Outcomes)))
		reply.Text = summarize(reply.Outcomes)
		reply.Fallback = true
		return reply, nil
	}
	reply.Text = final.Content
	return reply, nil
}

func (l *Loop) compose(session models.Session, conv *models.Conversation) []Message {
	var prompt strings.Builder
	prompt.WriteString(l.config.SystemPrompt)
	if session.CustomerName != "" {
		fmt.Fprintf(&prompt, "\n\nThe customer's name is %s.", session.CustomerName)
	}
	if md := conv.Metadata; md.LastAppointment != nil {
		fmt.Fprintf(&prompt, "\nTheir most recent appointment (id %s) starts %s and is %s.",
			md.LastAppointment.EventID, md.LastAppointment.Start.Format("2006-01-02 15:04 MST"), md.LastAppointment.Status)
	}
	switch l.config.Params.Verbosity {
	case "low":
		prompt.WriteString("\nKeep replies short: one or two sentences.")
	case "high":
		prompt.WriteString("\nGive complete, detailed replies.")
	}

	messages := make([]Message, 0, len(conv.Turns)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: strings.TrimSpace(prompt.String())})
	for _, t := range conv.Turns {
		switch t.Role {
		case models.RoleUser:
			messages = append(messages, Message{Role: RoleUser, Content: t.Content})
		case models.RoleAssistant:
			content := t.Content
			if t.Attachment != "" {
				content = strings.TrimSpace(content + "\n[attachment sent: " + t.Attachment + "]")
			}
			if content != "" {
				messages = append(messages, Message{Role: RoleAssistant, Content: content})
			}
		}
	}
	return messages
}

// summarize builds a reply from action outcomes when the provider gives no
// final answer. Raw error payloads are never shown to the customer.
func summarize(outcomes []Outcome) string {
	for _, o := range outcomes {
		if o.Action != string(actions.KindBookAppointment) {
			continue
		}
		if o.Result.Success {
			if s, ok := o.Result.Get("summary").(string); ok {
				return "Your appointment is booked for " + s + "."
			}
		} else if o.Result.Code == actions.CodeSlotUnavailable {
			return "Sorry, that time is no longer available. Would you like me to check other times?"
		}
	}
	for _, o := range outcomes {
		if !o.Result.Success {
			return "Sorry, I couldn't complete that just now. Could you try again in a moment?"
		}
	}
	return summaryReply
}
