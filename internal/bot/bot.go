package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/bizchat/internal/buttons"
	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/dispatch"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"go.uber.org/zap"
)

// choiceLookback bounds how many recent turns are searched for a choice.
const choiceLookback = 5

const fallbackReply = "Sorry, I couldn't process your message just now. Please try again in a moment."

// API is the subset of *tgbotapi.BotAPI the bot needs.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	StopReceivingUpdates()
}

// MessageHandler produces the reply to a free-text message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, session models.Session, text string) (*dispatch.Reply, error)
}

// ButtonHandler resolves a tapped button.
type ButtonHandler interface {
	Handle(ctx context.Context, session models.Session, tap buttons.Tap) buttons.Result
}

type Config struct {
	AgentID      string
	OwnerID      string
	BusinessAddr string
	TurnTimeout  time.Duration
}

type Bot struct {
	api      API
	store    storage.ConversationStore
	engine   *calendar.Engine
	gateway  gateway.Gateway
	messages MessageHandler
	buttons  ButtonHandler
	config   Config
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[int64][]tgbotapi.Update
	wg      sync.WaitGroup
}

func New(api API, store storage.ConversationStore, engine *calendar.Engine, gw gateway.Gateway,
	messages MessageHandler, btns ButtonHandler, cfg Config, logger *zap.Logger) *Bot {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	return &Bot{
		api:      api,
		store:    store,
		engine:   engine,
		gateway:  gw,
		messages: messages,
		buttons:  btns,
		config:   cfg,
		logger:   logger,
		pending:  make(map[int64][]tgbotapi.Update),
	}
}

// Start consumes updates until ctx is cancelled. Updates for one chat are
// handled one at a time, in arrival order; different chats run in parallel.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	var chatID int64
	switch {
	case update.Message != nil:
		chatID = update.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		chatID = update.CallbackQuery.Message.Chat.ID
	default:
		return
	}

	// A chat present in pending already has a worker draining it.
	b.mu.Lock()
	queue, running := b.pending[chatID]
	b.pending[chatID] = append(queue, update)
	b.mu.Unlock()
	if running {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			b.mu.Lock()
			queue := b.pending[chatID]
			if len(queue) == 0 {
				delete(b.pending, chatID)
				b.mu.Unlock()
				return
			}
			next := queue[0]
			b.pending[chatID] = queue[1:]
			b.mu.Unlock()

			b.handleUpdate(ctx, next)
		}
	}()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.config.TurnTimeout)
	defer cancel()

	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
		return
	}
	b.handleCallback(ctx, update.CallbackQuery)
}

func (b *Bot) session(ctx context.Context, chat *tgbotapi.Chat, from *tgbotapi.User, contact *tgbotapi.Contact) (models.Session, error) {
	chatAddr := strconv.FormatInt(chat.ID, 10)
	phone := "telegram:" + chatAddr
	if contact != nil && contact.PhoneNumber != "" && (from == nil || contact.UserID == from.ID) {
		phone = contact.PhoneNumber
	}

	conv, err := b.store.GetOrCreateConversation(ctx, "telegram:"+chatAddr, b.config.AgentID, phone)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to open conversation: %w", err)
	}
	// The phone stays the one the conversation was opened with.
	if conv.CustomerPhone != "" {
		phone = conv.CustomerPhone
	}

	name := ""
	if from != nil {
		name = strings.TrimSpace(from.FirstName + " " + from.LastName)
	}
	return models.Session{
		AgentID:        b.config.AgentID,
		OwnerID:        b.config.OwnerID,
		ConversationID: conv.ID,
		BusinessAddr:   b.config.BusinessAddr,
		CustomerAddr:   chatAddr,
		CustomerPhone:  phone,
		CustomerName:   name,
	}, nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	session, err := b.session(ctx, message.Chat, message.From, message.Contact)
	if err != nil {
		b.logger.Error("Failed to start session",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendPlain(ctx, message.Chat.ID, fallbackReply)
		return
	}

	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, session, message)
		return
	}

	// Get content from message
	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if content == "" {
		return
	}

	if tap, ok := b.numberedChoice(ctx, session, content); ok {
		b.handleTap(ctx, session, tap)
		return
	}

	reply, err := b.messages.HandleMessage(ctx, session, content)
	if err != nil {
		b.logger.Error("Failed to handle message",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID))
		b.reply(ctx, session, fallbackReply)
		return
	}
	if reply.HandedOff || reply.Text == "" {
		return
	}
	b.reply(ctx, session, reply.Text)
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Stop the client spinner whatever happens next
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}

	session, err := b.session(ctx, query.Message.Chat, query.From, nil)
	if err != nil {
		b.logger.Error("Failed to start session",
			zap.Error(err),
			zap.Int64("chat_id", query.Message.Chat.ID))
		b.sendPlain(ctx, query.Message.Chat.ID, fallbackReply)
		return
	}

	b.handleTap(ctx, session, buttons.Tap{ID: query.Data, Title: buttonTitle(query)})
}

func (b *Bot) handleTap(ctx context.Context, session models.Session, tap buttons.Tap) {
	res := b.buttons.Handle(ctx, session, tap)
	if res.Response != nil {
		b.reply(ctx, session, *res.Response)
	}
}

// numberedChoice resolves a bare number sent in answer to the buttons of
// the latest assistant choice since the customer last wrote, which is how
// text-only clients pick an option.
func (b *Bot) numberedChoice(ctx context.Context, session models.Session, content string) (buttons.Tap, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(content), "."))
	if err != nil || n < 1 {
		return buttons.Tap{}, false
	}
	conv, err := b.store.GetConversation(ctx, session.ConversationID, choiceLookback)
	if err != nil {
		b.logger.Warn("Failed to load recent turns",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID))
		return buttons.Tap{}, false
	}
	for i := len(conv.Turns) - 1; i >= 0; i-- {
		turn := conv.Turns[i]
		if turn.Role == models.RoleUser {
			break
		}
		if len(turn.Buttons) == 0 {
			continue
		}
		if n > len(turn.Buttons) {
			return buttons.Tap{}, false
		}
		btn := turn.Buttons[n-1]
		return buttons.Tap{ID: btn.ID, Title: btn.Title}, true
	}
	return buttons.Tap{}, false
}

// buttonTitle finds the label of the tapped inline button.
func buttonTitle(query *tgbotapi.CallbackQuery) string {
	markup := query.Message.ReplyMarkup
	if markup == nil {
		return ""
	}
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData == query.Data {
				return btn.Text
			}
		}
	}
	return ""
}

func (b *Bot) handleCommand(ctx context.Context, session models.Session, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.reply(ctx, session, `Welcome! 👋
I can answer your questions, show open appointment times and book them for you.

Just send me a message. Use /help to see all available commands.`)
	case "help":
		b.reply(ctx, session, `Available commands:
/start - Start the conversation
/help - Show this help message
/appointments - Show your upcoming appointments
/availability [YYYY-MM-DD] - Show open times for a day

Or simply tell me what you need!`)
	case "appointments":
		b.handleAppointments(ctx, session)
	case "availability":
		b.handleAvailability(ctx, session, strings.TrimSpace(message.CommandArguments()))
	default:
		b.reply(ctx, session, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleAppointments(ctx context.Context, session models.Session) {
	events, err := b.engine.GetUpcomingAppointments(ctx, session.AgentID, session.CustomerPhone, 5)
	if err != nil {
		b.logger.Error("Failed to list appointments",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID))
		b.reply(ctx, session, "Sorry, I couldn't retrieve your appointments right now.")
		return
	}
	if len(events) == 0 {
		b.reply(ctx, session, "You don't have any upcoming appointments.")
		return
	}

	cal, err := b.engine.Calendar(ctx, session.AgentID)
	loc := time.UTC
	if err == nil {
		loc = cal.Location()
	}
	var sb strings.Builder
	sb.WriteString("Your upcoming appointments:\n")
	for _, e := range events {
		fmt.Fprintf(&sb, "\n• %s (%s)", e.Summary(loc), e.Status)
	}
	b.reply(ctx, session, sb.String())
}

func (b *Bot) handleAvailability(ctx context.Context, session models.Session, date string) {
	cal, err := b.engine.Calendar(ctx, session.AgentID)
	if err != nil {
		b.logger.Error("Failed to load calendar", zap.Error(err), zap.String("agent_id", session.AgentID))
		b.reply(ctx, session, "Sorry, I couldn't check availability right now.")
		return
	}
	if date == "" {
		date = time.Now().In(cal.Location()).Format(calendar.DateLayout)
	}

	avail, err := b.engine.GetAvailability(ctx, session.AgentID, date)
	if err != nil {
		b.reply(ctx, session, "Please send the date as YYYY-MM-DD, for example /availability 2025-03-10.")
		return
	}
	if !avail.Available {
		b.reply(ctx, session, fmt.Sprintf("Sorry, there are no open times on %s.", date))
		return
	}

	times := make([]string, 0, len(avail.Slots))
	for _, s := range avail.Slots {
		times = append(times, s.Time)
	}
	b.reply(ctx, session, fmt.Sprintf("Open times on %s:\n%s\n\nTell me which one you'd like to book.", date, strings.Join(times, ", ")))
}

// reply sends text to the customer and records it as an assistant turn.
func (b *Bot) reply(ctx context.Context, session models.Session, text string) {
	deliveryID, err := b.gateway.Send(ctx, session.BusinessAddr, session.CustomerAddr, text)
	if err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID))
		return
	}
	turn := &models.Turn{Role: models.RoleAssistant, Content: text, DeliveryID: deliveryID}
	if err := b.store.AppendTurn(ctx, session.ConversationID, turn); err != nil {
		b.logger.Error("Failed to append reply turn",
			zap.Error(err),
			zap.String("conversation_id", session.ConversationID))
	}
}

func (b *Bot) sendPlain(ctx context.Context, chatID int64, text string) {
	if _, err := b.gateway.Send(ctx, b.config.BusinessAddr, strconv.FormatInt(chatID, 10), "⚠️ "+text); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
