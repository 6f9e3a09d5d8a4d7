package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/bizchat/internal/buttons"
	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/dispatch"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"github.com/xaenox/bizchat/internal/testfixtures"
	"go.uber.org/zap/zaptest"
)

type fakeAPI struct {
	updates  chan tgbotapi.Update
	mu       sync.Mutex
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) StopReceivingUpdates() {}

// echoHandler replies with the text it got, slowly, and records the order
// in which each chat's messages arrived.
type echoHandler struct {
	mu       sync.Mutex
	seen     map[string][]string
	active   map[string]int
	overlap  bool
	handOff  bool
	failWith error
}

func (h *echoHandler) HandleMessage(ctx context.Context, session models.Session, text string) (*dispatch.Reply, error) {
	h.mu.Lock()
	if h.seen == nil {
		h.seen = map[string][]string{}
		h.active = map[string]int{}
	}
	h.active[session.CustomerAddr]++
	if h.active[session.CustomerAddr] > 1 {
		h.overlap = true
	}
	h.seen[session.CustomerAddr] = append(h.seen[session.CustomerAddr], text)
	h.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	h.mu.Lock()
	h.active[session.CustomerAddr]--
	h.mu.Unlock()

	if h.failWith != nil {
		return nil, h.failWith
	}
	if h.handOff {
		return &dispatch.Reply{HandedOff: true}, nil
	}
	return &dispatch.Reply{Text: "echo: " + text}, nil
}

// tapRecorder records taps and, like the real table, logs each one as a
// user turn.
type tapRecorder struct {
	store *storage.MemoryStorage
	mu    sync.Mutex
	taps  []buttons.Tap
}

func (r *tapRecorder) Handle(ctx context.Context, session models.Session, tap buttons.Tap) buttons.Result {
	r.mu.Lock()
	r.taps = append(r.taps, tap)
	r.mu.Unlock()
	_ = r.store.AppendTurn(ctx, session.ConversationID, &models.Turn{Role: models.RoleUser, Content: "[button] " + tap.Title})
	if tap.ID == "show_availability" {
		return buttons.Result{Success: true, Action: buttons.ActionShowAvailability}
	}
	text := "tapped " + tap.Title
	return buttons.Result{Success: true, Response: &text, Action: buttons.ActionGeneric}
}

type botFixture struct {
	bot      *Bot
	api      *fakeAPI
	store    *storage.MemoryStorage
	gateway  *testfixtures.RecordingGateway
	messages *echoHandler
	taps     *tapRecorder
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	clock := testfixtures.NewClock(time.Time{})
	engine := calendar.NewEngine(store, calendar.Config{}, clock.Now, logger)
	gw := &testfixtures.RecordingGateway{}
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
	messages := &echoHandler{}
	taps := &tapRecorder{store: store}

	b := New(api, store, engine, gw, messages, taps, Config{AgentID: "agent-1", OwnerID: "owner-1", BusinessAddr: "bizbot"}, logger)
	return &botFixture{bot: b, api: api, store: store, gateway: gw, messages: messages, taps: taps}
}

// run feeds the updates and waits until every chat queue has drained.
func (f *botFixture) run(t *testing.T, updates ...tgbotapi.Update) {
	t.Helper()
	for _, u := range updates {
		f.api.updates <- u
	}
	close(f.api.updates)
	require.NoError(t, f.bot.Start(context.Background()))
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID, FirstName: "Ana", LastName: "Ruiz"},
		Text: text,
	}}
}

func commandUpdate(chatID int64, command string) tgbotapi.Update {
	u := textUpdate(chatID, command)
	length := len(command)
	if i := strings.IndexByte(command, ' '); i > 0 {
		length = i
	}
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return u
}

func sentTo(gw *testfixtures.RecordingGateway, to string) []string {
	var out []string
	for _, s := range gw.Sent() {
		if s.To == to {
			out = append(out, s.Body)
		}
	}
	return out
}

func TestMessagesForOneChatAreHandledInOrder(t *testing.T) {
	f := newBotFixture(t)

	f.run(t,
		textUpdate(1, "one"),
		textUpdate(2, "alpha"),
		textUpdate(1, "two"),
		textUpdate(1, "three"),
		textUpdate(2, "beta"),
	)

	assert.False(t, f.messages.overlap, "a chat never has two turns in flight")
	assert.Equal(t, []string{"one", "two", "three"}, f.messages.seen["1"])
	assert.Equal(t, []string{"alpha", "beta"}, f.messages.seen["2"])
	assert.Equal(t, []string{"echo: one", "echo: two", "echo: three"}, sentTo(f.gateway, "1"))
	assert.Empty(t, f.bot.pending)
}

func TestRepliesAreRecordedAsTurns(t *testing.T) {
	f := newBotFixture(t)
	f.run(t, textUpdate(5, "hi"))

	conv, err := f.store.GetOrCreateConversation(context.Background(), "telegram:5", "agent-1", "")
	require.NoError(t, err)
	full, err := f.store.GetConversation(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, full.Turns, 1)
	assert.Equal(t, models.RoleAssistant, full.Turns[0].Role)
	assert.Equal(t, "echo: hi", full.Turns[0].Content)
	assert.Equal(t, "msg-1", full.Turns[0].DeliveryID)
	assert.Equal(t, "telegram:5", full.CustomerPhone)
}

func TestHandedOffMessagesGetNoReply(t *testing.T) {
	f := newBotFixture(t)
	f.messages.handOff = true

	f.run(t, textUpdate(1, "anyone there?"))
	assert.Empty(t, f.gateway.Sent())
}

func TestHandlerErrorSendsFallback(t *testing.T) {
	f := newBotFixture(t)
	f.messages.failWith = errors.New("store down")

	f.run(t, textUpdate(1, "hello"))
	assert.Equal(t, []string{fallbackReply}, sentTo(f.gateway, "1"))
}

func TestCallbackQuery(t *testing.T) {
	f := newBotFixture(t)
	data := "rate_5"
	other := "rate_1"
	update := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: 3, FirstName: "Bo"},
		Data: data,
		Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 3},
			ReplyMarkup: &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
				{{Text: "Poor", CallbackData: &other}},
				{{Text: "Great", CallbackData: &data}},
			}},
		},
	}}
	silent := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-2",
		From:    &tgbotapi.User{ID: 3},
		Data:    "show_availability",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}},
	}}

	f.run(t, update, silent)

	require.Len(t, f.taps.taps, 2)
	assert.Equal(t, buttons.Tap{ID: "rate_5", Title: "Great"}, f.taps.taps[0])
	assert.Equal(t, []string{"tapped Great"}, sentTo(f.gateway, "3"), "no reply when the handler sent its own")

	require.Len(t, f.api.requests, 2)
	cb, ok := f.api.requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, "cb-1", cb.CallbackQueryID)
}

func TestNumberedReplyPicksLastChoice(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	conv, err := f.store.GetOrCreateConversation(ctx, "telegram:7", "agent-1", "")
	require.NoError(t, err)
	require.NoError(t, f.store.AppendTurn(ctx, conv.ID, &models.Turn{
		Role:    models.RoleAssistant,
		Content: "Pick a time",
		Buttons: []models.Button{{ID: "book_slot:2025-03-10T09:00", Title: "Nine"}, {ID: "book_slot:2025-03-10T10:00", Title: "Ten"}},
	}))
	// A plain reply sent after the choice does not hide it
	require.NoError(t, f.store.AppendTurn(ctx, conv.ID, &models.Turn{Role: models.RoleAssistant, Content: "Let me know!"}))

	f.run(t, textUpdate(7, " 2 "), textUpdate(7, "2"))

	require.Len(t, f.taps.taps, 1)
	assert.Equal(t, buttons.Tap{ID: "book_slot:2025-03-10T10:00", Title: "Ten"}, f.taps.taps[0])
	// The tap was the customer's answer, so the second "2" is plain text
	assert.Equal(t, []string{"2"}, f.messages.seen["7"])
	assert.Equal(t, []string{"tapped Ten", "echo: 2"}, sentTo(f.gateway, "7"))
}

func TestNumbersWithoutChoiceAreText(t *testing.T) {
	f := newBotFixture(t)
	f.run(t, textUpdate(8, "3"), textUpdate(8, "0"))

	assert.Empty(t, f.taps.taps)
	assert.Equal(t, []string{"3", "0"}, f.messages.seen["8"])
}

func TestCommands(t *testing.T) {
	f := newBotFixture(t)
	_, err := f.bot.engine.BookAppointment(context.Background(), "agent-1", calendar.BookingRequest{
		Date: "2025-03-11", Time: "10:00", CustomerName: "Ana", CustomerPhone: "telegram:1",
	})
	require.NoError(t, err)

	f.run(t,
		commandUpdate(1, "/help"),
		commandUpdate(1, "/appointments"),
		commandUpdate(2, "/appointments"),
		commandUpdate(1, "/availability 2025-03-15"),
		commandUpdate(1, "/availability soon"),
		commandUpdate(1, "/dance"),
	)

	replies := sentTo(f.gateway, "1")
	require.Len(t, replies, 5)
	assert.Contains(t, replies[0], "/appointments")
	assert.Contains(t, replies[1], "Tue, Mar 11 2025 at 10:00 (scheduled)")
	assert.Equal(t, "Sorry, there are no open times on 2025-03-15.", replies[2])
	assert.Contains(t, replies[3], "YYYY-MM-DD")
	assert.Contains(t, replies[4], "Unknown command")

	assert.Equal(t, []string{"You don't have any upcoming appointments."}, sentTo(f.gateway, "2"))
	assert.Empty(t, f.messages.seen, "commands never reach the message handler")
}

func TestButtonTitle(t *testing.T) {
	data := "x"
	q := &tgbotapi.CallbackQuery{Data: "x", Message: &tgbotapi.Message{}}
	assert.Empty(t, buttonTitle(q))

	q.Message.ReplyMarkup = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{{{Text: "Pick", CallbackData: &data}}}}
	assert.Equal(t, "Pick", buttonTitle(q))
}
