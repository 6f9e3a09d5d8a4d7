package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender is the subset of *tgbotapi.BotAPI the gateway needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramConfig struct {
	SendTimeout time.Duration
	SendRate    float64 // messages per second
	SendBurst   int
}

// Telegram delivers messages through the Bot API. The recipient address is
// the chat id.
type Telegram struct {
	api     Sender
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

func NewTelegram(api Sender, cfg TelegramConfig, logger *zap.Logger) *Telegram {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 25
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 5
	}
	return &Telegram{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		timeout: cfg.SendTimeout,
		logger:  logger,
	}
}

func (t *Telegram) Send(ctx context.Context, from, to, body string, mediaURLs ...string) (string, error) {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}

	if len(mediaURLs) == 0 {
		return t.deliver(ctx, tgbotapi.NewMessage(chatID, body))
	}

	var first string
	for i, u := range mediaURLs {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(u))
		if i == 0 {
			photo.Caption = body
		}
		id, err := t.deliver(ctx, photo)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = id
		}
	}
	return first, nil
}

func (t *Telegram) SendChoice(ctx context.Context, from, to string, choice Choice) (string, error) {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}

	text := choice.Body
	if choice.Header != "" {
		text = choice.Header + "\n\n" + text
	}
	if choice.Footer != "" {
		text += "\n\n" + choice.Footer
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(choice.Buttons))
	for _, b := range choice.Buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Title, b.ID)))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return t.deliver(ctx, msg)
}

// deliver throttles and bounds one Bot API call. The Bot API client has no
// context support, so a timed out call is abandoned rather than cancelled.
func (t *Telegram) deliver(ctx context.Context, c tgbotapi.Chattable) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("telegram send throttled: %w", err)
	}

	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := t.api.Send(c)
		done <- result{msg, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("telegram send failed: %w", r.err)
		}
		id := strconv.Itoa(r.msg.MessageID)
		t.logger.Debug("Telegram message delivered", zap.String("delivery_id", id))
		return id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("telegram send: %w", ctx.Err())
	}
}
