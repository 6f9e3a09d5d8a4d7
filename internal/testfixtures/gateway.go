package testfixtures

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/xaenox/bizchat/internal/gateway"
)

// ErrGatewayDown is returned by a failing RecordingGateway.
var ErrGatewayDown = errors.New("gateway unavailable")

// Sent is one captured outbound message.
type Sent struct {
	From      string
	To        string
	Body      string
	MediaURLs []string
	Choice    *gateway.Choice
}

// RecordingGateway captures sends. It only offers native buttons when
// Interactive is set, see Interactive().
type RecordingGateway struct {
	mu   sync.Mutex
	sent []Sent
	fail bool
}

func (g *RecordingGateway) Send(ctx context.Context, from, to, body string, mediaURLs ...string) (string, error) {
	return g.record(ctx, Sent{From: from, To: to, Body: body, MediaURLs: mediaURLs})
}

func (g *RecordingGateway) record(ctx context.Context, s Sent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return "", ErrGatewayDown
	}
	g.sent = append(g.sent, s)
	return "msg-" + strconv.Itoa(len(g.sent)), nil
}

// Fail makes every following send fail.
func (g *RecordingGateway) Fail(fail bool) {
	g.mu.Lock()
	g.fail = fail
	g.mu.Unlock()
}

func (g *RecordingGateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Sent(nil), g.sent...)
}

// Interactive wraps the gateway so it also implements gateway.InteractiveSender.
func (g *RecordingGateway) Interactive() *InteractiveGateway {
	return &InteractiveGateway{RecordingGateway: g}
}

type InteractiveGateway struct {
	*RecordingGateway
}

func (g *InteractiveGateway) SendChoice(ctx context.Context, from, to string, choice gateway.Choice) (string, error) {
	c := choice
	return g.record(ctx, Sent{From: from, To: to, Body: choice.Body, Choice: &c})
}
