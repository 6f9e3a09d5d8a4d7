package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/bizchat/internal/models"
)

// Gateway delivers outbound messages to an addressable customer endpoint
// and returns an opaque delivery id.
type Gateway interface {
	Send(ctx context.Context, from, to, body string, mediaURLs ...string) (string, error)
}

// Choice is a structured prompt with predefined buttons.
type Choice struct {
	Header  string
	Body    string
	Footer  string
	Buttons []models.Button
}

// InteractiveSender is implemented by gateways with native buttons.
type InteractiveSender interface {
	SendChoice(ctx context.Context, from, to string, choice Choice) (string, error)
}

// SendChoice uses native buttons when the gateway supports them and falls
// back to a numbered text list otherwise. native reports which path ran.
func SendChoice(ctx context.Context, gw Gateway, from, to string, choice Choice) (deliveryID string, native bool, err error) {
	if is, ok := gw.(InteractiveSender); ok {
		id, err := is.SendChoice(ctx, from, to, choice)
		return id, true, err
	}
	id, err := gw.Send(ctx, from, to, RenderChoiceText(choice))
	return id, false, err
}

// RenderChoiceText is the plain-text rendering of a choice.
func RenderChoiceText(choice Choice) string {
	var b strings.Builder
	if choice.Header != "" {
		b.WriteString(choice.Header)
		b.WriteString("\n\n")
	}
	b.WriteString(choice.Body)
	if len(choice.Buttons) > 0 {
		b.WriteString("\n")
		for i, btn := range choice.Buttons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Title)
		}
		b.WriteString("\n\nReply with the number of your choice.")
	}
	if choice.Footer != "" {
		b.WriteString("\n\n")
		b.WriteString(choice.Footer)
	}
	return b.String()
}
