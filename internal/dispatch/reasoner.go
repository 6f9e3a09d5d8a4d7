package dispatch

import (
	"context"
	"encoding/json"

	"github.com/xaenox/bizchat/internal/actions"
)

// Message is one entry of the history sent to the reasoning provider.
// Assistant messages may carry Calls; tool messages answer one call.
type Message struct {
	Role    string
	Content string
	Calls   []Call
	CallID  string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Call is a structured invocation request returned by the provider.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Params are the decoding parameters for one request.
type Params struct {
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string
	Verbosity       string
}

type Request struct {
	Messages []Message
	// Tools is empty when only a text answer is wanted.
	Tools  []actions.Definition
	Params Params
}

// Response carries either text or one or more calls to execute.
type Response struct {
	Content string
	Calls   []Call
}

// Reasoner is the external decision maker choosing which actions to run.
type Reasoner interface {
	Decide(ctx context.Context, req Request) (*Response, error)
}
