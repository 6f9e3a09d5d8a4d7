package actions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/storage"
)

type ErrorCode string

const (
	CodeValidation          ErrorCode = "validation_error"
	CodeSlotUnavailable     ErrorCode = "slot_unavailable"
	CodeAssetNotFound       ErrorCode = "asset_not_found"
	CodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	CodeNotFound            ErrorCode = "not_found"
	CodeInternal            ErrorCode = "internal_error"
)

// Result is what an action returns to its caller. It serialises as one flat
// JSON object: the Fields plus success, and error/code on failure.
type Result struct {
	Success bool
	Error   string
	Code    ErrorCode
	Fields  map[string]any
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = r.Success
	if !r.Success {
		out["error"] = r.Error
		out["code"] = r.Code
	}
	return json.Marshal(out)
}

// Get returns one field of the result.
func (r Result) Get(key string) any {
	return r.Fields[key]
}

// JSON renders the result for the reasoning provider.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"success":false,"error":"result could not be encoded","code":"internal_error"}`
	}
	return string(b)
}

func ok(fields map[string]any) Result {
	if fields == nil {
		fields = map[string]any{}
	}
	return Result{Success: true, Fields: fields}
}

func fail(code ErrorCode, message string, fields map[string]any) Result {
	if fields == nil {
		fields = map[string]any{}
	}
	return Result{Success: false, Error: message, Code: code, Fields: fields}
}

// failFrom classifies err. Store, gateway and provider failures are all
// upstream failures; only panics are internal.
func failFrom(err error, message string) Result {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return fail(CodeValidation, vErr.Error(), map[string]any{"fields": vErr.FieldErrors})
	case errors.Is(err, calendar.ErrInvalidSlot):
		return fail(CodeValidation, err.Error(), nil)
	case errors.Is(err, calendar.ErrSlotUnavailable):
		return fail(CodeSlotUnavailable, "Time slot not available", nil)
	case errors.Is(err, calendar.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return fail(CodeNotFound, message, nil)
	case errors.Is(err, context.DeadlineExceeded):
		return fail(CodeUpstreamUnavailable, message+": timed out", nil)
	default:
		return fail(CodeUpstreamUnavailable, message, map[string]any{"detail": err.Error()})
	}
}
