package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xaenox/bizchat/internal/calendar"
	"github.com/xaenox/bizchat/internal/gateway"
	"github.com/xaenox/bizchat/internal/models"
	"github.com/xaenox/bizchat/internal/storage"
	"go.uber.org/zap"
)

const DefaultTimeout = 20 * time.Second

// Store is the slice of storage the handlers touch.
type Store interface {
	storage.ConversationStore
	storage.LeadStore
	storage.RecordStore
	storage.MediaStore
}

// Executor validates and runs catalog actions. It never returns an error
// or panics to its caller: every outcome is a Result.
type Executor struct {
	store    Store
	calendar *calendar.Engine
	gateway  gateway.Gateway
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration
}

func NewExecutor(store Store, engine *calendar.Engine, gw gateway.Gateway, timeout time.Duration, now func() time.Time, logger *zap.Logger) *Executor {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		store:    store,
		calendar: engine,
		gateway:  gw,
		logger:   logger,
		now:      now,
		timeout:  timeout,
	}
}

// Execute decodes raw arguments for the named action and runs it. Arguments
// that fail validation produce a validation_error result and no side effect.
func (x *Executor) Execute(ctx context.Context, session models.Session, name string, raw json.RawMessage) Result {
	inv, err := Decode(name, raw)
	if err != nil {
		x.logger.Warn("Rejected action arguments",
			zap.String("action", name),
			zap.String("conversation_id", session.ConversationID),
			zap.Error(err))
		return failFrom(err, "invalid arguments")
	}
	return x.Run(ctx, session, inv)
}

// Run executes an already decoded invocation under the action timeout.
func (x *Executor) Run(ctx context.Context, session models.Session, inv Invocation) (res Result) {
	if inv == nil {
		return fail(CodeValidation, "missing invocation", nil)
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("Action panicked",
				zap.String("action", string(inv.Kind())),
				zap.Any("panic", r))
			res = fail(CodeInternal, "action failed unexpectedly", nil)
		}
		x.logger.Info("Action executed",
			zap.String("action", string(inv.Kind())),
			zap.String("conversation_id", session.ConversationID),
			zap.Bool("success", res.Success),
			zap.String("code", string(res.Code)),
			zap.Duration("duration", time.Since(started)))
	}()

	return x.dispatch(ctx, session, inv)
}

func (x *Executor) dispatch(ctx context.Context, s models.Session, inv Invocation) Result {
	switch a := inv.(type) {
	case *SendMultimedia:
		return x.sendMultimedia(ctx, s, a)
	case *SaveConversationData:
		return x.saveConversationData(ctx, s, a)
	case *AnalyzeCustomerIntent:
		return x.analyzeCustomerIntent(ctx, s, a)
	case *ScheduleFollowUp:
		return x.scheduleFollowUp(ctx, s, a)
	case *CheckAvailability:
		return x.checkAvailability(ctx, s, a)
	case *BookAppointment:
		return x.bookAppointment(ctx, s, a)
	case *SendInteractiveMessage:
		return x.sendInteractiveMessage(ctx, s, a)
	case *GetUpcomingAppointments:
		return x.getUpcomingAppointments(ctx, s, a)
	}
	return fail(CodeInternal, fmt.Sprintf("no handler for action %s", inv.Kind()), nil)
}
