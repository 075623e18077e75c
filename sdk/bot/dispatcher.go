package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/dmorn/m4d-automod/sdk/store"
	"go.uber.org/zap"
)

// ErrHandlerPanic wraps a panic recovered from a command handler.
var ErrHandlerPanic = errors.New("command handler panicked")

type DispatchStatus int

const (
	DispatchIgnored DispatchStatus = iota // not a chat-input interaction
	DispatchUnknown                       // no command with that name
	DispatchInvalid                       // options failed validation
	DispatchHandled                       // handler returned nil
	DispatchFailed                        // handler returned an error or panicked
)

func (s DispatchStatus) String() string {
	switch s {
	case DispatchIgnored:
		return "ignored"
	case DispatchUnknown:
		return "unknown"
	case DispatchInvalid:
		return "invalid"
	case DispatchHandled:
		return "handled"
	case DispatchFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// DispatchResult is the captured outcome of one interaction.
type DispatchResult struct {
	Status   DispatchStatus
	Command  CommandID
	Err      error
	Duration time.Duration
}

const genericFailureReply = "Sorry, something went wrong."

// Dispatcher routes chat-input interactions to registry handlers.
type Dispatcher struct {
	registry *Registry
	store    store.Store
	logger   *Logger
	metrics  *Metrics
}

// unknownCommandLabel stands in for names outside the registry so the
// command label stays bounded.
const unknownCommandLabel = "unknown"

func NewDispatcher(registry *Registry, st store.Store, logger *Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = NopLogger()
	}
	return &Dispatcher{registry: registry, store: st, logger: logger, metrics: metrics}
}

// Dispatch runs at most one handler. It never panics and never returns an
// error to the caller: failures are captured in the result and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Interaction) DispatchResult {
	if in == nil || !in.IsChatInput() {
		return DispatchResult{Status: DispatchIgnored}
	}

	cmd, ok := d.registry.Lookup(in.CommandName)
	if !ok {
		d.logger.Zap().Debug("unknown command dropped", zap.String("command", in.CommandName))
		d.metrics.dispatched(unknownCommandLabel, DispatchUnknown.String())
		return DispatchResult{Status: DispatchUnknown}
	}

	d.logger.Interaction(in)
	res := DispatchResult{Command: cmd.ID}

	if err := validateOptions(d.registry.schemaFor(cmd.ID), in.Options); err != nil {
		res.Status = DispatchInvalid
		res.Err = fmt.Errorf("invalid options for %s: %w", cmd.ID, err)
		d.logger.Dispatch(string(cmd.ID), 0, res.Err)
		d.metrics.dispatched(string(cmd.ID), res.Status.String())
		d.reply(ctx, in, "Invalid command options.")
		return res
	}

	start := time.Now()
	res.Err = d.invoke(ctx, cmd, in)
	res.Duration = time.Since(start)
	if res.Err != nil {
		res.Status = DispatchFailed
		d.reply(ctx, in, genericFailureReply)
	} else {
		res.Status = DispatchHandled
	}
	d.logger.Dispatch(string(cmd.ID), res.Duration, res.Err)
	d.metrics.dispatched(string(cmd.ID), res.Status.String())
	return res
}

func (d *Dispatcher) invoke(ctx context.Context, cmd Command, in *Interaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Zap().Error("handler panic",
				zap.String("command", string(cmd.ID)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, cmd.ID, r)
		}
	}()
	return cmd.Handler.Handle(ctx, in, d.store)
}

// reply is best-effort; the handler may already have answered.
func (d *Dispatcher) reply(ctx context.Context, in *Interaction, text string) {
	if err := in.RespondEphemeral(ctx, text); err != nil && !errors.Is(err, ErrNoResponder) {
		d.logger.Zap().Debug("failure reply not sent", zap.String("interaction_id", in.ID), zap.Error(err))
	}
}
