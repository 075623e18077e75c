package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dmorn/m4d-automod/sdk/status"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrLoginFailed is returned by Run when the session ended before it became ready.
var ErrLoginFailed = errors.New("login failed")

type LifecycleOptions struct {
	Gateway    Gateway
	Platform   Platform
	Registry   *Registry
	Dispatcher *Dispatcher
	Pipeline   *Pipeline
	Status     status.Register
	Logger     *Logger

	// ApplicationID overrides the id reported by the ready event.
	ApplicationID    string
	AutomodChannelID string
}

// Lifecycle owns one gateway session: it publishes commands when the session
// becomes ready and turns every message and interaction into its own task.
// There is no reconnect; Run returns and the process supervisor restarts.
type Lifecycle struct {
	opts  LifecycleOptions
	state atomic.Int32
	tasks sync.WaitGroup
}

func NewLifecycle(opts LifecycleOptions) (*Lifecycle, error) {
	if opts.Gateway == nil || opts.Platform == nil || opts.Registry == nil ||
		opts.Dispatcher == nil || opts.Pipeline == nil || opts.Status == nil {
		return nil, errors.New("lifecycle requires Gateway, Platform, Registry, Dispatcher, Pipeline and Status")
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}
	return &Lifecycle{opts: opts}, nil
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) setState(s State) {
	old := State(l.state.Swap(int32(s)))
	if old != s {
		l.opts.Logger.Zap().Info("lifecycle", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// Run blocks for the lifetime of one session. It returns nil when ctx is
// cancelled, an error wrapping ErrLoginFailed when the session never became
// ready, and the gateway error otherwise. In-flight tasks are awaited before
// returning.
func (l *Lifecycle) Run(ctx context.Context) error {
	l.setState(StateConnecting)
	sess := &session{l: l}

	err := l.opts.Gateway.Run(ctx, sess)
	l.tasks.Wait()

	l.opts.Status.Set(status.ConnectionAlive, false)
	l.setState(StateDisconnected)

	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = errors.New("session ended")
	}
	if !sess.ready.Load() {
		err = fmt.Errorf("%w: %w", ErrLoginFailed, err)
		l.opts.Logger.Error("login", err)
		return err
	}
	l.opts.Logger.Error("session", err)
	return err
}

// session is the EventHandler for one gateway session.
type session struct {
	l         *Lifecycle
	readyOnce sync.Once
	ready     atomic.Bool
}

func (s *session) OnReady(ctx context.Context, r Ready) {
	s.readyOnce.Do(func() {
		l := s.l
		s.ready.Store(true)
		l.setState(StateReady)
		l.opts.Status.Set(status.ConnectionAlive, true)
		l.opts.Logger.Zap().Info("ready",
			zap.String("session_id", r.SessionID),
			zap.String("user", r.User.Username),
		)

		appID := l.opts.ApplicationID
		if appID == "" {
			appID = r.ApplicationID
		}
		l.spawn(ctx, "ready", func(ctx context.Context, log *zap.Logger) {
			l.checkAutomodChannel(ctx, log)
			if err := PublishCommands(ctx, l.opts.Platform, l.opts.Registry, appID); err != nil {
				log.Warn("command registration failed", zap.Error(err))
				return
			}
			log.Info("commands registered", zap.Int("count", l.opts.Registry.Len()))
		})
	})
}

func (s *session) OnMessage(ctx context.Context, m Message) {
	s.l.spawn(ctx, "message", func(ctx context.Context, _ *zap.Logger) {
		s.l.opts.Pipeline.Handle(ctx, m)
	})
}

func (s *session) OnInteraction(ctx context.Context, in *Interaction) {
	s.l.spawn(ctx, "interaction", func(ctx context.Context, _ *zap.Logger) {
		s.l.opts.Dispatcher.Dispatch(ctx, in)
	})
}

func (l *Lifecycle) checkAutomodChannel(ctx context.Context, log *zap.Logger) {
	if l.opts.AutomodChannelID == "" {
		return
	}
	ch, err := l.opts.Platform.FetchChannel(ctx, l.opts.AutomodChannelID)
	if err != nil {
		log.Warn("automod channel unavailable", zap.String("channel_id", l.opts.AutomodChannelID), zap.Error(err))
		return
	}
	log.Info("automod channel", zap.String("channel_id", ch.ID), zap.String("name", ch.Name))
}

// spawn runs fn as a tracked task. A panic in fn is logged and absorbed.
func (l *Lifecycle) spawn(ctx context.Context, kind string, fn func(context.Context, *zap.Logger)) {
	log := l.opts.Logger.Zap().With(zap.String("task", kind), zap.String("task_id", uuid.NewString()))
	l.tasks.Add(1)
	go func() {
		defer l.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("task panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()
		fn(ctx, log)
	}()
}

// PublishCommands publishes every registry definition in one bulk call.
func PublishCommands(ctx context.Context, p Platform, r *Registry, applicationID string) error {
	if applicationID == "" {
		return errors.New("publish commands: application id unknown")
	}
	if err := p.RegisterCommands(ctx, applicationID, r.Definitions()); err != nil {
		return fmt.Errorf("publish commands: %w", err)
	}
	return nil
}
