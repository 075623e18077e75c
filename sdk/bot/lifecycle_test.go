package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmorn/m4d-automod/sdk/status"
	"github.com/dmorn/m4d-automod/sdk/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGateway struct {
	script func(ctx context.Context, h EventHandler) error
}

func (g *scriptedGateway) Run(ctx context.Context, h EventHandler) error {
	return g.script(ctx, h)
}

type lifecycleFixture struct {
	*pipelineFixture
	handler   *countingHandler
	lifecycle *Lifecycle
}

func newLifecycleFixture(t *testing.T, appID string, script func(ctx context.Context, h EventHandler) error) *lifecycleFixture {
	t.Helper()
	pf := newPipelineFixture(t, 0)
	h := &countingHandler{}
	reg, err := NewRegistry([]CommandID{"verify"}, Command{ID: "verify", Description: "Link your account", Handler: h})
	require.NoError(t, err)

	l, err := NewLifecycle(LifecycleOptions{
		Gateway:          &scriptedGateway{script: script},
		Platform:         pf.platform,
		Registry:         reg,
		Dispatcher:       NewDispatcher(reg, pf.store, nil, nil),
		Pipeline:         pf.pipeline,
		Status:           pf.tracker,
		ApplicationID:    appID,
		AutomodChannelID: automodID,
	})
	require.NoError(t, err)
	return &lifecycleFixture{pipelineFixture: pf, handler: h, lifecycle: l}
}

var errAuth = errors.New("gateway closed: 4004 authentication failed")

func TestLifecycleLoginFailure(t *testing.T) {
	var f *lifecycleFixture
	f = newLifecycleFixture(t, "", func(ctx context.Context, h EventHandler) error {
		assert.Equal(t, StateConnecting, f.lifecycle.State())
		return errAuth
	})
	f.tracker.Set(status.ConnectionAlive, true)

	err := f.lifecycle.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.ErrorIs(t, err, errAuth)
	assert.False(t, f.tracker.Get(status.ConnectionAlive))
	assert.Empty(t, f.platform.registered, "no registration without a ready session")
	assert.Equal(t, StateDisconnected, f.lifecycle.State())
}

func TestLifecycleReadyPublishesOnceAndRoutesEvents(t *testing.T) {
	sessionErr := errors.New("gateway closed: 1006")
	var f *lifecycleFixture
	f = newLifecycleFixture(t, "", func(ctx context.Context, h EventHandler) error {
		h.OnReady(ctx, Ready{SessionID: "s-1", ApplicationID: "app-1", User: User{ID: "bot", Bot: true}})
		assert.Equal(t, StateReady, f.lifecycle.State())
		assert.True(t, f.tracker.Get(status.ConnectionAlive))

		h.OnReady(ctx, Ready{SessionID: "s-1", ApplicationID: "app-1"})
		h.OnMessage(ctx, humanMessage(generalID, "hello"))
		h.OnInteraction(ctx, chatInput("verify", nil, nil))
		h.OnInteraction(ctx, chatInput("nope", nil, nil))
		return sessionErr
	})

	err := f.lifecycle.Run(context.Background())

	require.ErrorIs(t, err, sessionErr)
	assert.NotErrorIs(t, err, ErrLoginFailed)
	assert.False(t, f.tracker.Get(status.ConnectionAlive), "session end clears the connection flag")

	require.Len(t, f.platform.registered, 1, "registration happens once per session")
	assert.Equal(t, []string{"app-1"}, f.platform.appIDs)
	assert.Equal(t, "verify", f.platform.registered[0][0].Name)
	assert.Equal(t, []string{automodID}, f.platform.fetched)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.classifier.count())
	assert.Equal(t, 1, f.handler.calls)
}

func TestLifecycleRegistrationFailureIsNonFatal(t *testing.T) {
	var f *lifecycleFixture
	f = newLifecycleFixture(t, "app-override", func(ctx context.Context, h EventHandler) error {
		h.OnReady(ctx, Ready{SessionID: "s-1", ApplicationID: "app-1"})
		h.OnMessage(ctx, humanMessage(generalID, "still works"))
		<-ctx.Done()
		return ctx.Err()
	})
	f.platform.registerErr = errors.New("discord 400")
	f.platform.fetchErr = errors.New("unknown channel")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return f.classifier.count() == 1 }, time.Second, time.Millisecond)
		cancel()
	}()

	assert.NoError(t, f.lifecycle.Run(ctx))
	assert.Equal(t, []string{"app-override"}, f.platform.appIDs)
	assert.Equal(t, 1, f.store.count())
}

func TestLifecycleShutdownBeforeReadyIsNotLoginFailure(t *testing.T) {
	f := newLifecycleFixture(t, "", func(ctx context.Context, h EventHandler) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, f.lifecycle.Run(ctx))
	assert.False(t, f.tracker.Get(status.ConnectionAlive))
}

func TestLifecycleAbsorbsTaskPanics(t *testing.T) {
	f := newLifecycleFixture(t, "", func(ctx context.Context, h EventHandler) error {
		h.OnReady(ctx, Ready{ApplicationID: "app-1"})
		h.OnMessage(ctx, humanMessage(generalID, "explode"))
		return errors.New("closed")
	})
	f.classifier.hook = func() { panic("classifier bug") }

	err := f.lifecycle.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, f.store.count())
}

func TestPublishCommandsRequiresApplicationID(t *testing.T) {
	reg, err := NewRegistry([]CommandID{"verify"}, Command{ID: "verify", Handler: HandlerFunc(func(context.Context, *Interaction, store.Store) error { return nil })})
	require.NoError(t, err)
	p := &mockPlatform{}

	assert.Error(t, PublishCommands(context.Background(), p, reg, ""))
	assert.Empty(t, p.registered)

	require.NoError(t, PublishCommands(context.Background(), p, reg, "app-1"))
	require.Len(t, p.registered, 1)
}

func TestNewLifecycleRequiresCollaborators(t *testing.T) {
	_, err := NewLifecycle(LifecycleOptions{})
	assert.Error(t, err)
}
