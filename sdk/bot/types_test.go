package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deferringPlatform struct {
	mockPlatform
	defers   []bool
	edits    []string
	deferErr error
}

func (p *deferringPlatform) DeferInteraction(_ context.Context, _, _ string, ephemeral bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deferErr != nil {
		return p.deferErr
	}
	p.defers = append(p.defers, ephemeral)
	return nil
}

func (p *deferringPlatform) EditInteractionResponse(_ context.Context, applicationID, _, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, applicationID+"|"+content)
	return nil
}

func TestInteractionDeferThenRespondEdits(t *testing.T) {
	p := &deferringPlatform{}
	in := chatInput("verify", nil, nil)
	in.ApplicationID = "app"
	in.Responder = p
	ctx := context.Background()

	require.NoError(t, in.Defer(ctx, true))
	require.NoError(t, in.Defer(ctx, false), "second defer is a no-op")
	assert.True(t, in.Deferred())
	require.NoError(t, in.Respond(ctx, "done"))

	assert.Equal(t, []bool{true}, p.defers)
	assert.Equal(t, []string{"app|done"}, p.edits)
	assert.Empty(t, p.replies)
}

func TestInteractionDeferWithoutSupportIsNoop(t *testing.T) {
	p := &mockPlatform{}
	in := chatInput("verify", nil, p)
	ctx := context.Background()

	require.NoError(t, in.Defer(ctx, true))
	assert.False(t, in.Deferred())
	require.NoError(t, in.RespondEphemeral(ctx, "done"))
	require.Len(t, p.replies, 1)
	assert.True(t, p.replies[0].ephemeral)
}

func TestInteractionDeferFailureKeepsDirectReply(t *testing.T) {
	p := &deferringPlatform{deferErr: errors.New("unknown interaction")}
	in := chatInput("verify", nil, nil)
	in.Responder = p

	assert.Error(t, in.Defer(context.Background(), true))
	assert.False(t, in.Deferred())
	require.NoError(t, in.Respond(context.Background(), "late"))
	assert.Len(t, p.replies, 1)
}
