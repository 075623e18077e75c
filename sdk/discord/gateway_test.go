package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmorn/m4d-automod/sdk/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingHandler struct {
	mu           sync.Mutex
	ready        []bot.Ready
	messages     []bot.Message
	interactions []*bot.Interaction
}

func (h *recordingHandler) OnReady(_ context.Context, r bot.Ready) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, r)
}

func (h *recordingHandler) OnMessage(_ context.Context, m bot.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
}

func (h *recordingHandler) OnInteraction(_ context.Context, in *bot.Interaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.interactions = append(h.interactions, in)
}

// fakeGateway serves one websocket session per connection: hello, then
// script runs after identify has been read.
func fakeGateway(t *testing.T, heartbeatMS int, script func(ctx context.Context, conn *websocket.Conn, ident identifyData)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		hello, _ := json.Marshal(helloData{HeartbeatInterval: heartbeatMS})
		if err := wsjson.Write(ctx, conn, gatewayPayload{Op: opHello, D: hello}); err != nil {
			return
		}
		for {
			var p gatewayPayload
			if err := wsjson.Read(ctx, conn, &p); err != nil {
				return
			}
			if p.Op != opIdentify {
				continue
			}
			var ident identifyData
			_ = json.Unmarshal(p.D, &ident)
			script(ctx, conn, ident)
			return
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dispatchEvent(ctx context.Context, conn *websocket.Conn, seq int64, typ, data string) error {
	return wsjson.Write(ctx, conn, gatewayPayload{Op: opDispatch, S: &seq, T: typ, D: json.RawMessage(data)})
}

// drain reads until the peer goes away, answering nothing.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		var p gatewayPayload
		if err := wsjson.Read(ctx, conn, &p); err != nil {
			return
		}
	}
}

type stubResponder struct{}

func (stubResponder) RespondInteraction(context.Context, string, string, string, bool) error {
	return nil
}

func TestGatewayDeliversEvents(t *testing.T) {
	identified := make(chan identifyData, 1)
	ts := fakeGateway(t, 45000, func(ctx context.Context, conn *websocket.Conn, ident identifyData) {
		identified <- ident
		events := []struct{ typ, data string }{
			{"READY", `{"session_id":"s1","user":{"id":"99","username":"automod","bot":true},"application":{"id":"app1"}}`},
			{"GUILD_CREATE", `{"id":"5"}`},
			{"MESSAGE_CREATE", `{"id":"m1","channel_id":"c1","guild_id":"5","author":{"id":"u1","username":"steve"},"content":"hi","timestamp":"2024-03-04T19:05:09.123000+00:00"}`},
			{"INTERACTION_CREATE", `{"id":"i1","application_id":"app1","type":2,"token":"tok","guild_id":"5","channel_id":"c1","member":{"user":{"id":"u2","username":"alex"}},"data":{"id":"cmd","name":"punishments","type":1,"options":[{"name":"user","type":6,"value":"u3"},{"name":"limit","type":4,"value":5}]}}`},
		}
		for i, e := range events {
			if err := dispatchEvent(ctx, conn, int64(i+1), e.typ, e.data); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusCode(4000), "test over")
	})

	h := &recordingHandler{}
	g := NewGateway("secret", GatewayOptions{URL: wsURL(ts), Responder: stubResponder{}})
	err := g.Run(context.Background(), h)
	require.ErrorIs(t, err, ErrSessionClosed)

	ident := <-identified
	assert.Equal(t, "secret", ident.Token)
	assert.Equal(t, DefaultIntents, ident.Intents)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.ready, 1)
	assert.Equal(t, bot.Ready{SessionID: "s1", User: bot.User{ID: "99", Username: "automod", Bot: true}, ApplicationID: "app1"}, h.ready[0])

	require.Len(t, h.messages, 1)
	m := h.messages[0]
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "c1", m.ChannelID)
	assert.Equal(t, bot.User{ID: "u1", Username: "steve"}, m.Author)
	assert.Equal(t, time.Date(2024, 3, 4, 19, 5, 9, 123000000, time.UTC), m.CreatedAt.UTC())

	require.Len(t, h.interactions, 1)
	in := h.interactions[0]
	assert.True(t, in.IsChatInput())
	assert.Equal(t, "punishments", in.CommandName)
	assert.Equal(t, bot.User{ID: "u2", Username: "alex"}, in.User)
	assert.Equal(t, "u3", in.StringOption("user"))
	n, ok := in.IntOption("limit")
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)
	assert.NotNil(t, in.Responder)
}

func TestGatewayCloseCodes(t *testing.T) {
	tests := []struct {
		name string
		code websocket.StatusCode
		want error
	}{
		{name: "authentication", code: 4004, want: ErrAuthenticationFailed},
		{name: "intents", code: 4014, want: ErrDisallowedIntents},
		{name: "other", code: 4009, want: ErrSessionClosed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ts := fakeGateway(t, 45000, func(ctx context.Context, conn *websocket.Conn, _ identifyData) {
				_ = conn.Close(tt.code, "bye")
			})
			err := NewGateway("t", GatewayOptions{URL: wsURL(ts)}).Run(context.Background(), &recordingHandler{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGatewayReconnectAndInvalidSession(t *testing.T) {
	for _, op := range []int{opReconnect, opInvalidSession} {
		op := op
		ts := fakeGateway(t, 45000, func(ctx context.Context, conn *websocket.Conn, _ identifyData) {
			_ = wsjson.Write(ctx, conn, gatewayPayload{Op: op, D: json.RawMessage("false")})
			drain(ctx, conn)
		})
		err := NewGateway("t", GatewayOptions{URL: wsURL(ts)}).Run(context.Background(), &recordingHandler{})
		assert.ErrorIs(t, err, ErrSessionClosed, "op %d", op)
	}
}

func TestGatewayContextCancel(t *testing.T) {
	ts := fakeGateway(t, 45000, func(ctx context.Context, conn *websocket.Conn, _ identifyData) {
		drain(ctx, conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewGateway("t", GatewayOptions{URL: wsURL(ts)}).Run(ctx, &recordingHandler{})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGatewayHeartbeatTimeout(t *testing.T) {
	ts := fakeGateway(t, 20, func(ctx context.Context, conn *websocket.Conn, _ identifyData) {
		drain(ctx, conn)
	})

	err := NewGateway("t", GatewayOptions{URL: wsURL(ts)}).Run(context.Background(), &recordingHandler{})
	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
}

func TestGatewayAnswersHeartbeatRequest(t *testing.T) {
	beat := make(chan json.RawMessage, 1)
	ts := fakeGateway(t, 45000, func(ctx context.Context, conn *websocket.Conn, _ identifyData) {
		if err := dispatchEvent(ctx, conn, 7, "GUILD_CREATE", `{}`); err != nil {
			return
		}
		if err := wsjson.Write(ctx, conn, gatewayPayload{Op: opHeartbeat}); err != nil {
			return
		}
		for {
			var p gatewayPayload
			if err := wsjson.Read(ctx, conn, &p); err != nil {
				return
			}
			if p.Op == opHeartbeat {
				beat <- p.D
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	})

	err := NewGateway("t", GatewayOptions{URL: wsURL(ts)}).Run(context.Background(), &recordingHandler{})
	assert.ErrorIs(t, err, ErrSessionClosed)
	select {
	case d := <-beat:
		assert.JSONEq(t, "7", string(d))
	default:
		t.Fatal("no heartbeat sent")
	}
}

func TestGatewayDialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	err := NewGateway("t", GatewayOptions{URL: wsURL(ts)}).Run(context.Background(), &recordingHandler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial gateway")
	assert.False(t, errors.Is(err, ErrSessionClosed))
}

func TestDecodeInteractionDMUser(t *testing.T) {
	in, err := decodeInteraction(json.RawMessage(`{"id":"i","type":2,"token":"t","user":{"id":"u9","username":"dm"},"data":{"name":"get_uuid","type":1,"options":[{"name":"username","type":3,"value":"Notch"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "u9", in.User.ID)
	assert.Equal(t, "Notch", in.StringOption("username"))
}

func TestDecodeInteractionSubcommandGroupSkipped(t *testing.T) {
	in, err := decodeInteraction(json.RawMessage(`{"id":"i","type":2,"token":"t","data":{"name":"blacklist","type":1,"options":[{"name":"add","type":1,"options":[{"name":"user","type":6,"value":"1"}]}]}}`))
	require.NoError(t, err)
	assert.Empty(t, in.Options)
}

func TestDecodeMessageWithoutAuthor(t *testing.T) {
	m, err := decodeMessage(json.RawMessage(`{"id":"m","channel_id":"c","content":"x","timestamp":"2024-03-04T19:05:09.123000+00:00"}`), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, bot.User{}, m.Author)
	assert.Equal(t, time.Date(2024, 3, 4, 19, 5, 9, 123000000, time.UTC), m.CreatedAt.UTC())
}

func TestDecodeMessageBadTimestampUsesSnowflake(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	// 175928847299117063 is the example id from the Discord docs: 2016-04-30 11:18:25.796 UTC.
	m, err := decodeMessage(json.RawMessage(`{"id":"175928847299117063","channel_id":"c","content":"x","timestamp":"not a time"}`), zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 4, 30, 11, 18, 25, 796000000, time.UTC), m.CreatedAt.UTC())
	assert.Equal(t, 1, logs.FilterMessage("message timestamp unreadable").Len())
}

func TestDecodeMessageBadTimestampAndIDUsesNow(t *testing.T) {
	before := time.Now()
	m, err := decodeMessage(json.RawMessage(`{"id":"m","channel_id":"c","content":"x"}`), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, m.CreatedAt.Before(before))
	assert.WithinDuration(t, time.Now(), m.CreatedAt, time.Second)
}
