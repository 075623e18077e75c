package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmorn/m4d-automod/sdk/bot"
	"go.uber.org/zap"
)

const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Gateway intents.
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentDirectMessages = 1 << 12
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentDirectMessages | IntentMessageContent
)

// Close codes with a dedicated error.
const (
	closeAuthenticationFailed websocket.StatusCode = 4004
	closeDisallowedIntents    websocket.StatusCode = 4014
)

// READY carries every guild the bot is in; the library default of 32 KiB is
// too small for it.
const gatewayReadLimit = 4 << 20

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string            `json:"token"`
	Intents    int               `json:"intents"`
	Properties map[string]string `json:"properties"`
}

type GatewayOptions struct {
	URL       string // default DefaultGatewayURL
	Intents   int    // default DefaultIntents
	Responder bot.Responder
	Logger    *zap.Logger
}

// Gateway runs one Discord gateway session per Run call. It never resumes or
// reconnects.
type Gateway struct {
	token     string
	url       string
	intents   int
	responder bot.Responder
	logger    *zap.Logger
}

var _ bot.Gateway = (*Gateway)(nil)

func NewGateway(token string, opts GatewayOptions) *Gateway {
	if opts.URL == "" {
		opts.URL = DefaultGatewayURL
	}
	if opts.Intents == 0 {
		opts.Intents = DefaultIntents
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{
		token:     token,
		url:       opts.URL,
		intents:   opts.Intents,
		responder: opts.Responder,
		logger:    opts.Logger,
	}
}

// gatewaySession is the state of one connection.
type gatewaySession struct {
	g     *Gateway
	conn  *websocket.Conn
	seq   atomic.Int64 // -1 until the first dispatch
	acked atomic.Bool
}

// Run connects, identifies and feeds events to h until the session ends.
// Events are delivered with ctx, not with the session's own context, so work
// spawned by h survives the end of the connection.
func (g *Gateway) Run(ctx context.Context, h bot.EventHandler) error {
	conn, _, err := websocket.Dial(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(gatewayReadLimit)

	s := &gatewaySession{g: g, conn: conn}
	s.seq.Store(-1)

	var hello gatewayPayload
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return s.readError(ctx, "read hello", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("%w: expected hello, got op %d", ErrSessionClosed, hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: bad hello payload", ErrSessionClosed)
	}

	sctx, cancel := context.WithCancel(ctx)
	hbErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.heartbeatLoop(sctx, time.Duration(hd.HeartbeatInterval)*time.Millisecond); err != nil {
			hbErr <- err
			conn.CloseNow()
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	if err := s.identify(sctx); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	err = s.readLoop(ctx, sctx, h)
	select {
	case e := <-hbErr:
		return e
	default:
	}
	return err
}

func (s *gatewaySession) identify(ctx context.Context) error {
	return s.send(ctx, opIdentify, identifyData{
		Token:   s.g.token,
		Intents: s.g.intents,
		Properties: map[string]string{
			"os": "linux", "browser": "m4d-automod", "device": "m4d-automod",
		},
	})
}

func (s *gatewaySession) send(ctx context.Context, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, s.conn, gatewayPayload{Op: op, D: raw})
}

func (s *gatewaySession) sendHeartbeat(ctx context.Context) error {
	var d any
	if seq := s.seq.Load(); seq >= 0 {
		d = seq
	}
	return s.send(ctx, opHeartbeat, d)
}

// heartbeatLoop beats every interval, the first one after a random fraction
// of it. A beat that finds the previous one unacknowledged ends the session.
func (s *gatewaySession) heartbeatLoop(ctx context.Context, interval time.Duration) error {
	first := time.Duration(rand.Float64() * float64(interval))
	timer := time.NewTimer(first)
	defer timer.Stop()
	s.acked.Store(true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if !s.acked.Swap(false) {
			s.g.logger.Warn("gateway heartbeat not acknowledged")
			return ErrHeartbeatTimeout
		}
		if err := s.sendHeartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send heartbeat: %w", err)
		}
		timer.Reset(interval)
	}
}

func (s *gatewaySession) readLoop(ctx, sctx context.Context, h bot.EventHandler) error {
	for {
		var p gatewayPayload
		if err := wsjson.Read(sctx, s.conn, &p); err != nil {
			return s.readError(ctx, "read", err)
		}
		if p.S != nil {
			s.seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			s.dispatch(ctx, h, p)
		case opHeartbeat:
			if err := s.sendHeartbeat(sctx); err != nil {
				return s.readError(ctx, "heartbeat", err)
			}
		case opHeartbeatAck:
			s.acked.Store(true)
		case opReconnect:
			return fmt.Errorf("%w: reconnect requested", ErrSessionClosed)
		case opInvalidSession:
			return fmt.Errorf("%w: invalid session", ErrSessionClosed)
		}
	}
}

func (s *gatewaySession) dispatch(ctx context.Context, h bot.EventHandler, p gatewayPayload) {
	log := s.g.logger
	switch p.T {
	case "READY":
		r, err := decodeReady(p.D)
		if err != nil {
			log.Warn("gateway event dropped", zap.String("type", p.T), zap.Error(err))
			return
		}
		h.OnReady(ctx, r)
	case "MESSAGE_CREATE":
		m, err := decodeMessage(p.D, log)
		if err != nil {
			log.Warn("gateway event dropped", zap.String("type", p.T), zap.Error(err))
			return
		}
		h.OnMessage(ctx, m)
	case "INTERACTION_CREATE":
		in, err := decodeInteraction(p.D)
		if err != nil {
			log.Warn("gateway event dropped", zap.String("type", p.T), zap.Error(err))
			return
		}
		in.Responder = s.g.responder
		h.OnInteraction(ctx, in)
	default:
		log.Debug("gateway event ignored", zap.String("type", p.T))
	}
}

// readError maps a failed read to the session's terminal error.
func (s *gatewaySession) readError(ctx context.Context, where string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch code := websocket.CloseStatus(err); code {
	case closeAuthenticationFailed:
		return ErrAuthenticationFailed
	case closeDisallowedIntents:
		return ErrDisallowedIntents
	case -1:
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrSessionClosed, where)
		}
		return fmt.Errorf("%w: %s: %w", ErrSessionClosed, where, err)
	default:
		return fmt.Errorf("%w: close %d", ErrSessionClosed, code)
	}
}
