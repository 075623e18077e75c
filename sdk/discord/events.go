package discord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmorn/m4d-automod/sdk/bot"
	"go.uber.org/zap"
)

// discordEpoch is the first millisecond of 2015 in Unix milliseconds.
const discordEpoch = 1420070400000

// snowflakeTime extracts the creation time encoded in a snowflake id.
func snowflakeTime(id string) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(n>>22) + discordEpoch), true
}

// wireUser is the user object as sent by the gateway.
type wireUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot,omitempty"`
}

func (u *wireUser) toBot() bot.User {
	if u == nil {
		return bot.User{}
	}
	return bot.User{ID: u.ID, Username: u.Username, Bot: u.Bot}
}

type wireReady struct {
	SessionID   string   `json:"session_id"`
	User        wireUser `json:"user"`
	Application struct {
		ID string `json:"id"`
	} `json:"application"`
}

type wireMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	GuildID   string    `json:"guild_id,omitempty"`
	Author    *wireUser `json:"author"`
	Content   string    `json:"content"`
	Timestamp string    `json:"timestamp"`
}

type wireOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

type wireInteraction struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Type          int    `json:"type"`
	Token         string `json:"token"`
	GuildID       string `json:"guild_id,omitempty"`
	ChannelID     string `json:"channel_id,omitempty"`
	Member        *struct {
		User *wireUser `json:"user"`
	} `json:"member,omitempty"`
	User *wireUser `json:"user,omitempty"`
	Data *struct {
		ID      string       `json:"id"`
		Name    string       `json:"name"`
		Type    int          `json:"type"`
		Options []wireOption `json:"options,omitempty"`
	} `json:"data,omitempty"`
}

func decodeReady(raw json.RawMessage) (bot.Ready, error) {
	var r wireReady
	if err := json.Unmarshal(raw, &r); err != nil {
		return bot.Ready{}, fmt.Errorf("decode READY: %w", err)
	}
	return bot.Ready{
		SessionID:     r.SessionID,
		User:          r.User.toBot(),
		ApplicationID: r.Application.ID,
	}, nil
}

// decodeMessage converts MESSAGE_CREATE. Messages without an author (some
// system messages) are reported with an empty User. A missing or malformed
// timestamp falls back to the time in the message id, then to now.
func decodeMessage(raw json.RawMessage, log *zap.Logger) (bot.Message, error) {
	var m wireMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return bot.Message{}, fmt.Errorf("decode MESSAGE_CREATE: %w", err)
	}
	msg := bot.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author:    m.Author.toBot(),
		Content:   m.Content,
	}
	ts, err := time.Parse(time.RFC3339, m.Timestamp)
	if err == nil {
		msg.CreatedAt = ts
		return msg, nil
	}
	if sf, ok := snowflakeTime(m.ID); ok {
		msg.CreatedAt = sf
	} else {
		msg.CreatedAt = time.Now()
	}
	log.Warn("message timestamp unreadable",
		zap.String("message_id", m.ID),
		zap.String("timestamp", m.Timestamp),
		zap.Time("using", msg.CreatedAt),
	)
	return msg, nil
}

// decodeInteraction converts INTERACTION_CREATE. In guilds the invoking user
// is under member.user, in DMs under user. Only top-level option values are
// kept; numbers stay json.Number.
func decodeInteraction(raw json.RawMessage) (*bot.Interaction, error) {
	var w wireInteraction
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode INTERACTION_CREATE: %w", err)
	}
	in := &bot.Interaction{
		ID:            w.ID,
		Token:         w.Token,
		ApplicationID: w.ApplicationID,
		Kind:          bot.InteractionKind(w.Type),
		GuildID:       w.GuildID,
		ChannelID:     w.ChannelID,
		Options:       map[string]any{},
	}
	switch {
	case w.Member != nil && w.Member.User != nil:
		in.User = w.Member.User.toBot()
	case w.User != nil:
		in.User = w.User.toBot()
	}
	if w.Data != nil {
		in.CommandName = w.Data.Name
		in.CommandType = bot.CommandType(w.Data.Type)
		for _, o := range w.Data.Options {
			if len(o.Value) == 0 {
				continue
			}
			v, err := decodeOptionValue(o.Value)
			if err != nil {
				return nil, fmt.Errorf("decode option %q: %w", o.Name, err)
			}
			in.Options[o.Name] = v
		}
	}
	return in, nil
}

func decodeOptionValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
