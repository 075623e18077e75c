// Package bot is the event core of the automod bot: the command registry and
// interaction dispatcher, the message pipeline and the connection lifecycle.
// Platform transport lives in sdk/discord; this package only sees the
// interfaces below.
package bot

import (
	"context"
	"errors"
	"time"
)

// ErrNoResponder is returned by Interaction.Respond when the interaction was
// built without a reply capability (tests, replays).
var ErrNoResponder = errors.New("bot: interaction has no responder")

// User is the author of a message or interaction.
type User struct {
	ID       string
	Username string
	Bot      bool
}

// Message is one inbound channel message.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Author    User
	Content   string
	CreatedAt time.Time
}

type InteractionKind int

const (
	InteractionPing             InteractionKind = 1
	InteractionApplicationCmd   InteractionKind = 2
	InteractionMessageComponent InteractionKind = 3
	InteractionAutocomplete     InteractionKind = 4
	InteractionModalSubmit      InteractionKind = 5
)

// CommandType distinguishes slash commands from context-menu commands.
type CommandType int

const (
	CommandTypeChatInput CommandType = 1
	CommandTypeUser      CommandType = 2
	CommandTypeMessage   CommandType = 3
)

// Responder answers an interaction. Implemented by the platform client.
type Responder interface {
	RespondInteraction(ctx context.Context, interactionID, token, content string, ephemeral bool) error
}

// DeferringResponder can acknowledge an interaction first and send the reply
// later, for handlers that may outlast the platform's answer window.
type DeferringResponder interface {
	Responder
	DeferInteraction(ctx context.Context, interactionID, token string, ephemeral bool) error
	EditInteractionResponse(ctx context.Context, applicationID, token, content string) error
}

// Interaction is one inbound interaction event.
// Options holds option values keyed by name; numbers are json.Number.
type Interaction struct {
	ID            string
	Token         string
	ApplicationID string
	Kind          InteractionKind
	CommandType   CommandType
	CommandName   string
	GuildID       string
	ChannelID     string
	User          User
	Options       map[string]any

	Responder Responder

	deferred bool
}

// IsChatInput reports whether the interaction is a slash command invocation.
func (in *Interaction) IsChatInput() bool {
	return in.Kind == InteractionApplicationCmd && in.CommandType == CommandTypeChatInput
}

// Respond sends a public reply.
func (in *Interaction) Respond(ctx context.Context, content string) error {
	return in.respond(ctx, content, false)
}

// RespondEphemeral sends a reply visible only to the invoking user.
func (in *Interaction) RespondEphemeral(ctx context.Context, content string) error {
	return in.respond(ctx, content, true)
}

// Defer acknowledges the interaction now; later Respond calls edit the
// acknowledgement instead, keeping the visibility chosen here. A no-op when
// the responder cannot defer or the interaction is already deferred.
func (in *Interaction) Defer(ctx context.Context, ephemeral bool) error {
	dr, ok := in.Responder.(DeferringResponder)
	if !ok || in.deferred {
		return nil
	}
	if err := dr.DeferInteraction(ctx, in.ID, in.Token, ephemeral); err != nil {
		return err
	}
	in.deferred = true
	return nil
}

// Deferred reports whether Defer acknowledged the interaction.
func (in *Interaction) Deferred() bool { return in.deferred }

func (in *Interaction) respond(ctx context.Context, content string, ephemeral bool) error {
	if in.Responder == nil {
		return ErrNoResponder
	}
	if in.deferred {
		return in.Responder.(DeferringResponder).EditInteractionResponse(ctx, in.ApplicationID, in.Token, content)
	}
	return in.Responder.RespondInteraction(ctx, in.ID, in.Token, content, ephemeral)
}

// StringOption returns the named option as a string ("" when absent).
// User, channel and role options are snowflake strings and are read here too.
func (in *Interaction) StringOption(name string) string {
	s, _ := in.Options[name].(string)
	return s
}

// IntOption returns the named integer option.
func (in *Interaction) IntOption(name string) (int64, bool) {
	switch v := in.Options[name].(type) {
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// BoolOption returns the named boolean option.
func (in *Interaction) BoolOption(name string) (bool, bool) {
	b, ok := in.Options[name].(bool)
	return b, ok
}

// Channel is the subset of channel metadata the bot reads.
type Channel struct {
	ID      string
	Name    string
	Type    int
	GuildID string
}

// Ready is the payload of a session-ready event.
type Ready struct {
	SessionID     string
	User          User
	ApplicationID string
}

// Platform is the outbound surface of the chat platform.
type Platform interface {
	Responder
	SendMessage(ctx context.Context, channelID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchChannel(ctx context.Context, channelID string) (*Channel, error)
	RegisterCommands(ctx context.Context, applicationID string, defs []CommandDefinition) error
}

// Classifier submits a message to the moderation service. Corrective action
// (deletion, warnings) is the classifier's business and goes through platform.
type Classifier interface {
	Submit(ctx context.Context, msg Message, endpoint, replyChannelID string, platform Platform) error
}

// EventHandler receives gateway events. Calls are made from the gateway read
// loop and must not block for long.
type EventHandler interface {
	OnReady(ctx context.Context, r Ready)
	OnMessage(ctx context.Context, m Message)
	OnInteraction(ctx context.Context, in *Interaction)
}

// Gateway runs one platform session until it ends or ctx is cancelled.
type Gateway interface {
	Run(ctx context.Context, h EventHandler) error
}
