package bot

import (
	"context"

	"github.com/dmorn/m4d-automod/sdk/store"
)

// CommandID names a slash command. The set of valid ids is closed: callers
// declare it once and hand it to NewRegistry, which rejects anything else.
type CommandID string

// Handler implements one slash command. st is the shared datastore handle,
// passed through unmodified by the dispatcher.
type Handler interface {
	Handle(ctx context.Context, in *Interaction, st store.Store) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in *Interaction, st store.Store) error

func (f HandlerFunc) Handle(ctx context.Context, in *Interaction, st store.Store) error {
	return f(ctx, in, st)
}

type OptionType int

const (
	OptionString  OptionType = 3
	OptionInteger OptionType = 4
	OptionBoolean OptionType = 5
	OptionUser    OptionType = 6
	OptionChannel OptionType = 7
	OptionRole    OptionType = 8
	OptionNumber  OptionType = 10
)

type Choice struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type CommandOption struct {
	Type        OptionType `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Required    bool       `json:"required,omitempty"`
	Choices     []Choice   `json:"choices,omitempty"`
	MinValue    *float64   `json:"min_value,omitempty"`
	MaxValue    *float64   `json:"max_value,omitempty"`
	MinLength   *int       `json:"min_length,omitempty"`
	MaxLength   *int       `json:"max_length,omitempty"`
}

// CommandDefinition is the wire form published to the platform.
type CommandDefinition struct {
	Name        string          `json:"name"`
	Type        CommandType     `json:"type"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
}

// Command binds an id to its definition and handler.
type Command struct {
	ID          CommandID
	Description string
	Options     []CommandOption
	Handler     Handler
}

func (c Command) Definition() CommandDefinition {
	return CommandDefinition{
		Name:        string(c.ID),
		Type:        CommandTypeChatInput,
		Description: c.Description,
		Options:     c.Options,
	}
}
