package discord

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dmorn/m4d-automod/sdk/bot"
)

const maxChunkRunes = 2000

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// noMentions stops bot output from pinging anyone it quotes.
var noMentions = &allowedMentions{Parse: []string{}}

// SendMessage implements bot.Platform.
// Text longer than 2000 runes is split at newline boundaries and sent as
// consecutive messages.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitAtNewlines(text, maxChunkRunes) {
		if err := c.do(ctx, "POST", "/channels/"+url.PathEscape(channelID)+"/messages", map[string]any{
			"content":          chunk,
			"allowed_mentions": noMentions,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// splitAtNewlines splits text into chunks of at most maxRunes runes, breaking
// at newline boundaries where possible. A line longer than maxRunes is
// hard-split.
func splitAtNewlines(text string, maxRunes int) []string {
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + maxRunes
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		splitAt := -1
		for i := end - 1; i > start; i-- {
			if runes[i] == '\n' {
				splitAt = i
				break
			}
		}

		if splitAt < 0 {
			chunks = append(chunks, string(runes[start:end]))
			start = end
		} else {
			chunks = append(chunks, string(runes[start:splitAt+1]))
			start = splitAt + 1
		}
	}
	return chunks
}

// DeleteMessage implements bot.Platform.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.do(ctx, "DELETE",
		fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(channelID), url.PathEscape(messageID)),
		nil, nil)
}

// FetchChannel implements bot.Platform.
func (c *Client) FetchChannel(ctx context.Context, channelID string) (*bot.Channel, error) {
	var ch struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Type    int    `json:"type"`
		GuildID string `json:"guild_id"`
	}
	if err := c.do(ctx, "GET", "/channels/"+url.PathEscape(channelID), nil, &ch); err != nil {
		return nil, err
	}
	return &bot.Channel{ID: ch.ID, Name: ch.Name, Type: ch.Type, GuildID: ch.GuildID}, nil
}

// RegisterCommands implements bot.Platform. It overwrites the application's
// global command set in one bulk call.
func (c *Client) RegisterCommands(ctx context.Context, applicationID string, defs []bot.CommandDefinition) error {
	if defs == nil {
		defs = []bot.CommandDefinition{}
	}
	return c.do(ctx, "PUT", "/applications/"+url.PathEscape(applicationID)+"/commands", defs, nil)
}
