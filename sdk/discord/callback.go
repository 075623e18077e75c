package discord

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dmorn/m4d-automod/sdk/bot"
)

const (
	callbackChannelMessage         = 4
	callbackDeferredChannelMessage = 5
	flagEphemeral                  = 1 << 6
)

var _ bot.DeferringResponder = (*Client)(nil)

// RespondInteraction answers an interaction with a message.
// ephemeral: only the invoking user sees the reply.
// Must be called within 3 seconds of the interaction being created.
func (c *Client) RespondInteraction(ctx context.Context, interactionID, token, content string, ephemeral bool) error {
	data := map[string]any{
		"content":          truncate(content, maxChunkRunes),
		"allowed_mentions": noMentions,
	}
	if ephemeral {
		data["flags"] = flagEphemeral
	}
	payload := map[string]any{
		"type": callbackChannelMessage,
		"data": data,
	}
	return c.do(ctx, "POST", callbackPath(interactionID, token), payload, nil)
}

// DeferInteraction acknowledges an interaction and shows a loading state.
// The reply is filled in later by EditInteractionResponse, within 15 minutes.
// Visibility is fixed here and cannot change in the edit.
func (c *Client) DeferInteraction(ctx context.Context, interactionID, token string, ephemeral bool) error {
	payload := map[string]any{"type": callbackDeferredChannelMessage}
	if ephemeral {
		payload["data"] = map[string]any{"flags": flagEphemeral}
	}
	return c.do(ctx, "POST", callbackPath(interactionID, token), payload, nil)
}

// EditInteractionResponse replaces the original response of a deferred
// interaction.
func (c *Client) EditInteractionResponse(ctx context.Context, applicationID, token, content string) error {
	payload := map[string]any{
		"content":          truncate(content, maxChunkRunes),
		"allowed_mentions": noMentions,
	}
	return c.do(ctx, "PATCH",
		fmt.Sprintf("/webhooks/%s/%s/messages/@original", url.PathEscape(applicationID), url.PathEscape(token)),
		payload, nil)
}

func callbackPath(interactionID, token string) string {
	return fmt.Sprintf("/interactions/%s/%s/callback", url.PathEscape(interactionID), url.PathEscape(token))
}
