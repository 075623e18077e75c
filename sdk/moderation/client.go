// Package moderation classifies chat messages with an OpenAI-compatible
// moderation endpoint and takes corrective action on flagged ones.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmorn/m4d-automod/sdk/bot"
	"github.com/dmorn/m4d-automod/sdk/discord"
	"github.com/dmorn/m4d-automod/sdk/store"
	"go.uber.org/zap"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/moderations"
	DefaultModel    = "omni-moderation-latest"

	// IssuedBy marks punishments recorded by the classifier.
	IssuedBy = "automod"

	quoteRunes = 300
)

type Options struct {
	HTTPClient *http.Client
	Model      string // default omni-moderation-latest
	Retry      RetryConfig
	Logger     *zap.Logger
	// Recorder, when set, receives a warn punishment for every message the
	// classifier removes.
	Recorder store.PunishmentRecorder
}

// Client implements bot.Classifier.
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	retry      RetryConfig
	logger     *zap.Logger
	recorder   store.PunishmentRecorder
}

var _ bot.Classifier = (*Client)(nil)

func New(apiKey string, opts Options) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("moderation: missing API key")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		apiKey:     apiKey,
		model:      opts.Model,
		httpClient: opts.HTTPClient,
		retry:      opts.Retry,
		logger:     opts.Logger,
		recorder:   opts.Recorder,
	}, nil
}

// Classify sends text to endpoint and returns the first result's verdict.
func (c *Client) Classify(ctx context.Context, endpoint, text string) (*Verdict, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	body, err := json.Marshal(moderationRequest{Input: text, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal moderation request: %w", err)
	}

	resp, err := doWithRetry(ctx, c.retry, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("moderation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read moderation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env errorEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error.Message != "" {
			return nil, fmt.Errorf("moderation API error %d: %s", resp.StatusCode, env.Error.Message)
		}
		return nil, fmt.Errorf("moderation API error %d: %s", resp.StatusCode, string(respBody))
	}

	var wire moderationResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("decode moderation response: %w", err)
	}
	if len(wire.Results) == 0 {
		return nil, errors.New("moderation response has no results")
	}
	v := verdictFrom(wire.Results[0])
	return &v, nil
}

// Submit implements bot.Classifier. A flagged message is deleted, a warning
// quoting it is posted to replyChannelID and, with a Recorder, a warn
// punishment is stored. Messages without text are not sent to the endpoint.
func (c *Client) Submit(ctx context.Context, msg bot.Message, endpoint, replyChannelID string, platform bot.Platform) error {
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	v, err := c.Classify(ctx, endpoint, msg.Content)
	if err != nil {
		return err
	}
	if !v.Flagged {
		return nil
	}

	log := c.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("channel_id", msg.ChannelID),
		zap.String("author_id", msg.Author.ID),
		zap.Strings("categories", v.Categories),
	)
	log.Info("message flagged")

	if err := platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !discord.IsNotFound(err) {
		return fmt.Errorf("delete flagged message: %w", err)
	}
	if replyChannelID != "" {
		if err := platform.SendMessage(ctx, replyChannelID, warningText(msg, *v)); err != nil {
			return fmt.Errorf("post moderation warning: %w", err)
		}
	}
	if c.recorder != nil {
		id, err := c.recorder.RecordPunishment(ctx, store.Punishment{
			DiscordID: msg.Author.ID,
			Kind:      store.PunishmentWarn,
			Reason:    "automod: " + v.Summary(),
			IssuedBy:  IssuedBy,
		})
		if err != nil {
			// The message is already gone; a missing record is not a
			// classifier failure.
			log.Warn("record punishment failed", zap.Error(err))
		} else {
			log.Debug("punishment recorded", zap.Int64("punishment_id", id))
		}
	}
	return nil
}

func warningText(msg bot.Message, v Verdict) string {
	return fmt.Sprintf("Removed a message from %s (%s) in %s for: %s\n%s",
		discord.Mention(msg.Author.ID),
		discord.EscapeMarkdown(msg.Author.Username),
		discord.ChannelMention(msg.ChannelID),
		v.Summary(),
		discord.Quote(msg.Content, quoteRunes),
	)
}
