package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmorn/m4d-automod/sdk/status"
	"github.com/dmorn/m4d-automod/sdk/store"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultStatusCommand   = "!status"
	DefaultTimestampSuffix = "CDT"
	DefaultMaxInflight     = 64

	timestampLayout = "1/2/2006, 3:04:05 PM"
)

// Outcome is how a message left the pipeline.
type Outcome int

const (
	OutcomeIgnored   Outcome = iota // bot author
	OutcomeStatus                   // diagnostic command answered
	OutcomeProcessed                // persistence and moderation stages ran
	OutcomeDropped                  // context ended while waiting for a slot
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeStatus:
		return "status"
	case OutcomeProcessed:
		return "processed"
	case OutcomeDropped:
		return "dropped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// FormatTimestamp renders t in loc followed by a fixed zone suffix,
// e.g. "3/4/2024, 1:05:09 PM CDT". The suffix is not derived from loc.
func FormatTimestamp(t time.Time, loc *time.Location, suffix string) string {
	if loc == nil {
		loc = time.UTC
	}
	s := t.In(loc).Format(timestampLayout)
	if suffix != "" {
		s += " " + suffix
	}
	return s
}

type PipelineOptions struct {
	StatusCommand      string // default "!status"
	AutomodChannelID   string
	GeneralChannelID   string
	ClassifierEndpoint string
	Location           *time.Location // default UTC
	TimestampSuffix    string
	MaxInflight        int64 // default 64

	Status     status.Register
	Store      store.MessageLog
	Classifier Classifier
	Platform   Platform
	Logger     *Logger
	Metrics    *Metrics
}

// Pipeline processes inbound messages. Handle is safe to call from many
// goroutines; flags written by concurrent messages are last-write-wins.
type Pipeline struct {
	opts PipelineOptions
	sem  *semaphore.Weighted
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Status == nil || opts.Store == nil || opts.Classifier == nil || opts.Platform == nil {
		return nil, errors.New("pipeline requires Status, Store, Classifier and Platform")
	}
	if opts.StatusCommand == "" {
		opts.StatusCommand = DefaultStatusCommand
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = DefaultMaxInflight
	}
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}
	return &Pipeline{opts: opts, sem: semaphore.NewWeighted(opts.MaxInflight)}, nil
}

// Handle runs one message through the pipeline. Stage failures are logged
// and recorded on the status register; they never surface to the caller.
func (p *Pipeline) Handle(ctx context.Context, m Message) Outcome {
	o := p.handle(ctx, m)
	p.opts.Metrics.message(o)
	return o
}

func (p *Pipeline) handle(ctx context.Context, m Message) Outcome {
	if m.Author.Bot {
		return OutcomeIgnored
	}
	p.opts.Logger.Inbound(m)

	if m.Content == p.opts.StatusCommand {
		p.replyStatus(ctx)
		return OutcomeStatus
	}

	// Overflow waits here; stages never run more than MaxInflight at a time.
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.opts.Logger.Warn("pipeline_acquire", fmt.Errorf("message %s dropped: %w", m.ID, err))
		return OutcomeDropped
	}
	p.opts.Metrics.inflightAdd(1)
	defer func() {
		p.opts.Metrics.inflightAdd(-1)
		p.sem.Release(1)
	}()

	p.persist(ctx, m)
	p.moderate(ctx, m)
	return OutcomeProcessed
}

func (p *Pipeline) replyStatus(ctx context.Context) {
	snap := p.opts.Status.Snapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		p.opts.Logger.Error("status_marshal", err)
		return
	}
	text := "Bot status: " + string(b)
	p.opts.Logger.Outbound(p.opts.AutomodChannelID, text)
	if err := p.opts.Platform.SendMessage(ctx, p.opts.AutomodChannelID, text); err != nil {
		p.opts.Logger.Error("status_reply", err)
	}
}

func (p *Pipeline) persist(ctx context.Context, m Message) {
	start := time.Now()
	var err error
	if m.ChannelID == p.opts.GeneralChannelID {
		err = p.opts.Store.InsertMessage(ctx, store.MessageRecord{
			SenderID:  m.Author.ID,
			Message:   m.Content,
			Timestamp: FormatTimestamp(m.CreatedAt, p.opts.Location, p.opts.TimestampSuffix),
		})
	}
	p.opts.Logger.Stage("persistence", m.ID, time.Since(start), err)
	if err != nil {
		p.opts.Metrics.stageFailed("persistence")
	}
	p.opts.Status.Set(status.PersistenceHealthy, err == nil)
}

func (p *Pipeline) moderate(ctx context.Context, m Message) {
	start := time.Now()
	err := p.opts.Classifier.Submit(ctx, m, p.opts.ClassifierEndpoint, p.opts.AutomodChannelID, p.opts.Platform)
	p.opts.Logger.Stage("moderation", m.ID, time.Since(start), err)
	if err != nil {
		p.opts.Metrics.stageFailed("moderation")
	}
	p.opts.Status.Set(status.ClassifierHealthy, err == nil)
}
