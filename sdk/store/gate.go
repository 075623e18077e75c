package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// schemaGate applies the schema on first use. A failed attempt is retried by
// the next caller, so an outage at start-up heals once the database returns.
type schemaGate struct {
	sem   *semaphore.Weighted
	ready atomic.Bool
	apply func(ctx context.Context) error
}

func newSchemaGate(apply func(ctx context.Context) error) *schemaGate {
	return &schemaGate{sem: semaphore.NewWeighted(1), apply: apply}
}

func (g *schemaGate) wait(ctx context.Context) error {
	if g.ready.Load() {
		return nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	if g.ready.Load() {
		return nil
	}
	if err := g.apply(ctx); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	g.ready.Store(true)
	return nil
}
