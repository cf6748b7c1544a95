// Package replay folds an aggregate's journal into state by applying events
// in sequence order.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/perch-reviews/perch/internal/domain/event"
)

// DefaultPageSize bounds how many events a single storage read returns.
const DefaultPageSize = 200

// EventLister is the slice of the event store replay needs.
type EventLister interface {
	// ListEvents returns up to limit events for the aggregate with
	// Seq > afterSeq, ordered by Seq ascending.
	ListEvents(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// Applier folds a single event into the accumulated state. It must be pure
// and total: same inputs produce the same output and unrecognized events are
// ignored rather than failed.
type Applier[S any] func(state S, evt event.Event) S

// Options tune a replay run.
type Options struct {
	// AfterSeq starts replay strictly after this sequence number.
	AfterSeq uint64
	// UntilSeq stops replay after applying this sequence number. Zero means
	// replay to the end of the journal.
	UntilSeq uint64
	// PageSize overrides DefaultPageSize when positive.
	PageSize int
}

// Result reports what a replay run covered.
type Result struct {
	// LastSeq is the sequence number of the last event applied, or
	// Options.AfterSeq when no events were applied.
	LastSeq uint64
	// Applied is the number of events folded into the state.
	Applied int
}

// Run folds the aggregate's events into initial, page by page, and returns
// the final state. Events out of ascending order indicate a corrupt journal
// and abort the run.
func Run[S any](ctx context.Context, store EventLister, aggregateID string, initial S, apply Applier[S], opts Options) (S, Result, error) {
	if store == nil {
		return initial, Result{}, errors.New("event store is required")
	}
	if apply == nil {
		return initial, Result{}, errors.New("applier is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	state := initial
	result := Result{LastSeq: opts.AfterSeq}
	cursor := opts.AfterSeq
	for {
		if err := ctx.Err(); err != nil {
			return state, result, err
		}
		events, err := store.ListEvents(ctx, aggregateID, cursor, pageSize)
		if err != nil {
			return state, result, fmt.Errorf("list events: %w", err)
		}
		if len(events) == 0 {
			return state, result, nil
		}
		for _, evt := range events {
			if evt.Seq <= result.LastSeq {
				return state, result, fmt.Errorf("journal out of order: seq %d after %d", evt.Seq, result.LastSeq)
			}
			if opts.UntilSeq > 0 && evt.Seq > opts.UntilSeq {
				return state, result, nil
			}
			state = apply(state, evt)
			result.LastSeq = evt.Seq
			result.Applied++
		}
		if len(events) < pageSize {
			return state, result, nil
		}
		cursor = result.LastSeq
	}
}
