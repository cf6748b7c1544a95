// Package storage defines the persistence contracts the domain depends on.
package storage

import (
	"context"
	"errors"

	"github.com/perch-reviews/perch/internal/domain/event"
)

var (
	// ErrConcurrentModification indicates the journal advanced past the
	// caller's expected version between load and append.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrJournalClosed indicates an attempt to append an authoring event to
	// an aggregate whose journal already holds a terminal event.
	ErrJournalClosed = errors.New("journal closed by terminal event")
)

// EventStore persists domain events as append-only journals keyed by
// aggregate id.
type EventStore interface {
	// AppendEvents atomically appends the batch to the aggregate's journal.
	// expectedVersion is the Seq of the last event the caller has observed
	// (zero for a new aggregate); when the journal's latest Seq differs the
	// append fails with ErrConcurrentModification and writes nothing.
	// Authoring events fail with ErrJournalClosed once the journal holds a
	// terminal event. On success the returned events carry their assigned
	// Seq values.
	AppendEvents(ctx context.Context, aggregateID string, expectedVersion uint64, events []event.Event) ([]event.Event, error)

	// ListEvents returns up to limit events for the aggregate with
	// Seq > afterSeq, ordered by Seq ascending. A non-positive limit means
	// no bound. An unknown aggregate yields an empty slice, not an error.
	ListEvents(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error)

	// GetLatestSeq returns the aggregate's current journal version, or zero
	// when the aggregate has no events.
	GetLatestSeq(ctx context.Context, aggregateID string) (uint64, error)

	// Scan returns every event matching the filter across all aggregates,
	// ordered by aggregate id then Seq.
	Scan(ctx context.Context, filter event.Filter) ([]event.Event, error)
}

// ListEventsPageRequest asks for one page of the global journal, newest
// first, optionally narrowed by a SQL condition produced from a filter
// expression.
type ListEventsPageRequest struct {
	PageSize     int
	PageToken    string
	FilterClause string
	FilterParams []any
}

// ListEventsPageResult carries one page plus continuation state.
type ListEventsPageResult struct {
	Events        []event.Event
	NextPageToken string
	TotalSize     int
}

// EventHistory exposes paged, filterable access to the whole journal for
// operational tooling. Only durable stores implement it.
type EventHistory interface {
	ListEventsPage(ctx context.Context, req ListEventsPageRequest) (ListEventsPageResult, error)
}
