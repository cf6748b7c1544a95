// Package memory provides an in-memory EventStore for tests and tooling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/storage"
)

// Store keeps per-aggregate journals in memory. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	journals map[string][]event.Event
	registry *event.Registry
}

// NewStore creates an empty in-memory store. A nil registry skips event
// validation on append.
func NewStore(registry *event.Registry) *Store {
	return &Store{
		journals: make(map[string][]event.Event),
		registry: registry,
	}
}

// AppendEvents implements storage.EventStore.
func (s *Store) AppendEvents(ctx context.Context, aggregateID string, expectedVersion uint64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if aggregateID == "" {
		return nil, fmt.Errorf("aggregate id is required")
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.journals[aggregateID]
	latest := uint64(0)
	if len(journal) > 0 {
		latest = journal[len(journal)-1].Seq
	}
	if latest != expectedVersion {
		return nil, fmt.Errorf("aggregate %s at seq %d, expected %d: %w",
			aggregateID, latest, expectedVersion, storage.ErrConcurrentModification)
	}

	closed := false
	if s.registry != nil {
		for _, evt := range journal {
			if def, ok := s.registry.Definition(evt.Type); ok && def.Terminal {
				closed = true
				break
			}
		}
	}

	appended := make([]event.Event, 0, len(events))
	seq := latest
	for _, evt := range events {
		evt.AggregateID = aggregateID
		if s.registry != nil {
			vetted, err := s.registry.ValidateForAppend(evt)
			if err != nil {
				return nil, fmt.Errorf("validate event %s: %w", evt.Type, err)
			}
			evt = vetted
			if closed {
				if def, ok := s.registry.Definition(evt.Type); ok && def.Authoring {
					return nil, fmt.Errorf("aggregate %s: %w", aggregateID, storage.ErrJournalClosed)
				}
			}
		}
		seq++
		evt.Seq = seq
		appended = append(appended, evt)
	}

	s.journals[aggregateID] = append(journal, appended...)
	return appended, nil
}

// ListEvents implements storage.EventStore.
func (s *Store) ListEvents(ctx context.Context, aggregateID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []event.Event
	for _, evt := range s.journals[aggregateID] {
		if evt.Seq <= afterSeq {
			continue
		}
		events = append(events, evt)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// GetLatestSeq implements storage.EventStore.
func (s *Store) GetLatestSeq(ctx context.Context, aggregateID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.journals[aggregateID]
	if len(journal) == 0 {
		return 0, nil
	}
	return journal[len(journal)-1].Seq, nil
}

// Scan implements storage.EventStore.
func (s *Store) Scan(ctx context.Context, filter event.Filter) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	aggregateIDs := make([]string, 0, len(s.journals))
	for id := range s.journals {
		aggregateIDs = append(aggregateIDs, id)
	}
	sort.Strings(aggregateIDs)

	var matches []event.Event
	for _, id := range aggregateIDs {
		for _, evt := range s.journals[id] {
			if filter.Matches(evt) {
				matches = append(matches, evt)
			}
		}
	}
	return matches, nil
}
