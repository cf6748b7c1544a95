package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/storage"
)

func TestAppendEvents_AssignsSequentialSeqs(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	first, err := store.AppendEvents(ctx, "rev-1", 0, []event.Event{
		{Type: "dataset_review.started", AuthorID: "user-1"},
		{Type: "dataset_review.persona_chosen", AuthorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first[0].Seq != 1 || first[1].Seq != 2 {
		t.Fatalf("seqs = %d,%d, want 1,2", first[0].Seq, first[1].Seq)
	}

	second, err := store.AppendEvents(ctx, "rev-1", 2, []event.Event{
		{Type: "dataset_review.publication_requested", AuthorID: "user-1"},
	})
	if err != nil {
		t.Fatalf("append second batch: %v", err)
	}
	if second[0].Seq != 3 {
		t.Fatalf("seq = %d, want 3", second[0].Seq)
	}
}

func TestAppendEvents_RejectsStaleExpectedVersion(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, "rev-1", 0, []event.Event{{Type: "dataset_review.started"}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := store.AppendEvents(ctx, "rev-1", 0, []event.Event{{Type: "dataset_review.started"}})
	if !errors.Is(err, storage.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	// The failed append must not have written anything.
	seq, err := store.GetLatestSeq(ctx, "rev-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 1 {
		t.Fatalf("latest seq = %d, want 1", seq)
	}
}

func TestAppendEvents_AllOrNothingOnValidationFailure(t *testing.T) {
	registry := event.NewRegistry()
	if err := registry.Register(event.Definition{Type: "dataset_review.started", Family: event.FamilyDatasetReview}); err != nil {
		t.Fatalf("register: %v", err)
	}
	store := NewStore(registry)
	ctx := context.Background()

	_, err := store.AppendEvents(ctx, "rev-1", 0, []event.Event{
		{Type: "dataset_review.started"},
		{Type: "never.registered"},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	events, err := store.ListEvents(ctx, "rev-1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected empty journal after failed batch, got %d events", len(events))
	}
}

func TestAppendEvents_RejectsAuthoringAfterTerminal(t *testing.T) {
	registry := event.NewRegistry()
	for _, def := range []event.Definition{
		{Type: "comment.started", Family: event.FamilyComment, Authoring: true},
		{Type: "comment.entered", Family: event.FamilyComment, Authoring: true},
		{Type: "comment.doi_assigned", Family: event.FamilyComment},
		{Type: "comment.published", Family: event.FamilyComment, Terminal: true},
	} {
		if err := registry.Register(def); err != nil {
			t.Fatalf("register %s: %v", def.Type, err)
		}
	}
	store := NewStore(registry)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, "c-1", 0, []event.Event{
		{Type: "comment.started", AuthorID: "user-1"},
	}); err != nil {
		t.Fatalf("append started: %v", err)
	}
	if _, err := store.AppendEvents(ctx, "c-1", 1, []event.Event{
		{Type: "comment.published"},
	}); err != nil {
		t.Fatalf("append published: %v", err)
	}

	_, err := store.AppendEvents(ctx, "c-1", 2, []event.Event{
		{Type: "comment.entered", AuthorID: "user-1"},
	})
	if !errors.Is(err, storage.ErrJournalClosed) {
		t.Fatalf("expected ErrJournalClosed, got %v", err)
	}

	// Non-authoring events may still land after the terminal one.
	if _, err := store.AppendEvents(ctx, "c-1", 2, []event.Event{
		{Type: "comment.doi_assigned"},
	}); err != nil {
		t.Fatalf("append non-authoring after terminal: %v", err)
	}
}

func TestListEvents_AfterSeqAndLimit(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	var batch []event.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, event.Event{Type: "dataset_review.started"})
	}
	if _, err := store.AppendEvents(ctx, "rev-1", 0, batch); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.ListEvents(ctx, "rev-1", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Fatalf("unexpected page: %+v", events)
	}

	empty, err := store.ListEvents(ctx, "rev-absent", 0, 0)
	if err != nil {
		t.Fatalf("list unknown aggregate: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty slice for unknown aggregate, got %d", len(empty))
	}
}

func TestScan_FiltersAcrossAggregates(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	if _, err := store.AppendEvents(ctx, "rev-1", 0, []event.Event{
		{Type: "dataset_review.started", AuthorID: "user-1", SubjectID: "dataset-1"},
	}); err != nil {
		t.Fatalf("append rev-1: %v", err)
	}
	if _, err := store.AppendEvents(ctx, "rev-2", 0, []event.Event{
		{Type: "dataset_review.started", AuthorID: "user-2", SubjectID: "dataset-1"},
		{Type: "dataset_review.published", AuthorID: "user-2", SubjectID: "dataset-1"},
	}); err != nil {
		t.Fatalf("append rev-2: %v", err)
	}

	matches, err := store.Scan(ctx, event.Filter{{
		Types:      []event.Type{"dataset_review.started"},
		Predicates: map[string]string{"subject_id": "dataset-1"},
	}})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].AggregateID != "rev-1" || matches[1].AggregateID != "rev-2" {
		t.Fatalf("scan order = %s,%s, want rev-1,rev-2", matches[0].AggregateID, matches[1].AggregateID)
	}

	none, err := store.Scan(ctx, event.Filter{{Predicates: map[string]string{"subject_id": "dataset-1"}}})
	if err != nil {
		t.Fatalf("scan empty types: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("empty types clause must match nothing, got %d", len(none))
	}
}

// TestAppendEvents_ConcurrentWritersKeepJournalDense races writers against a
// shared aggregate and checks that exactly the successful appends landed, in
// a dense 1..N sequence.
func TestAppendEvents_ConcurrentWritersKeepJournalDense(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(n)))
			for attempt := 0; attempt < 20; attempt++ {
				expected, err := store.GetLatestSeq(ctx, "rev-1")
				if err != nil {
					t.Errorf("latest seq: %v", err)
					return
				}
				if rng.Intn(4) == 0 {
					// Deliberately race with a stale version.
					if expected > 0 {
						expected--
					}
				}
				_, err = store.AppendEvents(ctx, "rev-1", expected, []event.Event{
					{Type: "dataset_review.started", AuthorID: fmt.Sprintf("user-%d", n)},
				})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				} else if !errors.Is(err, storage.ErrConcurrentModification) {
					t.Errorf("unexpected append error: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	events, err := store.ListEvents(ctx, "rev-1", 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if int64(len(events)) != successes {
		t.Fatalf("journal has %d events, %d appends succeeded", len(events), successes)
	}
	for i, evt := range events {
		if evt.Seq != uint64(i+1) {
			t.Fatalf("seq at position %d = %d, journal not dense", i, evt.Seq)
		}
	}
}
