package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/storage"
)

func seedJournal(t *testing.T, store *Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		aggregateID := fmt.Sprintf("rev-%d", i)
		if _, err := store.AppendEvents(ctx, aggregateID, 0, []event.Event{
			{Type: "dataset_review.started", AuthorID: fmt.Sprintf("user-%d", i%2), SubjectID: "dataset-1"},
		}); err != nil {
			t.Fatalf("seed %s: %v", aggregateID, err)
		}
	}
}

func TestListEventsPage_PagesNewestFirst(t *testing.T) {
	store := openTestStore(t)
	seedJournal(t, store, 5)
	ctx := context.Background()

	first, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{PageSize: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Events) != 2 {
		t.Fatalf("first page has %d events, want 2", len(first.Events))
	}
	if first.TotalSize != 5 {
		t.Fatalf("TotalSize = %d, want 5", first.TotalSize)
	}
	if first.NextPageToken == "" {
		t.Fatal("expected next page token")
	}
	if first.Events[0].AggregateID != "rev-4" {
		t.Fatalf("newest first: got %s, want rev-4", first.Events[0].AggregateID)
	}

	var seen []string
	for _, evt := range first.Events {
		seen = append(seen, evt.AggregateID)
	}
	token := first.NextPageToken
	for token != "" {
		page, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{PageSize: 2, PageToken: token})
		if err != nil {
			t.Fatalf("page %q: %v", token, err)
		}
		for _, evt := range page.Events {
			seen = append(seen, evt.AggregateID)
		}
		token = page.NextPageToken
	}
	if len(seen) != 5 {
		t.Fatalf("walked %d events, want 5: %v", len(seen), seen)
	}
	for i, id := range seen {
		want := fmt.Sprintf("rev-%d", 4-i)
		if id != want {
			t.Fatalf("position %d = %s, want %s", i, id, want)
		}
	}
}

func TestListEventsPage_AppliesFilterCondition(t *testing.T) {
	store := openTestStore(t)
	seedJournal(t, store, 4)

	condition, err := ParseEventFilter(`author_id = "user-0"`)
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}

	page, err := store.ListEventsPage(context.Background(), storage.ListEventsPageRequest{
		PageSize:     10,
		FilterClause: condition.Clause,
		FilterParams: condition.Params,
	})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("expected 2 events for user-0, got %d", len(page.Events))
	}
	if page.TotalSize != 2 {
		t.Fatalf("TotalSize = %d, want 2", page.TotalSize)
	}
	for _, evt := range page.Events {
		if evt.AuthorID != "user-0" {
			t.Fatalf("unexpected author %s", evt.AuthorID)
		}
	}
}

func TestListEventsPage_RejectsBadToken(t *testing.T) {
	store := openTestStore(t)

	_, err := store.ListEventsPage(context.Background(), storage.ListEventsPageRequest{PageSize: 2, PageToken: "not-a-number"})
	if err == nil {
		t.Fatal("expected invalid token error")
	}
}
