package event

import (
	"math/rand"
	"testing"
)

func TestClauseMatches_TypeMembership(t *testing.T) {
	evt := Event{AggregateID: "rev-1", Type: Type("dataset_review.started")}

	tests := []struct {
		name   string
		clause Clause
		want   bool
	}{
		{
			name:   "matching type",
			clause: Clause{Types: []Type{"dataset_review.started"}},
			want:   true,
		},
		{
			name:   "type among several",
			clause: Clause{Types: []Type{"comment.started", "dataset_review.started"}},
			want:   true,
		},
		{
			name:   "non-matching type",
			clause: Clause{Types: []Type{"comment.started"}},
			want:   false,
		},
		{
			name:   "empty types never matches",
			clause: Clause{Types: nil, Predicates: map[string]string{"aggregate_id": "rev-1"}},
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.clause.Matches(evt); got != tt.want {
				t.Fatalf("Matches = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestClauseMatches_Predicates(t *testing.T) {
	evt := Event{
		AggregateID: "rev-1",
		Type:        Type("dataset_review.started"),
		AuthorID:    "0000-0002-1825-0097",
		SubjectID:   "dataset-1",
	}

	tests := []struct {
		name   string
		clause Clause
		want   bool
	}{
		{
			name: "all predicates equal",
			clause: Clause{
				Types:      []Type{evt.Type},
				Predicates: map[string]string{"author_id": evt.AuthorID, "subject_id": evt.SubjectID},
			},
			want: true,
		},
		{
			name: "one predicate differs",
			clause: Clause{
				Types:      []Type{evt.Type},
				Predicates: map[string]string{"author_id": evt.AuthorID, "subject_id": "dataset-2"},
			},
			want: false,
		},
		{
			name: "unknown field never matches",
			clause: Clause{
				Types:      []Type{evt.Type},
				Predicates: map[string]string{"persona": "public"},
			},
			want: false,
		},
		{
			name:   "absent predicates matches on type alone",
			clause: Clause{Types: []Type{evt.Type}},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.clause.Matches(evt); got != tt.want {
				t.Fatalf("Matches = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestFilterMatches_DisjunctionAcrossClauses(t *testing.T) {
	evt := Event{AggregateID: "c-1", Type: Type("comment.started"), AuthorID: "user-1"}

	filter := Filter{
		{Types: []Type{"dataset_review.started"}},
		{Types: []Type{"comment.started"}, Predicates: map[string]string{"author_id": "user-1"}},
	}
	if !filter.Matches(evt) {
		t.Fatal("expected second clause to match")
	}

	none := Filter{
		{Types: []Type{"dataset_review.started"}},
		{Types: []Type{"comment.started"}, Predicates: map[string]string{"author_id": "user-2"}},
	}
	if none.Matches(evt) {
		t.Fatal("expected no clause to match")
	}

	if (Filter{}).Matches(evt) {
		t.Fatal("expected empty filter to match nothing")
	}
}

// TestFilterProperty_SelfMatch exercises the filter identities from the
// matching contract against randomly generated events: a clause built from an
// event's own type and field values always matches, and substituting any
// field value breaks the match.
func TestFilterProperty_SelfMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	types := []Type{"dataset_review.started", "comment.started", "comment.published"}
	fields := []string{"aggregate_id", "author_id", "subject_id"}

	randomID := func() string {
		const alphabet = "abcdefghijklmnopqrstuvwxyz234567"
		b := make([]byte, 8)
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(b)
	}

	for i := 0; i < 200; i++ {
		evt := Event{
			AggregateID: randomID(),
			Type:        types[rng.Intn(len(types))],
			AuthorID:    randomID(),
			SubjectID:   randomID(),
		}

		if !(Clause{Types: []Type{evt.Type}}).Matches(evt) {
			t.Fatalf("iteration %d: type-only clause did not match its own event", i)
		}

		key := fields[rng.Intn(len(fields))]
		value, ok := evt.Field(key)
		if !ok {
			t.Fatalf("iteration %d: field %q not found", i, key)
		}

		same := Clause{Types: []Type{evt.Type}, Predicates: map[string]string{key: value}}
		if !same.Matches(evt) {
			t.Fatalf("iteration %d: equality predicate on own field %q did not match", i, key)
		}

		other := Clause{Types: []Type{evt.Type}, Predicates: map[string]string{key: value + "x"}}
		if other.Matches(evt) {
			t.Fatalf("iteration %d: substituted value for %q still matched", i, key)
		}
	}
}
