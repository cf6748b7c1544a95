package event

import (
	"strings"
	"time"
)

// Type identifies the kind of a domain event.
type Type string

// Family identifies which aggregate family an event belongs to.
type Family string

const (
	// FamilyDatasetReview groups dataset review events.
	FamilyDatasetReview Family = "dataset_review"
	// FamilyComment groups comment events.
	FamilyComment Family = "comment"
)

// Event represents an immutable fact recorded against one aggregate.
//
// Events are append-only: once stored they are never edited or deleted.
// Seq is assigned by storage on append and defines the total order that
// gives state folding its meaning.
type Event struct {
	// AggregateID is the dataset review or comment this event belongs to.
	AggregateID string
	// Seq is the event sequence number within the aggregate (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Timestamp is when the event was recorded.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// AuthorID is the acting user's stable identifier (ORCID-style, opaque).
	AuthorID string
	// SubjectID is the opaque foreign key the event refers to: the dataset
	// under review for review events, the commented-on item for comments.
	// Empty for events that reference no external subject.
	SubjectID string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Field returns the named envelope field as a string. Filter predicates
// reference events through this accessor; an unknown key reports false.
func (e Event) Field(key string) (string, bool) {
	switch key {
	case "aggregate_id":
		return e.AggregateID, true
	case "type":
		return string(e.Type), true
	case "author_id":
		return e.AuthorID, true
	case "subject_id":
		return e.SubjectID, true
	default:
		return "", false
	}
}
