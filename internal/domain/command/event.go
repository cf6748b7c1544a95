package command

import (
	"time"

	"github.com/perch-reviews/perch/internal/domain/event"
)

// NewEvent builds an event.Event by copying the shared envelope fields from a
// command. Callers supply the event-specific type, subject addressing,
// payload, and timestamp, so new envelope fields are forwarded automatically
// instead of per-decider.
func NewEvent(cmd Command, eventType event.Type, subjectID string, payloadJSON []byte, now time.Time) event.Event {
	return event.Event{
		AggregateID: cmd.AggregateID,
		Type:        eventType,
		Timestamp:   now,
		AuthorID:    cmd.AuthorID,
		SubjectID:   subjectID,
		PayloadJSON: payloadJSON,
	}
}
