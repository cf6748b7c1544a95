// Package review implements the dataset review aggregate: its state machine,
// event fold, and command decider.
package review

import (
	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
)

// Status is the review's position in its lifecycle.
type Status string

const (
	// StatusNotStarted means no events exist for the review yet.
	StatusNotStarted Status = "not_started"
	// StatusInProgress means the review has been started and accepts answers.
	StatusInProgress Status = "in_progress"
	// StatusIsBeingPublished means publication was requested and the review
	// no longer accepts changes.
	StatusIsBeingPublished Status = "is_being_published"
	// StatusHasBeenPublished means the review is published.
	StatusHasBeenPublished Status = "has_been_published"
)

// Personas a reviewer can publish under.
const (
	PersonaPublic    = "public"
	PersonaPseudonym = "pseudonym"
)

// State is the folded view of one dataset review.
type State struct {
	Started   bool
	Status    Status
	AuthorID  string
	DatasetID string
	// Answers maps question keys to recorded answer values. A later answer
	// to the same question replaces the earlier one.
	Answers map[string]string
	// AnswerDetails carries the optional free-text detail per question.
	AnswerDetails map[string]string
	Persona       string
	// CompetingInterestsDeclared is set once the reviewer has declared,
	// even when the declaration is "none".
	CompetingInterestsDeclared bool
	CompetingInterests         string
	PublicationRequested       bool
	DOI                        string
}

// NewState returns the state of a review that has no events.
func NewState() State {
	return State{Status: StatusNotStarted}
}

// Command types that drive the review forward outside the question list.
const (
	CommandTypeStart                     command.Type = "dataset_review.start"
	CommandTypeChoosePersona             command.Type = "dataset_review.choose_persona"
	CommandTypeDeclareCompetingInterests command.Type = "dataset_review.declare_competing_interests"
	CommandTypeRequestPublication        command.Type = "dataset_review.request_publication"
	CommandTypeMarkDOIAssigned           command.Type = "dataset_review.mark_doi_assigned"
	CommandTypeMarkPublished             command.Type = "dataset_review.mark_published"
)

// Event types recorded against a review.
const (
	EventTypeStarted                    event.Type = "dataset_review.started"
	EventTypePersonaChosen              event.Type = "dataset_review.persona_chosen"
	EventTypeCompetingInterestsDeclared event.Type = "dataset_review.competing_interests_declared"
	EventTypePublicationRequested       event.Type = "dataset_review.publication_requested"
	EventTypeDOIAssigned                event.Type = "dataset_review.doi_assigned"
	EventTypePublished                  event.Type = "dataset_review.published"
)

// NextExpectedCommand returns the command that moves the review toward
// publication, or empty when nothing more is expected of the author.
func (s State) NextExpectedCommand() command.Type {
	if !s.Started {
		return CommandTypeStart
	}
	if s.Status != StatusInProgress {
		return ""
	}
	for _, q := range questions {
		if _, answered := s.Answers[q.Key]; !answered {
			return q.CommandType
		}
	}
	if s.Persona == "" {
		return CommandTypeChoosePersona
	}
	if !s.CompetingInterestsDeclared {
		return CommandTypeDeclareCompetingInterests
	}
	return CommandTypeRequestPublication
}

// IsComplete reports whether every publication prerequisite is in place.
func (s State) IsComplete() bool {
	for _, q := range questions {
		if _, answered := s.Answers[q.Key]; !answered {
			return false
		}
	}
	return s.Persona != "" && s.CompetingInterestsDeclared
}

// CanAnswer reports whether the given user may still record answers.
func (s State) CanAnswer(authorID string) bool {
	return s.Started && s.Status == StatusInProgress && s.AuthorID == authorID
}
