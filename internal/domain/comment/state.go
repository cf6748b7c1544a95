// Package comment implements the comment aggregate: its state machine, event
// fold, and command decider.
package comment

import (
	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
)

// Status is the comment's position in its lifecycle.
type Status string

const (
	// StatusNotStarted means no events exist for the comment yet.
	StatusNotStarted Status = "not_started"
	// StatusInProgress means the comment has been started and accepts edits.
	StatusInProgress Status = "in_progress"
	// StatusBeingPublished means publication was requested and the comment
	// no longer accepts changes.
	StatusBeingPublished Status = "being_published"
	// StatusPublished means the comment is published.
	StatusPublished Status = "published"
	// StatusRemoved means a moderator removed the comment. The journal is
	// kept; the comment only stops being shown or edited.
	StatusRemoved Status = "removed"
)

// Personas a commenter can publish under.
const (
	PersonaPublic    = "public"
	PersonaPseudonym = "pseudonym"
)

// State is the folded view of one comment.
type State struct {
	Started  bool
	Status   Status
	AuthorID string
	// TargetID is the item being commented on.
	TargetID string
	Text     string
	Persona  string
	// CompetingInterestsDeclared is set once the commenter has declared,
	// even when the declaration is "none".
	CompetingInterestsDeclared bool
	CompetingInterests         string
	CodeOfConductAgreed        bool
	PublicationRequested       bool
	DOI                        string
	// RemovedReason is the moderator's note, when one was given.
	RemovedReason string
}

// NewState returns the state of a comment that has no events.
func NewState() State {
	return State{Status: StatusNotStarted}
}

// Command types that drive the comment forward.
const (
	CommandTypeStart                     command.Type = "comment.start"
	CommandTypeEnter                     command.Type = "comment.enter"
	CommandTypeChoosePersona             command.Type = "comment.choose_persona"
	CommandTypeDeclareCompetingInterests command.Type = "comment.declare_competing_interests"
	CommandTypeAgreeCodeOfConduct        command.Type = "comment.agree_code_of_conduct"
	CommandTypeRequestPublication        command.Type = "comment.request_publication"
	CommandTypeMarkDOIAssigned           command.Type = "comment.mark_doi_assigned"
	CommandTypeMarkPublished             command.Type = "comment.mark_published"
	CommandTypeMarkRemoved               command.Type = "comment.mark_removed"
)

// Event types recorded against a comment.
const (
	EventTypeStarted                    event.Type = "comment.started"
	EventTypeEntered                    event.Type = "comment.entered"
	EventTypePersonaChosen              event.Type = "comment.persona_chosen"
	EventTypeCompetingInterestsDeclared event.Type = "comment.competing_interests_declared"
	EventTypeCodeOfConductAgreed        event.Type = "comment.code_of_conduct_agreed"
	EventTypePublicationRequested       event.Type = "comment.publication_requested"
	EventTypeDOIAssigned                event.Type = "comment.doi_assigned"
	EventTypePublished                  event.Type = "comment.published"
	EventTypeRemoved                    event.Type = "comment.removed"
)

// IsReadyForPublishing reports whether every publication prerequisite is in
// place. Readiness is derived from the recorded inputs rather than stored.
func (s State) IsReadyForPublishing() bool {
	return s.Started &&
		s.Status == StatusInProgress &&
		s.Text != "" &&
		s.Persona != "" &&
		s.CompetingInterestsDeclared &&
		s.CodeOfConductAgreed
}

// NextExpectedCommand returns the command that moves the comment toward
// publication, or empty when nothing more is expected of the author.
func (s State) NextExpectedCommand() command.Type {
	if !s.Started {
		return CommandTypeStart
	}
	if s.Status != StatusInProgress {
		return ""
	}
	if s.Text == "" {
		return CommandTypeEnter
	}
	if s.Persona == "" {
		return CommandTypeChoosePersona
	}
	if !s.CompetingInterestsDeclared {
		return CommandTypeDeclareCompetingInterests
	}
	if !s.CodeOfConductAgreed {
		return CommandTypeAgreeCodeOfConduct
	}
	return CommandTypeRequestPublication
}
