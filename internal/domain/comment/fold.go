package comment

import (
	"encoding/json"
	"strings"

	"github.com/perch-reviews/perch/internal/domain/event"
)

// StartedPayload is recorded when a comment is started.
type StartedPayload struct {
	TargetID string `json:"targetId"`
}

// EnteredPayload is recorded when the comment text is entered or revised.
type EnteredPayload struct {
	Text string `json:"text"`
}

// PersonaPayload is recorded when the commenter chooses a persona.
type PersonaPayload struct {
	Persona string `json:"persona"`
}

// CompetingInterestsPayload is recorded when competing interests are declared.
type CompetingInterestsPayload struct {
	Statement string `json:"statement"`
}

// DOIPayload is recorded when the publication pipeline assigns a DOI.
type DOIPayload struct {
	DOI string `json:"doi"`
}

// RemovedPayload is recorded when a moderator removes the comment.
type RemovedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Fold applies an event to comment state. Unrecognized event types and
// undecodable payloads leave the state unchanged.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypeStarted:
		state.Started = true
		state.Status = StatusInProgress
		state.AuthorID = evt.AuthorID
		var payload StartedPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.TargetID = strings.TrimSpace(payload.TargetID)
		if state.TargetID == "" {
			state.TargetID = evt.SubjectID
		}
	case EventTypeEntered:
		var payload EnteredPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		if text := strings.TrimSpace(payload.Text); text != "" {
			state.Text = text
		}
	case EventTypePersonaChosen:
		var payload PersonaPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.Persona = strings.TrimSpace(payload.Persona)
	case EventTypeCompetingInterestsDeclared:
		var payload CompetingInterestsPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.CompetingInterestsDeclared = true
		state.CompetingInterests = strings.TrimSpace(payload.Statement)
	case EventTypeCodeOfConductAgreed:
		state.CodeOfConductAgreed = true
	case EventTypePublicationRequested:
		state.PublicationRequested = true
		state.Status = StatusBeingPublished
	case EventTypeDOIAssigned:
		var payload DOIPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.DOI = strings.TrimSpace(payload.DOI)
	case EventTypePublished:
		state.Status = StatusPublished
	case EventTypeRemoved:
		var payload RemovedPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.Status = StatusRemoved
		state.RemovedReason = strings.TrimSpace(payload.Reason)
	}
	return state
}
