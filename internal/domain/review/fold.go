package review

import (
	"encoding/json"
	"strings"

	"github.com/perch-reviews/perch/internal/domain/event"
)

// StartedPayload is recorded when a review is started.
type StartedPayload struct {
	DatasetID string `json:"datasetId"`
}

// AnswerPayload is recorded for every answered question.
type AnswerPayload struct {
	Answer string `json:"answer"`
	Detail string `json:"detail,omitempty"`
}

// PersonaPayload is recorded when the reviewer chooses a persona.
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

// Fold applies an event to review state. Unrecognized event types and
// undecodable payloads leave the state unchanged.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypeStarted:
		state.Started = true
		state.Status = StatusInProgress
		state.AuthorID = evt.AuthorID
		var payload StartedPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.DatasetID = strings.TrimSpace(payload.DatasetID)
		if state.DatasetID == "" {
			state.DatasetID = evt.SubjectID
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
	case EventTypePublicationRequested:
		state.PublicationRequested = true
		state.Status = StatusIsBeingPublished
	case EventTypeDOIAssigned:
		var payload DOIPayload
		_ = json.Unmarshal(evt.PayloadJSON, &payload)
		state.DOI = strings.TrimSpace(payload.DOI)
	case EventTypePublished:
		state.Status = StatusHasBeenPublished
	default:
		if q, ok := questionByEvent(evt.Type); ok {
			var payload AnswerPayload
			_ = json.Unmarshal(evt.PayloadJSON, &payload)

			// Copy before writing so callers holding an earlier state
			// snapshot never see it change under them.
			answers := make(map[string]string, len(state.Answers)+1)
			for k, v := range state.Answers {
				answers[k] = v
			}
			answers[q.Key] = payload.Answer
			state.Answers = answers

			details := make(map[string]string, len(state.AnswerDetails)+1)
			for k, v := range state.AnswerDetails {
				details[k] = v
			}
			if payload.Detail != "" {
				details[q.Key] = payload.Detail
			} else {
				// A re-answer without detail supersedes any earlier detail.
				delete(details, q.Key)
			}
			if len(details) == 0 {
				details = nil
			}
			state.AnswerDetails = details
		}
	}
	return state
}
