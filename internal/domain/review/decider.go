package review

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/perch-reviews/perch/internal/domain/command"
)

const (
	rejectionCodeNotStarted            = "DATASET_REVIEW_HAS_NOT_BEEN_STARTED"
	rejectionCodeAlreadyStarted        = "DATASET_REVIEW_WAS_ALREADY_STARTED"
	rejectionCodeStartedByAnotherUser  = "DATASET_REVIEW_WAS_STARTED_BY_ANOTHER_USER"
	rejectionCodeIsBeingPublished      = "DATASET_REVIEW_IS_BEING_PUBLISHED"
	rejectionCodeHasBeenPublished      = "DATASET_REVIEW_HAS_BEEN_PUBLISHED"
	rejectionCodeIncomplete            = "DATASET_REVIEW_IS_INCOMPLETE"
	rejectionCodePublicationNotPending = "DATASET_REVIEW_PUBLICATION_NOT_REQUESTED"
	rejectionCodeDatasetIDRequired     = "DATASET_ID_REQUIRED"
	rejectionCodeAnswerInvalid         = "ANSWER_INVALID"
	rejectionCodePersonaInvalid        = "PERSONA_INVALID"
	rejectionCodeDOIRequired           = "DOI_REQUIRED"
)

// Decide returns the decision for a review command against current state.
//
// For commands against an existing review the author gate runs before any
// state machine check, so a wrong user learns nothing about how far the
// review has progressed.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}

	if cmd.Type == CommandTypeStart {
		return decideStart(state, cmd, now)
	}

	if !isSystemCommand(cmd.Type) {
		if state.Started && state.AuthorID != cmd.AuthorID {
			return command.Reject(command.Rejection{
				Code:    command.RejectionCodeNotAuthorized,
				Message: "dataset review belongs to another user",
			})
		}
	}
	if !state.Started {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeNotStarted,
			Message: "dataset review has not been started",
		})
	}

	if q, ok := questionByCommand(cmd.Type); ok {
		return decideAnswer(state, cmd, q, now)
	}

	switch cmd.Type {
	case CommandTypeChoosePersona:
		return decideChoosePersona(state, cmd, now)
	case CommandTypeDeclareCompetingInterests:
		return decideDeclareCompetingInterests(state, cmd, now)
	case CommandTypeRequestPublication:
		return decideRequestPublication(state, cmd, now)
	case CommandTypeMarkDOIAssigned:
		return decideMarkDOIAssigned(state, cmd, now)
	case CommandTypeMarkPublished:
		return decideMarkPublished(state, cmd, now)
	default:
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodeCommandTypeUnsupported,
			Message: "command is not handled by the dataset review decider",
		})
	}
}

// isSystemCommand reports whether the publication pipeline rather than the
// reviewing user issues the command.
func isSystemCommand(cmdType command.Type) bool {
	return cmdType == CommandTypeMarkDOIAssigned || cmdType == CommandTypeMarkPublished
}

func decideStart(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Started {
		if state.AuthorID != cmd.AuthorID {
			return command.Reject(command.Rejection{
				Code:    rejectionCodeStartedByAnotherUser,
				Message: "dataset review was started by another user",
			})
		}
		return command.Reject(command.Rejection{
			Code:    rejectionCodeAlreadyStarted,
			Message: "dataset review was already started",
		})
	}

	var payload StartedPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "start payload could not be decoded",
		})
	}
	payload.DatasetID = strings.TrimSpace(payload.DatasetID)
	if payload.DatasetID == "" {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeDatasetIDRequired,
			Message: "dataset id is required",
		})
	}

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypeStarted, payload.DatasetID, payloadJSON, now().UTC()))
}

// rejectForStatus translates a non-editable status into its rejection.
func rejectForStatus(state State) (command.Decision, bool) {
	switch state.Status {
	case StatusIsBeingPublished:
		return command.Reject(command.Rejection{
			Code:    rejectionCodeIsBeingPublished,
			Message: "dataset review is being published",
		}), true
	case StatusHasBeenPublished:
		return command.Reject(command.Rejection{
			Code:    rejectionCodeHasBeenPublished,
			Message: "dataset review has been published",
		}), true
	default:
		return command.Decision{}, false
	}
}

func decideAnswer(state State, cmd command.Command, q Question, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}

	var payload AnswerPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "answer payload could not be decoded",
		})
	}
	payload.Answer = strings.TrimSpace(payload.Answer)
	payload.Detail = strings.TrimSpace(payload.Detail)
	if !q.answerAllowed(payload.Answer) {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeAnswerInvalid,
			Message: "answer value is not allowed for this question",
		})
	}

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, q.EventType, state.DatasetID, payloadJSON, now().UTC()))
}

func decideChoosePersona(state State, cmd command.Command, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}

	var payload PersonaPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "persona payload could not be decoded",
		})
	}
	payload.Persona = strings.TrimSpace(payload.Persona)
	if payload.Persona != PersonaPublic && payload.Persona != PersonaPseudonym {
		return command.Reject(command.Rejection{
			Code:    rejectionCodePersonaInvalid,
			Message: "persona must be public or pseudonym",
		})
	}

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypePersonaChosen, state.DatasetID, payloadJSON, now().UTC()))
}

func decideDeclareCompetingInterests(state State, cmd command.Command, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}

	var payload CompetingInterestsPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "competing interests payload could not be decoded",
		})
	}
	// An empty statement is a valid "none to declare".
	payload.Statement = strings.TrimSpace(payload.Statement)

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypeCompetingInterestsDeclared, state.DatasetID, payloadJSON, now().UTC()))
}

func decideRequestPublication(state State, cmd command.Command, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}
	if !state.IsComplete() {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeIncomplete,
			Message: "dataset review is missing answers, a persona, or a competing interests declaration",
		})
	}

	return command.Accept(command.NewEvent(cmd, EventTypePublicationRequested, state.DatasetID, nil, now().UTC()))
}

func decideMarkDOIAssigned(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Status == StatusHasBeenPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeHasBeenPublished,
			Message: "dataset review has been published",
		})
	}
	if state.Status != StatusIsBeingPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodePublicationNotPending,
			Message: "publication has not been requested",
		})
	}

	var payload DOIPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "doi payload could not be decoded",
		})
	}
	payload.DOI = strings.TrimSpace(payload.DOI)
	if payload.DOI == "" {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeDOIRequired,
			Message: "doi is required",
		})
	}

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypeDOIAssigned, state.DatasetID, payloadJSON, now().UTC()))
}

func decideMarkPublished(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Status == StatusHasBeenPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeHasBeenPublished,
			Message: "dataset review has been published",
		})
	}
	if state.Status != StatusIsBeingPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodePublicationNotPending,
			Message: "publication has not been requested",
		})
	}

	return command.Accept(command.NewEvent(cmd, EventTypePublished, state.DatasetID, nil, now().UTC()))
}
