package comment

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/perch-reviews/perch/internal/domain/command"
)

const (
	rejectionCodeNotStarted            = "COMMENT_HAS_NOT_BEEN_STARTED"
	rejectionCodeAlreadyStarted        = "COMMENT_WAS_ALREADY_STARTED"
	rejectionCodeStartedByAnotherUser  = "COMMENT_WAS_STARTED_BY_ANOTHER_USER"
	rejectionCodeBeingPublished        = "COMMENT_IS_BEING_PUBLISHED"
	rejectionCodePublished             = "COMMENT_HAS_BEEN_PUBLISHED"
	rejectionCodeRemoved               = "COMMENT_HAS_BEEN_REMOVED"
	rejectionCodeIncomplete            = "COMMENT_IS_INCOMPLETE"
	rejectionCodePublicationNotPending = "COMMENT_PUBLICATION_NOT_REQUESTED"
	rejectionCodeTargetIDRequired      = "TARGET_ID_REQUIRED"
	rejectionCodeTextEmpty             = "COMMENT_TEXT_EMPTY"
	rejectionCodePersonaInvalid        = "PERSONA_INVALID"
	rejectionCodeDOIRequired           = "DOI_REQUIRED"
)

// Decide returns the decision for a comment command against current state.
//
// For commands against an existing comment the author gate runs before any
// state machine check.
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
				Message: "comment belongs to another user",
			})
		}
	}
	if !state.Started {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeNotStarted,
			Message: "comment has not been started",
		})
	}

	switch cmd.Type {
	case CommandTypeEnter:
		return decideEnter(state, cmd, now)
	case CommandTypeChoosePersona:
		return decideChoosePersona(state, cmd, now)
	case CommandTypeDeclareCompetingInterests:
		return decideDeclareCompetingInterests(state, cmd, now)
	case CommandTypeAgreeCodeOfConduct:
		return decideAgreeCodeOfConduct(state, cmd, now)
	case CommandTypeRequestPublication:
		return decideRequestPublication(state, cmd, now)
	case CommandTypeMarkDOIAssigned:
		return decideMarkDOIAssigned(state, cmd, now)
	case CommandTypeMarkPublished:
		return decideMarkPublished(state, cmd, now)
	case CommandTypeMarkRemoved:
		return decideMarkRemoved(state, cmd, now)
	default:
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodeCommandTypeUnsupported,
			Message: "command is not handled by the comment decider",
		})
	}
}

func isSystemCommand(cmdType command.Type) bool {
	switch cmdType {
	case CommandTypeMarkDOIAssigned, CommandTypeMarkPublished, CommandTypeMarkRemoved:
		return true
	default:
		return false
	}
}

func decideStart(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Started {
		if state.AuthorID != cmd.AuthorID {
			return command.Reject(command.Rejection{
				Code:    rejectionCodeStartedByAnotherUser,
				Message: "comment was started by another user",
			})
		}
		return command.Reject(command.Rejection{
			Code:    rejectionCodeAlreadyStarted,
			Message: "comment was already started",
		})
	}

	var payload StartedPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "start payload could not be decoded",
		})
	}
	payload.TargetID = strings.TrimSpace(payload.TargetID)
	if payload.TargetID == "" {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeTargetIDRequired,
			Message: "target id is required",
		})
	}

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypeStarted, payload.TargetID, payloadJSON, now().UTC()))
}

// rejectForStatus translates a non-editable status into its rejection.
func rejectForStatus(state State) (command.Decision, bool) {
	switch state.Status {
	case StatusBeingPublished:
		return command.Reject(command.Rejection{
			Code:    rejectionCodeBeingPublished,
			Message: "comment is being published",
		}), true
	case StatusPublished:
		return command.Reject(command.Rejection{
			Code:    rejectionCodePublished,
			Message: "comment has been published",
		}), true
	case StatusRemoved:
		return command.Reject(command.Rejection{
			Code:    rejectionCodeRemoved,
			Message: "comment has been removed",
		}), true
	default:
		return command.Decision{}, false
	}
}

func decideEnter(state State, cmd command.Command, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}

	var payload EnteredPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "text payload could not be decoded",
		})
	}
	payload.Text = strings.TrimSpace(payload.Text)
	if payload.Text == "" {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeTextEmpty,
			Message: "comment text is required",
		})
	}

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypeEntered, state.TargetID, payloadJSON, now().UTC()))
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
	return command.Accept(command.NewEvent(cmd, EventTypePersonaChosen, state.TargetID, payloadJSON, now().UTC()))
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
	return command.Accept(command.NewEvent(cmd, EventTypeCompetingInterestsDeclared, state.TargetID, payloadJSON, now().UTC()))
}

func decideAgreeCodeOfConduct(state State, cmd command.Command, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}

	return command.Accept(command.NewEvent(cmd, EventTypeCodeOfConductAgreed, state.TargetID, nil, now().UTC()))
}

func decideRequestPublication(state State, cmd command.Command, now func() time.Time) command.Decision {
	if decision, rejected := rejectForStatus(state); rejected {
		return decision
	}
	if !state.IsReadyForPublishing() {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeIncomplete,
			Message: "comment is missing text, a persona, a competing interests declaration, or the code of conduct agreement",
		})
	}

	return command.Accept(command.NewEvent(cmd, EventTypePublicationRequested, state.TargetID, nil, now().UTC()))
}

func decideMarkDOIAssigned(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Status == StatusRemoved {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeRemoved,
			Message: "comment has been removed",
		})
	}
	if state.Status == StatusPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodePublished,
			Message: "comment has been published",
		})
	}
	if state.Status != StatusBeingPublished {
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
	return command.Accept(command.NewEvent(cmd, EventTypeDOIAssigned, state.TargetID, payloadJSON, now().UTC()))
}

func decideMarkPublished(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Status == StatusRemoved {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeRemoved,
			Message: "comment has been removed",
		})
	}
	if state.Status == StatusPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodePublished,
			Message: "comment has been published",
		})
	}
	if state.Status != StatusBeingPublished {
		return command.Reject(command.Rejection{
			Code:    rejectionCodePublicationNotPending,
			Message: "publication has not been requested",
		})
	}

	return command.Accept(command.NewEvent(cmd, EventTypePublished, state.TargetID, nil, now().UTC()))
}

// decideMarkRemoved records a moderation removal. Removal is allowed from any
// started state, published included, since it changes visibility rather than
// content. The journal stays intact.
func decideMarkRemoved(state State, cmd command.Command, now func() time.Time) command.Decision {
	if state.Status == StatusRemoved {
		return command.Reject(command.Rejection{
			Code:    rejectionCodeRemoved,
			Message: "comment has been removed",
		})
	}

	var payload RemovedPayload
	if err := json.Unmarshal(cmd.PayloadJSON, &payload); err != nil {
		return command.Reject(command.Rejection{
			Code:    command.RejectionCodePayloadDecodeFailed,
			Message: "removal payload could not be decoded",
		})
	}
	payload.Reason = strings.TrimSpace(payload.Reason)

	payloadJSON, _ := json.Marshal(payload)
	return command.Accept(command.NewEvent(cmd, EventTypeRemoved, state.TargetID, payloadJSON, now().UTC()))
}
