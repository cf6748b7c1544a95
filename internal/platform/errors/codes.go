// Package errors provides structured error handling for the review core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Shared command/query errors
	CodeUnableToQuery             Code = "UNABLE_TO_QUERY"
	CodeUnableToHandleCommand     Code = "UNABLE_TO_HANDLE_COMMAND"
	CodeNotAuthorizedToRunCommand Code = "NOT_AUTHORIZED_TO_RUN_COMMAND"
	CodeConcurrentModification    Code = "CONCURRENT_MODIFICATION"

	// Dataset review state errors
	CodeDatasetReviewHasNotBeenStarted       Code = "DATASET_REVIEW_HAS_NOT_BEEN_STARTED"
	CodeDatasetReviewWasAlreadyStarted       Code = "DATASET_REVIEW_WAS_ALREADY_STARTED"
	CodeDatasetReviewWasStartedByAnotherUser Code = "DATASET_REVIEW_WAS_STARTED_BY_ANOTHER_USER"
	CodeDatasetReviewIsBeingPublished        Code = "DATASET_REVIEW_IS_BEING_PUBLISHED"
	CodeDatasetReviewHasBeenPublished        Code = "DATASET_REVIEW_HAS_BEEN_PUBLISHED"
	CodeDatasetReviewIsIncomplete            Code = "DATASET_REVIEW_IS_INCOMPLETE"

	// Comment state errors
	CodeCommentHasNotBeenStarted       Code = "COMMENT_HAS_NOT_BEEN_STARTED"
	CodeCommentWasAlreadyStarted       Code = "COMMENT_WAS_ALREADY_STARTED"
	CodeCommentWasStartedByAnotherUser Code = "COMMENT_WAS_STARTED_BY_ANOTHER_USER"
	CodeCommentIsIncomplete            Code = "COMMENT_IS_INCOMPLETE"
	CodeCommentIsBeingPublished        Code = "COMMENT_IS_BEING_PUBLISHED"
	CodeCommentHasBeenPublished        Code = "COMMENT_HAS_BEEN_PUBLISHED"
	CodeCommentHasBeenRemoved          Code = "COMMENT_HAS_BEEN_REMOVED"

	// Input validation errors
	CodeDatasetIDRequired  Code = "DATASET_ID_REQUIRED"
	CodeTargetIDRequired   Code = "TARGET_ID_REQUIRED"
	CodeAuthorIDRequired   Code = "AUTHOR_ID_REQUIRED"
	CodeAnswerInvalid      Code = "ANSWER_INVALID"
	CodePersonaInvalid     Code = "PERSONA_INVALID"
	CodeCommentTextEmpty   Code = "COMMENT_TEXT_EMPTY"
	CodeDoiRequired        Code = "DOI_REQUIRED"
	CodeCommandTypeUnknown Code = "COMMAND_TYPE_UNKNOWN"
	CodePayloadInvalid     Code = "PAYLOAD_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes for the consuming transport.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeDatasetIDRequired,
		CodeTargetIDRequired,
		CodeAuthorIDRequired,
		CodeAnswerInvalid,
		CodePersonaInvalid,
		CodeCommentTextEmpty,
		CodeDoiRequired,
		CodeCommandTypeUnknown,
		CodePayloadInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow the operation
	case CodeDatasetReviewHasNotBeenStarted,
		CodeDatasetReviewWasAlreadyStarted,
		CodeDatasetReviewWasStartedByAnotherUser,
		CodeDatasetReviewIsBeingPublished,
		CodeDatasetReviewHasBeenPublished,
		CodeDatasetReviewIsIncomplete,
		CodeCommentHasNotBeenStarted,
		CodeCommentWasAlreadyStarted,
		CodeCommentWasStartedByAnotherUser,
		CodeCommentIsIncomplete,
		CodeCommentIsBeingPublished,
		CodeCommentHasBeenPublished,
		CodeCommentHasBeenRemoved:
		return codes.FailedPrecondition

	// PermissionDenied - acting user is not the aggregate author
	case CodeNotAuthorizedToRunCommand:
		return codes.PermissionDenied

	// Aborted - optimistic concurrency conflict, caller re-derives and retries
	case CodeConcurrentModification:
		return codes.Aborted

	// Unavailable - store unreachable, retry policy belongs to the edge
	case CodeUnableToQuery,
		CodeUnableToHandleCommand:
		return codes.Unavailable

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}
