package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIs_MatchesByCode(t *testing.T) {
	base := New(CodeDatasetReviewHasBeenPublished, "dataset review has been published")
	wrapped := fmt.Errorf("handle command: %w", base)

	if !errors.Is(wrapped, New(CodeDatasetReviewHasBeenPublished, "other message")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(wrapped, New(CodeDatasetReviewIsBeingPublished, "")) {
		t.Fatal("expected errors.Is to reject a different code")
	}
}

func TestErrorUnwrap_ReturnsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeUnableToQuery, "unable to query", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
}

func TestGRPCCode_Mapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeNotAuthorizedToRunCommand, codes.PermissionDenied},
		{CodeConcurrentModification, codes.Aborted},
		{CodeUnableToQuery, codes.Unavailable},
		{CodeUnableToHandleCommand, codes.Unavailable},
		{CodeDatasetReviewHasBeenPublished, codes.FailedPrecondition},
		{CodeCommentWasAlreadyStarted, codes.FailedPrecondition},
		{CodeAnswerInvalid, codes.InvalidArgument},
		{CodeNotFound, codes.NotFound},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Errorf("GRPCCode(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestToGRPCStatus_CarriesReason(t *testing.T) {
	err := WithMetadata(CodeDatasetReviewWasStartedByAnotherUser, "review belongs to another user", map[string]string{
		"ReviewID": "rev-1",
	})

	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.FailedPrecondition)
	}
	if st.Message() != "review belongs to another user" {
		t.Fatalf("status message = %q", st.Message())
	}
	if len(st.Details()) != 1 {
		t.Fatalf("expected 1 status detail, got %d", len(st.Details()))
	}
}
