// Package comments exposes command handling and queries for comments.
package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perch-reviews/perch/internal/domain/comment"
	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/domain/replay"
	apperrors "github.com/perch-reviews/perch/internal/platform/errors"
	"github.com/perch-reviews/perch/internal/platform/id"
	"github.com/perch-reviews/perch/internal/storage"
)

// rejectionCodes maps decider rejection codes to domain error codes.
// Unmapped rejections fall back to CodeUnableToHandleCommand.
var rejectionCodes = map[string]apperrors.Code{
	command.RejectionCodeNotAuthorized:          apperrors.CodeNotAuthorizedToRunCommand,
	command.RejectionCodePayloadDecodeFailed:    apperrors.CodePayloadInvalid,
	command.RejectionCodeCommandTypeUnsupported: apperrors.CodeCommandTypeUnknown,
	"COMMENT_HAS_NOT_BEEN_STARTED":              apperrors.CodeCommentHasNotBeenStarted,
	"COMMENT_WAS_ALREADY_STARTED":               apperrors.CodeCommentWasAlreadyStarted,
	"COMMENT_WAS_STARTED_BY_ANOTHER_USER":       apperrors.CodeCommentWasStartedByAnotherUser,
	"COMMENT_IS_BEING_PUBLISHED":                apperrors.CodeCommentIsBeingPublished,
	"COMMENT_HAS_BEEN_PUBLISHED":                apperrors.CodeCommentHasBeenPublished,
	"COMMENT_HAS_BEEN_REMOVED":                  apperrors.CodeCommentHasBeenRemoved,
	"COMMENT_IS_INCOMPLETE":                     apperrors.CodeCommentIsIncomplete,
	"TARGET_ID_REQUIRED":                        apperrors.CodeTargetIDRequired,
	"COMMENT_TEXT_EMPTY":                        apperrors.CodeCommentTextEmpty,
	"PERSONA_INVALID":                           apperrors.CodePersonaInvalid,
	"DOI_REQUIRED":                              apperrors.CodeDoiRequired,
}

// Service handles comment commands and queries against an event store.
type Service struct {
	store    storage.EventStore
	commands *command.Registry
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a comment service backed by the given store.
func NewService(store storage.EventStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}

	commands := command.NewRegistry()
	if err := comment.RegisterCommands(commands); err != nil {
		return nil, fmt.Errorf("register comment commands: %w", err)
	}

	service := &Service{
		store:    store,
		commands: commands,
		tracer:   otel.Tracer("perch/comments"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// HandleCommand validates the command, folds the comment's journal, decides,
// and appends the accepted events with the folded version as the optimistic
// concurrency check.
func (s *Service) HandleCommand(ctx context.Context, cmd command.Command) ([]event.Event, error) {
	ctx, span := s.tracer.Start(ctx, "comments.HandleCommand",
		trace.WithAttributes(
			attribute.String("command.type", string(cmd.Type)),
			attribute.String("aggregate.id", cmd.AggregateID),
		))
	defer span.End()

	vetted, err := s.commands.ValidateForDecision(cmd)
	if err != nil {
		return nil, commandValidationError(err)
	}

	state, version, err := s.loadState(ctx, vetted.AggregateID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "load comment journal", err)
	}

	decision := comment.Decide(state, vetted, s.now)
	if len(decision.Rejections) > 0 {
		return nil, rejectionError(decision.Rejections[0])
	}
	if len(decision.Events) == 0 {
		return nil, apperrors.New(apperrors.CodeUnableToHandleCommand, "decider produced no outcome")
	}

	stored, err := s.store.AppendEvents(ctx, vetted.AggregateID, version, decision.Events)
	if err != nil {
		if errors.Is(err, storage.ErrConcurrentModification) {
			return nil, apperrors.Wrap(apperrors.CodeConcurrentModification, "comment changed since it was loaded", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "append comment events", err)
	}
	return stored, nil
}

// StartComment starts a comment on the target item for the acting user. An
// empty commentID mints a fresh one; the stored events carry the assigned id.
func (s *Service) StartComment(ctx context.Context, commentID, authorID, targetID string) ([]event.Event, error) {
	if commentID == "" {
		minted, err := id.NewID()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "mint comment id", err)
		}
		commentID = minted
	}

	payload, _ := json.Marshal(comment.StartedPayload{TargetID: targetID})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeStart,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// EnterText records or revises the comment text.
func (s *Service) EnterText(ctx context.Context, commentID, authorID, text string) ([]event.Event, error) {
	payload, _ := json.Marshal(comment.EnteredPayload{Text: text})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeEnter,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// ChoosePersona records which persona the comment will be published under.
func (s *Service) ChoosePersona(ctx context.Context, commentID, authorID, persona string) ([]event.Event, error) {
	payload, _ := json.Marshal(comment.PersonaPayload{Persona: persona})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeChoosePersona,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// DeclareCompetingInterests records the commenter's declaration. An empty
// statement declares that there are none.
func (s *Service) DeclareCompetingInterests(ctx context.Context, commentID, authorID, statement string) ([]event.Event, error) {
	payload, _ := json.Marshal(comment.CompetingInterestsPayload{Statement: statement})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeDeclareCompetingInterests,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// AgreeCodeOfConduct records the commenter's agreement.
func (s *Service) AgreeCodeOfConduct(ctx context.Context, commentID, authorID string) ([]event.Event, error) {
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeAgreeCodeOfConduct,
		AuthorID:    authorID,
	})
}

// RequestPublication asks for the completed comment to be published.
func (s *Service) RequestPublication(ctx context.Context, commentID, authorID string) ([]event.Event, error) {
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeRequestPublication,
		AuthorID:    authorID,
	})
}

// MarkDOIAssigned records the DOI the publication pipeline minted.
func (s *Service) MarkDOIAssigned(ctx context.Context, commentID, workerID, doi string) ([]event.Event, error) {
	payload, _ := json.Marshal(comment.DOIPayload{DOI: doi})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeMarkDOIAssigned,
		AuthorID:    workerID,
		PayloadJSON: payload,
	})
}

// MarkPublished records that the comment is now published.
func (s *Service) MarkPublished(ctx context.Context, commentID, workerID string) ([]event.Event, error) {
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeMarkPublished,
		AuthorID:    workerID,
	})
}

// MarkRemoved records a moderation removal. The journal is kept; the comment
// only stops being shown or edited.
func (s *Service) MarkRemoved(ctx context.Context, commentID, moderatorID, reason string) ([]event.Event, error) {
	payload, _ := json.Marshal(comment.RemovedPayload{Reason: reason})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: commentID,
		Type:        comment.CommandTypeMarkRemoved,
		AuthorID:    moderatorID,
		PayloadJSON: payload,
	})
}

// GetComment folds the comment's journal and returns its state and version.
func (s *Service) GetComment(ctx context.Context, commentID string) (comment.State, uint64, error) {
	ctx, span := s.tracer.Start(ctx, "comments.GetComment",
		trace.WithAttributes(attribute.String("aggregate.id", commentID)))
	defer span.End()

	state, version, err := s.queryState(ctx, commentID)
	if err != nil {
		return comment.State{}, 0, err
	}
	if version == 0 {
		return comment.State{}, 0, apperrors.WithMetadata(apperrors.CodeNotFound, "comment not found",
			map[string]string{"commentId": commentID})
	}
	return state, version, nil
}

// GetNextExpectedCommandForUser returns the command that moves the user's
// comment forward. A comment owned by someone else is not theirs to advance.
func (s *Service) GetNextExpectedCommandForUser(ctx context.Context, commentID, userID string) (command.Type, error) {
	state, version, err := s.queryState(ctx, commentID)
	if err != nil {
		return "", err
	}
	if version == 0 {
		return comment.CommandTypeStart, nil
	}
	if state.AuthorID != userID {
		return "", apperrors.New(apperrors.CodeNotAuthorizedToRunCommand, "comment belongs to another user")
	}
	return state.NextExpectedCommand(), nil
}

// FindInProgressCommentForTarget returns the id of the user's in-progress
// comment on the target, or CodeNotFound when there is none.
func (s *Service) FindInProgressCommentForTarget(ctx context.Context, targetID, userID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "comments.FindInProgressCommentForTarget",
		trace.WithAttributes(attribute.String("target.id", targetID)))
	defer span.End()

	matches, err := s.store.Scan(ctx, event.Filter{{
		Types: []event.Type{comment.EventTypeStarted},
		Predicates: map[string]string{
			"subject_id": targetID,
			"author_id":  userID,
		},
	}})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnableToQuery, "scan for started comments", err)
	}

	for _, started := range matches {
		state, _, err := s.queryState(ctx, started.AggregateID)
		if err != nil {
			return "", err
		}
		if state.Status == comment.StatusInProgress {
			return started.AggregateID, nil
		}
	}
	return "", apperrors.WithMetadata(apperrors.CodeNotFound, "no in-progress comment for target",
		map[string]string{"targetId": targetID})
}

// CheckIfUserCanEdit returns nil when the user may change the comment right
// now, and the specific state or authorization error otherwise.
func (s *Service) CheckIfUserCanEdit(ctx context.Context, commentID, userID string) error {
	state, _, err := s.queryState(ctx, commentID)
	if err != nil {
		return err
	}
	return editGate(state, userID)
}

// GetText returns the user's current comment text so an editing form can be
// re-rendered idempotently. A comment with no text yet yields an empty string.
func (s *Service) GetText(ctx context.Context, commentID, userID string) (string, error) {
	state, _, err := s.queryState(ctx, commentID)
	if err != nil {
		return "", err
	}
	if err := editGate(state, userID); err != nil {
		return "", err
	}
	return state.Text, nil
}

// editGate runs the authorization and state checks a form needs before
// rendering or accepting an edit, without writing anything.
func editGate(state comment.State, userID string) error {
	if !state.Started {
		return apperrors.New(apperrors.CodeCommentHasNotBeenStarted, "comment has not been started")
	}
	if state.AuthorID != userID {
		return apperrors.New(apperrors.CodeNotAuthorizedToRunCommand, "comment belongs to another user")
	}
	switch state.Status {
	case comment.StatusBeingPublished:
		return apperrors.New(apperrors.CodeCommentIsBeingPublished, "comment is being published")
	case comment.StatusPublished:
		return apperrors.New(apperrors.CodeCommentHasBeenPublished, "comment has been published")
	case comment.StatusRemoved:
		return apperrors.New(apperrors.CodeCommentHasBeenRemoved, "comment has been removed")
	}
	return nil
}

func (s *Service) loadState(ctx context.Context, commentID string) (comment.State, uint64, error) {
	state, result, err := replay.Run(ctx, s.store, commentID, comment.NewState(), comment.Fold, replay.Options{})
	if err != nil {
		return comment.State{}, 0, fmt.Errorf("replay comment journal: %w", err)
	}
	return state, result.LastSeq, nil
}

// queryState wraps load failures with the query-side error code. The command
// path wraps the same failure as CodeUnableToHandleCommand instead.
func (s *Service) queryState(ctx context.Context, commentID string) (comment.State, uint64, error) {
	state, version, err := s.loadState(ctx, commentID)
	if err != nil {
		return comment.State{}, 0, apperrors.Wrap(apperrors.CodeUnableToQuery, "load comment journal", err)
	}
	return state, version, nil
}

func rejectionError(rejection command.Rejection) error {
	code, ok := rejectionCodes[rejection.Code]
	if !ok {
		code = apperrors.CodeUnableToHandleCommand
	}
	return apperrors.WithMetadata(code, rejection.Message, map[string]string{"rejection": rejection.Code})
}

func commandValidationError(err error) error {
	switch {
	case errors.Is(err, command.ErrTypeUnknown), errors.Is(err, command.ErrTypeRequired):
		return apperrors.Wrap(apperrors.CodeCommandTypeUnknown, "command type is not recognized", err)
	case errors.Is(err, command.ErrAuthorIDRequired):
		return apperrors.Wrap(apperrors.CodeAuthorIDRequired, "author id is required", err)
	case errors.Is(err, command.ErrPayloadInvalid):
		return apperrors.Wrap(apperrors.CodePayloadInvalid, "command payload is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "command failed validation", err)
	}
}
