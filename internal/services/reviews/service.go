// Package reviews exposes command handling and queries for dataset reviews.
package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
	"github.com/perch-reviews/perch/internal/domain/replay"
	"github.com/perch-reviews/perch/internal/domain/review"
	apperrors "github.com/perch-reviews/perch/internal/platform/errors"
	"github.com/perch-reviews/perch/internal/platform/id"
	"github.com/perch-reviews/perch/internal/storage"
)

// rejectionCodes maps decider rejection codes to domain error codes.
// Unmapped rejections fall back to CodeUnableToHandleCommand.
var rejectionCodes = map[string]apperrors.Code{
	command.RejectionCodeNotAuthorized:           apperrors.CodeNotAuthorizedToRunCommand,
	command.RejectionCodePayloadDecodeFailed:     apperrors.CodePayloadInvalid,
	command.RejectionCodeCommandTypeUnsupported:  apperrors.CodeCommandTypeUnknown,
	"DATASET_REVIEW_HAS_NOT_BEEN_STARTED":        apperrors.CodeDatasetReviewHasNotBeenStarted,
	"DATASET_REVIEW_WAS_ALREADY_STARTED":         apperrors.CodeDatasetReviewWasAlreadyStarted,
	"DATASET_REVIEW_WAS_STARTED_BY_ANOTHER_USER": apperrors.CodeDatasetReviewWasStartedByAnotherUser,
	"DATASET_REVIEW_IS_BEING_PUBLISHED":          apperrors.CodeDatasetReviewIsBeingPublished,
	"DATASET_REVIEW_HAS_BEEN_PUBLISHED":          apperrors.CodeDatasetReviewHasBeenPublished,
	"DATASET_REVIEW_IS_INCOMPLETE":               apperrors.CodeDatasetReviewIsIncomplete,
	"DATASET_ID_REQUIRED":                        apperrors.CodeDatasetIDRequired,
	"ANSWER_INVALID":                             apperrors.CodeAnswerInvalid,
	"PERSONA_INVALID":                            apperrors.CodePersonaInvalid,
	"DOI_REQUIRED":                               apperrors.CodeDoiRequired,
}

// Service handles dataset review commands and queries against an event store.
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

// NewService creates a review service backed by the given store.
func NewService(store storage.EventStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}

	commands := command.NewRegistry()
	if err := review.RegisterCommands(commands); err != nil {
		return nil, fmt.Errorf("register review commands: %w", err)
	}

	service := &Service{
		store:    store,
		commands: commands,
		tracer:   otel.Tracer("perch/reviews"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// HandleCommand validates the command, folds the review's journal, decides,
// and appends the accepted events with the folded version as the optimistic
// concurrency check.
func (s *Service) HandleCommand(ctx context.Context, cmd command.Command) ([]event.Event, error) {
	ctx, span := s.tracer.Start(ctx, "reviews.HandleCommand",
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
		return nil, apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "load review journal", err)
	}

	decision := review.Decide(state, vetted, s.now)
	if len(decision.Rejections) > 0 {
		return nil, rejectionError(decision.Rejections[0])
	}
	if len(decision.Events) == 0 {
		return nil, apperrors.New(apperrors.CodeUnableToHandleCommand, "decider produced no outcome")
	}

	stored, err := s.store.AppendEvents(ctx, vetted.AggregateID, version, decision.Events)
	if err != nil {
		if errors.Is(err, storage.ErrConcurrentModification) {
			return nil, apperrors.Wrap(apperrors.CodeConcurrentModification, "review changed since it was loaded", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "append review events", err)
	}
	return stored, nil
}

// StartReview starts a review of the dataset for the acting user. An empty
// reviewID mints a fresh one; the stored events carry the assigned id.
func (s *Service) StartReview(ctx context.Context, reviewID, authorID, datasetID string) ([]event.Event, error) {
	if reviewID == "" {
		minted, err := id.NewID()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnableToHandleCommand, "mint review id", err)
		}
		reviewID = minted
	}

	payload, _ := json.Marshal(review.StartedPayload{DatasetID: datasetID})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        review.CommandTypeStart,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// AnswerQuestion records the acting user's answer to one review question.
func (s *Service) AnswerQuestion(ctx context.Context, reviewID, authorID, questionKey, answer, detail string) ([]event.Event, error) {
	var cmdType command.Type
	for _, q := range review.Questions() {
		if q.Key == questionKey {
			cmdType = q.CommandType
			break
		}
	}
	if cmdType == "" {
		return nil, apperrors.WithMetadata(apperrors.CodeCommandTypeUnknown, "unknown review question",
			map[string]string{"question": questionKey})
	}

	payload, _ := json.Marshal(review.AnswerPayload{Answer: answer, Detail: detail})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        cmdType,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// ChoosePersona records which persona the review will be published under.
func (s *Service) ChoosePersona(ctx context.Context, reviewID, authorID, persona string) ([]event.Event, error) {
	payload, _ := json.Marshal(review.PersonaPayload{Persona: persona})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        review.CommandTypeChoosePersona,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// DeclareCompetingInterests records the reviewer's declaration. An empty
// statement declares that there are none.
func (s *Service) DeclareCompetingInterests(ctx context.Context, reviewID, authorID, statement string) ([]event.Event, error) {
	payload, _ := json.Marshal(review.CompetingInterestsPayload{Statement: statement})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        review.CommandTypeDeclareCompetingInterests,
		AuthorID:    authorID,
		PayloadJSON: payload,
	})
}

// RequestPublication asks for the completed review to be published.
func (s *Service) RequestPublication(ctx context.Context, reviewID, authorID string) ([]event.Event, error) {
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        review.CommandTypeRequestPublication,
		AuthorID:    authorID,
	})
}

// MarkDOIAssigned records the DOI the publication pipeline minted.
func (s *Service) MarkDOIAssigned(ctx context.Context, reviewID, workerID, doi string) ([]event.Event, error) {
	payload, _ := json.Marshal(review.DOIPayload{DOI: doi})
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        review.CommandTypeMarkDOIAssigned,
		AuthorID:    workerID,
		PayloadJSON: payload,
	})
}

// MarkPublished records that the review is now published.
func (s *Service) MarkPublished(ctx context.Context, reviewID, workerID string) ([]event.Event, error) {
	return s.HandleCommand(ctx, command.Command{
		AggregateID: reviewID,
		Type:        review.CommandTypeMarkPublished,
		AuthorID:    workerID,
	})
}

// GetReview folds the review's journal and returns its state and version.
func (s *Service) GetReview(ctx context.Context, reviewID string) (review.State, uint64, error) {
	ctx, span := s.tracer.Start(ctx, "reviews.GetReview",
		trace.WithAttributes(attribute.String("aggregate.id", reviewID)))
	defer span.End()

	state, version, err := s.queryState(ctx, reviewID)
	if err != nil {
		return review.State{}, 0, err
	}
	if version == 0 {
		return review.State{}, 0, apperrors.WithMetadata(apperrors.CodeNotFound, "dataset review not found",
			map[string]string{"reviewId": reviewID})
	}
	return state, version, nil
}

// GetNextExpectedCommandForUser returns the command that moves the user's
// review forward. A review owned by someone else is not theirs to advance.
func (s *Service) GetNextExpectedCommandForUser(ctx context.Context, reviewID, userID string) (command.Type, error) {
	state, version, err := s.queryState(ctx, reviewID)
	if err != nil {
		return "", err
	}
	if version == 0 {
		return review.CommandTypeStart, nil
	}
	if state.AuthorID != userID {
		return "", apperrors.New(apperrors.CodeNotAuthorizedToRunCommand, "dataset review belongs to another user")
	}
	return state.NextExpectedCommand(), nil
}

// FindInProgressReviewForDataset returns the id of the user's in-progress
// review of the dataset, or CodeNotFound when there is none.
func (s *Service) FindInProgressReviewForDataset(ctx context.Context, datasetID, userID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "reviews.FindInProgressReviewForDataset",
		trace.WithAttributes(attribute.String("dataset.id", datasetID)))
	defer span.End()

	matches, err := s.store.Scan(ctx, event.Filter{{
		Types: []event.Type{review.EventTypeStarted},
		Predicates: map[string]string{
			"subject_id": datasetID,
			"author_id":  userID,
		},
	}})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnableToQuery, "scan for started reviews", err)
	}

	for _, started := range matches {
		state, _, err := s.queryState(ctx, started.AggregateID)
		if err != nil {
			return "", err
		}
		if state.Status == review.StatusInProgress {
			return started.AggregateID, nil
		}
	}
	return "", apperrors.WithMetadata(apperrors.CodeNotFound, "no in-progress review for dataset",
		map[string]string{"datasetId": datasetID})
}

// CheckIfUserCanAnswer returns nil when the user may record answers on the
// review right now, and the specific state or authorization error otherwise.
func (s *Service) CheckIfUserCanAnswer(ctx context.Context, reviewID, userID string) error {
	state, _, err := s.queryState(ctx, reviewID)
	if err != nil {
		return err
	}
	return answerGate(state, userID)
}

// GetAnswer returns the user's prior answer to the question so a form can be
// re-rendered idempotently. An unanswered question yields empty strings.
func (s *Service) GetAnswer(ctx context.Context, reviewID, userID, questionKey string) (answer, detail string, err error) {
	known := false
	for _, q := range review.Questions() {
		if q.Key == questionKey {
			known = true
			break
		}
	}
	if !known {
		return "", "", apperrors.WithMetadata(apperrors.CodeCommandTypeUnknown, "unknown review question",
			map[string]string{"question": questionKey})
	}

	state, _, err := s.queryState(ctx, reviewID)
	if err != nil {
		return "", "", err
	}
	if err := answerGate(state, userID); err != nil {
		return "", "", err
	}
	return state.Answers[questionKey], state.AnswerDetails[questionKey], nil
}

// answerGate runs the authorization and state checks a form needs before
// rendering or accepting an answer, without writing anything.
func answerGate(state review.State, userID string) error {
	if !state.Started {
		return apperrors.New(apperrors.CodeDatasetReviewHasNotBeenStarted, "dataset review has not been started")
	}
	if state.AuthorID != userID {
		return apperrors.New(apperrors.CodeNotAuthorizedToRunCommand, "dataset review belongs to another user")
	}
	switch state.Status {
	case review.StatusIsBeingPublished:
		return apperrors.New(apperrors.CodeDatasetReviewIsBeingPublished, "dataset review is being published")
	case review.StatusHasBeenPublished:
		return apperrors.New(apperrors.CodeDatasetReviewHasBeenPublished, "dataset review has been published")
	}
	return nil
}

func (s *Service) loadState(ctx context.Context, reviewID string) (review.State, uint64, error) {
	state, result, err := replay.Run(ctx, s.store, reviewID, review.NewState(), review.Fold, replay.Options{})
	if err != nil {
		return review.State{}, 0, fmt.Errorf("replay review journal: %w", err)
	}
	return state, result.LastSeq, nil
}

// queryState wraps load failures with the query-side error code. The command
// path wraps the same failure as CodeUnableToHandleCommand instead.
func (s *Service) queryState(ctx context.Context, reviewID string) (review.State, uint64, error) {
	state, version, err := s.loadState(ctx, reviewID)
	if err != nil {
		return review.State{}, 0, apperrors.Wrap(apperrors.CodeUnableToQuery, "load review journal", err)
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
