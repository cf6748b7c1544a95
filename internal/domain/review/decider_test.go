package review

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
)

var testNow = func() time.Time {
	return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
}

func startCommand(author, dataset string) command.Command {
	payload, _ := json.Marshal(StartedPayload{DatasetID: dataset})
	return command.Command{AggregateID: "rev-1", Type: CommandTypeStart, AuthorID: author, PayloadJSON: payload}
}

func answerCommand(author string, q Question, answer string) command.Command {
	payload, _ := json.Marshal(AnswerPayload{Answer: answer})
	return command.Command{AggregateID: "rev-1", Type: q.CommandType, AuthorID: author, PayloadJSON: payload}
}

func eventWithPayload(eventType event.Type, payload []byte) event.Event {
	return event.Event{AggregateID: "rev-1", Type: eventType, AuthorID: "user-1", PayloadJSON: payload}
}

func bareEvent(eventType event.Type) event.Event {
	return event.Event{AggregateID: "rev-1", Type: eventType, AuthorID: "user-1"}
}

// completeState builds an in-progress review with every publication
// prerequisite met.
func completeState(author string) State {
	state := Fold(NewState(), startedEvent(author, "dataset-1"))
	for _, q := range Questions() {
		answer := "yes"
		if len(q.AllowedAnswers) > 0 {
			answer = q.AllowedAnswers[0]
		}
		state = Fold(state, answerEvent(q, answer))
	}
	personaPayload, _ := json.Marshal(PersonaPayload{Persona: PersonaPublic})
	state = Fold(state, eventWithPayload(EventTypePersonaChosen, personaPayload))
	ciPayload, _ := json.Marshal(CompetingInterestsPayload{})
	state = Fold(state, eventWithPayload(EventTypeCompetingInterestsDeclared, ciPayload))
	return state
}

func rejectionCode(t *testing.T, decision command.Decision) string {
	t.Helper()
	if len(decision.Events) != 0 {
		t.Fatalf("expected rejection, got events: %+v", decision.Events)
	}
	if len(decision.Rejections) != 1 {
		t.Fatalf("expected 1 rejection, got %+v", decision.Rejections)
	}
	return decision.Rejections[0].Code
}

func TestDecideStart(t *testing.T) {
	decision := Decide(NewState(), startCommand("user-1", "dataset-1"), testNow)
	if len(decision.Events) != 1 {
		t.Fatalf("expected started event, got %+v", decision)
	}
	evt := decision.Events[0]
	if evt.Type != EventTypeStarted || evt.SubjectID != "dataset-1" || evt.AuthorID != "user-1" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if !evt.Timestamp.Equal(testNow()) {
		t.Fatalf("timestamp = %v, want fixed now", evt.Timestamp)
	}

	started := Fold(NewState(), startedEvent("user-1", "dataset-1"))

	if code := rejectionCode(t, Decide(started, startCommand("user-1", "dataset-1"), testNow)); code != rejectionCodeAlreadyStarted {
		t.Fatalf("same-user restart code = %s", code)
	}
	if code := rejectionCode(t, Decide(started, startCommand("user-2", "dataset-1"), testNow)); code != rejectionCodeStartedByAnotherUser {
		t.Fatalf("other-user restart code = %s", code)
	}
	if code := rejectionCode(t, Decide(NewState(), startCommand("user-1", ""), testNow)); code != rejectionCodeDatasetIDRequired {
		t.Fatalf("missing dataset code = %s", code)
	}
}

func TestDecide_AuthorGateRunsBeforeStateChecks(t *testing.T) {
	// Review is already being published, which would reject the rightful
	// author with a state error. A different user must see the
	// authorization rejection instead.
	state := completeState("user-1")
	state.Status = StatusIsBeingPublished

	q := Questions()[0]
	code := rejectionCode(t, Decide(state, answerCommand("user-2", q, "yes"), testNow))
	if code != command.RejectionCodeNotAuthorized {
		t.Fatalf("code = %s, want authorization rejection before state rejection", code)
	}

	code = rejectionCode(t, Decide(state, answerCommand("user-1", q, "yes"), testNow))
	if code != rejectionCodeIsBeingPublished {
		t.Fatalf("rightful author code = %s, want is_being_published", code)
	}
}

func TestDecideAnswer(t *testing.T) {
	started := Fold(NewState(), startedEvent("user-1", "dataset-1"))
	q := Questions()[0]

	decision := Decide(started, answerCommand("user-1", q, "partly"), testNow)
	if len(decision.Events) != 1 || decision.Events[0].Type != q.EventType {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	if code := rejectionCode(t, Decide(started, answerCommand("user-1", q, "maybe"), testNow)); code != rejectionCodeAnswerInvalid {
		t.Fatalf("invalid answer code = %s", code)
	}

	if code := rejectionCode(t, Decide(NewState(), answerCommand("user-1", q, "yes"), testNow)); code != rejectionCodeNotStarted {
		t.Fatalf("not-started code = %s", code)
	}

	published := started
	published.Status = StatusHasBeenPublished
	if code := rejectionCode(t, Decide(published, answerCommand("user-1", q, "yes"), testNow)); code != rejectionCodeHasBeenPublished {
		t.Fatalf("published code = %s", code)
	}
}

func TestDecideAnswer_FreeTextQuestionAcceptsAnything(t *testing.T) {
	started := Fold(NewState(), startedEvent("user-1", "dataset-1"))
	var freeText Question
	for _, q := range Questions() {
		if len(q.AllowedAnswers) == 0 {
			freeText = q
		}
	}
	if freeText.Key == "" {
		t.Fatal("no free-text question configured")
	}

	decision := Decide(started, answerCommand("user-1", freeText, "the codebook link is broken"), testNow)
	if len(decision.Events) != 1 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestDecideChoosePersona(t *testing.T) {
	started := Fold(NewState(), startedEvent("user-1", "dataset-1"))

	payload, _ := json.Marshal(PersonaPayload{Persona: PersonaPseudonym})
	cmd := command.Command{AggregateID: "rev-1", Type: CommandTypeChoosePersona, AuthorID: "user-1", PayloadJSON: payload}
	decision := Decide(started, cmd, testNow)
	if len(decision.Events) != 1 || decision.Events[0].Type != EventTypePersonaChosen {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	bad, _ := json.Marshal(PersonaPayload{Persona: "anonymous"})
	cmd.PayloadJSON = bad
	if code := rejectionCode(t, Decide(started, cmd, testNow)); code != rejectionCodePersonaInvalid {
		t.Fatalf("invalid persona code = %s", code)
	}
}

func TestDecideRequestPublication(t *testing.T) {
	started := Fold(NewState(), startedEvent("user-1", "dataset-1"))
	cmd := command.Command{AggregateID: "rev-1", Type: CommandTypeRequestPublication, AuthorID: "user-1"}

	if code := rejectionCode(t, Decide(started, cmd, testNow)); code != rejectionCodeIncomplete {
		t.Fatalf("incomplete code = %s", code)
	}

	complete := completeState("user-1")
	decision := Decide(complete, cmd, testNow)
	if len(decision.Events) != 1 || decision.Events[0].Type != EventTypePublicationRequested {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	// Requesting again once in flight is a state rejection.
	requested := Fold(complete, decision.Events[0])
	if code := rejectionCode(t, Decide(requested, cmd, testNow)); code != rejectionCodeIsBeingPublished {
		t.Fatalf("duplicate request code = %s", code)
	}
}

func TestDecidePublicationPipeline(t *testing.T) {
	complete := completeState("user-1")
	requested := Fold(complete, bareEvent(EventTypePublicationRequested))

	doiPayload, _ := json.Marshal(DOIPayload{DOI: "10.5281/zenodo.1234"})
	doiCmd := command.Command{AggregateID: "rev-1", Type: CommandTypeMarkDOIAssigned, AuthorID: "publication-worker", PayloadJSON: doiPayload}

	decision := Decide(requested, doiCmd, testNow)
	if len(decision.Events) != 1 || decision.Events[0].Type != EventTypeDOIAssigned {
		t.Fatalf("unexpected doi decision: %+v", decision)
	}

	// DOI assignment before publication is requested is rejected.
	if code := rejectionCode(t, Decide(complete, doiCmd, testNow)); code != rejectionCodePublicationNotPending {
		t.Fatalf("early doi code = %s", code)
	}

	empty, _ := json.Marshal(DOIPayload{})
	doiCmd.PayloadJSON = empty
	if code := rejectionCode(t, Decide(requested, doiCmd, testNow)); code != rejectionCodeDOIRequired {
		t.Fatalf("missing doi code = %s", code)
	}

	publishCmd := command.Command{AggregateID: "rev-1", Type: CommandTypeMarkPublished, AuthorID: "publication-worker"}
	decision = Decide(requested, publishCmd, testNow)
	if len(decision.Events) != 1 || decision.Events[0].Type != EventTypePublished {
		t.Fatalf("unexpected publish decision: %+v", decision)
	}

	published := Fold(requested, decision.Events[0])
	if code := rejectionCode(t, Decide(published, publishCmd, testNow)); code != rejectionCodeHasBeenPublished {
		t.Fatalf("double publish code = %s", code)
	}
}

func TestDecide_UnknownCommandType(t *testing.T) {
	started := Fold(NewState(), startedEvent("user-1", "dataset-1"))
	cmd := command.Command{AggregateID: "rev-1", Type: "dataset_review.frobnicate", AuthorID: "user-1"}

	if code := rejectionCode(t, Decide(started, cmd, testNow)); code != command.RejectionCodeCommandTypeUnsupported {
		t.Fatalf("unknown command code = %s", code)
	}
}

func TestNextExpectedCommand_WalksTheForm(t *testing.T) {
	state := NewState()
	if got := state.NextExpectedCommand(); got != CommandTypeStart {
		t.Fatalf("fresh state expects %s", got)
	}

	state = Fold(state, startedEvent("user-1", "dataset-1"))
	for _, q := range Questions() {
		if got := state.NextExpectedCommand(); got != q.CommandType {
			t.Fatalf("expected %s, got %s", q.CommandType, got)
		}
		answer := "yes"
		if len(q.AllowedAnswers) > 0 {
			answer = q.AllowedAnswers[0]
		}
		state = Fold(state, answerEvent(q, answer))
	}

	if got := state.NextExpectedCommand(); got != CommandTypeChoosePersona {
		t.Fatalf("expected choose_persona, got %s", got)
	}
	personaPayload, _ := json.Marshal(PersonaPayload{Persona: PersonaPublic})
	state = Fold(state, eventWithPayload(EventTypePersonaChosen, personaPayload))

	if got := state.NextExpectedCommand(); got != CommandTypeDeclareCompetingInterests {
		t.Fatalf("expected declare_competing_interests, got %s", got)
	}
	ciPayload, _ := json.Marshal(CompetingInterestsPayload{})
	state = Fold(state, eventWithPayload(EventTypeCompetingInterestsDeclared, ciPayload))

	if got := state.NextExpectedCommand(); got != CommandTypeRequestPublication {
		t.Fatalf("expected request_publication, got %s", got)
	}

	state = Fold(state, bareEvent(EventTypePublicationRequested))
	if got := state.NextExpectedCommand(); got != "" {
		t.Fatalf("in-flight review expects nothing, got %s", got)
	}
}

func TestCanAnswer(t *testing.T) {
	state := Fold(NewState(), startedEvent("user-1", "dataset-1"))

	if !state.CanAnswer("user-1") {
		t.Fatal("author should be able to answer an in-progress review")
	}
	if state.CanAnswer("user-2") {
		t.Fatal("another user must not be able to answer")
	}

	state.Status = StatusIsBeingPublished
	if state.CanAnswer("user-1") {
		t.Fatal("in-flight review must not accept answers")
	}
}
