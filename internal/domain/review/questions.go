package review

import (
	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
)

// Question describes one step of the structured review form. The ordered
// Questions list drives the decider, the fold, and the next-expected-command
// sequencing, so adding a question is a data change rather than new control
// flow.
type Question struct {
	// Key is the stable identifier answers are recorded under.
	Key string
	// CommandType answers this question.
	CommandType command.Type
	// EventType records the answer.
	EventType event.Type
	// AllowedAnswers constrains the answer value. Empty means free text,
	// including the empty string.
	AllowedAnswers []string
}

var scaleAnswers = []string{"yes", "partly", "no", "unsure"}

var questions = []Question{
	{
		Key:            "follows_fair_and_care_principles",
		CommandType:    "dataset_review.answer_follows_fair_and_care_principles",
		EventType:      "dataset_review.answered_follows_fair_and_care_principles",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "has_enough_metadata",
		CommandType:    "dataset_review.answer_has_enough_metadata",
		EventType:      "dataset_review.answered_has_enough_metadata",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "has_tracked_changes",
		CommandType:    "dataset_review.answer_has_tracked_changes",
		EventType:      "dataset_review.answered_has_tracked_changes",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "has_data_censoring",
		CommandType:    "dataset_review.answer_has_data_censoring",
		EventType:      "dataset_review.answered_has_data_censoring",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "is_appropriate_for_this_kind_of_research",
		CommandType:    "dataset_review.answer_is_appropriate_for_this_kind_of_research",
		EventType:      "dataset_review.answered_is_appropriate_for_this_kind_of_research",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "supports_related_conclusions",
		CommandType:    "dataset_review.answer_supports_related_conclusions",
		EventType:      "dataset_review.answered_supports_related_conclusions",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "is_detailed_enough",
		CommandType:    "dataset_review.answer_is_detailed_enough",
		EventType:      "dataset_review.answered_is_detailed_enough",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "is_error_free",
		CommandType:    "dataset_review.answer_is_error_free",
		EventType:      "dataset_review.answered_is_error_free",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:            "matters_to_its_audience",
		CommandType:    "dataset_review.answer_matters_to_its_audience",
		EventType:      "dataset_review.answered_matters_to_its_audience",
		AllowedAnswers: []string{"very-consequential", "somewhat-consequential", "not-consequential", "unsure"},
	},
	{
		Key:            "is_ready_to_be_shared",
		CommandType:    "dataset_review.answer_is_ready_to_be_shared",
		EventType:      "dataset_review.answered_is_ready_to_be_shared",
		AllowedAnswers: scaleAnswers,
	},
	{
		Key:         "is_missing_anything",
		CommandType: "dataset_review.answer_is_missing_anything",
		EventType:   "dataset_review.answered_is_missing_anything",
	},
}

// Questions returns the review questions in form order.
func Questions() []Question {
	out := make([]Question, len(questions))
	copy(out, questions)
	return out
}

// questionByCommand looks a question up by its command type.
func questionByCommand(cmdType command.Type) (Question, bool) {
	for _, q := range questions {
		if q.CommandType == cmdType {
			return q, true
		}
	}
	return Question{}, false
}

// questionByEvent looks a question up by its event type.
func questionByEvent(eventType event.Type) (Question, bool) {
	for _, q := range questions {
		if q.EventType == eventType {
			return q, true
		}
	}
	return Question{}, false
}

func (q Question) answerAllowed(answer string) bool {
	if len(q.AllowedAnswers) == 0 {
		return true
	}
	for _, allowed := range q.AllowedAnswers {
		if answer == allowed {
			return true
		}
	}
	return false
}
