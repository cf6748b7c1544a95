package review

import (
	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
)

// RegisterEvents adds every dataset review event type to the registry.
func RegisterEvents(registry *event.Registry) error {
	definitions := []event.Definition{
		{Type: EventTypeStarted, Family: event.FamilyDatasetReview, Authoring: true},
		{Type: EventTypePersonaChosen, Family: event.FamilyDatasetReview, Authoring: true},
		{Type: EventTypeCompetingInterestsDeclared, Family: event.FamilyDatasetReview, Authoring: true},
		{Type: EventTypePublicationRequested, Family: event.FamilyDatasetReview, Authoring: true},
		{Type: EventTypeDOIAssigned, Family: event.FamilyDatasetReview},
		{Type: EventTypePublished, Family: event.FamilyDatasetReview, Terminal: true},
	}
	for _, q := range questions {
		definitions = append(definitions, event.Definition{
			Type:      q.EventType,
			Family:    event.FamilyDatasetReview,
			Authoring: true,
		})
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCommands adds every dataset review command type to the registry.
func RegisterCommands(registry *command.Registry) error {
	definitions := []command.Definition{
		{Type: CommandTypeStart},
		{Type: CommandTypeChoosePersona},
		{Type: CommandTypeDeclareCompetingInterests},
		{Type: CommandTypeRequestPublication},
		{Type: CommandTypeMarkDOIAssigned},
		{Type: CommandTypeMarkPublished},
	}
	for _, q := range questions {
		definitions = append(definitions, command.Definition{Type: q.CommandType})
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
