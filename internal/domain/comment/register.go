package comment

import (
	"github.com/perch-reviews/perch/internal/domain/command"
	"github.com/perch-reviews/perch/internal/domain/event"
)

// RegisterEvents adds every comment event type to the registry.
func RegisterEvents(registry *event.Registry) error {
	definitions := []event.Definition{
		{Type: EventTypeStarted, Family: event.FamilyComment, Authoring: true},
		{Type: EventTypeEntered, Family: event.FamilyComment, Authoring: true},
		{Type: EventTypePersonaChosen, Family: event.FamilyComment, Authoring: true},
		{Type: EventTypeCompetingInterestsDeclared, Family: event.FamilyComment, Authoring: true},
		{Type: EventTypeCodeOfConductAgreed, Family: event.FamilyComment, Authoring: true},
		{Type: EventTypePublicationRequested, Family: event.FamilyComment, Authoring: true},
		{Type: EventTypeDOIAssigned, Family: event.FamilyComment},
		{Type: EventTypePublished, Family: event.FamilyComment, Terminal: true},
		{Type: EventTypeRemoved, Family: event.FamilyComment, Terminal: true},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCommands adds every comment command type to the registry.
func RegisterCommands(registry *command.Registry) error {
	definitions := []command.Definition{
		{Type: CommandTypeStart},
		{Type: CommandTypeEnter},
		{Type: CommandTypeChoosePersona},
		{Type: CommandTypeDeclareCompetingInterests},
		{Type: CommandTypeAgreeCodeOfConduct},
		{Type: CommandTypeRequestPublication},
		{Type: CommandTypeMarkDOIAssigned},
		{Type: CommandTypeMarkPublished},
		{Type: CommandTypeMarkRemoved},
	}
	for _, def := range definitions {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
