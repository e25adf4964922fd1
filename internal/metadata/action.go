package metadata

import (
	"github.com/pitabwire/backoffice/model"
)

// ActionProvider resolves ActionDefinition lists into ActionDescriptor
// lists, filtering by capabilities.
type ActionProvider struct{}

// NewActionProvider creates a new ActionProvider.
func NewActionProvider() *ActionProvider {
	return &ActionProvider{}
}

// ResolveActions resolves a list of action definitions into descriptors.
// Actions the capability set does not cover are omitted.
func (p *ActionProvider) ResolveActions(caps model.CapabilitySet, actions []model.ActionDefinition) []ActionDescriptor {
	result := []ActionDescriptor{}
	for _, action := range actions {
		if !Permits(caps, action) {
			continue
		}

		desc := ActionDescriptor{
			ID:     action.ID,
			Label:  action.Label,
			Kind:   action.Kind,
			Status: action.Status,
			When:   action.When,
		}
		if action.Confirmation != nil {
			desc.Confirmation = &ConfirmationDescriptor{
				Title:   action.Confirmation.Title,
				Message: action.Confirmation.Message,
				Confirm: action.Confirmation.Confirm,
			}
		}
		result = append(result, desc)
	}
	return result
}

// Permits reports whether caps covers every capability action requires.
func Permits(caps model.CapabilitySet, action model.ActionDefinition) bool {
	return len(action.Capabilities) == 0 || caps.HasAll(action.Capabilities...)
}

// Authorize finds an action of the given kind the capability set permits.
// Status actions must also name status. It returns FORBIDDEN when the screen
// declares no such action or none is permitted.
func Authorize(caps model.CapabilitySet, def model.ScreenDefinition, kind, status string) (model.ActionDefinition, error) {
	declared := false
	for _, action := range def.Actions {
		if action.Kind != kind {
			continue
		}
		if kind == model.ActionStatus && action.Status != status {
			continue
		}
		declared = true
		if Permits(caps, action) {
			return action, nil
		}
	}
	if !declared {
		return model.ActionDefinition{}, model.NewForbiddenError("This action is not available on this screen")
	}
	return model.ActionDefinition{}, model.NewForbiddenError("You do not have permission to perform this action")
}
