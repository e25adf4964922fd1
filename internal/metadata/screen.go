package metadata

import (
	"fmt"

	"github.com/pitabwire/backoffice/model"
)

// DescribeScreen resolves a screen definition into its descriptor. Returns
// FORBIDDEN when the capability set does not cover the screen.
func DescribeScreen(caps model.CapabilitySet, def model.ScreenDefinition, actions *ActionProvider) (ScreenDescriptor, error) {
	if !CanView(caps, def) {
		return ScreenDescriptor{}, model.NewForbiddenError(
			fmt.Sprintf("insufficient capabilities for screen %q", def.ID),
		)
	}

	columns := def.Columns
	if columns == nil {
		columns = []model.ColumnDefinition{}
	}
	return ScreenDescriptor{
		ID:       def.ID,
		Title:    def.Title,
		Route:    def.Route,
		Resource: def.Resource,
		PageSize: def.PageSize,
		Columns:  columns,
		Filters:  def.Filters,
		Actions:  actions.ResolveActions(caps, def.Actions),
	}, nil
}

// CanView reports whether caps covers the screen's capabilities.
func CanView(caps model.CapabilitySet, def model.ScreenDefinition) bool {
	return len(def.Capabilities) == 0 || caps.HasAll(def.Capabilities...)
}
