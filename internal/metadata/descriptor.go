// Package metadata resolves screen definitions into the descriptors the
// admin UI renders: the navigation menu, table layout, and row actions
// filtered by the operator's capabilities.
package metadata

import "github.com/pitabwire/backoffice/model"

// NavigationTree is the capability-filtered menu.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is one menu entry. Domains carry children; screens carry a
// route.
type NavigationNode struct {
	ID       string           `json:"id"`
	Label    string           `json:"label"`
	Icon     string           `json:"icon,omitempty"`
	Route    string           `json:"route,omitempty"`
	Children []NavigationNode `json:"children,omitempty"`
}

// ScreenDescriptor is the render description of a list screen.
type ScreenDescriptor struct {
	ID       string                   `json:"id"`
	Title    string                   `json:"title"`
	Route    string                   `json:"route"`
	Resource string                   `json:"resource"`
	PageSize int                      `json:"page_size"`
	Columns  []model.ColumnDefinition `json:"columns"`
	Filters  []model.FilterDefinition `json:"filters,omitempty"`
	Actions  []ActionDescriptor       `json:"actions"`
}

// ActionDescriptor is an action the operator may trigger. When lists the
// row statuses that enable it; an empty list enables it on every row.
type ActionDescriptor struct {
	ID           string                  `json:"id"`
	Label        string                  `json:"label"`
	Kind         string                  `json:"kind"`
	Status       string                  `json:"status,omitempty"`
	When         []string                `json:"when,omitempty"`
	Confirmation *ConfirmationDescriptor `json:"confirmation,omitempty"`
}

// ConfirmationDescriptor is a confirmation dialog.
type ConfirmationDescriptor struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Confirm string `json:"confirm"`
}
