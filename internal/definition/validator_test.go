package definition

import (
	"testing"

	"github.com/pitabwire/backoffice/model"
)

func validDomain() model.DomainDefinition {
	return model.DomainDefinition{
		Domain:     "categories",
		Version:    "1.0.0",
		Navigation: model.NavigationDefinition{Label: "Categories"},
		Screens: []model.ScreenDefinition{
			{
				ID:           "categories",
				Title:        "Categories",
				Resource:     model.KindCategory,
				Capabilities: []string{model.CapCategoriesView},
				PageSize:     5,
				Debounce:     "800ms",
				Endpoints: model.EndpointsDefinition{
					List:   model.EndpointDefinition{Method: "GET", Path: "/categories"},
					Create: &model.EndpointDefinition{Method: "POST", Path: "/categories"},
					Delete: &model.EndpointDefinition{Method: "DELETE", Path: "/categories/{id}"},
				},
				Actions: []model.ActionDefinition{
					{ID: "create", Kind: model.ActionCreate},
					{ID: "delete", Kind: model.ActionDelete},
				},
			},
		},
		Lookups: []model.LookupDefinition{
			{ID: "categories", Path: "/categories", LabelField: "categoryName", ValueField: "_id", TTL: "5m"},
		},
	}
}

func TestValidator_valid(t *testing.T) {
	errs := NewValidator().Validate([]model.DomainDefinition{validDomain()})
	if len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestValidator_errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *model.DomainDefinition)
		code   string
	}{
		{"missing domain", func(d *model.DomainDefinition) { d.Domain = "" }, "REQUIRED"},
		{"missing version", func(d *model.DomainDefinition) { d.Version = "" }, "REQUIRED"},
		{"missing navigation label", func(d *model.DomainDefinition) { d.Navigation.Label = "" }, "REQUIRED"},
		{"empty domain", func(d *model.DomainDefinition) { d.Screens = nil; d.Lookups = nil }, "REQUIRED"},
		{"unknown resource", func(d *model.DomainDefinition) { d.Screens[0].Resource = "invoice" }, "INVALID_ENUM"},
		{"unknown scope", func(d *model.DomainDefinition) { d.Screens[0].Scope = "tenant" }, "INVALID_ENUM"},
		{"page size too large", func(d *model.DomainDefinition) { d.Screens[0].PageSize = 500 }, "RANGE"},
		{"bad debounce", func(d *model.DomainDefinition) { d.Screens[0].Debounce = "soon" }, "INVALID_DURATION"},
		{"missing list path", func(d *model.DomainDefinition) { d.Screens[0].Endpoints.List.Path = "" }, "REQUIRED"},
		{"bad method", func(d *model.DomainDefinition) { d.Screens[0].Endpoints.List.Method = "FETCH" }, "INVALID_ENUM"},
		{"delete without id", func(d *model.DomainDefinition) {
			d.Screens[0].Endpoints.Delete.Path = "/categories"
		}, "MISSING_PLACEHOLDER"},
		{"subject scope without placeholder", func(d *model.DomainDefinition) {
			d.Screens[0].Scope = model.ScopeSubject
		}, "MISSING_PLACEHOLDER"},
		{"subject placeholder without scope", func(d *model.DomainDefinition) {
			d.Screens[0].Endpoints.List.Path = "/categories/{subject_id}"
		}, "INVALID_SCOPE"},
		{"action without endpoint", func(d *model.DomainDefinition) {
			d.Screens[0].Actions = append(d.Screens[0].Actions, model.ActionDefinition{ID: "edit", Kind: model.ActionUpdate})
		}, "ENDPOINT_MISSING"},
		{"status action without status", func(d *model.DomainDefinition) {
			d.Screens[0].Endpoints.Status = &model.EndpointDefinition{Path: "/categories/{id}/status"}
			d.Screens[0].Actions = append(d.Screens[0].Actions, model.ActionDefinition{ID: "hide", Kind: model.ActionStatus})
		}, "REQUIRED"},
		{"unknown action kind", func(d *model.DomainDefinition) {
			d.Screens[0].Actions[0].Kind = "export"
		}, "INVALID_ENUM"},
		{"duplicate action", func(d *model.DomainDefinition) {
			d.Screens[0].Actions[1].ID = "create"
		}, "DUPLICATE_ID"},
		{"capability namespace", func(d *model.DomainDefinition) {
			d.Screens[0].Capabilities = []string{model.CapUsersView}
		}, "NAMESPACE_MISMATCH"},
		{"lookup without label", func(d *model.DomainDefinition) { d.Lookups[0].LabelField = "" }, "REQUIRED"},
		{"lookup bad ttl", func(d *model.DomainDefinition) { d.Lookups[0].TTL = "forever" }, "INVALID_DURATION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDomain()
			tt.mutate(&d)
			errs := NewValidator().Validate([]model.DomainDefinition{d})
			if !hasCode(errs, tt.code) {
				t.Errorf("Validate() = %v, want code %s", errs, tt.code)
			}
		})
	}
}

func TestValidator_duplicate_ids_across_domains(t *testing.T) {
	a := validDomain()
	b := validDomain()
	b.Domain = "catalog"
	b.Screens[0].Capabilities = nil

	errs := NewValidator().Validate([]model.DomainDefinition{a, b})
	count := 0
	for _, e := range errs {
		if e.Code == "DUPLICATE_ID" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("DUPLICATE_ID errors = %d, want 2 (screen and lookup): %v", count, errs)
	}
}

func hasCode(errs []VError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
