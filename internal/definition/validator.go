package definition

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/backoffice/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// MaxPageSize bounds the page size a screen may declare.
const MaxPageSize = 100

// Validator validates definitions structurally and referentially.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all definitions. Screen and lookup IDs must be unique
// across every domain because the HTTP surface addresses them directly.
func (v *Validator) Validate(defs []model.DomainDefinition) []VError {
	var errs []VError
	screenIDs := make(map[string]string)
	lookupIDs := make(map[string]string)

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		errs = append(errs, v.validateDomain(prefix, def)...)

		for j, s := range def.Screens {
			if s.ID == "" {
				continue
			}
			if prev, ok := screenIDs[s.ID]; ok {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.screens[%d].id", prefix, j),
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("screen %q already declared in domain %q", s.ID, prev),
				})
				continue
			}
			screenIDs[s.ID] = def.Domain
		}
		for j, l := range def.Lookups {
			if l.ID == "" {
				continue
			}
			if prev, ok := lookupIDs[l.ID]; ok {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.lookups[%d].id", prefix, j),
					Code:    "DUPLICATE_ID",
					Message: fmt.Sprintf("lookup %q already declared in domain %q", l.ID, prev),
				})
				continue
			}
			lookupIDs[l.ID] = def.Domain
		}
	}
	return errs
}

func (v *Validator) validateDomain(prefix string, def model.DomainDefinition) []VError {
	var errs []VError

	if def.Domain == "" {
		errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
	}
	if def.Version == "" {
		errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
	}
	if def.Navigation.Label == "" {
		errs = append(errs, VError{Path: prefix + ".navigation.label", Code: "REQUIRED", Message: "navigation.label is required"})
	}
	if len(def.Screens) == 0 && len(def.Lookups) == 0 {
		errs = append(errs, VError{Path: prefix + ".screens", Code: "REQUIRED", Message: "at least one screen or lookup is required"})
	}

	for i, s := range def.Screens {
		sp := fmt.Sprintf("%s.screens[%d]", prefix, i)
		errs = append(errs, v.validateScreen(sp, s)...)
	}
	for i, l := range def.Lookups {
		lp := fmt.Sprintf("%s.lookups[%d]", prefix, i)
		errs = append(errs, v.validateLookup(lp, l)...)
	}

	// Screen capabilities live in the domain's namespace.
	if def.Domain != "" {
		for i, s := range def.Screens {
			for _, cap := range s.Capabilities {
				if !strings.HasPrefix(cap, def.Domain+":") && cap != "*" {
					errs = append(errs, VError{
						Path:    fmt.Sprintf("%s.screens[%d].capabilities", prefix, i),
						Code:    "NAMESPACE_MISMATCH",
						Message: fmt.Sprintf("capability %q does not match domain %q", cap, def.Domain),
					})
				}
			}
		}
	}

	return errs
}

var validResourceKinds = map[string]bool{
	model.KindCategory: true, model.KindService: true, model.KindUser: true,
	model.KindBooking: true, model.KindSchedule: true,
}

func (v *Validator) validateScreen(prefix string, s model.ScreenDefinition) []VError {
	var errs []VError

	if s.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if s.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if s.Resource == "" {
		errs = append(errs, VError{Path: prefix + ".resource", Code: "REQUIRED", Message: "resource is required"})
	} else if !validResourceKinds[s.Resource] {
		errs = append(errs, VError{Path: prefix + ".resource", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid resource %q", s.Resource)})
	}
	if s.Scope != "" && s.Scope != model.ScopeSubject {
		errs = append(errs, VError{Path: prefix + ".scope", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid scope %q", s.Scope)})
	}
	if s.PageSize < 0 || s.PageSize > MaxPageSize {
		errs = append(errs, VError{Path: prefix + ".page_size", Code: "RANGE", Message: fmt.Sprintf("page_size must be 0-%d", MaxPageSize)})
	}
	if s.Debounce != "" {
		if d, err := time.ParseDuration(s.Debounce); err != nil || d < 0 {
			errs = append(errs, VError{Path: prefix + ".debounce", Code: "INVALID_DURATION", Message: fmt.Sprintf("invalid debounce %q", s.Debounce)})
		}
	}

	errs = append(errs, v.validateEndpoints(prefix+".endpoints", s)...)

	for i, f := range s.Filters {
		if f.Field == "" {
			errs = append(errs, VError{Path: fmt.Sprintf("%s.filters[%d].field", prefix, i), Code: "REQUIRED", Message: "filter field is required"})
		}
	}

	actionIDs := make(map[string]bool)
	for i, a := range s.Actions {
		ap := fmt.Sprintf("%s.actions[%d]", prefix, i)
		if a.ID == "" {
			errs = append(errs, VError{Path: ap + ".id", Code: "REQUIRED", Message: "action id is required"})
		} else if actionIDs[a.ID] {
			errs = append(errs, VError{Path: ap + ".id", Code: "DUPLICATE_ID", Message: fmt.Sprintf("action %q declared twice", a.ID)})
		}
		actionIDs[a.ID] = true
		errs = append(errs, v.validateAction(ap, a, s.Endpoints)...)
	}

	return errs
}

func (v *Validator) validateEndpoints(prefix string, s model.ScreenDefinition) []VError {
	var errs []VError

	list := s.Endpoints.List
	if list.Path == "" {
		errs = append(errs, VError{Path: prefix + ".list.path", Code: "REQUIRED", Message: "list path is required"})
	}
	hasSubject := strings.Contains(list.Path, "{subject_id}")
	if s.Scope == model.ScopeSubject && !hasSubject {
		errs = append(errs, VError{Path: prefix + ".list.path", Code: "MISSING_PLACEHOLDER", Message: "subject scoped screens need {subject_id} in the list path"})
	}
	if s.Scope != model.ScopeSubject && hasSubject {
		errs = append(errs, VError{Path: prefix + ".list.path", Code: "INVALID_SCOPE", Message: "{subject_id} requires scope: subject"})
	}
	errs = append(errs, validateMethod(prefix+".list.method", list.Method)...)

	itemEndpoints := []struct {
		name string
		ep   *model.EndpointDefinition
	}{
		{"update", s.Endpoints.Update},
		{"delete", s.Endpoints.Delete},
		{"status", s.Endpoints.Status},
	}
	if s.Endpoints.Create != nil {
		if s.Endpoints.Create.Path == "" {
			errs = append(errs, VError{Path: prefix + ".create.path", Code: "REQUIRED", Message: "create path is required"})
		}
		errs = append(errs, validateMethod(prefix+".create.method", s.Endpoints.Create.Method)...)
	}
	for _, ie := range itemEndpoints {
		if ie.ep == nil {
			continue
		}
		ep := prefix + "." + ie.name
		if ie.ep.Path == "" {
			errs = append(errs, VError{Path: ep + ".path", Code: "REQUIRED", Message: ie.name + " path is required"})
		} else if !strings.Contains(ie.ep.Path, "{id}") {
			errs = append(errs, VError{Path: ep + ".path", Code: "MISSING_PLACEHOLDER", Message: ie.name + " path needs {id}"})
		}
		errs = append(errs, validateMethod(ep+".method", ie.ep.Method)...)
	}

	return errs
}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

func validateMethod(path, method string) []VError {
	if method == "" || validMethods[strings.ToUpper(method)] {
		return nil
	}
	return []VError{{Path: path, Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid method %q", method)}}
}

func (v *Validator) validateAction(prefix string, a model.ActionDefinition, eps model.EndpointsDefinition) []VError {
	var errs []VError

	var bound bool
	switch a.Kind {
	case model.ActionCreate:
		bound = eps.Create != nil
	case model.ActionUpdate:
		bound = eps.Update != nil
	case model.ActionDelete:
		bound = eps.Delete != nil
	case model.ActionStatus:
		bound = eps.Status != nil
		if a.Status == "" {
			errs = append(errs, VError{Path: prefix + ".status", Code: "REQUIRED", Message: "status actions need a target status"})
		}
	case "":
		return append(errs, VError{Path: prefix + ".kind", Code: "REQUIRED", Message: "action kind is required"})
	default:
		return append(errs, VError{Path: prefix + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid action kind %q", a.Kind)})
	}
	if !bound {
		errs = append(errs, VError{
			Path:    prefix + ".kind",
			Code:    "ENDPOINT_MISSING",
			Message: fmt.Sprintf("action kind %q has no %s endpoint", a.Kind, a.Kind),
		})
	}

	return errs
}

func (v *Validator) validateLookup(prefix string, l model.LookupDefinition) []VError {
	var errs []VError

	if l.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if l.Path == "" {
		errs = append(errs, VError{Path: prefix + ".path", Code: "REQUIRED", Message: "path is required"})
	}
	if l.LabelField == "" {
		errs = append(errs, VError{Path: prefix + ".label_field", Code: "REQUIRED", Message: "label_field is required"})
	}
	if l.ValueField == "" {
		errs = append(errs, VError{Path: prefix + ".value_field", Code: "REQUIRED", Message: "value_field is required"})
	}
	if l.TTL != "" {
		if d, err := time.ParseDuration(l.TTL); err != nil || d < 0 {
			errs = append(errs, VError{Path: prefix + ".ttl", Code: "INVALID_DURATION", Message: fmt.Sprintf("invalid ttl %q", l.TTL)})
		}
	}

	return errs
}
