// Package openapi loads the booking API's OpenAPI document and checks that
// screen and lookup definitions only call operations it declares.
package openapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/backoffice/internal/definition"
	"github.com/pitabwire/backoffice/internal/resource"
	"github.com/pitabwire/backoffice/model"
)

// IndexedOperation holds a resolved OpenAPI operation.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	// QueryParams lists the declared query parameter names, path-level
	// parameters included.
	QueryParams []string
	RequestBody *openapi3.RequestBody
}

// Index is an in-memory index of the booking API's operations keyed by
// method and path shape.
type Index struct {
	byRoute map[string]IndexedOperation // key: "METHOD /path/{}"
	byID    map[string]IndexedOperation
	baseURL string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		byRoute: make(map[string]IndexedOperation),
		byID:    make(map[string]IndexedOperation),
	}
}

var placeholder = regexp.MustCompile(`\{[^}]*\}`)

// routeKey ignores placeholder names so /bookings/staff/{subject_id} matches
// /bookings/staff/{staffId}.
func routeKey(method, path string) string {
	path = strings.TrimSuffix(path, "/")
	return strings.ToUpper(method) + " " + placeholder.ReplaceAllString(path, "{}")
}

// Load parses and validates the document at path and indexes every operation
// that has an operationId.
func (idx *Index) Load(ctx context.Context, path string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", path, err)
	}
	if len(doc.Servers) > 0 {
		idx.baseURL = doc.Servers[0].URL
	}

	for tmpl, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			indexed := IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: tmpl,
				QueryParams:  queryParams(item.Parameters, op.Parameters),
			}
			if op.RequestBody != nil {
				indexed.RequestBody = op.RequestBody.Value
			}
			idx.byRoute[routeKey(method, tmpl)] = indexed
			idx.byID[op.OperationID] = indexed
		}
	}
	return nil
}

func queryParams(lists ...openapi3.Parameters) []string {
	var names []string
	for _, params := range lists {
		for _, ref := range params {
			if ref.Value != nil && ref.Value.In == openapi3.ParameterInQuery {
				names = append(names, ref.Value.Name)
			}
		}
	}
	return names
}

// BaseURL returns the first server URL declared by the document.
func (idx *Index) BaseURL() string { return idx.baseURL }

// GetOperation returns the operation with the given ID.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.byID[operationID]
	return op, ok
}

// Find returns the operation serving method and path. Any query string on
// path is ignored.
func (idx *Index) Find(method, path string) (IndexedOperation, bool) {
	path, _, _ = strings.Cut(path, "?")
	op, ok := idx.byRoute[routeKey(method, path)]
	return op, ok
}

// AllOperationIDs returns every indexed operation ID, sorted.
func (idx *Index) AllOperationIDs() []string {
	ids := make([]string, 0, len(idx.byID))
	for id := range idx.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Check reports every definition endpoint or query parameter the document
// does not declare. Operations that declare no query parameters accept any.
func (idx *Index) Check(defs []model.DomainDefinition) []definition.VError {
	var errs []definition.VError

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		for j, s := range def.Screens {
			sp := fmt.Sprintf("%s.screens[%d].endpoints", prefix, j)

			list, ok := idx.endpoint(&errs, sp+".list", &s.Endpoints.List, http.MethodGet)
			if ok {
				errs = append(errs, checkParams(sp+".list", list, listParams(s))...)
			}
			items := []struct {
				name   string
				ep     *model.EndpointDefinition
				method string
			}{
				{"create", s.Endpoints.Create, http.MethodPost},
				{"update", s.Endpoints.Update, http.MethodPut},
				{"delete", s.Endpoints.Delete, http.MethodDelete},
				{"status", s.Endpoints.Status, http.MethodPut},
			}
			for _, it := range items {
				if it.ep != nil {
					idx.endpoint(&errs, sp+"."+it.name, it.ep, it.method)
				}
			}
		}
		for j, l := range def.Lookups {
			lp := fmt.Sprintf("%s.lookups[%d]", prefix, j)
			op, ok := idx.endpoint(&errs, lp, &model.EndpointDefinition{Path: l.Path}, http.MethodGet)
			if ok {
				errs = append(errs, checkParams(lp, op, lookupParams(l))...)
			}
		}
	}
	return errs
}

func (idx *Index) endpoint(errs *[]definition.VError, path string, ep *model.EndpointDefinition, fallback string) (IndexedOperation, bool) {
	method := ep.Method
	if method == "" {
		method = fallback
	}
	op, ok := idx.Find(method, ep.Path)
	if !ok {
		*errs = append(*errs, definition.VError{
			Path:    path,
			Code:    "UNKNOWN_OPERATION",
			Message: fmt.Sprintf("%s %s is not an operation of the booking API", strings.ToUpper(method), ep.Path),
		})
	}
	return op, ok
}

func checkParams(path string, op IndexedOperation, params []string) []definition.VError {
	if len(op.QueryParams) == 0 {
		return nil
	}
	var errs []definition.VError
	for _, p := range params {
		if !slices.Contains(op.QueryParams, p) {
			errs = append(errs, definition.VError{
				Path:    path,
				Code:    "UNKNOWN_PARAMETER",
				Message: fmt.Sprintf("%s does not accept query parameter %q", op.OperationID, p),
			})
		}
	}
	return errs
}

func listParams(s model.ScreenDefinition) []string {
	params := []string{
		or(s.Query.Page, resource.DefaultPageParam),
		or(s.Query.PageSize, resource.DefaultPageSizeParam),
		or(s.Query.Search, resource.DefaultSearchParam),
	}
	for _, f := range s.Filters {
		params = append(params, or(f.Param, f.Field))
	}
	return params
}

func lookupParams(l model.LookupDefinition) []string {
	var params []string
	if _, raw, ok := strings.Cut(l.Path, "?"); ok {
		if q, err := url.ParseQuery(raw); err == nil {
			for name := range q {
				params = append(params, name)
			}
		}
	}
	if l.SearchParam != "" {
		params = append(params, l.SearchParam)
	}
	sort.Strings(params)
	return params
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
