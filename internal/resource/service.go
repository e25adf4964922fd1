// Package resource implements model.ResourceService over the remote API,
// driven by the endpoint bindings of a screen definition.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pitabwire/backoffice/internal/invoker"
	"github.com/pitabwire/backoffice/model"
)

// Defaults applied when a screen definition leaves a mapping empty.
const (
	DefaultPageParam      = "page"
	DefaultPageSizeParam  = "limit"
	DefaultSearchParam    = "search"
	DefaultItemsPath      = "data"
	DefaultTotalPagesPath = "totalPages"
	DefaultMessagePath    = "message"
	DefaultStatusField    = "status"
)

// Doer sends a request to the remote API.
type Doer interface {
	Do(ctx context.Context, s *model.Session, req invoker.Request) (invoker.Response, error)
}

// HTTPService talks to the remote endpoints bound to one screen.
type HTTPService[R model.Resource] struct {
	client Doer
	def    model.ScreenDefinition
}

var _ model.ResourceService[model.Category] = (*HTTPService[model.Category])(nil)

// NewHTTPService creates a service for the given screen definition.
func NewHTTPService[R model.Resource](client Doer, def model.ScreenDefinition) *HTTPService[R] {
	return &HTTPService[R]{client: client, def: def}
}

// List fetches one page of resources.
func (h *HTTPService[R]) List(ctx context.Context, s *model.Session, q model.Query) (model.PageResult[R], error) {
	ep := h.def.Endpoints.List
	path, err := expandPath(ep.Path, s, "")
	if err != nil {
		return model.PageResult[R]{}, err
	}

	resp, err := h.client.Do(ctx, s, invoker.Request{
		Method: methodOr(ep.Method, http.MethodGet),
		Path:   path,
		Query:  h.listQuery(q),
	})
	if err != nil {
		return model.PageResult[R]{}, err
	}
	if err := StatusError(resp); err != nil {
		return model.PageResult[R]{}, err
	}

	raw := resp.Body
	if body, ok := resp.Body.(map[string]any); ok {
		raw = extractPath(body, or(h.def.Mapping.ItemsPath, DefaultItemsPath))
	}
	items := make([]R, 0)
	if raw != nil {
		if err := reencode(raw, &items); err != nil {
			return model.PageResult[R]{}, fmt.Errorf("resource: decode %s items: %w", h.def.ID, err)
		}
	}

	total, ok := 0, false
	if body, isMap := resp.Body.(map[string]any); isMap {
		total, ok = toInt(extractPath(body, or(h.def.Mapping.TotalPagesPath, DefaultTotalPagesPath)))
	}
	if !ok && len(items) > 0 {
		total = 1
	}
	return model.PageResult[R]{Items: items, TotalPages: total}, nil
}

// Create sends a new resource.
func (h *HTTPService[R]) Create(ctx context.Context, s *model.Session, p model.Payload) (model.MutationResult[R], error) {
	return h.mutate(ctx, s, h.def.Endpoints.Create, http.MethodPost, "", &p)
}

// Update replaces the resource identified by id.
func (h *HTTPService[R]) Update(ctx context.Context, s *model.Session, id string, p model.Payload) (model.MutationResult[R], error) {
	return h.mutate(ctx, s, h.def.Endpoints.Update, http.MethodPut, id, &p)
}

// Delete removes the resource identified by id.
func (h *HTTPService[R]) Delete(ctx context.Context, s *model.Session, id string) (model.MutationResult[R], error) {
	return h.mutate(ctx, s, h.def.Endpoints.Delete, http.MethodDelete, id, nil)
}

// SetStatus changes the status of the resource identified by id. Extra
// fields travel alongside the status in the same body.
func (h *HTTPService[R]) SetStatus(ctx context.Context, s *model.Session, id, status string, extra map[string]any) (model.MutationResult[R], error) {
	ep := h.def.Endpoints.Status
	fields := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		fields[k] = v
	}
	field := DefaultStatusField
	if ep != nil && ep.StatusField != "" {
		field = ep.StatusField
	}
	fields[field] = status
	return h.mutate(ctx, s, ep, http.MethodPut, id, &model.Payload{Fields: fields})
}

func (h *HTTPService[R]) mutate(ctx context.Context, s *model.Session, ep *model.EndpointDefinition, method, id string, p *model.Payload) (model.MutationResult[R], error) {
	if ep == nil {
		return model.MutationResult[R]{}, model.NewBadRequestError("This action is not available on " + h.def.ID)
	}
	path, err := expandPath(ep.Path, s, id)
	if err != nil {
		return model.MutationResult[R]{}, err
	}

	req := invoker.Request{
		Method:  methodOr(ep.Method, method),
		Path:    path,
		Payload: p,
	}
	if req.Method == http.MethodPost {
		req.IdempotencyKey = uuid.NewString()
	}

	resp, err := h.client.Do(ctx, s, req)
	if err != nil {
		return model.MutationResult[R]{}, err
	}
	if err := StatusError(resp); err != nil {
		return model.MutationResult[R]{}, err
	}

	var result model.MutationResult[R]
	body, ok := resp.Body.(map[string]any)
	if !ok {
		return result, nil
	}
	if msg, ok := extractPath(body, or(h.def.Mapping.MessagePath, DefaultMessagePath)).(string); ok {
		result.Message = msg
	}
	if h.def.Mapping.ItemPath != "" {
		if raw := extractPath(body, h.def.Mapping.ItemPath); raw != nil {
			var item R
			if err := reencode(raw, &item); err == nil {
				result.Item = &item
			}
		}
	}
	return result, nil
}

func (h *HTTPService[R]) listQuery(q model.Query) url.Values {
	params := h.def.Query
	v := url.Values{}
	v.Set(or(params.Page, DefaultPageParam), strconv.Itoa(q.Page))
	v.Set(or(params.PageSize, DefaultPageSizeParam), strconv.Itoa(q.PageSize))
	if q.SearchText != "" {
		v.Set(or(params.Search, DefaultSearchParam), q.SearchText)
	}
	for key, value := range q.Filters {
		if value == "" {
			continue
		}
		v.Set(h.filterParam(key), value)
	}
	return v
}

func (h *HTTPService[R]) filterParam(key string) string {
	for _, f := range h.def.Filters {
		if f.Field == key && f.Param != "" {
			return f.Param
		}
	}
	return key
}

// StatusError maps a non-2xx remote answer onto an error envelope.
func StatusError(resp invoker.Response) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	body, _ := resp.Body.(map[string]any)
	msg := remoteMessage(body)

	switch {
	case code == http.StatusNotFound:
		return model.NewNotFoundError(or(msg, "The requested record no longer exists"))
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		if details := extractFieldErrors(body); len(details) > 0 {
			env := model.NewValidationError(details)
			if msg != "" {
				env.Message = msg
			}
			return env
		}
		return model.NewBadRequestError(or(msg, fmt.Sprintf("The request was rejected (status %d)", code)))
	case code == http.StatusUnauthorized:
		return model.NewUnauthorizedError(or(msg, "Your session has expired"))
	case code == http.StatusForbidden:
		return model.NewForbiddenError(or(msg, "You are not allowed to perform this action"))
	case code == http.StatusConflict:
		return model.NewConflictError(or(msg, "The record was changed by someone else"))
	case code >= 400 && code < 500:
		return model.NewBadRequestError(or(msg, fmt.Sprintf("The request was rejected (status %d)", code)))
	}
	return model.NewBackendFailureError()
}

func remoteMessage(body map[string]any) string {
	if body == nil {
		return ""
	}
	if m, ok := extractPath(body, "error.message").(string); ok {
		return m
	}
	if m, ok := body["message"].(string); ok {
		return m
	}
	return ""
}

// extractFieldErrors reads field-level errors from either "error.details"
// or "details".
func extractFieldErrors(body map[string]any) []model.FieldError {
	if body == nil {
		return nil
	}
	details := extractPath(body, "error.details")
	if details == nil {
		details = body["details"]
	}
	slice, ok := details.([]any)
	if !ok {
		return nil
	}

	var result []model.FieldError
	for _, item := range slice {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fe := model.FieldError{}
		fe.Field, _ = m["field"].(string)
		fe.Code, _ = m["code"].(string)
		fe.Message, _ = m["message"].(string)
		if fe.Field != "" || fe.Message != "" {
			result = append(result, fe)
		}
	}
	return result
}

// expandPath substitutes {id} and {subject_id}.
func expandPath(path string, s *model.Session, id string) (string, error) {
	if strings.Contains(path, "{subject_id}") {
		if s == nil || s.SubjectID == "" {
			return "", model.NewUnauthorizedError("A signed-in user is required")
		}
		path = strings.ReplaceAll(path, "{subject_id}", url.PathEscape(s.SubjectID))
	}
	if strings.Contains(path, "{id}") {
		if id == "" {
			return "", model.NewBadRequestError("A record identifier is required")
		}
		path = strings.ReplaceAll(path, "{id}", url.PathEscape(id))
	}
	return path, nil
}

// extractPath navigates a dot-separated path in a nested map.
func extractPath(data map[string]any, path string) any {
	if path == "" || data == nil {
		return nil
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func reencode(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func methodOr(m, fallback string) string {
	if m == "" {
		return fallback
	}
	return strings.ToUpper(m)
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
