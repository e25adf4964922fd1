package resource

import (
	"context"
	"net/http"
	"testing"

	"github.com/pitabwire/backoffice/internal/invoker"
	"github.com/pitabwire/backoffice/model"
)

type fakeDoer struct {
	requests []invoker.Request
	resp     invoker.Response
	err      error
}

func (f *fakeDoer) Do(_ context.Context, _ *model.Session, req invoker.Request) (invoker.Response, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func categoriesDef() model.ScreenDefinition {
	return model.ScreenDefinition{
		ID:       "categories",
		Resource: model.KindCategory,
		Endpoints: model.EndpointsDefinition{
			List:   model.EndpointDefinition{Path: "/categories"},
			Create: &model.EndpointDefinition{Method: "post", Path: "/categories"},
			Update: &model.EndpointDefinition{Method: "put", Path: "/categories/{id}"},
			Delete: &model.EndpointDefinition{Method: "delete", Path: "/categories/{id}"},
		},
		Mapping: model.ResponseMappingDefinition{ItemPath: "data"},
	}
}

func bookingsDef() model.ScreenDefinition {
	return model.ScreenDefinition{
		ID:       "staff-bookings",
		Resource: model.KindBooking,
		Scope:    model.ScopeSubject,
		Endpoints: model.EndpointsDefinition{
			List:   model.EndpointDefinition{Path: "/bookings/staff/{subject_id}"},
			Status: &model.EndpointDefinition{Method: "put", Path: "/bookings/{id}/status", StatusField: "status"},
		},
		Query:   model.QueryParamsDefinition{PageSize: "pageSize"},
		Filters: []model.FilterDefinition{{Field: "status", Param: "bookingStatus"}},
		Mapping: model.ResponseMappingDefinition{ItemsPath: "result.items", TotalPagesPath: "result.pages"},
	}
}

func session() *model.Session {
	return &model.Session{SubjectID: "staff-7", Token: "t"}
}

func TestHTTPService_List(t *testing.T) {
	doer := &fakeDoer{resp: invoker.Response{StatusCode: 200, Body: map[string]any{
		"data": []any{
			map[string]any{"_id": "c1", "categoryName": "Hair"},
			map[string]any{"_id": "c2", "categoryName": "Nails"},
		},
		"totalPages": float64(3),
	}}}
	svc := NewHTTPService[model.Category](doer, categoriesDef())

	page, err := svc.List(context.Background(), session(), model.Query{Page: 2, PageSize: 5, SearchText: "ha"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].CategoryName != "Hair" {
		t.Errorf("Items = %+v", page.Items)
	}
	if page.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", page.TotalPages)
	}

	req := doer.requests[0]
	if req.Method != http.MethodGet || req.Path != "/categories" {
		t.Errorf("request = %s %s, want GET /categories", req.Method, req.Path)
	}
	if req.Query.Get("page") != "2" || req.Query.Get("limit") != "5" || req.Query.Get("search") != "ha" {
		t.Errorf("query = %v", req.Query)
	}
}

func TestHTTPService_List_ScopedAndMapped(t *testing.T) {
	doer := &fakeDoer{resp: invoker.Response{StatusCode: 200, Body: map[string]any{
		"result": map[string]any{
			"items": []any{map[string]any{"_id": "b1", "status": "pending", "serviceId": map[string]any{"_id": "s1", "serviceName": "Cut"}}},
			"pages": float64(1),
		},
	}}}
	svc := NewHTTPService[model.Booking](doer, bookingsDef())

	page, err := svc.List(context.Background(), session(), model.Query{
		Page: 1, PageSize: 5, Filters: map[string]string{"status": "pending", "empty": ""},
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Service.Name != "Cut" {
		t.Errorf("Items = %+v", page.Items)
	}

	req := doer.requests[0]
	if req.Path != "/bookings/staff/staff-7" {
		t.Errorf("Path = %q, want /bookings/staff/staff-7", req.Path)
	}
	if req.Query.Get("bookingStatus") != "pending" {
		t.Errorf("bookingStatus = %q, want pending", req.Query.Get("bookingStatus"))
	}
	if req.Query.Get("pageSize") != "5" {
		t.Errorf("pageSize = %q, want 5", req.Query.Get("pageSize"))
	}
	if req.Query.Has("search") || req.Query.Has("empty") {
		t.Errorf("query = %v, want no empty params", req.Query)
	}
}

func TestHTTPService_List_ScopedRequiresSubject(t *testing.T) {
	svc := NewHTTPService[model.Booking](&fakeDoer{}, bookingsDef())
	_, err := svc.List(context.Background(), &model.Session{}, model.Query{Page: 1, PageSize: 5})
	if code := model.CodeOf(err); code != model.ErrUnauthorized {
		t.Errorf("CodeOf(err) = %q, want %q", code, model.ErrUnauthorized)
	}
}

func TestHTTPService_Create(t *testing.T) {
	doer := &fakeDoer{resp: invoker.Response{StatusCode: 201, Body: map[string]any{
		"message": "Category created",
		"data":    map[string]any{"_id": "c9", "categoryName": "A"},
	}}}
	svc := NewHTTPService[model.Category](doer, categoriesDef())

	res, err := svc.Create(context.Background(), session(), model.Payload{Fields: map[string]any{"categoryName": "A"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Message != "Category created" {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Item == nil || res.Item.ID != "c9" {
		t.Errorf("Item = %+v, want c9", res.Item)
	}
	req := doer.requests[0]
	if req.Method != http.MethodPost || req.IdempotencyKey == "" {
		t.Errorf("request = %s key=%q, want POST with idempotency key", req.Method, req.IdempotencyKey)
	}
}

func TestHTTPService_UpdateDeletePaths(t *testing.T) {
	doer := &fakeDoer{resp: invoker.Response{StatusCode: 200}}
	svc := NewHTTPService[model.Category](doer, categoriesDef())

	if _, err := svc.Update(context.Background(), session(), "c/1", model.Payload{}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := svc.Delete(context.Background(), session(), "c2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if doer.requests[0].Method != http.MethodPut || doer.requests[0].Path != "/categories/c%2F1" {
		t.Errorf("update = %s %s", doer.requests[0].Method, doer.requests[0].Path)
	}
	if doer.requests[0].IdempotencyKey != "" {
		t.Errorf("update carried idempotency key %q", doer.requests[0].IdempotencyKey)
	}
	if doer.requests[1].Method != http.MethodDelete || doer.requests[1].Path != "/categories/c2" {
		t.Errorf("delete = %s %s", doer.requests[1].Method, doer.requests[1].Path)
	}
	if doer.requests[1].Payload != nil {
		t.Error("delete sent a payload")
	}
}

func TestHTTPService_SetStatus(t *testing.T) {
	doer := &fakeDoer{resp: invoker.Response{StatusCode: 200}}
	svc := NewHTTPService[model.Booking](doer, bookingsDef())

	_, err := svc.SetStatus(context.Background(), session(), "b1", model.BookingRejected, map[string]any{"rejectionReason": "busy"})
	if err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	req := doer.requests[0]
	if req.Path != "/bookings/b1/status" {
		t.Errorf("Path = %q", req.Path)
	}
	if req.Payload.Fields["status"] != model.BookingRejected || req.Payload.Fields["rejectionReason"] != "busy" {
		t.Errorf("Fields = %v", req.Payload.Fields)
	}
}

func TestHTTPService_MissingEndpoint(t *testing.T) {
	svc := NewHTTPService[model.Booking](&fakeDoer{}, bookingsDef())
	_, err := svc.Delete(context.Background(), session(), "b1")
	if code := model.CodeOf(err); code != model.ErrBadRequest {
		t.Errorf("CodeOf(err) = %q, want %q", code, model.ErrBadRequest)
	}
}

func TestHTTPService_TransportErrorPassesThrough(t *testing.T) {
	doer := &fakeDoer{err: model.NewBackendTimeoutError()}
	svc := NewHTTPService[model.Category](doer, categoriesDef())
	_, err := svc.List(context.Background(), session(), model.Query{Page: 1, PageSize: 5})
	if code := model.CodeOf(err); code != model.ErrBackendTimeout {
		t.Errorf("CodeOf(err) = %q, want %q", code, model.ErrBackendTimeout)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name    string
		resp    invoker.Response
		code    string
		details int
	}{
		{"ok", invoker.Response{StatusCode: 200}, "", 0},
		{"not found", invoker.Response{StatusCode: 404}, model.ErrNotFound, 0},
		{"validation", invoker.Response{StatusCode: 422, Body: map[string]any{
			"error": map[string]any{"details": []any{
				map[string]any{"field": "email", "code": "TAKEN", "message": "Email already used"},
			}},
		}}, model.ErrValidationError, 1},
		{"bad request without details", invoker.Response{StatusCode: 400, Body: map[string]any{"message": "nope"}}, model.ErrBadRequest, 0},
		{"unauthorized", invoker.Response{StatusCode: 401}, model.ErrUnauthorized, 0},
		{"forbidden", invoker.Response{StatusCode: 403}, model.ErrForbidden, 0},
		{"conflict", invoker.Response{StatusCode: 409}, model.ErrConflict, 0},
		{"teapot", invoker.Response{StatusCode: 418}, model.ErrBadRequest, 0},
		{"server", invoker.Response{StatusCode: 500}, model.ErrBackendFailure, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := StatusError(tt.resp)
			if code := model.CodeOf(err); code != tt.code {
				t.Fatalf("CodeOf() = %q, want %q", code, tt.code)
			}
			if env := model.AsEnvelope(err); env != nil && len(env.Details) != tt.details {
				t.Errorf("len(Details) = %d, want %d", len(env.Details), tt.details)
			}
		})
	}
}

func TestStatusError_UsesRemoteMessage(t *testing.T) {
	err := StatusError(invoker.Response{StatusCode: 404, Body: map[string]any{"message": "Booking not found"}})
	if env := model.AsEnvelope(err); env.Message != "Booking not found" {
		t.Errorf("Message = %q, want remote message", env.Message)
	}
}
