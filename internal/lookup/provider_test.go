package lookup

import (
	"context"
	"testing"

	"github.com/pitabwire/backoffice/internal/invoker"
	"github.com/pitabwire/backoffice/model"
)

type staticDefs map[string]model.LookupDefinition

func (d staticDefs) GetLookup(id string) (model.LookupDefinition, bool) {
	def, ok := d[id]
	return def, ok
}

type countingDoer struct {
	requests []invoker.Request
	resp     invoker.Response
	err      error
}

func (d *countingDoer) Do(_ context.Context, _ *model.Session, req invoker.Request) (invoker.Response, error) {
	d.requests = append(d.requests, req)
	return d.resp, d.err
}

type hitCounter struct{ hits, misses int }

func (h *hitCounter) RecordLookupCacheHit(string)  { h.hits++ }
func (h *hitCounter) RecordLookupCacheMiss(string) { h.misses++ }

func testDefs() staticDefs {
	return staticDefs{
		"categories": {
			ID:         "categories",
			Path:       "/categories?limit=1000",
			LabelField: "categoryName",
			ValueField: "_id",
			TTL:        "10m",
		},
		"services": {
			ID:          "services",
			Path:        "/services",
			ItemsPath:   "result.rows",
			LabelField:  "serviceName",
			ValueField:  "_id",
			SearchParam: "search",
		},
	}
}

func categoriesResponse() invoker.Response {
	return invoker.Response{StatusCode: 200, Body: map[string]any{
		"data": []any{
			map[string]any{"_id": "c1", "categoryName": "Hair"},
			map[string]any{"_id": "c2", "categoryName": "Nails"},
			map[string]any{"other": true},
		},
	}}
}

func TestProvider_CachesAndFilters(t *testing.T) {
	doer := &countingDoer{resp: categoriesResponse()}
	counter := &hitCounter{}
	p := NewProvider(testDefs(), doer, NewMemoryCache(10), 0, WithMetrics(counter))
	s := &model.Session{SubjectID: "u1", Token: "t"}

	res, err := p.Get(context.Background(), s, "categories", "")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if res.Cached || len(res.Options) != 2 {
		t.Fatalf("first Get = %+v, want 2 uncached options", res)
	}
	if got := doer.requests[0]; got.Path != "/categories" || got.Query.Get("limit") != "1000" {
		t.Errorf("request = %s ? %v", got.Path, got.Query)
	}

	res, err = p.Get(context.Background(), s, "categories", "NAI")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !res.Cached || len(res.Options) != 1 || res.Options[0].Value != "c2" {
		t.Errorf("second Get = %+v, want cached [Nails]", res)
	}
	if len(doer.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(doer.requests))
	}
	if counter.hits != 1 || counter.misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", counter.hits, counter.misses)
	}

	if err := p.Invalidate(context.Background(), "categories"); err != nil {
		t.Fatalf("Invalidate error: %v", err)
	}
	if _, err := p.Get(context.Background(), s, "categories", ""); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(doer.requests) != 2 {
		t.Errorf("requests = %d, want 2 after invalidate", len(doer.requests))
	}
}

func TestProvider_RemoteSearch(t *testing.T) {
	doer := &countingDoer{resp: invoker.Response{StatusCode: 200, Body: map[string]any{
		"result": map[string]any{"rows": []any{map[string]any{"_id": "s1", "serviceName": "Cut", "basePrice": 20.0}}},
	}}}
	cache := NewMemoryCache(10)
	p := NewProvider(testDefs(), doer, cache, 0)

	res, err := p.Get(context.Background(), nil, "services", "cu")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(res.Options) != 1 || res.Options[0].Label != "Cut" {
		t.Errorf("Options = %+v", res.Options)
	}
	if doer.requests[0].Query.Get("search") != "cu" {
		t.Errorf("search = %q, want cu", doer.requests[0].Query.Get("search"))
	}
	if cache.Len() != 0 {
		t.Errorf("cache.Len() = %d, want 0 for remote search", cache.Len())
	}
}

func TestProvider_UnknownLookup(t *testing.T) {
	p := NewProvider(testDefs(), &countingDoer{}, NewMemoryCache(10), 0)
	_, err := p.Get(context.Background(), nil, "nope", "")
	if !model.IsNotFound(err) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestProvider_RemoteFailure(t *testing.T) {
	p := NewProvider(testDefs(), &countingDoer{resp: invoker.Response{StatusCode: 500}}, NewMemoryCache(10), 0)
	_, err := p.Get(context.Background(), nil, "categories", "")
	if code := model.CodeOf(err); code != model.ErrBackendFailure {
		t.Errorf("CodeOf(err) = %q, want %q", code, model.ErrBackendFailure)
	}

	p = NewProvider(testDefs(), &countingDoer{err: model.NewBackendUnavailableError()}, NewMemoryCache(10), 0)
	_, err = p.Get(context.Background(), nil, "categories", "")
	if code := model.CodeOf(err); code != model.ErrBackendUnavailable {
		t.Errorf("CodeOf(err) = %q, want %q", code, model.ErrBackendUnavailable)
	}
}

func TestFilterOptions(t *testing.T) {
	opts := []model.StaticOption{{Label: "Hair Cut"}, {Label: "Beard"}, {Label: "hair dye"}}
	if got := filterOptions(opts, "HAIR"); len(got) != 2 {
		t.Errorf("filterOptions(HAIR) = %v, want 2", got)
	}
	if got := filterOptions(opts, ""); len(got) != 3 {
		t.Errorf("filterOptions('') = %v, want all", got)
	}
}
