// Package lookup resolves option lists for form dropdowns, such as the
// categories offered on the service form, with a TTL cache in front of the
// remote API.
package lookup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/invoker"
	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

const keyPrefix = "lookup:"

// Definitions finds lookup definitions by ID.
type Definitions interface {
	GetLookup(id string) (model.LookupDefinition, bool)
}

// Doer sends a request to the remote API.
type Doer interface {
	Do(ctx context.Context, s *model.Session, req invoker.Request) (invoker.Response, error)
}

// Metrics records cache effectiveness.
type Metrics interface {
	RecordLookupCacheHit(lookupID string)
	RecordLookupCacheMiss(lookupID string)
}

// Result is a resolved option list.
type Result struct {
	Options []model.StaticOption `json:"options"`
	Cached  bool                 `json:"cached"`
}

// Provider resolves lookups.
type Provider struct {
	defs       Definitions
	client     Doer
	cache      Cache
	defaultTTL time.Duration
	metrics    Metrics
	logger     *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithMetrics sets the cache metrics sink.
func WithMetrics(m Metrics) ProviderOption {
	return func(p *Provider) { p.metrics = m }
}

// WithLogger sets the provider logger.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a Provider. defaultTTL applies to lookups that do not
// set their own.
func NewProvider(defs Definitions, client Doer, cache Cache, defaultTTL time.Duration, opts ...ProviderOption) *Provider {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	p := &Provider{
		defs:       defs,
		client:     client,
		cache:      cache,
		defaultTTL: defaultTTL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get resolves lookupID. When the lookup names a remote search parameter a
// non-empty query is sent to the remote API uncached; otherwise the full
// list is cached and filtered by label.
func (p *Provider) Get(ctx context.Context, s *model.Session, lookupID, query string) (Result, error) {
	def, ok := p.defs.GetLookup(lookupID)
	if !ok {
		return Result{}, model.NewNotFoundError(fmt.Sprintf("Lookup %q not found", lookupID))
	}

	ctx, span := observability.StartSpan(ctx, "lookup.get", observability.AttrLookupID.String(lookupID))
	defer span.End()

	if def.SearchParam != "" && query != "" {
		span.SetAttributes(observability.AttrCacheHit.Bool(false))
		options, err := p.fetch(ctx, s, def, query)
		if err != nil {
			return Result{}, err
		}
		return Result{Options: options}, nil
	}

	key := keyPrefix + def.ID
	options, found, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("lookup cache read failed", zap.String("lookup_id", def.ID), zap.Error(err))
	}
	if found {
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		p.recordHit(def.ID)
		return Result{Options: filterOptions(options, query), Cached: true}, nil
	}

	span.SetAttributes(observability.AttrCacheHit.Bool(false))
	p.recordMiss(def.ID)
	options, err = p.fetch(ctx, s, def, "")
	if err != nil {
		return Result{}, err
	}

	ttl := p.defaultTTL
	if def.TTL != "" {
		if parsed, parseErr := time.ParseDuration(def.TTL); parseErr == nil {
			ttl = parsed
		}
	}
	if err := p.cache.Set(ctx, key, options, ttl); err != nil {
		p.logger.Warn("lookup cache write failed", zap.String("lookup_id", def.ID), zap.Error(err))
	}
	return Result{Options: filterOptions(options, query)}, nil
}

// Invalidate drops the cached options of lookupID, or of every lookup when
// lookupID is empty.
func (p *Provider) Invalidate(ctx context.Context, lookupID string) error {
	return p.cache.Invalidate(ctx, keyPrefix+lookupID)
}

func (p *Provider) fetch(ctx context.Context, s *model.Session, def model.LookupDefinition, query string) ([]model.StaticOption, error) {
	u, err := url.Parse(def.Path)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: parse path: %w", def.ID, err)
	}
	params := u.Query()
	if query != "" {
		params.Set(def.SearchParam, query)
	}

	resp, err := p.client.Do(ctx, s, invoker.Request{
		Method: http.MethodGet,
		Path:   u.Path,
		Query:  params,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("lookup returned error status",
			zap.String("lookup_id", def.ID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, model.NewBackendFailureError()
	}
	return mapOptions(resp.Body, def), nil
}

func (p *Provider) recordHit(id string) {
	if p.metrics != nil {
		p.metrics.RecordLookupCacheHit(id)
	}
}

func (p *Provider) recordMiss(id string) {
	if p.metrics != nil {
		p.metrics.RecordLookupCacheMiss(id)
	}
}

// mapOptions transforms the remote response into options.
func mapOptions(body any, def model.LookupDefinition) []model.StaticOption {
	items := extractItems(body, def.ItemsPath)
	options := make([]model.StaticOption, 0, len(items))
	for _, item := range items {
		label := getString(item, def.LabelField)
		value := getString(item, def.ValueField)
		if label == "" && value == "" {
			continue
		}
		options = append(options, model.StaticOption{Label: label, Value: value})
	}
	return options
}

// extractItems finds the item array: at itemsPath when set, else the body
// itself, its "data" or its "items".
func extractItems(body any, itemsPath string) []map[string]any {
	if arr, ok := body.([]any); ok {
		return toMapSlice(arr)
	}
	m, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	if itemsPath != "" {
		var current any = m
		for _, part := range strings.Split(itemsPath, ".") {
			cm, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = cm[part]
		}
		arr, _ := current.([]any)
		return toMapSlice(arr)
	}
	for _, k := range []string{"data", "items"} {
		if arr, ok := m[k].([]any); ok {
			return toMapSlice(arr)
		}
	}
	return nil
}

func toMapSlice(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func getString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// filterOptions keeps options whose label contains query, ignoring case.
func filterOptions(options []model.StaticOption, query string) []model.StaticOption {
	if query == "" {
		return options
	}
	q := strings.ToLower(query)
	filtered := make([]model.StaticOption, 0, len(options))
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}
