package screen

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/listctl"
	"github.com/pitabwire/backoffice/model"
)

// Invalidator drops cached lookup options.
type Invalidator interface {
	Invalidate(ctx context.Context, lookupID string) error
}

// DefaultLookupBindings names the lookups fed by each resource kind.
var DefaultLookupBindings = map[string][]string{
	model.KindCategory: {"categories"},
	model.KindService:  {"services"},
	model.KindUser:     {"staff"},
}

// LookupInvalidator clears lookup caches after successful writes to the
// resources they list, so dropdowns never offer a deleted category.
type LookupInvalidator struct {
	cache    Invalidator
	bindings map[string][]string
	logger   *zap.Logger
}

// NewLookupInvalidator creates a LookupInvalidator. A nil bindings map uses
// DefaultLookupBindings.
func NewLookupInvalidator(cache Invalidator, bindings map[string][]string, logger *zap.Logger) *LookupInvalidator {
	if bindings == nil {
		bindings = DefaultLookupBindings
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LookupInvalidator{cache: cache, bindings: bindings, logger: logger}
}

// OnMutation implements listctl.MutationObserver.
func (l *LookupInvalidator) OnMutation(ctx context.Context, ev listctl.MutationEvent) {
	if !ev.Success {
		return
	}
	for _, id := range l.bindings[ev.Resource] {
		if err := l.cache.Invalidate(context.WithoutCancel(ctx), id); err != nil {
			l.logger.Warn("lookup invalidation failed",
				zap.String("lookup_id", id),
				zap.String("screen", ev.Screen),
				zap.Error(err),
			)
		}
	}
}
