package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/listctl"
)

// Recorder turns controller mutation events into audit events.
type Recorder struct {
	store     Store
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

var _ listctl.MutationObserver = (*Recorder)(nil)

// NewRecorder creates a Recorder. A zero retention keeps events forever.
func NewRecorder(store Store, retention time.Duration, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, retention: retention, logger: logger, now: time.Now}
}

// OnMutation implements listctl.MutationObserver. Store failures are logged
// and never fail the mutation.
func (r *Recorder) OnMutation(ctx context.Context, ev listctl.MutationEvent) {
	event := Event{
		ID:         uuid.NewString(),
		Screen:     ev.Screen,
		Resource:   ev.Resource,
		Kind:       string(ev.Kind),
		Target:     ev.Target,
		SubjectID:  ev.SubjectID,
		Success:    ev.Success,
		Code:       ev.Code,
		DurationMS: ev.Duration.Milliseconds(),
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.Append(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Error("audit append failed",
			zap.String("screen", ev.Screen),
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
	}
}

// Purge removes events older than the retention period.
func (r *Recorder) Purge(ctx context.Context) (int64, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	n, err := r.store.Purge(ctx, r.now().Add(-r.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("purged audit events", zap.Int64("count", n))
	}
	return n, nil
}

// Run purges expired events every interval until ctx is done.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	if r.retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Purge(ctx); err != nil {
				r.logger.Warn("audit purge failed", zap.Error(err))
			}
		}
	}
}
