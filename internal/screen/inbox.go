package screen

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/model"
)

// DefaultInboxSize bounds an inbox when no size is configured.
const DefaultInboxSize = 32

// Inbox queues the notifications of one mounted screen until the UI drains
// them. When full, the oldest notification is dropped.
type Inbox struct {
	max    int
	logger *zap.Logger

	mu      sync.Mutex
	items   []model.Notification
	dropped int
}

// NewInbox creates an Inbox holding at most max notifications.
func NewInbox(max int, logger *zap.Logger) *Inbox {
	if max <= 0 {
		max = DefaultInboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{max: max, logger: logger}
}

// Notify implements listctl.Notifier.
func (b *Inbox) Notify(n model.Notification) {
	fields := []zap.Field{
		zap.String("screen", n.Screen),
		zap.String("level", string(n.Level)),
		zap.String("message", n.Message),
	}
	if n.Code != "" {
		fields = append(fields, zap.String("code", n.Code))
	}
	if n.Level == model.NotifyError {
		b.logger.Warn("screen notification", fields...)
	} else {
		b.logger.Info("screen notification", fields...)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= b.max {
		b.items = b.items[1:]
		b.dropped++
	}
	b.items = append(b.items, n)
}

// Drain returns and clears the queued notifications, oldest first.
func (b *Inbox) Drain() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []model.Notification{}
	}
	return out
}

// Dropped returns how many notifications were discarded because the inbox
// was full.
func (b *Inbox) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
