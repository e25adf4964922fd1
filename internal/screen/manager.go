// Package screen mounts list controllers for authenticated sessions, keeps
// them alive while the operator works on a screen, and tears them down on
// unmount or after an idle period.
package screen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/internal/listctl"
	"github.com/pitabwire/backoffice/internal/metadata"
	"github.com/pitabwire/backoffice/internal/resource"
	"github.com/pitabwire/backoffice/model"
)

// Definitions finds screen definitions by ID.
type Definitions interface {
	GetScreen(id string) (model.ScreenDefinition, bool)
}

// Metrics receives controller measurements and the mounted screen count.
type Metrics interface {
	listctl.Metrics
	ScreenMounted(delta int)
}

// View is what the UI polls: the list state plus notifications raised
// since the previous poll.
type View struct {
	State         any                  `json:"state"`
	Notifications []model.Notification `json:"notifications"`
}

// Mounted is one screen mounted for one session.
type Mounted struct {
	key        string
	screen     Screen
	def        model.ScreenDefinition
	caps       model.CapabilitySet
	descriptor metadata.ScreenDescriptor
	inbox      *Inbox
	now        func() time.Time
	lastUsed   atomic.Int64
}

// Descriptor returns the capability-filtered render description.
func (m *Mounted) Descriptor() metadata.ScreenDescriptor { return m.descriptor }

// Definition returns the screen definition.
func (m *Mounted) Definition() model.ScreenDefinition { return m.def }

// View returns the current state and drains pending notifications.
func (m *Mounted) View() View {
	m.touch()
	return View{State: m.screen.Snapshot(), Notifications: m.inbox.Drain()}
}

// Snapshot returns the current state without draining notifications.
func (m *Mounted) Snapshot() any {
	return m.screen.Snapshot()
}

// SetSearchText updates the search text; the fetch follows the debounce.
func (m *Mounted) SetSearchText(text string) error {
	m.touch()
	return m.screen.SetSearchText(text)
}

// SetFilter sets or clears a filter declared by the screen.
func (m *Mounted) SetFilter(ctx context.Context, key, value string) error {
	m.touch()
	if !m.hasFilter(key) {
		return model.NewBadRequestError(fmt.Sprintf("Unknown filter %q", key))
	}
	return m.screen.SetFilter(ctx, key, value)
}

// SetPage moves to page.
func (m *Mounted) SetPage(ctx context.Context, page int) error {
	m.touch()
	return m.screen.SetPage(ctx, page)
}

// Refetch reloads the current page.
func (m *Mounted) Refetch(ctx context.Context) error {
	m.touch()
	return m.screen.Refetch(ctx)
}

// Create submits a new record.
func (m *Mounted) Create(ctx context.Context, in Input) (any, error) {
	m.touch()
	if _, err := metadata.Authorize(m.caps, m.def, model.ActionCreate, ""); err != nil {
		return nil, err
	}
	return m.screen.Create(ctx, in)
}

// Update submits changes to record id.
func (m *Mounted) Update(ctx context.Context, id string, in Input) (any, error) {
	m.touch()
	if _, err := metadata.Authorize(m.caps, m.def, model.ActionUpdate, ""); err != nil {
		return nil, err
	}
	return m.screen.Update(ctx, id, in)
}

// Delete removes record id.
func (m *Mounted) Delete(ctx context.Context, id string) (any, error) {
	m.touch()
	if _, err := metadata.Authorize(m.caps, m.def, model.ActionDelete, ""); err != nil {
		return nil, err
	}
	return m.screen.Delete(ctx, id)
}

// SetStatus moves record id to status.
func (m *Mounted) SetStatus(ctx context.Context, id, status string, extra map[string]any) (any, error) {
	m.touch()
	if _, err := metadata.Authorize(m.caps, m.def, model.ActionStatus, status); err != nil {
		return nil, err
	}
	return m.screen.SetStatus(ctx, id, status, extra)
}

func (m *Mounted) hasFilter(key string) bool {
	for _, f := range m.def.Filters {
		if f.Field == key {
			return true
		}
	}
	return false
}

func (m *Mounted) touch() { m.lastUsed.Store(m.now().UnixNano()) }

func (m *Mounted) idleSince() time.Time { return time.Unix(0, m.lastUsed.Load()) }

// Manager owns every mounted screen.
type Manager struct {
	defs      Definitions
	client    resource.Doer
	caps      model.CapabilityResolver
	cfg       config.ScreensConfig
	adapters  *Registry
	actions   *metadata.ActionProvider
	validator listctl.SubmissionValidator
	metrics   Metrics
	observers []listctl.MutationObserver
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	mounted map[string]*Mounted
}

// Option configures a Manager.
type Option func(*Manager)

// WithAdapters replaces the default resource adapters.
func WithAdapters(r *Registry) Option {
	return func(m *Manager) { m.adapters = r }
}

// WithValidator checks submissions before they are sent.
func WithValidator(v listctl.SubmissionValidator) Option {
	return func(m *Manager) { m.validator = v }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithObserver adds a mutation observer to every mounted controller.
func WithObserver(o listctl.MutationObserver) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(defs Definitions, client resource.Doer, caps model.CapabilityResolver, cfg config.ScreensConfig, opts ...Option) *Manager {
	m := &Manager{
		defs:     defs,
		client:   client,
		caps:     caps,
		cfg:      cfg,
		adapters: DefaultRegistry(),
		actions:  metadata.NewActionProvider(),
		logger:   zap.NewNop(),
		now:      time.Now,
		mounted:  make(map[string]*Mounted),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sessionKey(s *model.Session) string {
	if s.ID != "" {
		return s.ID
	}
	return s.SubjectID
}

func mountKey(s *model.Session, screenID string) string {
	return sessionKey(s) + "/" + screenID
}

// Mount returns the screen mounted for s, mounting it and fetching the
// first page when it is not mounted yet. A failed first fetch does not fail
// the mount; it is reported in the state and the inbox.
func (m *Manager) Mount(ctx context.Context, s *model.Session, screenID string) (*Mounted, error) {
	def, ok := m.defs.GetScreen(screenID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("Screen %q not found", screenID))
	}
	caps, err := m.caps.Resolve(s)
	if err != nil {
		return nil, fmt.Errorf("screen: resolving capabilities: %w", err)
	}
	descriptor, err := metadata.DescribeScreen(caps, def, m.actions)
	if err != nil {
		return nil, err
	}

	key := mountKey(s, screenID)
	m.mu.Lock()
	if existing, ok := m.mounted[key]; ok {
		m.mu.Unlock()
		existing.touch()
		return existing, nil
	}
	logger := m.logger.With(zap.String("screen", def.ID), zap.String("subject_id", s.SubjectID))
	inbox := NewInbox(m.cfg.InboxSize, logger)
	built, err := m.adapters.Build(Env{
		Def:       def,
		Session:   s,
		Client:    m.client,
		PageSize:  or(def.PageSize, m.cfg.DefaultPageSize),
		Debounce:  m.debounce(def),
		Validator: m.validator,
		Notifier:  inbox,
		Metrics:   m.metrics,
		Observers: m.observers,
		Logger:    m.logger,
		Now:       m.now,
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	evicted := m.evictForLocked(s)
	defer func() {
		for _, e := range evicted {
			m.closeMounted(e, "evicted")
		}
	}()
	mounted := &Mounted{
		key:        key,
		screen:     built,
		def:        def,
		caps:       caps,
		descriptor: descriptor,
		inbox:      inbox,
		now:        m.now,
	}
	mounted.touch()
	m.mounted[key] = mounted
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ScreenMounted(1)
	}
	logger.Info("screen mounted")

	if err := built.Refetch(ctx); err != nil {
		logger.Warn("initial fetch failed", zap.String("code", model.CodeOf(err)))
	}
	return mounted, nil
}

// Get returns the screen mounted for s.
func (m *Manager) Get(s *model.Session, screenID string) (*Mounted, error) {
	m.mu.Lock()
	mounted, ok := m.mounted[mountKey(s, screenID)]
	m.mu.Unlock()
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("Screen %q is not mounted", screenID))
	}
	mounted.touch()
	return mounted, nil
}

// Unmount closes the screen mounted for s. Unmounting a screen that is not
// mounted is a no-op.
func (m *Manager) Unmount(s *model.Session, screenID string) {
	m.mu.Lock()
	mounted, ok := m.mounted[mountKey(s, screenID)]
	if ok {
		delete(m.mounted, mounted.key)
	}
	m.mu.Unlock()
	if ok {
		m.closeMounted(mounted, "unmount")
	}
}

// Count returns the number of mounted screens.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mounted)
}

// Sweep closes screens idle for longer than the configured idle TTL and
// returns how many it closed.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	var idle []*Mounted
	m.mu.Lock()
	for key, mounted := range m.mounted {
		if mounted.idleSince().Before(cutoff) {
			idle = append(idle, mounted)
			delete(m.mounted, key)
		}
	}
	m.mu.Unlock()

	for _, mounted := range idle {
		m.closeMounted(mounted, "idle")
	}
	return len(idle)
}

// Run sweeps idle screens every sweep interval until ctx is done, then
// closes every remaining screen.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("idle screens closed", zap.Int("count", n))
			}
		}
	}
}

// CloseAll closes every mounted screen.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Mounted, 0, len(m.mounted))
	for _, mounted := range m.mounted {
		all = append(all, mounted)
	}
	m.mounted = make(map[string]*Mounted)
	m.mu.Unlock()

	for _, mounted := range all {
		m.closeMounted(mounted, "shutdown")
	}
}

// evictForLocked removes the least recently used screens of s until a new
// one fits under MaxPerSession and returns them for closing. The caller
// holds m.mu.
func (m *Manager) evictForLocked(s *model.Session) []*Mounted {
	if m.cfg.MaxPerSession <= 0 {
		return nil
	}
	prefix := sessionKey(s) + "/"
	var own []*Mounted
	for key, mounted := range m.mounted {
		if strings.HasPrefix(key, prefix) {
			own = append(own, mounted)
		}
	}
	if len(own) < m.cfg.MaxPerSession {
		return nil
	}
	sort.Slice(own, func(i, j int) bool { return own[i].idleSince().Before(own[j].idleSince()) })
	evicted := own[:len(own)-m.cfg.MaxPerSession+1]
	for _, mounted := range evicted {
		delete(m.mounted, mounted.key)
	}
	return evicted
}

func (m *Manager) closeMounted(mounted *Mounted, reason string) {
	mounted.screen.Close()
	if m.metrics != nil {
		m.metrics.ScreenMounted(-1)
	}
	m.logger.Info("screen closed",
		zap.String("screen", mounted.def.ID),
		zap.String("key", mounted.key),
		zap.String("reason", reason),
	)
}

func (m *Manager) debounce(def model.ScreenDefinition) time.Duration {
	if def.Debounce != "" {
		if d, err := time.ParseDuration(def.Debounce); err == nil && d > 0 {
			return d
		}
	}
	return m.cfg.DefaultDebounce
}

func or(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
