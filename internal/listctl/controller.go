// Package listctl implements the list controller behind every back-office
// screen: paginated, searchable, filterable resource lists with create,
// update, delete and status-change orchestration.
package listctl

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

// Defaults used when no option overrides them.
const (
	DefaultPageSize = 5
	DefaultDebounce = 800 * time.Millisecond
)

// Fetch outcomes reported to Metrics besides error codes.
const (
	OutcomeOK       = "ok"
	OutcomeStale    = "stale"
	OutcomeCanceled = "canceled"
)

// Notifier receives operator-facing notifications.
type Notifier interface {
	Notify(n model.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n model.Notification) { f(n) }

// Metrics receives fetch and mutation measurements.
type Metrics interface {
	RecordFetch(screen, outcome string, duration time.Duration)
	RecordMutation(screen, kind, outcome string, duration time.Duration)
}

// MutationObserver is told about every mutation that reached the remote API.
type MutationObserver interface {
	OnMutation(ctx context.Context, event MutationEvent)
}

// MutationEvent describes a settled mutation.
type MutationEvent struct {
	Screen    string
	Resource  string
	Kind      model.MutationKind
	Target    string
	SubjectID string
	Success   bool
	Code      string
	Duration  time.Duration
}

// SubmissionValidator checks a submission before it is sent.
type SubmissionValidator interface {
	Validate(sub model.Submission) error
}

// StatusCheck validates a status change against the row currently shown
// (nil when the row is not on the page) and returns the extra fields to send.
type StatusCheck[R any] func(current *R, status string, extra map[string]any) (map[string]any, error)

// UpdateCheck validates an update against the row currently shown (nil
// when the row is not on the page).
type UpdateCheck[R any] func(current *R, sub model.Submission) error

// State is a point-in-time copy of a controller's state.
type State[R any] struct {
	Query         model.Query             `json:"query"`
	Items         []R                     `json:"items"`
	TotalPages    int                     `json:"total_pages"`
	Loading       bool                    `json:"loading"`
	SearchPending bool                    `json:"search_pending"`
	Error         *model.ErrorEnvelope    `json:"error,omitempty"`
	Pending       []model.PendingMutation `json:"pending"`
}

// Controller owns the list state of one screen for its mounted lifetime.
// All methods are safe for concurrent use.
type Controller[R model.Resource] struct {
	screen   string
	resource string
	svc      model.ResourceService[R]
	session  *model.Session

	pageSize       int
	debounce       time.Duration
	defaultFilters map[string]string
	validator      SubmissionValidator
	statusCheck    StatusCheck[R]
	updateCheck    UpdateCheck[R]
	notifier       Notifier
	metrics        Metrics
	observers      []MutationObserver
	messages       model.MessagesDefinition
	logger         *zap.Logger
	now            func() time.Time

	// ctx scopes debounced fetches; Close cancels it.
	ctx       context.Context
	cancel    context.CancelFunc
	debouncer *Debouncer

	mu         sync.Mutex
	query      model.Query
	items      []R
	totalPages int
	loading    bool
	lastErr    *model.ErrorEnvelope
	seq        uint64
	pending    map[string]model.PendingMutation
	closed     bool
}

// Option configures a Controller.
type Option[R model.Resource] func(*Controller[R])

// WithPageSize sets the fixed page size.
func WithPageSize[R model.Resource](n int) Option[R] {
	return func(c *Controller[R]) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithDebounce sets the search quiet period.
func WithDebounce[R model.Resource](d time.Duration) Option[R] {
	return func(c *Controller[R]) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithDefaultFilters sets the filters applied on mount.
func WithDefaultFilters[R model.Resource](filters map[string]string) Option[R] {
	return func(c *Controller[R]) { c.defaultFilters = filters }
}

// WithValidator checks create and update submissions before sending.
func WithValidator[R model.Resource](v SubmissionValidator) Option[R] {
	return func(c *Controller[R]) { c.validator = v }
}

// WithStatusCheck validates status changes before sending.
func WithStatusCheck[R model.Resource](check StatusCheck[R]) Option[R] {
	return func(c *Controller[R]) { c.statusCheck = check }
}

// WithUpdateCheck validates updates before sending.
func WithUpdateCheck[R model.Resource](check UpdateCheck[R]) Option[R] {
	return func(c *Controller[R]) { c.updateCheck = check }
}

// WithNotifier sets the notification sink.
func WithNotifier[R model.Resource](n Notifier) Option[R] {
	return func(c *Controller[R]) { c.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics[R model.Resource](m Metrics) Option[R] {
	return func(c *Controller[R]) { c.metrics = m }
}

// WithObserver adds a mutation observer.
func WithObserver[R model.Resource](o MutationObserver) Option[R] {
	return func(c *Controller[R]) { c.observers = append(c.observers, o) }
}

// WithMessages sets the screen's notification texts.
func WithMessages[R model.Resource](m model.MessagesDefinition) Option[R] {
	return func(c *Controller[R]) { c.messages = m }
}

// WithResource names the resource kind in logs, spans and events.
func WithResource[R model.Resource](kind string) Option[R] {
	return func(c *Controller[R]) { c.resource = kind }
}

// WithLogger sets the controller logger.
func WithLogger[R model.Resource](l *zap.Logger) Option[R] {
	return func(c *Controller[R]) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock[R model.Resource](now func() time.Time) Option[R] {
	return func(c *Controller[R]) { c.now = now }
}

// New creates a controller for one screen acting on behalf of session. No
// fetch is issued until Refetch or another operation is called.
func New[R model.Resource](screen string, svc model.ResourceService[R], session *model.Session, opts ...Option[R]) *Controller[R] {
	c := &Controller[R]{
		screen:   screen,
		svc:      svc,
		session:  session,
		pageSize: DefaultPageSize,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		now:      time.Now,
		pending:  make(map[string]model.PendingMutation),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("screen", screen))
	if session != nil {
		c.logger = c.logger.With(zap.String("subject_id", session.SubjectID))
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.debouncer = NewDebouncer(c.debounce)

	filters := make(map[string]string, len(c.defaultFilters))
	for k, v := range c.defaultFilters {
		if v != "" {
			filters[k] = v
		}
	}
	c.query = model.Query{Page: 1, PageSize: c.pageSize, Filters: filters}
	return c
}

// Screen returns the screen identifier.
func (c *Controller[R]) Screen() string { return c.screen }

// Session returns the session the controller acts for.
func (c *Controller[R]) Session() *model.Session { return c.session }

// State returns a snapshot of the current state.
func (c *Controller[R]) State() State[R] {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]R, len(c.items))
	copy(items, c.items)
	pending := make([]model.PendingMutation, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Slot() < pending[j].Slot() })

	return State[R]{
		Query:         c.query.Clone(),
		Items:         items,
		TotalPages:    c.totalPages,
		Loading:       c.loading,
		SearchPending: c.debouncer.Pending(),
		Error:         c.lastErr,
		Pending:       pending,
	}
}

// IsPending reports whether the action site for kind and target is busy.
func (c *Controller[R]) IsPending(kind model.MutationKind, target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.pending[model.PendingMutation{Kind: kind, Target: target}.Slot()]
	return busy
}

// SetSearchText records text immediately and fetches page 1 once typing
// has been quiet for the debounce window.
func (c *Controller[R]) SetSearchText(text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.NewScreenClosedError()
	}
	c.query.SearchText = text
	c.query.Page = 1
	c.mu.Unlock()

	c.debouncer.Trigger(func() {
		_ = c.fetch(c.ctx)
	})
	return nil
}

// SetFilter sets a filter value, or removes it when value is empty, and
// fetches page 1 immediately.
func (c *Controller[R]) SetFilter(ctx context.Context, key, value string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.NewScreenClosedError()
	}
	if c.query.Filters == nil {
		c.query.Filters = make(map[string]string)
	}
	if value == "" {
		delete(c.query.Filters, key)
	} else {
		c.query.Filters[key] = value
	}
	c.query.Page = 1
	c.mu.Unlock()

	c.debouncer.Cancel()
	return c.fetch(ctx)
}

// SetPage moves to page, clamped to the known page range, and fetches it
// with the current search and filters.
func (c *Controller[R]) SetPage(ctx context.Context, page int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.NewScreenClosedError()
	}
	c.query.Page = clampPage(page, c.totalPages)
	c.mu.Unlock()

	c.debouncer.Cancel()
	return c.fetch(ctx)
}

// Refetch re-issues the current query.
func (c *Controller[R]) Refetch(ctx context.Context) error {
	c.debouncer.Cancel()
	return c.fetch(ctx)
}

// fetch lists the current query. Only the most recently issued fetch may
// change the state; earlier ones are dropped when they settle.
func (c *Controller[R]) fetch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.NewScreenClosedError()
	}
	c.seq++
	seq := c.seq
	q := c.query.Clone()
	c.loading = true
	c.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "listctl.fetch",
		observability.AttrScreenID.String(c.screen),
		observability.AttrResource.String(c.resource),
		observability.AttrFetchSeq.Int64(int64(seq)),
		observability.AttrPage.Int(q.Page),
	)
	start := c.now()
	page, err := c.svc.List(ctx, c.session, q)
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		observability.EndSpanWithError(span, nil)
		return model.NewScreenClosedError()
	}
	if seq != c.seq {
		c.mu.Unlock()
		span.SetAttributes(attribute.Bool("backoffice.stale", true))
		observability.EndSpanWithError(span, nil)
		c.recordFetch(OutcomeStale, elapsed)
		c.logger.Debug("dropped stale list response",
			zap.Uint64("seq", seq),
			zap.Int("page", q.Page),
		)
		return nil
	}

	c.loading = false
	if model.IsCanceled(err) {
		c.mu.Unlock()
		observability.EndSpanWithError(span, nil)
		c.recordFetch(OutcomeCanceled, elapsed)
		c.logger.Debug("list fetch canceled", zap.Uint64("seq", seq), zap.Int("page", q.Page))
		return err
	}
	if err != nil {
		env := model.AsEnvelope(err)
		c.lastErr = env
		c.mu.Unlock()

		observability.EndSpanWithError(span, err)
		c.recordFetch(env.Code, elapsed)
		c.logger.Warn("list fetch failed",
			zap.Int("page", q.Page),
			zap.String("code", env.Code),
			zap.Error(err),
		)
		c.notify(model.NotifyError, or(c.messages.LoadFailed, env.Message), env.Code)
		return env
	}

	c.items = page.Items
	c.totalPages = page.TotalPages
	c.lastErr = nil
	clamped := clampPage(c.query.Page, c.totalPages)
	refetch := clamped != c.query.Page
	c.query.Page = clamped
	c.mu.Unlock()

	observability.EndSpanWithError(span, nil)
	c.recordFetch(OutcomeOK, elapsed)

	// The page count shrank under the current page.
	if refetch {
		c.logger.Debug("page out of range, refetching", zap.Int("page", clamped))
		return c.fetch(ctx)
	}
	return nil
}

// Create validates sub, sends it, and on success shows page 1 again.
func (c *Controller[R]) Create(ctx context.Context, sub model.Submission) (model.MutationResult[R], error) {
	if err := c.validate(sub); err != nil {
		return model.MutationResult[R]{}, err
	}
	payload := sub.Payload()
	return c.mutate(ctx, model.MutationCreate, "", payload.Summary(), c.messages.Created, "Created successfully",
		func(ctx context.Context) (model.MutationResult[R], error) {
			return c.svc.Create(ctx, c.session, payload)
		},
		func() {
			c.mu.Lock()
			c.query.Page = 1
			c.mu.Unlock()
		},
	)
}

// Update validates sub and sends it as the new content of id.
func (c *Controller[R]) Update(ctx context.Context, id string, sub model.Submission) (model.MutationResult[R], error) {
	if err := c.validate(sub); err != nil {
		return model.MutationResult[R]{}, err
	}
	if c.updateCheck != nil {
		if err := c.updateCheck(c.current(id), sub); err != nil {
			return model.MutationResult[R]{}, model.AsEnvelope(err)
		}
	}
	payload := sub.Payload()
	return c.mutate(ctx, model.MutationUpdate, id, payload.Summary(), c.messages.Updated, "Updated successfully",
		func(ctx context.Context) (model.MutationResult[R], error) {
			return c.svc.Update(ctx, c.session, id, payload)
		},
		nil,
	)
}

// Delete removes id. When it was the only row on a page after the first,
// the controller steps back one page before refetching.
func (c *Controller[R]) Delete(ctx context.Context, id string) (model.MutationResult[R], error) {
	return c.mutate(ctx, model.MutationDelete, id, model.PayloadSummary{}, c.messages.Deleted, "Deleted successfully",
		func(ctx context.Context) (model.MutationResult[R], error) {
			return c.svc.Delete(ctx, c.session, id)
		},
		func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			remaining := 0
			for _, item := range c.items {
				if item.ResourceID() != id {
					remaining++
				}
			}
			if remaining == 0 && c.query.Page > 1 {
				c.query.Page--
			}
		},
	)
}

// SetStatus moves id to status. extra carries status-specific fields such
// as a rejection reason.
func (c *Controller[R]) SetStatus(ctx context.Context, id, status string, extra map[string]any) (model.MutationResult[R], error) {
	if c.statusCheck != nil {
		checked, err := c.statusCheck(c.current(id), status, extra)
		if err != nil {
			return model.MutationResult[R]{}, model.AsEnvelope(err)
		}
		extra = checked
	}
	fields := maps.Clone(extra)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["status"] = status
	summary := model.Payload{Fields: fields}.Summary()
	return c.mutate(ctx, model.MutationStatus, id, summary, c.messages.StatusChange, "Status updated",
		func(ctx context.Context) (model.MutationResult[R], error) {
			return c.svc.SetStatus(ctx, c.session, id, status, extra)
		},
		nil,
	)
}

// Close cancels a waiting search and any debounced fetch in flight. The
// controller rejects further operations.
func (c *Controller[R]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.debouncer.Stop()
	c.cancel()
}

// Closed reports whether Close has been called.
func (c *Controller[R]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mutate runs one mutation on its action site. beforeRefetch adjusts the
// query after a successful call.
func (c *Controller[R]) mutate(
	ctx context.Context,
	kind model.MutationKind,
	target string,
	summary model.PayloadSummary,
	message, fallback string,
	call func(context.Context) (model.MutationResult[R], error),
	beforeRefetch func(),
) (model.MutationResult[R], error) {
	slot, err := c.reserve(kind, target, summary)
	if err != nil {
		return model.MutationResult[R]{}, err
	}
	defer c.release(slot)

	ctx, span := observability.StartSpan(ctx, "listctl.mutate",
		observability.AttrScreenID.String(c.screen),
		observability.AttrResource.String(c.resource),
		observability.AttrMutationKind.String(string(kind)),
		observability.AttrTargetID.String(target),
	)
	start := c.now()
	res, err := call(ctx)
	elapsed := c.now().Sub(start)
	observability.EndSpanWithError(span, err)

	event := MutationEvent{
		Screen:   c.screen,
		Resource: c.resource,
		Kind:     kind,
		Target:   target,
		Success:  err == nil,
		Duration: elapsed,
	}
	if c.session != nil {
		event.SubjectID = c.session.SubjectID
	}

	if model.IsCanceled(err) {
		event.Code = OutcomeCanceled
		c.recordMutation(kind, OutcomeCanceled, elapsed)
		c.observe(ctx, event)
		c.logger.Info("mutation canceled by caller",
			zap.String("kind", string(kind)),
			zap.String("target", target),
		)
		return model.MutationResult[R]{}, err
	}
	if err != nil {
		env := model.AsEnvelope(err)
		event.Code = env.Code
		c.recordMutation(kind, env.Code, elapsed)
		c.observe(ctx, event)
		c.logger.Warn("mutation failed",
			zap.String("kind", string(kind)),
			zap.String("target", target),
			zap.String("code", env.Code),
			zap.Error(err),
		)
		c.notify(model.NotifyError, env.Message, env.Code)

		// The remote state may have changed under us.
		if shouldResync(err) {
			c.release(slot)
			_ = c.Refetch(ctx)
		}
		return model.MutationResult[R]{}, env
	}

	c.recordMutation(kind, OutcomeOK, elapsed)
	c.observe(ctx, event)
	c.logger.Info("mutation succeeded",
		zap.String("kind", string(kind)),
		zap.String("target", target),
	)
	c.notify(model.NotifySuccess, or(message, or(res.Message, fallback)), "")

	if beforeRefetch != nil {
		beforeRefetch()
	}
	c.release(slot)
	_ = c.Refetch(ctx)
	return res, nil
}

func (c *Controller[R]) validate(sub model.Submission) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return model.NewScreenClosedError()
	}
	if c.validator == nil {
		return nil
	}
	if err := c.validator.Validate(sub); err != nil {
		return model.AsEnvelope(err)
	}
	return nil
}

func (c *Controller[R]) reserve(kind model.MutationKind, target string, summary model.PayloadSummary) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", model.NewScreenClosedError()
	}
	p := model.PendingMutation{Kind: kind, Target: target, Payload: summary, StartedAt: c.now()}
	slot := p.Slot()
	if _, busy := c.pending[slot]; busy {
		return "", model.NewConflictError("This action is already in progress")
	}
	c.pending[slot] = p
	return slot, nil
}

// release frees slot. Releasing an already free slot is a no-op.
func (c *Controller[R]) release(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, slot)
}

func (c *Controller[R]) current(id string) *R {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ResourceID() == id {
			item := c.items[i]
			return &item
		}
	}
	return nil
}

func (c *Controller[R]) notify(level model.NotificationLevel, message, code string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(model.Notification{
		Level:     level,
		Message:   message,
		Screen:    c.screen,
		Code:      code,
		CreatedAt: c.now(),
	})
}

func (c *Controller[R]) observe(ctx context.Context, event MutationEvent) {
	for _, o := range c.observers {
		o.OnMutation(ctx, event)
	}
}

func (c *Controller[R]) recordFetch(outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordFetch(c.screen, outcome, d)
	}
}

func (c *Controller[R]) recordMutation(kind model.MutationKind, outcome string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordMutation(c.screen, string(kind), outcome, d)
	}
}

// shouldResync reports whether a failed mutation may have left the list
// out of date: the target vanished, or the remote side may have applied the
// write before failing.
func shouldResync(err error) bool {
	return model.IsNotFound(err) || model.IsAmbiguous(err)
}

func clampPage(page, totalPages int) int {
	maxPage := totalPages
	if maxPage < 1 {
		maxPage = 1
	}
	switch {
	case page < 1:
		return 1
	case page > maxPage:
		return maxPage
	}
	return page
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
