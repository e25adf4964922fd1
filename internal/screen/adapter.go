package screen

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/listctl"
	"github.com/pitabwire/backoffice/internal/resource"
	"github.com/pitabwire/backoffice/model"
)

// Screen is the type-erased view of one mounted list controller.
type Screen interface {
	Snapshot() any
	SetSearchText(text string) error
	SetFilter(ctx context.Context, key, value string) error
	SetPage(ctx context.Context, page int) error
	Refetch(ctx context.Context) error
	Create(ctx context.Context, in Input) (any, error)
	Update(ctx context.Context, id string, in Input) (any, error)
	Delete(ctx context.Context, id string) (any, error)
	SetStatus(ctx context.Context, id, status string, extra map[string]any) (any, error)
	Close()
}

// Decoder turns a raw submission into a typed one.
type Decoder func(in Input) (model.Submission, error)

// Env carries everything an adapter needs to build a screen.
type Env struct {
	Def       model.ScreenDefinition
	Session   *model.Session
	Client    resource.Doer
	PageSize  int
	Debounce  time.Duration
	Validator listctl.SubmissionValidator
	Notifier  listctl.Notifier
	Metrics   listctl.Metrics
	Observers []listctl.MutationObserver
	Logger    *zap.Logger
	Now       func() time.Time
}

// Adapter builds the typed screen for one resource kind.
type Adapter func(env Env) Screen

// Registry maps resource kinds to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds kind to adapter, replacing any previous binding.
func (r *Registry) Register(kind string, adapter Adapter) {
	r.adapters[kind] = adapter
}

// Build creates the screen for env.Def.Resource.
func (r *Registry) Build(env Env) (Screen, error) {
	adapter, ok := r.adapters[env.Def.Resource]
	if !ok {
		return nil, fmt.Errorf("screen: no adapter for resource kind %q", env.Def.Resource)
	}
	return adapter(env), nil
}

// typed adapts a listctl.Controller to Screen.
type typed[R model.Resource] struct {
	ctl    *listctl.Controller[R]
	create Decoder
	update Decoder
}

// build wires a controller for env with the shared options plus extra.
func build[R model.Resource](env Env, create, update Decoder, extra ...listctl.Option[R]) Screen {
	opts := []listctl.Option[R]{
		listctl.WithPageSize[R](env.PageSize),
		listctl.WithDebounce[R](env.Debounce),
		listctl.WithDefaultFilters[R](defaultFilters(env.Def)),
		listctl.WithMessages[R](env.Def.Messages),
		listctl.WithResource[R](env.Def.Resource),
	}
	if env.Validator != nil {
		opts = append(opts, listctl.WithValidator[R](env.Validator))
	}
	if env.Notifier != nil {
		opts = append(opts, listctl.WithNotifier[R](env.Notifier))
	}
	if env.Metrics != nil {
		opts = append(opts, listctl.WithMetrics[R](env.Metrics))
	}
	for _, o := range env.Observers {
		opts = append(opts, listctl.WithObserver[R](o))
	}
	if env.Logger != nil {
		opts = append(opts, listctl.WithLogger[R](env.Logger))
	}
	if env.Now != nil {
		opts = append(opts, listctl.WithClock[R](env.Now))
	}
	opts = append(opts, extra...)

	svc := resource.NewHTTPService[R](env.Client, env.Def)
	return &typed[R]{
		ctl:    listctl.New[R](env.Def.ID, svc, env.Session, opts...),
		create: create,
		update: update,
	}
}

func defaultFilters(def model.ScreenDefinition) map[string]string {
	filters := make(map[string]string)
	for _, f := range def.Filters {
		if f.Default != "" {
			filters[f.Field] = f.Default
		}
	}
	return filters
}

func (t *typed[R]) Snapshot() any { return t.ctl.State() }

func (t *typed[R]) SetSearchText(text string) error { return t.ctl.SetSearchText(text) }

func (t *typed[R]) SetFilter(ctx context.Context, key, value string) error {
	return t.ctl.SetFilter(ctx, key, value)
}

func (t *typed[R]) SetPage(ctx context.Context, page int) error { return t.ctl.SetPage(ctx, page) }

func (t *typed[R]) Refetch(ctx context.Context) error { return t.ctl.Refetch(ctx) }

func (t *typed[R]) Create(ctx context.Context, in Input) (any, error) {
	if t.create == nil {
		return nil, model.NewBadRequestError("Create is not supported on this screen")
	}
	sub, err := t.create(in)
	if err != nil {
		return nil, err
	}
	return t.ctl.Create(ctx, sub)
}

func (t *typed[R]) Update(ctx context.Context, id string, in Input) (any, error) {
	if t.update == nil {
		return nil, model.NewBadRequestError("Update is not supported on this screen")
	}
	sub, err := t.update(in)
	if err != nil {
		return nil, err
	}
	return t.ctl.Update(ctx, id, sub)
}

func (t *typed[R]) Delete(ctx context.Context, id string) (any, error) {
	return t.ctl.Delete(ctx, id)
}

func (t *typed[R]) SetStatus(ctx context.Context, id, status string, extra map[string]any) (any, error) {
	return t.ctl.SetStatus(ctx, id, status, extra)
}

func (t *typed[R]) Close() { t.ctl.Close() }

// DefaultRegistry returns the adapters for every back-office resource kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.KindCategory, categoryAdapter)
	r.Register(model.KindService, serviceAdapter)
	r.Register(model.KindUser, userAdapter)
	r.Register(model.KindBooking, bookingAdapter)
	r.Register(model.KindSchedule, scheduleAdapter)
	return r
}

func categoryAdapter(env Env) Screen {
	create := func(in Input) (model.Submission, error) {
		var sub model.CategoryInput
		if err := decodeInto(in, &sub); err != nil {
			return nil, err
		}
		sub.Image = in.File("image")
		return sub, nil
	}
	update := func(in Input) (model.Submission, error) {
		var sub model.CategoryUpdate
		if err := decodeInto(in, &sub); err != nil {
			return nil, err
		}
		sub.Image = in.File("image")
		return sub, nil
	}
	return build[model.Category](env, create, update)
}

func serviceAdapter(env Env) Screen {
	decode := func(in Input) (model.Submission, error) {
		var sub model.ServiceInput
		if err := decodeInto(in, &sub); err != nil {
			return nil, err
		}
		sub.Images = in.FilesFor("images")
		return sub, nil
	}
	return build[model.Service](env, decode, decode)
}

func userAdapter(env Env) Screen {
	decode := func(creating bool) Decoder {
		return func(in Input) (model.Submission, error) {
			var sub model.UserInput
			if err := decodeInto(in, &sub); err != nil {
				return nil, err
			}
			sub.Creating = creating
			return sub, nil
		}
	}
	return build[model.User](env, decode(true), decode(false))
}

func bookingAdapter(env Env) Screen {
	now := env.Now
	if now == nil {
		now = time.Now
	}
	reassign := func(in Input) (model.Submission, error) {
		var sub model.BookingStaffInput
		if err := decodeInto(in, &sub); err != nil {
			return nil, err
		}
		return sub, nil
	}
	return build[model.Booking](env, nil, reassign,
		listctl.WithStatusCheck[model.Booking](func(current *model.Booking, status string, extra map[string]any) (map[string]any, error) {
			return model.CheckBookingStatus(current, status, extra, now())
		}),
		listctl.WithUpdateCheck[model.Booking](func(current *model.Booking, _ model.Submission) error {
			return model.CheckBookingReassign(current)
		}),
	)
}

func scheduleAdapter(env Env) Screen {
	update := func(in Input) (model.Submission, error) {
		var sub model.ScheduleInput
		if err := decodeInto(in, &sub); err != nil {
			return nil, err
		}
		return sub, nil
	}
	return build[model.WorkSchedule](env, nil, update)
}
