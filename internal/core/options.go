package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"meshcore/pkg/resource"
)

// MetricsRecorder receives request outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	Deduplicated(operation string)
}

// TraceSpan is a started trace operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around transport calls.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// Hooks are per-entity-type extension points. Sets performed from inside a
// hook are folded into the enclosing change notification.
type Hooks struct {
	// Init runs once after construction and registration. Other goroutines
	// cannot reach the model through the manager until Init returns, so Init
	// must not look its own model up by identity.
	Init func(m *Model)
	// Changed runs after a top-level set modified at least one attribute.
	Changed func(m *Model, changed []string)
}

type options struct {
	logger  *zap.Logger
	metrics MetricsRecorder
	tracer  Tracer
	loader  Loader
	hooks   Hooks
	newCID  func() string
}

// Option configures a Manager or a standalone Request.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithTracer(t Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLoader replaces the collection loader. The default issues the
// resource's query request.
func WithLoader(l Loader) Option {
	return func(o *options) { o.loader = l }
}

func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithIdentityGenerator overrides how temporary identities are minted.
func WithIdentityGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newCID = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		metrics: NopMetrics{},
		tracer:  nopTracer{},
		newCID:  newCID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) Observe(context.Context, string, bool, time.Duration) {}

func (NopMetrics) Deduplicated(string) {}

type nopTracer struct{}

type nopSpan struct{}

func (nopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, nopSpan{}
}

func (nopSpan) End(error) {}

func invariant(op, format string, args ...any) *resource.Error {
	return &resource.Error{Kind: resource.KindInvariant, Op: op, Message: fmt.Sprintf(format, args...)}
}
