package tool

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

const instrumentationName = "github.com/stellarlinkco/capkit/pkg/tool"

// Observer is notified around every request of a batch, including requests
// rejected before dispatch. Implementations must be safe for concurrent use.
type Observer interface {
	OnStart(req Request)
	OnFinish(res Result, elapsed time.Duration)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Start  func(Request)
	Finish func(Result, time.Duration)
}

func (o ObserverFuncs) OnStart(req Request) {
	if o.Start != nil {
		o.Start(req)
	}
}

func (o ObserverFuncs) OnFinish(res Result, elapsed time.Duration) {
	if o.Finish != nil {
		o.Finish(res, elapsed)
	}
}

type options struct {
	logger         zerolog.Logger
	validator      schema.Validator
	maxConcurrency int
	callTimeout    time.Duration
	observers      []Observer
	tracer         trace.Tracer
	sequential     bool
}

func defaultOptions() options {
	return options{
		logger:    zerolog.Nop(),
		validator: schema.DefaultValidator{},
		tracer:    otel.GetTracerProvider().Tracer(instrumentationName),
	}
}

// Option configures a Toolkit or an Executor.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithValidator replaces the payload validator.
func WithValidator(v schema.Validator) Option {
	return func(o *options) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithMaxConcurrency bounds the number of tools running at once in parallel
// mode. Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithCallTimeout gives each invocation its own deadline. Expiry is reported
// like any other failure.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithTracerProvider sets where spans go. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithSequentialDefault makes batches run sequentially unless Parallel is
// passed to Invoke.
func WithSequentialDefault(on bool) Option {
	return func(o *options) { o.sequential = on }
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	name string
	reg  Registration
}

// WithName registers the tool under name instead of Tool.Name.
func WithName(name string) RegisterOption {
	return func(o *registerOptions) { o.name = name }
}

// WithGroup places the tool in an existing group.
func WithGroup(group string) RegisterOption {
	return func(o *registerOptions) { o.reg.Group = group }
}

// WithExtension composes ext onto the tool schema.
func WithExtension(ext schema.Schema) RegisterOption {
	return func(o *registerOptions) { o.reg.Extension = ext }
}

// WithOriginClient records the integration the tool came from.
func WithOriginClient(client string) RegisterOption {
	return func(o *registerOptions) { o.reg.OriginClient = client }
}

// WithPresets injects params into every call. Callers can still override them.
func WithPresets(params map[string]any) RegisterOption {
	return func(o *registerOptions) { o.reg.Presets = params }
}

// WithDefaultContext sets the lowest priority context chain for the tool.
func WithDefaultContext(chain toolctx.Chain) RegisterOption {
	return func(o *registerOptions) { o.reg.Defaults = chain }
}

// InvokeOption configures a single batch.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	session    toolctx.Chain
	sequential *bool
}

// WithContext supplies the session chain, ranked between call values and
// registration defaults.
func WithContext(chain toolctx.Chain) InvokeOption {
	return func(o *invokeOptions) { o.session = chain }
}

// Sequential runs the batch in input order, one call at a time.
func Sequential() InvokeOption {
	return func(o *invokeOptions) {
		on := true
		o.sequential = &on
	}
}

// Parallel runs the batch concurrently.
func Parallel() InvokeOption {
	return func(o *invokeOptions) {
		off := false
		o.sequential = &off
	}
}
