package clientchannel

import (
	"errors"
	"log/slog"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-clientchannel/internal/chantrace"
	"github.com/joeycumines/go-clientchannel/internal/configselector"
	"github.com/joeycumines/go-clientchannel/internal/telemetry"
	"github.com/joeycumines/go-clientchannel/internal/transport"
	"github.com/joeycumines/logiface"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/resolver"
)

// SubchannelFactory constructs the internal transport.Subchannel for one
// address.
type SubchannelFactory func(addr resolver.Address) transport.Subchannel

// ResolverBuilder constructs a resolver for a given target, reporting
// results to handler. It mirrors the shape of a real resolver
// registry entry, generalized from one concrete scheme to a pluggable
// builder the channel is configured with via [WithResolverBuilder].
type ResolverBuilder interface {
	Build(target string, handler ResolverResultHandler) (Resolver, error)
}

// LBPolicyBuilder constructs one named LB policy.
type LBPolicyBuilder interface {
	Name() string
	Build(helper ControlHelperFacade) LBPolicy
}

// channelOptions holds configuration for a [Channel] instance.
type channelOptions struct {
	target               string
	defaultAuthority      string
	defaultServiceConfig  string
	logger                *logiface.Logger[*telemetry.Event]
	tracerProvider        trace.TracerProvider
	meterProvider         metric.MeterProvider
	reResolutionLimiter   *catrate.Limiter
	traceRingSize         int
	resolverBuilder       ResolverBuilder
	lbPolicyBuilders      map[string]LBPolicyBuilder
	minimalStack          bool
	defaultSelectorFilter []configselector.Filter
	subchannelFactory     SubchannelFactory
	subchannelPool        string
}

// Option configures a [Channel] instance. Options are applied during
// channel construction via the closure-option pattern.
type Option interface {
	applyOption(*channelOptions) error
}

// channelOptionImpl implements [Option] via a closure.
type channelOptionImpl struct {
	fn func(*channelOptions) error
}

func (o *channelOptionImpl) applyOption(opts *channelOptions) error {
	return o.fn(opts)
}

// WithTarget sets the name-resolution target URI. Required.
func WithTarget(target string) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if target == "" {
			return errors.New("clientchannel: target must not be empty")
		}
		opts.target = target
		return nil
	}}
}

// WithDefaultAuthority overrides the `:authority` pseudo-header derived from
// the target, used when a resolver does not supply one.
func WithDefaultAuthority(authority string) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.defaultAuthority = authority
		return nil
	}}
}

// WithDefaultServiceConfig sets the JSON service config applied when a
// resolver reports "ok and null".
func WithDefaultServiceConfig(json string) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.defaultServiceConfig = json
		return nil
	}}
}

// WithLogger configures the structured logger used for the channel's
// Debug/Info trace points. If not set, logging is disabled (see
// internal/telemetry.Disabled).
func WithLogger(l *logiface.Logger[*telemetry.Event]) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithSlogHandler is a convenience wrapper over WithLogger that builds a
// default logger rendering through h at floor level.
func WithSlogHandler(h slog.Handler, level logiface.Level) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.logger = telemetry.NewLogger(h, level)
		return nil
	}}
}

// WithTracerProvider configures the otel TracerProvider backing
// AddTraceEvent. If not set, otel.GetTracerProvider()'s no-op tracer absorbs
// trace events for free.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if tp == nil {
			return errors.New("clientchannel: tracer provider must not be nil")
		}
		opts.tracerProvider = tp
		return nil
	}}
}

// WithMeterProvider configures the otel MeterProvider backing the channel's
// call-volume and connectivity-state instruments. If not set,
// otel.GetMeterProvider()'s no-op meter absorbs the recordings for free.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if mp == nil {
			return errors.New("clientchannel: meter provider must not be nil")
		}
		opts.meterProvider = mp
		return nil
	}}
}

// WithReResolutionLimiter throttles RequestReresolution calls using a
// sliding-window rate limiter (go-catrate). If not set, re-resolution
// requests are never throttled.
func WithReResolutionLimiter(l *catrate.Limiter) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.reResolutionLimiter = l
		return nil
	}}
}

// WithTraceRingSize overrides the channel trace ring's capacity. The default
// is internal/chantrace.DefaultSize.
func WithTraceRingSize(size int) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if size <= 0 {
			return errors.New("clientchannel: trace ring size must be positive")
		}
		opts.traceRingSize = size
		return nil
	}}
}

// WithResolverBuilder configures the resolver builder used to create the
// name resolver on first connect. Required.
func WithResolverBuilder(b ResolverBuilder) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if b == nil {
			return errors.New("clientchannel: resolver builder must not be nil")
		}
		opts.resolverBuilder = b
		return nil
	}}
}

// WithLBPolicyBuilders registers the set of LB policies the channel may
// instantiate by name. pick_first must always be among them; NewChannel
// validates this synchronously.
func WithLBPolicyBuilders(builders ...LBPolicyBuilder) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if opts.lbPolicyBuilders == nil {
			opts.lbPolicyBuilders = make(map[string]LBPolicyBuilder, len(builders))
		}
		for _, b := range builders {
			if b == nil || b.Name() == "" {
				return errors.New("clientchannel: LB policy builder must be non-nil and named")
			}
			opts.lbPolicyBuilders[b.Name()] = b
		}
		return nil
	}}
}

// WithMinimalStack disables the retry filter, installing a dynamic
// termination filter in its place.
func WithMinimalStack() Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.minimalStack = true
		return nil
	}}
}

// WithDefaultSelectorFilters sets the dynamic filters applied when no
// resolver-supplied config selector overrides them (defaultConfigSelector
// fallback derivation).
func WithDefaultSelectorFilters(filters ...configselector.Filter) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.defaultSelectorFilter = filters
		return nil
	}}
}

// WithSubchannelFactory configures how the channel builds the internal
// transport.Subchannel for each address an LB policy asks to connect to.
// Required.
func WithSubchannelFactory(f SubchannelFactory) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		if f == nil {
			return errors.New("clientchannel: subchannel factory must not be nil")
		}
		opts.subchannelFactory = f
		return nil
	}}
}

// WithSubchannelPool selects the named subchannel pool (global vs local)
// folded into each subchannel's key. The default pool is "".
func WithSubchannelPool(name string) Option {
	return &channelOptionImpl{fn: func(opts *channelOptions) error {
		opts.subchannelPool = name
		return nil
	}}
}

// resolveOptions applies the given options to a default [channelOptions]
// with a synchronous validation contract: invalid combinations surface as
// an error here, returned by NewChannel rather than discovered later.
func resolveOptions(opts []Option) (*channelOptions, error) {
	cfg := &channelOptions{
		traceRingSize: chantrace.DefaultSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.target == "" {
		return nil, errors.New("clientchannel: target must be provided via WithTarget")
	}
	if cfg.resolverBuilder == nil {
		return nil, errors.New("clientchannel: resolver builder must be provided via WithResolverBuilder")
	}
	if len(cfg.lbPolicyBuilders) == 0 {
		return nil, errors.New("clientchannel: at least one LB policy builder must be provided via WithLBPolicyBuilders")
	}
	if _, ok := cfg.lbPolicyBuilders["pick_first"]; !ok {
		return nil, errors.New("clientchannel: a \"pick_first\" LB policy builder is required as the default fallback")
	}
	if cfg.subchannelFactory == nil {
		return nil, errors.New("clientchannel: subchannel factory must be provided via WithSubchannelFactory")
	}
	if cfg.logger == nil {
		cfg.logger = telemetry.Disabled()
	}
	return cfg, nil
}
