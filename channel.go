package clientchannel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-clientchannel/internal/chanerrors"
	"github.com/joeycumines/go-clientchannel/internal/chantrace"
	"github.com/joeycumines/go-clientchannel/internal/dynamicfilters"
	"github.com/joeycumines/go-clientchannel/internal/grpcsync"
	"github.com/joeycumines/go-clientchannel/internal/statsgroup"
	"github.com/joeycumines/go-clientchannel/internal/telemetry"
	"github.com/joeycumines/logiface"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"
)

// ErrChannelShuttingDown is returned by CreateSubchannel and similar
// control-plane operations once the channel has started shutting down.
var ErrChannelShuttingDown = status.Error(codes.Unavailable, "clientchannel: channel is shutting down")

// Channel is the per-channel object holding the resolver, LB policy tree,
// service config, config selector, connectivity-state tracker, and the two
// queues of blocked calls. It is the client channel's central dispatch
// point.
type Channel struct {
	opts *channelOptions

	serializer    *grpcsync.CallbackSerializer
	stateTracker  *ConnectivityStateTracker
	watchers      *externalWatcherRegistry
	controlHelper *controlHelper
	lbPolicyHost  *LbPolicyHost
	picker        *pickerHolder
	wrappers      *wrapperRegistry
	statsGroup    *statsgroup.Group
	logger        *logiface.Logger[*telemetry.Event]
	trace         *chantrace.Ring
	tracer        trace.Tracer
	meter         metric.Meter

	callsStarted     metric.Int64Counter
	callsCompleted   metric.Int64Counter
	stateTransitions metric.Int64Counter

	// Control-plane-serializer-confined fields: only
	// ever read or written from work scheduled on serializer.
	resolver             Resolver
	resolverGeneration   uint64
	savedServiceConfig   *ServiceConfig
	savedConfigSelector  configSelectorHolder
	defaultServiceConfig *ServiceConfig
	lifetimeSpan         trace.Span

	// resMu protects the data-plane triple, resolver-transient-failure
	// error, and resolver-queued calls.
	resMu                       sync.Mutex
	dataPlaneServiceConfig      *ServiceConfig
	dataPlaneConfigSelector     configSelectorHolder
	dataPlaneFilters            *dynamicfilters.DynamicFilters
	resolverTransientFailureErr error
	resolverQueue               map[*CallCore]struct{}

	keepaliveNanos int64 // atomic

	disconnectMu  sync.Mutex
	disconnectErr error
	shutdown      atomic.Bool
}

// NewChannel constructs a Channel, validating opts synchronously. Resolver
// creation is deferred until the first call or an explicit Connect.
func NewChannel(opts ...Option) (*Channel, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		opts:                 cfg,
		stateTracker:         NewConnectivityStateTracker(),
		wrappers:             newWrapperRegistry(),
		logger:               cfg.logger,
		trace:                chantrace.New(cfg.traceRingSize),
		resolverQueue:        make(map[*CallCore]struct{}),
		defaultServiceConfig: parseDefaultServiceConfig(cfg.defaultServiceConfig),
	}
	c.serializer = grpcsync.NewCallbackSerializer(backgroundContext())
	c.watchers = newExternalWatcherRegistry(c)
	c.controlHelper = newControlHelper(c)
	c.lbPolicyHost = newLbPolicyHost(c, cfg.lbPolicyBuilders)
	c.picker = newPickerHolder()
	c.statsGroup = statsgroup.New()

	tp := cfg.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer("github.com/joeycumines/go-clientchannel")

	mp := cfg.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	c.meter = mp.Meter("github.com/joeycumines/go-clientchannel")
	c.callsStarted, _ = c.meter.Int64Counter("clientchannel.calls_started",
		metric.WithDescription("Calls started via Channel.NewCall."))
	c.callsCompleted, _ = c.meter.Int64Counter("clientchannel.calls_completed",
		metric.WithDescription("Calls completed, labeled by outcome."))
	c.stateTransitions, _ = c.meter.Int64Counter("clientchannel.state_transitions",
		metric.WithDescription("Connectivity-state transitions, labeled by the new state."))

	return c, nil
}

// now is the channel's time source, isolated behind a method so a future
// caller could substitute it without touching every call site.
func (c *Channel) now() time.Time { return time.Now() }

// isShutdown reports whether the channel has recorded a shutdown-intent
// disconnect.
func (c *Channel) isShutdown() bool { return c.shutdown.Load() }

// DefaultAuthority returns the channel's default authority.
func (c *Channel) DefaultAuthority() string { return c.controlHelper.DefaultAuthority() }

// Target returns the channel's target URI.
func (c *Channel) Target() string { return c.controlHelper.Target() }

// Trace returns a snapshot of recent channel trace events, independent of
// whatever TracerProvider is configured.
func (c *Channel) Trace() []chantrace.Event { return c.trace.Snapshot() }

// GetChannelInfo returns {lb_policy_name, service_config_json}, read under
// the resolution mutex from the currently published data-plane service
// config: its Raw and its LBPolicyName field. The name is the one the config
// requests, not the name of the policy actually installed (which is
// pick_first when the requested name has no builder), and both are empty
// while no service config is published.
func (c *Channel) GetChannelInfo() (lbPolicyName, serviceConfigJSON string) {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	if c.dataPlaneServiceConfig != nil {
		serviceConfigJSON = c.dataPlaneServiceConfig.Raw
		lbPolicyName = c.dataPlaneServiceConfig.LBPolicyName
	}
	return lbPolicyName, serviceConfigJSON
}

// registerSubchannelWrapper adds w to the channel-wide wrapper set.
func (c *Channel) registerSubchannelWrapper(w *SubchannelWrapper) {
	c.wrappers.add(w)
}

// unregisterSubchannelWrapper removes w from the channel-wide wrapper set.
func (c *Channel) unregisterSubchannelWrapper(w *SubchannelWrapper) {
	c.wrappers.remove(w)
}

// throttleKeepalive propagates a keepalive-throttle hint: if valueNanos
// exceeds the channel's current keepalive-time,
// update it and call ThrottleKeepaliveTime on every live wrapper.
func (c *Channel) throttleKeepalive(valueNanos int64) {
	for {
		cur := atomic.LoadInt64(&c.keepaliveNanos)
		if valueNanos <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&c.keepaliveNanos, cur, valueNanos) {
			break
		}
	}
	for _, w := range c.wrappers.all() {
		w.ThrottleKeepaliveTime(valueNanos)
	}
}

// KeepaliveNanos returns the channel's current keepalive-time hint.
func (c *Channel) KeepaliveNanos() int64 { return atomic.LoadInt64(&c.keepaliveNanos) }

// updatePickerAndState drives the connectivity state tracker, then swaps
// the picker and wakes every call
// that was queued under the old one — asynchronously, never synchronously
// under the LB mutex.
//
// Must run on the control-plane serializer.
func (c *Channel) updatePickerAndState(state connectivity.State, status error, picker Picker) {
	c.stateTracker.SetState(state, status)
	c.stateTransitions.Add(backgroundContext(), 1, metric.WithAttributes(attribute.String("state", state.String())))
	woken := c.picker.swap(picker)
	for _, call := range woken {
		call.wakeFromLBQueueAsync()
	}
}

// addTraceEvent appends to the channel trace ring and, if tracing is
// configured, the channel-lifetime span.
func (c *Channel) addTraceEvent(severity chantrace.Severity, message string) {
	c.trace.Add(severity, message, c.now())
	if c.lifetimeSpan != nil {
		c.lifetimeSpan.AddEvent(message, trace.WithAttributes(traceSeverityAttr(severity)))
	}
}

// parseDefaultServiceConfig is a minimal placeholder: service-config JSON
// parsing is out of scope for this core; callers that need
// real JSON semantics supply an already-parsed ServiceConfig via a
// resolver result instead. A non-empty raw string here only sets Raw, so
// byte-identical-comparison change detection still works for
// defaults supplied as opaque JSON.
func parseDefaultServiceConfig(raw string) *ServiceConfig {
	if raw == "" {
		return nil
	}
	return &ServiceConfig{Raw: raw}
}

// Remap is re-exported for collaborators that need the illegal-status
// rewrite rule outside CallCore itself.
var Remap = chanerrors.Remap
