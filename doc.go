// Package clientchannel implements the client-side RPC dispatch core of a
// gRPC-like client runtime: name resolution, service-config distribution, a
// load-balancing policy tree, a connectivity state machine, and the per-call
// lifecycle that binds the three together.
//
// # Architecture
//
// A [Channel] is created via [NewChannel] with [Option] values configuring
// its target, default service config, logger, tracer, and LB/resolver
// builders. It owns:
//   - a [ConnectivityStateTracker] tracking IDLE/CONNECTING/READY/
//     TRANSIENT_FAILURE/SHUTDOWN and fanning out to watchers,
//   - a resolver wrapper coordinating resolution results onto the
//     control-plane serializer,
//   - a service-config distributor publishing the data-plane triple
//     (service config, config selector, dynamic filter stack),
//   - an LB policy host owning the root load-balancing policy, and
//   - a picker holder and resolver/LB call queues used by in-flight calls
//     while they wait for a routing decision.
//
// RPCs are dispatched via [Channel.NewCall], which drives a per-call state
// machine ([PhaseFreshlyStarted] through [PhaseCompleted]) across resolution, pick,
// and binding to a connected subchannel.
//
// # Concurrency
//
// Three execution domains cooperate: a control-plane serializer (a
// single-threaded cooperative executor, see internal/grpcsync) runs LB and
// resolver callbacks and watcher fan-out; a data-plane LB mutex protects the
// picker pointer and LB-queued calls; a resolution mutex protects the
// data-plane triple and resolver-queued calls. Both mutexes are held only
// briefly and never while invoking collaborator code.
//
// # Errors
//
// Collaborator-facing and call-facing APIs return errors rather than
// panicking on data-dependent failure; invalid [Option] values are returned
// as errors from [NewChannel], and panics are reserved for programmer errors
// such as a subchannel refcount underflow. See internal/chanerrors for the
// status-code remapping rule applied to resolver and LB policy results.
//
// # Observability
//
// Structured logging goes through a [*logiface.Logger] constructed by
// internal/telemetry; channel lifetime tracing goes through
// go.opentelemetry.io/otel/trace, absorbed for free by the no-op tracer when
// none is configured. A bounded channel trace ring (internal/chantrace)
// keeps recent lifecycle events independent of whatever tracer is wired.
//
// # Thread Safety
//
// A [Channel] is safe for concurrent use from multiple goroutines. Multiple
// calls may be in flight simultaneously.
package clientchannel
