package clientchannel

import (
	"context"

	"github.com/joeycumines/go-clientchannel/internal/chantrace"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/connectivity"
)

// backgroundContext is the root context the control-plane serializer runs
// under; split into its own function so Channel's zero-arg construction
// path doesn't need a context parameter threaded through every option.
func backgroundContext() context.Context { return context.Background() }

// traceSeverityAttr renders a chantrace.Severity as a span attribute.
func traceSeverityAttr(s chantrace.Severity) attribute.KeyValue {
	return attribute.String("severity", s.String())
}

// DisconnectIntent selects the target state of a disconnect op.
type DisconnectIntent int

const (
	// DisconnectToIdle tears down the resolver and LB policy, returning the
	// channel to IDLE with a queueing picker so calls issued while idle wait
	// for the next resolver rather than failing or panicking.
	DisconnectToIdle DisconnectIntent = iota
	// DisconnectToShutdown tears down the resolver and LB policy
	// permanently, recording the disconnect error and installing a picker
	// that fails every pick.
	DisconnectToShutdown
)

// Connect creates the resolver if the channel is IDLE and not already
// disconnected, transitioning to CONNECTING. It is a no-op otherwise.
func (c *Channel) Connect() {
	c.serializer.Schedule(func(context.Context) {
		c.connectLocked()
	})
}

// connectLocked implements the resolver-creation half of a connect op.
//
// Must run on the control-plane serializer.
func (c *Channel) connectLocked() {
	if c.isShutdown() || c.resolver != nil {
		return
	}
	state, _ := c.stateTracker.State()
	if state != connectivity.Idle {
		return
	}

	if c.lifetimeSpan == nil {
		_, span := c.tracer.Start(backgroundContext(), "clientchannel.Channel")
		c.lifetimeSpan = span
	}

	c.resolverGeneration++
	handler := &resolverResultHandler{channel: c, generation: c.resolverGeneration}
	resolver, err := c.opts.resolverBuilder.Build(c.opts.target, handler)
	if err != nil {
		// Target was pre-validated at construction; a build-time failure here
		// is treated the same as a resolver-reported error so callers get
		// a uniform failure mode instead of a panic.
		c.enterResolverTransientFailure(Remap(err))
		return
	}
	c.resolver = resolver
	c.stateTracker.SetState(connectivity.Connecting, nil)
	c.addTraceEvent(chantrace.SeverityInfo, "resolver created, connecting")
	c.resolver.Start()
}

// Disconnect tears down the resolver and LB policy per intent.
func (c *Channel) Disconnect(intent DisconnectIntent, err error) {
	c.serializer.Schedule(func(context.Context) {
		c.disconnectLocked(intent, err)
	})
}

// disconnectLocked implements the disconnect rules for both intents.
//
// Must run on the control-plane serializer.
func (c *Channel) disconnectLocked(intent DisconnectIntent, err error) {
	switch intent {
	case DisconnectToShutdown:
		if c.isShutdown() {
			return // subsequent disconnects are ignored
		}
		c.disconnectMu.Lock()
		c.disconnectErr = &ShutdownError{Cause: err}
		shutdownErr := NewShutdownStatus(c.disconnectErr.(*ShutdownError))
		c.disconnectMu.Unlock()
		c.shutdown.Store(true)

		c.tearDown()
		c.stateTracker.SetState(connectivity.Shutdown, shutdownErr)
		c.failAllQueued(shutdownErr)
		c.addTraceEvent(chantrace.SeverityInfo, "channel shutdown")
		if c.lifetimeSpan != nil {
			c.lifetimeSpan.End()
		}

	case DisconnectToIdle:
		if c.isShutdown() {
			return
		}
		c.tearDown()
		c.stateTracker.SetState(connectivity.Idle, nil)
		woken := c.picker.swap(queueAllPicker{})
		for _, call := range woken {
			call.wakeFromLBQueueAsync()
		}
		c.addTraceEvent(chantrace.SeverityInfo, "channel disconnected to idle")
	}
}

// tearDown destroys the resolver and LB policy and clears every piece of
// state they produced — the saved service config and selector, the
// published data-plane triple, and any outstanding resolver-transient-
// failure — releasing the held DynamicFilters reference in the process.
// Used by both disconnect intents; a no-op if no resolver was ever created.
//
// Must run on the control-plane serializer.
func (c *Channel) tearDown() {
	if c.resolver == nil {
		return
	}
	c.resolver.Shutdown()
	c.resolver = nil
	c.savedServiceConfig = nil
	c.savedConfigSelector = nil

	c.resMu.Lock()
	oldFilters := c.dataPlaneFilters
	c.dataPlaneServiceConfig = nil
	c.dataPlaneConfigSelector = nil
	c.dataPlaneFilters = nil
	c.resolverTransientFailureErr = nil
	c.resMu.Unlock()
	if oldFilters != nil {
		oldFilters.Release()
	}

	c.lbPolicyHost.close()
}

// failAllQueued drains both the resolver- and LB-queued-calls sets,
// failing every call with err.
func (c *Channel) failAllQueued(err error) {
	c.resMu.Lock()
	resQueued := c.drainResolverQueueLocked()
	c.resMu.Unlock()
	for _, call := range resQueued {
		call.failFromResolverQueue(err)
	}

	lbQueued := c.picker.swap(failAllPicker{err: err})
	for _, call := range lbQueued {
		call.failFromLBQueue(err)
	}
}

// Destroy releases all references. The channel must already be SHUTDOWN or
// IDLE.
func (c *Channel) Destroy() error {
	state, _ := c.stateTracker.State()
	if state != connectivity.Shutdown && state != connectivity.Idle {
		return errChannelNotQuiescent
	}
	c.serializer.Close()
	<-c.serializer.Done()
	return nil
}

// Ping performs a single pick and issues the ping on the resulting
// connected subchannel; legal only in READY.
func (c *Channel) Ping(ctx context.Context) error {
	state, _ := c.stateTracker.State()
	if state != connectivity.Ready {
		return errPingNotReady
	}
	picker := c.picker.current()
	result := picker.Pick(PickArgs{})
	switch result.Kind {
	case PickComplete:
		if cs := result.Subchannel.ConnectedSubchannel(); cs != nil {
			return cs.Ping(ctx)
		}
		return errPingNotReady
	default:
		return errPingFailed
	}
}
