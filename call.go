package clientchannel

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-clientchannel/internal/chanerrors"
	"github.com/joeycumines/go-clientchannel/internal/configselector"
	"github.com/joeycumines/go-clientchannel/internal/dynamicfilters"
	"github.com/joeycumines/go-clientchannel/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// CallPhase is one state in the CallCore state machine.
// Transitions are forward-only.
type CallPhase int

const (
	PhaseFreshlyStarted CallPhase = iota
	PhaseAwaitingResolution
	PhaseAwaitingPick
	PhaseBound
	PhaseCompleted
)

func (p CallPhase) String() string {
	switch p {
	case PhaseAwaitingResolution:
		return "AwaitingResolution"
	case PhaseAwaitingPick:
		return "AwaitingPick"
	case PhaseBound:
		return "Bound"
	case PhaseCompleted:
		return "Completed"
	default:
		return "FreshlyStarted"
	}
}

// CallOptions carries the per-call, immutable inputs: path, deadline, and
// the initial metadata a ConfigSelector inspects.
type CallOptions struct {
	Method          string
	Deadline        time.Time
	WaitForReady    bool
	InitialMetadata metadata.MD
}

// Invoker is the application-supplied function a CallCore hands off to
// once a connected subchannel has been selected.
type Invoker func(ctx context.Context, cs transport.ConnectedSubchannel) error

// CallCore is the per-call state machine: apply service config, queue for
// resolution, queue for LB pick, bind a connected subchannel, and run the
// dynamic call.
type CallCore struct {
	channel  *Channel
	opts     CallOptions
	invoke   Invoker
	combiner *callCombiner

	mu                sync.Mutex
	phase             CallPhase
	cancelErr         error
	configSelector    configSelectorHolder
	filters           *dynamicfilters.DynamicFilters
	callConfig        *configselector.CallConfig
	subchannel        *SubchannelWrapper
	callTracker       SubchannelCallTracker
	authorityOverride string

	done   chan struct{}
	result error
}

// NewCall starts a call's state machine. invoke is
// run once the call has bound a connected subchannel.
func (c *Channel) NewCall(opts CallOptions, invoke Invoker) *CallCore {
	call := &CallCore{
		channel:  c,
		opts:     opts,
		invoke:   invoke,
		combiner: &callCombiner{},
		done:     make(chan struct{}),
	}

	if !opts.Deadline.IsZero() && !opts.Deadline.After(c.now()) {
		// A call whose deadline is already in the past fails with
		// DEADLINE_EXCEEDED without creating a dynamic call.
		call.phase = PhaseCompleted
		call.result = status.Error(codes.DeadlineExceeded, "clientchannel: deadline already expired")
		close(call.done)
		return call
	}

	if c.isShutdown() {
		call.failImmediately(c.shutdownError())
		return call
	}

	// First call on an IDLE channel (or one returned to IDLE by a prior
	// disconnect) creates the resolver; a no-op if already connecting,
	// connected, or mid-shutdown.
	c.Connect()
	c.callsStarted.Add(context.Background(), 1)

	call.phase = PhaseAwaitingResolution
	call.combiner.Execute(func() { call.enterAwaitingResolution() })
	return call
}

// Wait blocks until the call completes or ctx is done, returning the call's
// terminal error (nil on success).
func (c *CallCore) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Phase returns the call's current phase, for diagnostics and tests.
func (c *CallCore) Phase() CallPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Cancel latches a terminal cancellation error, promptly failing all
// pending and queued work. Idempotent.
func (c *CallCore) Cancel(err error) {
	if err == nil {
		err = context.Canceled
	}
	c.mu.Lock()
	if c.cancelErr != nil {
		c.mu.Unlock()
		return
	}
	c.cancelErr = err
	c.mu.Unlock()

	c.combiner.Execute(func() {
		c.channel.removeFromResolverQueue(c)
		c.channel.picker.remove(c)
		c.fail(err)
	})
}

func (c *Channel) shutdownError() error {
	c.disconnectMu.Lock()
	defer c.disconnectMu.Unlock()
	if c.disconnectErr != nil {
		return c.disconnectErr
	}
	return ErrChannelShuttingDown
}

// failImmediately completes the call outside the combiner, used only from
// NewCall before the combiner has any other work queued.
func (c *CallCore) failImmediately(err error) {
	c.mu.Lock()
	c.phase = PhaseCompleted
	c.result = err
	c.mu.Unlock()
	close(c.done)
}

// fail completes the call with err, releasing references. Must run on the call combiner.
func (c *CallCore) fail(err error) {
	c.mu.Lock()
	if c.phase == PhaseCompleted {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseCompleted
	c.result = err
	filters := c.filters
	c.filters = nil
	c.mu.Unlock()

	if filters != nil {
		filters.Release()
	}
	c.channel.statsGroup.End(context.Background(), err)
	c.channel.callsCompleted.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("ok", err == nil)))
	close(c.done)
}

// enterAwaitingResolution implements the AwaitingResolution state. Must
// run on the call combiner.
func (c *CallCore) enterAwaitingResolution() {
	c.mu.Lock()
	if c.cancelErr != nil {
		c.mu.Unlock()
		c.fail(c.cancelErr)
		return
	}
	c.mu.Unlock()

	cfg, sel, filters, resolverErr, ok := c.channel.snapshotDataPlane()
	if ok {
		c.bindResolution(cfg, sel, filters)
		return
	}
	if resolverErr != nil && !c.opts.WaitForReady {
		c.fail(chanerrors.Remap(resolverErr))
		return
	}

	c.channel.resMu.Lock()
	c.channel.addToResolverQueueLocked(c)
	c.channel.resMu.Unlock()
}

// wakeFromResolverQueue is called (off the combiner, by whatever goroutine
// drained the resolver queue) when a new data-plane triple is published or
// a resolver transient failure is recorded. It re-enters the combiner
// asynchronously, avoiding a synchronous call into collaborator code
// while holding a channel mutex.
func (c *CallCore) wakeFromResolverQueue() {
	go c.combiner.Execute(func() { c.enterAwaitingResolution() })
}

// failFromResolverQueue fails a call that was resolver-queued when the
// channel shuts down.
func (c *CallCore) failFromResolverQueue(err error) {
	go c.combiner.Execute(func() { c.fail(err) })
}

// bindResolution captures the config selector and dynamic filters snapshot
// and transitions to AwaitingPick. Must run on the call
// combiner.
func (c *CallCore) bindResolution(cfg *ServiceConfig, sel configSelectorHolder, filters *dynamicfilters.DynamicFilters) {
	filters.Retain()
	c.mu.Lock()
	c.phase = PhaseAwaitingPick
	c.configSelector = sel
	c.filters = filters
	c.mu.Unlock()

	var callConfig *configselector.CallConfig
	var err error
	if sel != nil {
		callConfig, err = sel.GetCallConfig(configselector.CallConfigArgs{
			Method:          c.opts.Method,
			InitialMetadata: c.opts.InitialMetadata,
		})
	} else {
		callConfig = &configselector.CallConfig{}
	}
	if err != nil {
		c.fail(err)
		return
	}
	c.mu.Lock()
	c.callConfig = callConfig
	c.mu.Unlock()

	c.pickLoop()
}

// pickLoop implements the pick-subchannel loop. Must run on the call
// combiner.
func (c *CallCore) pickLoop() {
	c.mu.Lock()
	if c.cancelErr != nil {
		c.mu.Unlock()
		c.fail(c.cancelErr)
		return
	}
	c.mu.Unlock()

	for {
		picker := c.channel.picker.current()
		result := picker.Pick(PickArgs{Method: c.opts.Method, InitialMetadata: c.opts.InitialMetadata})

		switch result.Kind {
		case PickComplete:
			if result.Subchannel == nil || result.Subchannel.ConnectedSubchannel() == nil {
				// Race with a state downgrade: treat as queue.
				if c.tryQueue(picker) {
					return
				}
				continue
			}
			c.commitPick(result)
			return

		case PickQueue:
			if c.tryQueue(picker) {
				return
			}
			continue

		case PickFail:
			if c.opts.WaitForReady {
				if c.tryQueue(picker) {
					return
				}
				continue
			}
			c.fail(chanerrors.Remap(result.Status))
			return

		case PickDrop:
			// Drop is always terminal, regardless of wait_for_ready.
			c.fail(&chanerrors.Drop{Status: result.Status})
			return
		}
	}
}

// tryQueue attempts to enqueue the call onto the LB-queued-calls set,
// provided seen is still the current picker. Must run on
// the call combiner.
func (c *CallCore) tryQueue(seen Picker) bool {
	queued, _ := c.channel.picker.enqueue(c, seen)
	return queued
}

// wakeFromLBQueueAsync is called by Channel.updatePickerAndState for every
// call that was queued under the picker just replaced. It re-enters the combiner
// on a new goroutine.
func (c *CallCore) wakeFromLBQueueAsync() {
	go c.combiner.Execute(func() { c.pickLoop() })
}

// failFromLBQueue fails a call that was LB-queued when the channel shuts
// down.
func (c *CallCore) failFromLBQueue(err error) {
	go c.combiner.Execute(func() { c.fail(err) })
}

// commitPick implements the successful-pick commit sequence: commit the
// service-config call data, apply any metadata
// mutation, start the subchannel call tracker, and begin the subchannel
// call. Must run on the call combiner.
func (c *CallCore) commitPick(result PickResult) {
	c.mu.Lock()
	c.phase = PhaseBound
	c.subchannel = result.Subchannel
	c.callTracker = result.CallTracker
	if result.AuthorityOverride != "" {
		c.authorityOverride = result.AuthorityOverride
	}
	cfg := c.callConfig
	md := c.opts.InitialMetadata
	if result.MetadataMutation != nil {
		md = result.MetadataMutation(md)
	}
	filters := c.filters
	c.mu.Unlock()

	if cfg != nil && cfg.OnCommitted != nil {
		cfg.OnCommitted()
	}
	c.channel.statsGroup.Begin(context.Background(), false)
	c.channel.statsGroup.OutHeader(context.Background(), md)

	if c.callTracker != nil {
		c.callTracker.Started()
	}

	ctx := context.Background()
	if !c.opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, c.opts.Deadline)
		defer cancel()
	}

	dynCall := filters.CreateCall(dynamicfilters.CallArgs{
		Method: c.opts.Method,
		Invoke: func(ctx context.Context) error {
			return c.invoke(ctx, result.Subchannel.ConnectedSubchannel())
		},
	})
	err := dynCall.Run(ctx)

	if c.callTracker != nil {
		c.callTracker.Finished(err)
	}
	c.fail(err)
}
