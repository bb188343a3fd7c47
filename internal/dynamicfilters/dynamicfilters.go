// Package dynamicfilters implements the DynamicFilters handle: a
// ref-counted, immutable filter chain built fresh on every data-plane
// publication and shared by every call that captures it until that call
// completes.
package dynamicfilters

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/go-clientchannel/internal/configselector"
)

// CallArgs carries what a dynamic call needs to run a filter chain followed
// by the terminal LB delegation.
type CallArgs struct {
	Method string
	Invoke func(ctx context.Context) error
}

// Call is one call's bound instance of a filter chain: Run executes the
// prepended filters in order and then the terminal LB delegation.
type Call struct {
	filters []configselector.Filter
	runners []func(ctx context.Context, args CallArgs, next func(context.Context) error) error
	args    CallArgs
}

// Run drives the filter chain to completion, innermost step being the
// terminal delegation supplied in CallArgs.Invoke.
func (c *Call) Run(ctx context.Context) error {
	next := c.args.Invoke
	for i := len(c.runners) - 1; i >= 0; i-- {
		runner := c.runners[i]
		prevNext := next
		next = func(ctx context.Context) error {
			return runner(ctx, c.args, prevNext)
		}
	}
	return next(ctx)
}

// FilterRunner adapts a Filter into the closure Run invokes; filters that
// need this behavior implement FilterRunner (a filter with no
// runtime behavior, e.g. a marker-only retry metadata filter whose real work
// happens elsewhere, can omit it and is treated as a no-op passthrough).
type FilterRunner interface {
	configselector.Filter
	Run(ctx context.Context, args CallArgs, next func(context.Context) error) error
}

// DynamicFilters is a ref-counted, opaque handle: Create(filters, onZero)
// produces one, CreateCall(call_args) builds a per-call Call from it. The
// handle outlives the publication that created it for as long as any call
// still holds a reference; Release drops one reference and invokes onZero
// exactly once when the count reaches zero.
type DynamicFilters struct {
	filters []configselector.Filter
	refs    int32
	onZero  func()
}

// Create builds a new handle wrapping filters (in execution order), calling
// onZero once the last Release drops the count to zero. onZero may be nil.
func Create(filters []configselector.Filter, onZero func()) *DynamicFilters {
	out := make([]configselector.Filter, len(filters))
	copy(out, filters)
	return &DynamicFilters{filters: out, refs: 1, onZero: onZero}
}

// Retain adds one reference, used when a call captures this handle at the
// instant its resolution is committed.
func (d *DynamicFilters) Retain() {
	atomic.AddInt32(&d.refs, 1)
}

// Release drops one reference, running onZero exactly once when the last
// reference is released.
func (d *DynamicFilters) Release() {
	if atomic.AddInt32(&d.refs, -1) == 0 && d.onZero != nil {
		d.onZero()
	}
}

// CreateCall builds a per-call filter chain from this handle's filters.
func (d *DynamicFilters) CreateCall(args CallArgs) *Call {
	runners := make([]func(context.Context, CallArgs, func(context.Context) error) error, 0, len(d.filters))
	for _, f := range d.filters {
		if fr, ok := f.(FilterRunner); ok {
			runners = append(runners, fr.Run)
		}
	}
	return &Call{filters: d.filters, runners: runners, args: args}
}

// Filters returns the filter stack this handle wraps, in execution order.
func (d *DynamicFilters) Filters() []configselector.Filter {
	return d.filters
}
