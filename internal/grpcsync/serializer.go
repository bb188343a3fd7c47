// Package grpcsync provides the control-plane serializer: a single-threaded
// cooperative executor that linearizes LB policy callbacks, resolver
// callbacks, watcher fan-out, and subchannel wrapper mutations.
//
// The shape is grounded directly on google.golang.org/grpc's own internal
// grpcsync.CallbackSerializer, visible wherever a ccBalancerWrapper schedules
// balancer callbacks ("ccb.serializer.Schedule(func(ctx context.Context) {...})").
// Unlike a general-purpose event loop, it multiplexes nothing but FIFO
// closures, so it is implemented directly against the standard library: a
// single goroutine draining an unbounded queue, guarded by a mutex only long
// enough to append or pop.
package grpcsync

import (
	"context"
	"sync"
)

// CallbackSerializer schedules callbacks to run one at a time, in the order
// they were scheduled, on a single dedicated goroutine. It guarantees FIFO
// ordering per calling goroutine and non-overlapping execution globally.
type CallbackSerializer struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []func(context.Context)
	closed bool
	notify chan struct{}
	done   chan struct{}
}

// NewCallbackSerializer creates a serializer bound to ctx. The serializer
// stops accepting new work and drains its queue (running any already-queued
// callback with a cancelled context, so a callback can detect shutdown via
// ctx.Err()) once ctx is done.
func NewCallbackSerializer(ctx context.Context) *CallbackSerializer {
	ctx, cancel := context.WithCancel(ctx)
	cs := &CallbackSerializer{
		ctx:    ctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go cs.run()
	return cs
}

// Schedule enqueues f to run on the serializer goroutine. It returns false if
// the serializer has already started shutting down, in which case f is
// never run. Schedule never blocks on f's execution.
func (cs *CallbackSerializer) Schedule(f func(ctx context.Context)) bool {
	cs.mu.Lock()
	if cs.closed || cs.ctx.Err() != nil {
		cs.mu.Unlock()
		return false
	}
	cs.queue = append(cs.queue, f)
	cs.mu.Unlock()
	select {
	case cs.notify <- struct{}{}:
	default:
	}
	return true
}

// Close cancels the serializer's context, which initiates an asynchronous,
// orderly shutdown: no further Schedule calls are accepted, and any
// already-queued callbacks still run (observing a cancelled context).
func (cs *CallbackSerializer) Close() {
	cs.cancel()
}

// Done returns a channel that is closed once the serializer goroutine has
// drained its queue and exited, mirroring the real grpcsync API used for
// shutdown sequencing.
func (cs *CallbackSerializer) Done() <-chan struct{} {
	return cs.done
}

func (cs *CallbackSerializer) run() {
	defer close(cs.done)
	for {
		cs.mu.Lock()
		if cs.ctx.Err() != nil && len(cs.queue) == 0 {
			cs.closed = true
			cs.mu.Unlock()
			return
		}
		if len(cs.queue) == 0 {
			cs.mu.Unlock()
			select {
			case <-cs.notify:
			case <-cs.ctx.Done():
			}
			continue
		}
		f := cs.queue[0]
		cs.queue[0] = nil
		cs.queue = cs.queue[1:]
		cs.mu.Unlock()
		f(cs.ctx)
	}
}
