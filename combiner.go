package clientchannel

import "sync"

// callCombiner is the per-call single-owner lock closures are passed
// between. Unlike the control-plane
// serializer, which exists for the lifetime of the channel, a callCombiner
// exists for the lifetime of one call; it has the same "one closure runs at
// a time, FIFO, no overlap" contract but is cheap enough to allocate one
// per call.
type callCombiner struct {
	mu     sync.Mutex
	queue  []func()
	active bool
}

// Execute runs f immediately if the combiner is uncontended, otherwise
// queues it to run after whatever is currently executing (and everything
// already queued ahead of it) finishes. A closure must never call Execute
// on its own combiner and block waiting for the result — that would
// deadlock; instead it should queue follow-up work and return.
func (cc *callCombiner) Execute(f func()) {
	cc.mu.Lock()
	if cc.active {
		cc.queue = append(cc.queue, f)
		cc.mu.Unlock()
		return
	}
	cc.active = true
	cc.mu.Unlock()
	cc.drain(f)
}

func (cc *callCombiner) drain(f func()) {
	for f != nil {
		f()
		cc.mu.Lock()
		if len(cc.queue) == 0 {
			cc.active = false
			cc.mu.Unlock()
			return
		}
		f = cc.queue[0]
		cc.queue[0] = nil
		cc.queue = cc.queue[1:]
		cc.mu.Unlock()
	}
}
