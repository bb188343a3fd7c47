package clientchannel

import (
	"context"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc/connectivity"
)

// ExternalWatchHandle cancels an external connectivity watcher registered
// via [Channel.AddConnectivityWatcher].
type ExternalWatchHandle struct {
	id       uint64
	registry *externalWatcherRegistry
}

// Cancel removes the watcher. Idempotent.
func (h *ExternalWatchHandle) Cancel() {
	if h == nil || h.registry == nil {
		return
	}
	h.registry.cancel(h.id)
}

// externalWatcherRegistry is the application-facing watcher layer sitting
// atop ConnectivityStateTracker: it owns the opaque-handle keyed map and
// schedules tracker registration/removal onto the control-plane serializer,
// since ConnectivityStateTracker's own methods require serializer
// execution.
type externalWatcherRegistry struct {
	channel *Channel

	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]watcherHandle
}

func newExternalWatcherRegistry(ch *Channel) *externalWatcherRegistry {
	return &externalWatcherRegistry{channel: ch, entries: make(map[uint64]watcherHandle)}
}

// add registers fn as an external watcher, starting from initial, returning
// a handle usable for cancellation. Registration is scheduled onto the
// control-plane serializer and may complete asynchronously relative to the
// call to add.
func (r *externalWatcherRegistry) add(initial connectivity.State, fn StateWatcher) *ExternalWatchHandle {
	id := atomic.AddUint64(&r.nextID, 1)
	h := &ExternalWatchHandle{id: id, registry: r}
	r.channel.serializer.Schedule(func(context.Context) {
		th := r.channel.stateTracker.AddWatcher(initial, fn)
		r.mu.Lock()
		r.entries[id] = th
		r.mu.Unlock()
	})
	return h
}

func (r *externalWatcherRegistry) cancel(id uint64) {
	r.channel.serializer.Schedule(func(context.Context) {
		r.mu.Lock()
		th, ok := r.entries[id]
		delete(r.entries, id)
		r.mu.Unlock()
		if ok {
			r.channel.stateTracker.RemoveWatcher(th)
		}
	})
}

// AddConnectivityWatcher registers an application-facing connectivity
// watcher. fn is invoked on the control-plane serializer whenever the
// channel's observed state changes from what this watcher last saw,
// starting from initial.
func (c *Channel) AddConnectivityWatcher(initial connectivity.State, fn StateWatcher) *ExternalWatchHandle {
	return c.watchers.add(initial, fn)
}

// WaitForStateChange blocks until the channel's connectivity state differs
// from source, or ctx is done, returning true in the former case. This is
// the synchronous convenience form of AddConnectivityWatcher.
func (c *Channel) WaitForStateChange(ctx context.Context, source connectivity.State) bool {
	changed := make(chan struct{})
	var once sync.Once
	h := c.AddConnectivityWatcher(source, func(connectivity.State, error) {
		once.Do(func() { close(changed) })
	})
	defer h.Cancel()
	select {
	case <-changed:
		return true
	case <-ctx.Done():
		return false
	}
}

// GetState returns a thread-safe read of the channel's current connectivity
// state. If tryToConnect is true and the channel is IDLE, it lazily creates
// the resolver.
func (c *Channel) GetState(tryToConnect bool) connectivity.State {
	s, _ := c.stateTracker.State()
	if tryToConnect && s == connectivity.Idle {
		c.serializer.Schedule(func(context.Context) {
			c.connectLocked()
		})
	}
	return s
}
