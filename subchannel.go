package clientchannel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-clientchannel/internal/transport"
	"google.golang.org/grpc/connectivity"
)

// DataWatcher receives opaque data-watcher notifications installed via
// SubchannelWrapper.AddDataWatcher.
type DataWatcher func(any)

// SubchannelWrapper is the adapter exposing subchannel connectivity and
// data operations to LB policies while hiding channel-internal details and
// hopping notifications into the control-plane serializer.
type SubchannelWrapper struct {
	channel  *Channel
	internal transport.Subchannel
	key      subchannelKey

	mu           sync.Mutex
	lbWatcher    StateWatcher
	dataWatchers map[*dataWatcherEntry]struct{}
	destroyed    bool
}

type dataWatcherEntry struct{ fn DataWatcher }

func newSubchannelWrapper(ch *Channel, internal transport.Subchannel, key subchannelKey) *SubchannelWrapper {
	w := &SubchannelWrapper{
		channel:      ch,
		internal:     internal,
		key:          key,
		dataWatchers: make(map[*dataWatcherEntry]struct{}),
	}
	ch.registerSubchannelWrapper(w)
	return w
}

// WatchConnectivityState installs an internal watcher that, on every state
// change from the internal subchannel, re-dispatches the notification onto
// the control-plane serializer before calling w.
//
// Must run on the control-plane serializer.
func (w *SubchannelWrapper) WatchConnectivityState(watcher StateWatcher) {
	w.mu.Lock()
	w.lbWatcher = watcher
	w.mu.Unlock()

	w.internal.WatchConnectivityState(func(n transport.ConnectivityNotification) {
		w.channel.serializer.Schedule(func(context.Context) {
			w.handleNotification(n)
		})
	})
}

// handleNotification applies status masking and keepalive-throttle
// propagation before forwarding to the LB watcher.
//
// Must run on the control-plane serializer.
func (w *SubchannelWrapper) handleNotification(n transport.ConnectivityNotification) {
	if n.KeepaliveThrottle {
		w.channel.throttleKeepalive(n.KeepaliveThrottleV)
	}

	w.mu.Lock()
	lb := w.lbWatcher
	w.mu.Unlock()
	if lb == nil {
		return
	}

	// Status masking: only TRANSIENT_FAILURE notifications
	// forward their status to the LB watcher; everything else presents OK.
	status := n.Status
	if n.State != connectivity.TransientFailure {
		status = nil
	}
	lb(n.State, status)
}

// CancelConnectivityStateWatch removes the installed watcher.
//
// Must run on the control-plane serializer.
func (w *SubchannelWrapper) CancelConnectivityStateWatch() {
	w.mu.Lock()
	w.lbWatcher = nil
	w.mu.Unlock()
	w.internal.CancelConnectivityStateWatch()
}

// RequestConnection nudges a CONNECTING attempt if currently IDLE.
func (w *SubchannelWrapper) RequestConnection() { w.internal.RequestConnection() }

// ResetBackoff cancels any pending reconnect backoff timer.
func (w *SubchannelWrapper) ResetBackoff() { w.internal.ResetBackoff() }

// ThrottleKeepaliveTime raises this subchannel's keepalive interval,
// forwarded verbatim to the internal subchannel (monotonicity is enforced
// by both the internal subchannel and the channel-wide fan-out in
// channel.go's throttleKeepalive).
func (w *SubchannelWrapper) ThrottleKeepaliveTime(valueNanos int64) {
	w.internal.ThrottleKeepaliveTime(valueNanos)
}

// ConnectedSubchannel returns the live transport handle, or nil if not
// currently READY.
func (w *SubchannelWrapper) ConnectedSubchannel() transport.ConnectedSubchannel {
	return w.internal.ConnectedSubchannel()
}

// AddDataWatcher installs an opaque data-watcher subscription, returning a
// handle for CancelDataWatcher.
func (w *SubchannelWrapper) AddDataWatcher(fn DataWatcher) *dataWatcherEntry {
	entry := &dataWatcherEntry{fn: fn}
	w.mu.Lock()
	w.dataWatchers[entry] = struct{}{}
	w.mu.Unlock()
	return entry
}

// CancelDataWatcher removes a previously-added data watcher.
func (w *SubchannelWrapper) CancelDataWatcher(h *dataWatcherEntry) {
	w.mu.Lock()
	delete(w.dataWatchers, h)
	w.mu.Unlock()
}

// notifyDataWatchers fans out an opaque data event to every registered
// watcher.
func (w *SubchannelWrapper) notifyDataWatchers(data any) {
	w.mu.Lock()
	watchers := make([]DataWatcher, 0, len(w.dataWatchers))
	for e := range w.dataWatchers {
		watchers = append(watchers, e.fn)
	}
	w.mu.Unlock()
	for _, fn := range watchers {
		fn(data)
	}
}

// Close releases this wrapper's reference to the shared subchannel entry and
// removes the wrapper from the channel-wide registry. No observer is
// notified when the last reference is gone.
func (w *SubchannelWrapper) Close() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	w.mu.Unlock()

	w.channel.controlHelper.releaseSubchannel(w.key)
	w.channel.unregisterSubchannelWrapper(w)
}

// wrapperRegistry is the channel-wide set of live subchannel wrappers used
// for keepalive fan-out.
type wrapperRegistry struct {
	mu       sync.Mutex
	wrappers map[*SubchannelWrapper]struct{}
	count    int64
}

func newWrapperRegistry() *wrapperRegistry {
	return &wrapperRegistry{wrappers: make(map[*SubchannelWrapper]struct{})}
}

func (r *wrapperRegistry) add(w *SubchannelWrapper) {
	r.mu.Lock()
	r.wrappers[w] = struct{}{}
	r.mu.Unlock()
	atomic.AddInt64(&r.count, 1)
}

func (r *wrapperRegistry) remove(w *SubchannelWrapper) {
	r.mu.Lock()
	delete(r.wrappers, w)
	r.mu.Unlock()
	atomic.AddInt64(&r.count, -1)
}

func (r *wrapperRegistry) all() []*SubchannelWrapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SubchannelWrapper, 0, len(r.wrappers))
	for w := range r.wrappers {
		out = append(out, w)
	}
	return out
}
