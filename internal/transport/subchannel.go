// Package transport defines the Subchannel contract a channel's control
// helper creates and an LB policy drives, plus a deterministic
// fake implementation used by the clientchannel package's own tests — the
// real dial/transport layer is out of scope for this core.
package transport

import (
	"context"
	"sync"

	"google.golang.org/grpc/connectivity"
)

// ConnectivityNotification is what the internal subchannel reports on a
// state change, before SubchannelWrapper applies status masking and
// keepalive-throttle extraction.
type ConnectivityNotification struct {
	State              connectivity.State
	Status             error
	KeepaliveThrottle  bool
	KeepaliveThrottleV int64 // nanoseconds; meaningful only if KeepaliveThrottle
}

// Watcher receives connectivity notifications from a Subchannel.
type Watcher func(ConnectivityNotification)

// ConnectedSubchannel is the live, usable handle to a transport connection,
// obtained once a Subchannel reaches READY. The core never interprets its
// contents; holding one keeps the underlying transport alive for the
// duration of one RPC.
type ConnectedSubchannel interface {
	// Ping issues a transport-level ping and reports completion or failure.
	Ping(ctx context.Context) error
}

// Subchannel is the internal, per-address connection object a Subchannel
// carries addresses and connection parameters for; LB policies never see
// this directly, only through SubchannelWrapper.
type Subchannel interface {
	// WatchConnectivityState installs w, replacing any previously installed
	// watcher. The initial notification is delivered asynchronously.
	WatchConnectivityState(w Watcher)
	// CancelConnectivityStateWatch removes the current watcher, if any.
	CancelConnectivityStateWatch()
	// RequestConnection nudges a CONNECTING attempt if currently IDLE.
	RequestConnection()
	// ResetBackoff cancels any pending reconnect backoff timer.
	ResetBackoff()
	// ThrottleKeepaliveTime raises this subchannel's keepalive interval to
	// at least valueNanos, never lowering it.
	ThrottleKeepaliveTime(valueNanos int64)
	// ConnectedSubchannel returns the live transport handle, or nil if the
	// subchannel is not currently READY.
	ConnectedSubchannel() ConnectedSubchannel
}

// Fake is a deterministic, in-memory Subchannel used by clientchannel's own
// tests (and safe for production use by an LB policy that manages its own
// connection lifecycle entirely out of band, e.g. in-process testing
// harnesses) to drive connectivity transitions without a real transport.
type Fake struct {
	mu               sync.Mutex
	watcher          Watcher
	state            connectivity.State
	status           error
	connected        ConnectedSubchannel
	keepaliveNanos   int64
	connectRequested int
	resetBackoffs    int
}

// NewFake returns a Fake starting in connectivity.Idle.
func NewFake() *Fake {
	return &Fake{state: connectivity.Idle}
}

func (f *Fake) WatchConnectivityState(w Watcher) {
	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()
}

func (f *Fake) CancelConnectivityStateWatch() {
	f.mu.Lock()
	f.watcher = nil
	f.mu.Unlock()
}

func (f *Fake) RequestConnection() {
	f.mu.Lock()
	f.connectRequested++
	f.mu.Unlock()
}

func (f *Fake) ResetBackoff() {
	f.mu.Lock()
	f.resetBackoffs++
	f.mu.Unlock()
}

func (f *Fake) ThrottleKeepaliveTime(valueNanos int64) {
	f.mu.Lock()
	if valueNanos > f.keepaliveNanos {
		f.keepaliveNanos = valueNanos
	}
	f.mu.Unlock()
}

func (f *Fake) ConnectedSubchannel() ConnectedSubchannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != connectivity.Ready {
		return nil
	}
	return f.connected
}

// KeepaliveNanos returns the current throttled keepalive value, for test
// assertions.
func (f *Fake) KeepaliveNanos() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepaliveNanos
}

// ConnectRequests returns how many times RequestConnection was called.
func (f *Fake) ConnectRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectRequested
}

// SetState drives the fake's internal state and, if a watcher is installed,
// delivers a ConnectivityNotification synchronously on the calling
// goroutine (the caller is responsible for any necessary re-dispatch, e.g.
// onto a control-plane serializer under test).
func (f *Fake) SetState(state connectivity.State, status error) {
	f.mu.Lock()
	f.state = state
	f.status = status
	if state == connectivity.Ready && f.connected == nil {
		f.connected = fakeConnectedSubchannel{}
	}
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w(ConnectivityNotification{State: state, Status: status})
	}
}

// SetKeepaliveThrottleNotification delivers a TRANSIENT_FAILURE
// notification carrying a keepalive-throttling hint, exercising
// SubchannelWrapper's propagation path.
func (f *Fake) SetKeepaliveThrottleNotification(status error, valueNanos int64) {
	f.mu.Lock()
	f.state = connectivity.TransientFailure
	f.status = status
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w(ConnectivityNotification{
			State:              connectivity.TransientFailure,
			Status:             status,
			KeepaliveThrottle:  true,
			KeepaliveThrottleV: valueNanos,
		})
	}
}

type fakeConnectedSubchannel struct{}

func (fakeConnectedSubchannel) Ping(ctx context.Context) error { return nil }
