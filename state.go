package clientchannel

import (
	"sync"

	"google.golang.org/grpc/connectivity"
)

// StateWatcher receives connectivity-state notifications.
type StateWatcher func(state connectivity.State, status error)

// ConnectivityStateTracker holds the current connectivity state and status,
// fanning out changes to registered watchers. Watcher
// callbacks run on the control-plane serializer; SetState must therefore
// only ever be called from serializer-scheduled work.
type ConnectivityStateTracker struct {
	mu       sync.Mutex
	state    connectivity.State
	status   error
	watchers map[*stateWatcherEntry]struct{}
}

type stateWatcherEntry struct {
	fn   StateWatcher
	last connectivity.State
}

// NewConnectivityStateTracker creates a tracker starting in IDLE.
func NewConnectivityStateTracker() *ConnectivityStateTracker {
	return &ConnectivityStateTracker{
		state:    connectivity.Idle,
		watchers: make(map[*stateWatcherEntry]struct{}),
	}
}

// State returns the current state and status.
func (t *ConnectivityStateTracker) State() (connectivity.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.status
}

// SetState transitions to s with the given status, rejecting any transition
// out of SHUTDOWN and notifying every watcher whose
// last-delivered state differs from s.
//
// Must run on the control-plane serializer.
func (t *ConnectivityStateTracker) SetState(s connectivity.State, status error) {
	t.mu.Lock()
	if t.state == connectivity.Shutdown {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.status = status
	var toNotify []*stateWatcherEntry
	for w := range t.watchers {
		if w.last != s {
			w.last = s
			toNotify = append(toNotify, w)
		}
	}
	t.mu.Unlock()
	for _, w := range toNotify {
		w.fn(s, status)
	}
}

// watcherHandle identifies a registered watcher for removal.
type watcherHandle = *stateWatcherEntry

// AddWatcher registers w, delivering the current state immediately if it
// differs from initial; otherwise it is delivered on the next change. The
// returned handle is passed to RemoveWatcher.
//
// Must run on the control-plane serializer.
func (t *ConnectivityStateTracker) AddWatcher(initial connectivity.State, w StateWatcher) watcherHandle {
	t.mu.Lock()
	entry := &stateWatcherEntry{fn: w, last: initial}
	t.watchers[entry] = struct{}{}
	cur, status := t.state, t.status
	deliver := cur != initial
	if deliver {
		entry.last = cur
	}
	t.mu.Unlock()
	if deliver {
		w(cur, status)
	}
	return entry
}

// RemoveWatcher removes a previously-added watcher. Idempotent.
//
// Must run on the control-plane serializer.
func (t *ConnectivityStateTracker) RemoveWatcher(h watcherHandle) {
	t.mu.Lock()
	delete(t.watchers, h)
	t.mu.Unlock()
}
