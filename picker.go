package clientchannel

import (
	"sync"

	"google.golang.org/grpc/metadata"
)

// PickResultKind discriminates the four pick outcomes: complete, queue,
// fail, drop. Go has no native sum type, so the outcome is modeled as a
// tagged struct rather than four separate return paths.
type PickResultKind int

const (
	// PickComplete means a subchannel was selected; Subchannel is set.
	PickComplete PickResultKind = iota
	// PickQueue means no decision is available yet; the call should queue
	// and await a new picker.
	PickQueue
	// PickFail means the pick failed with Status; a wait_for_ready call
	// continues queueing instead of failing.
	PickFail
	// PickDrop means the pick failed with Status and must never be masked
	// by wait_for_ready.
	PickDrop
)

// SubchannelCallTracker is an optional per-call lifecycle hook an LB policy
// may attach to a completed pick.
type SubchannelCallTracker interface {
	Started()
	Finished(err error)
}

// PickArgs carries the per-pick inputs a Picker sees.
type PickArgs struct {
	Method          string
	InitialMetadata metadata.MD
}

// PickResult is the outcome of one Pick call.
type PickResult struct {
	Kind                  PickResultKind
	Subchannel            *SubchannelWrapper
	MetadataMutation      func(metadata.MD) metadata.MD
	CallTracker           SubchannelCallTracker
	AuthorityOverride     string
	Status                error
}

// Picker is a pure function from a call's per-pick args to an outcome;
// replaced wholesale, never mutated.
type Picker interface {
	Pick(args PickArgs) PickResult
}

// queueAllPicker is installed while the LB policy is being created, so that
// calls queue rather than fail on the gap between channel creation and the
// first real picker update.
type queueAllPicker struct{}

func (queueAllPicker) Pick(PickArgs) PickResult { return PickResult{Kind: PickQueue} }

// failAllPicker is installed on SHUTDOWN: every pick fails with err.
type failAllPicker struct{ err error }

func (p failAllPicker) Pick(PickArgs) PickResult {
	return PickResult{Kind: PickFail, Status: p.err}
}

// pickerHolder is the data-plane LB mutex-protected picker pointer plus the
// LB-queued-calls set.
type pickerHolder struct {
	mu     sync.Mutex
	picker Picker
	queued map[*CallCore]struct{}
}

func newPickerHolder() *pickerHolder {
	return &pickerHolder{picker: queueAllPicker{}, queued: make(map[*CallCore]struct{})}
}

// current returns the current picker under the LB mutex.
func (h *pickerHolder) current() Picker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.picker
}

// enqueue adds c to the LB-queued set if the picker observed (seen) is
// still current; if the picker has changed since seen was read, enqueue
// returns the new picker instead so the caller can retry the pick
// immediately.
func (h *pickerHolder) enqueue(c *CallCore, seen Picker) (queued bool, current Picker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.picker != seen {
		return false, h.picker
	}
	h.queued[c] = struct{}{}
	return true, nil
}

func (h *pickerHolder) remove(c *CallCore) {
	h.mu.Lock()
	delete(h.queued, c)
	h.mu.Unlock()
}

// swap installs a new picker and returns a snapshot of the calls that were
// queued under the old one, clearing the queue.
func (h *pickerHolder) swap(p Picker) []*CallCore {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.picker = p
	if len(h.queued) == 0 {
		return nil
	}
	out := make([]*CallCore, 0, len(h.queued))
	for c := range h.queued {
		out = append(out, c)
	}
	h.queued = make(map[*CallCore]struct{})
	return out
}
