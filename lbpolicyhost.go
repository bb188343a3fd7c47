package clientchannel

import (
	"errors"
	"sync"

	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
)

// errNoPickFirst is returned if neither the requested LB policy name nor
// the "pick_first" fallback has a registered builder; NewChannel's
// synchronous validation (options.go) prevents this in practice.
var errNoPickFirst = errors.New("clientchannel: no LB policy builder available, not even \"pick_first\"")

// LBUpdateArgs carries the inputs to LBPolicy.Update.
type LBUpdateArgs struct {
	Addresses      []resolver.Address
	ResolutionErr  error
	Config         any
	ResolutionNote string
	Args           map[string]any
}

// LBPolicy is the collaborator interface a load-balancing policy
// implements. Concrete policies (round-robin, pick-first,
// etc.) are out of scope for this core; only this contract is consumed.
type LBPolicy interface {
	Update(args LBUpdateArgs) error
	ExitIdle()
	ResetBackoff()
	Close()
}

// LbPolicyHost owns a single root LB policy, presenting one consistent
// policy identity even across internal policy swaps.
type LbPolicyHost struct {
	channel *Channel

	mu       sync.Mutex
	name     string
	policy   LBPolicy
	builders map[string]LBPolicyBuilder
}

func newLbPolicyHost(ch *Channel, builders map[string]LBPolicyBuilder) *LbPolicyHost {
	return &LbPolicyHost{channel: ch, builders: builders}
}

// ensure creates the policy named name if absent or if name differs from
// the currently-installed policy, closing the old one first. Must run on
// the control-plane serializer.
func (h *LbPolicyHost) ensure(name string) (LBPolicy, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.policy != nil && h.name == name {
		return h.policy, nil
	}
	builder, ok := h.builders[name]
	if !ok {
		builder, ok = h.builders["pick_first"]
		name = "pick_first"
		if !ok {
			return nil, errNoPickFirst
		}
	}
	if h.policy != nil {
		h.policy.Close()
	}
	h.policy = builder.Build(h.channel.controlHelper)
	h.name = name
	h.channel.stateTracker.SetState(connectivity.Connecting, nil)
	return h.policy, nil
}

// update applies args to the currently-installed policy, creating it first
// if config names a new one.
//
// Must run on the control-plane serializer.
func (h *LbPolicyHost) update(name string, args LBUpdateArgs) error {
	policy, err := h.ensure(name)
	if err != nil {
		return err
	}
	return policy.Update(args)
}

// exitIdle forwards ExitIdle verbatim to the installed policy, if any.
func (h *LbPolicyHost) exitIdle() {
	h.mu.Lock()
	p := h.policy
	h.mu.Unlock()
	if p != nil {
		p.ExitIdle()
	}
}

// resetBackoff forwards ResetBackoff verbatim to the installed policy, if
// any.
func (h *LbPolicyHost) resetBackoff() {
	h.mu.Lock()
	p := h.policy
	h.mu.Unlock()
	if p != nil {
		p.ResetBackoff()
	}
}

// close tears the installed policy down, used on channel shutdown or after
// a disconnect.
func (h *LbPolicyHost) close() {
	h.mu.Lock()
	p := h.policy
	h.policy = nil
	h.name = ""
	h.mu.Unlock()
	if p != nil {
		p.Close()
	}
}
