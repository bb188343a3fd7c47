package clientchannel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/joeycumines/go-clientchannel/internal/chantrace"
	"github.com/joeycumines/go-clientchannel/internal/statsgroup"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
)

// SubchannelArgs carries per-address and channel-level inputs to
// CreateSubchannel.
type SubchannelArgs struct {
	Attributes map[string]any
}

// subchannelKey folds channel-level args, per-address args, subchannel-pool
// selection, and default authority into one comparable value. It is a
// string rather than a struct of maps so it can be used directly as a map
// key without a custom Equal/Hash pair.
type subchannelKey string

func newSubchannelKey(pool string, authority string, addr resolver.Address, args SubchannelArgs) subchannelKey {
	h := sha256.New()
	fmt.Fprintf(h, "pool=%s\x00authority=%s\x00addr=%s\x00servername=%s\x00", pool, authority, addr.Addr, addr.ServerName)
	keys := make([]string, 0, len(args.Attributes))
	for k := range args.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "attr:%s=%v\x00", k, args.Attributes[k])
	}
	return subchannelKey(hex.EncodeToString(h.Sum(nil)))
}

// ControlHelperFacade is the facade an LB policy is built against:
// CreateSubchannel, UpdateState, RequestReresolution, and channel-level
// accessors.
type ControlHelperFacade interface {
	CreateSubchannel(addr resolver.Address, args SubchannelArgs) (*SubchannelWrapper, error)
	UpdateState(state connectivity.State, status error, picker Picker)
	RequestReresolution()
	Target() string
	DefaultAuthority() string
	StatsGroup() *statsgroup.Group
	AddTraceEvent(severity chantrace.Severity, message string)
}

// controlHelper implements ControlHelperFacade for one Channel.
type controlHelper struct {
	channel *Channel

	mu          sync.Mutex
	subchannels map[subchannelKey]*subchannelEntry
}

type subchannelEntry struct {
	wrapper *SubchannelWrapper
	refs    uint32
}

func newControlHelper(ch *Channel) *controlHelper {
	return &controlHelper{channel: ch, subchannels: make(map[subchannelKey]*subchannelEntry)}
}

// CreateSubchannel returns a subchannel wrapper for addr, or an error if
// the channel is shutting down. Subchannels sharing a key are folded
// together: a second CreateSubchannel for the same key increments the
// existing entry's refcount using unsigned arithmetic with an assertion on
// underflow, so a mismatched release panics instead of silently wrapping
// past zero.
func (h *controlHelper) CreateSubchannel(addr resolver.Address, args SubchannelArgs) (*SubchannelWrapper, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channel.isShutdown() {
		return nil, ErrChannelShuttingDown
	}

	key := newSubchannelKey(h.channel.opts.subchannelPool, h.channel.DefaultAuthority(), addr, args)
	if entry, ok := h.subchannels[key]; ok {
		entry.refs++
		return entry.wrapper, nil
	}

	internal := h.channel.opts.subchannelFactory(addr)
	wrapper := newSubchannelWrapper(h.channel, internal, key)
	h.subchannels[key] = &subchannelEntry{wrapper: wrapper, refs: 1}
	return wrapper, nil
}

// releaseSubchannel decrements the refcount for key, removing the entry once
// it reaches zero. No observer is notified of the removal.
func (h *controlHelper) releaseSubchannel(key subchannelKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.subchannels[key]
	if !ok {
		return
	}
	if entry.refs == 0 {
		panic("clientchannel: subchannel refcount underflow")
	}
	entry.refs--
	if entry.refs == 0 {
		delete(h.subchannels, key)
	}
}

// liveWrappers returns the wrapper of every pooled subchannel entry that
// still holds a reference. Keepalive-throttle fan-out uses the channel's
// wrapper registry instead.
func (h *controlHelper) liveWrappers() []*SubchannelWrapper {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*SubchannelWrapper, 0, len(h.subchannels))
	for _, e := range h.subchannels {
		out = append(out, e.wrapper)
	}
	return out
}

// UpdateState installs a new picker atomically and drives the connectivity
// state tracker.
func (h *controlHelper) UpdateState(state connectivity.State, status error, picker Picker) {
	h.channel.updatePickerAndState(state, status, picker)
}

// RequestReresolution forwards to the resolver if present, throttled by the
// configured catrate.Limiter if any.
func (h *controlHelper) RequestReresolution() {
	ch := h.channel
	if ch.resolver == nil {
		return
	}
	if ch.opts.reResolutionLimiter != nil {
		if _, ok := ch.opts.reResolutionLimiter.Allow("re-resolution"); !ok {
			return
		}
	}
	ch.resolver.RequestReresolution()
}

// Target returns the channel's target URI.
func (h *controlHelper) Target() string { return h.channel.opts.target }

// DefaultAuthority returns the channel's default authority.
func (h *controlHelper) DefaultAuthority() string {
	if h.channel.opts.defaultAuthority != "" {
		return h.channel.opts.defaultAuthority
	}
	return h.channel.opts.target
}

// StatsGroup returns the channel's stats plugin group.
func (h *controlHelper) StatsGroup() *statsgroup.Group { return h.channel.statsGroup }

// AddTraceEvent appends to the channel trace ring and, if tracing is
// configured, the channel-lifetime span.
func (h *controlHelper) AddTraceEvent(severity chantrace.Severity, message string) {
	h.channel.addTraceEvent(severity, message)
}
