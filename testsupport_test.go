package clientchannel

import (
	"sync"

	"github.com/joeycumines/go-clientchannel/internal/transport"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
)

// fakeResolver is a controllable Resolver used across this package's tests:
// test code drives it directly via push instead of going through a
// real name-resolution scheme.
type fakeResolver struct {
	handler ResolverResultHandler

	mu             sync.Mutex
	started        bool
	reresolveCount int
	shutdownCount  int
}

func (r *fakeResolver) Start() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}

func (r *fakeResolver) RequestReresolution() {
	r.mu.Lock()
	r.reresolveCount++
	r.mu.Unlock()
}

func (r *fakeResolver) Shutdown() {
	r.mu.Lock()
	r.shutdownCount++
	r.mu.Unlock()
}

func (r *fakeResolver) push(result ResolverResult) {
	r.handler.ReportResult(result)
}

// fakeResolverBuilder builds a new *fakeResolver on every Build and records
// each one, so test code can drive the latest via last() after NewChannel
// returns.
type fakeResolverBuilder struct {
	mu       sync.Mutex
	built    []*fakeResolver
	buildErr error
}

func (b *fakeResolverBuilder) Build(target string, handler ResolverResultHandler) (Resolver, error) {
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	r := &fakeResolver{handler: handler}
	b.mu.Lock()
	b.built = append(b.built, r)
	b.mu.Unlock()
	return r, nil
}

func (b *fakeResolverBuilder) last() *fakeResolver {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.built) == 0 {
		return nil
	}
	return b.built[len(b.built)-1]
}

// fakePickFirstPolicy is a minimal LBPolicy standing in for a real
// "pick_first": on Update, it creates a subchannel per address, reports
// CONNECTING, and then mirrors each subchannel's notifications, reporting
// READY with a picker onto whichever subchannel reports READY. Test code can
// instead drive state transitions manually via helper.UpdateState for
// scenarios that need finer control.
type fakePickFirstPolicy struct {
	helper ControlHelperFacade

	mu          sync.Mutex
	subchannels []*SubchannelWrapper
	closed      bool
}

func newFakePickFirstPolicy(helper ControlHelperFacade) *fakePickFirstPolicy {
	return &fakePickFirstPolicy{helper: helper}
}

func (p *fakePickFirstPolicy) Update(args LBUpdateArgs) error {
	if args.ResolutionErr != nil {
		p.helper.UpdateState(connectivity.TransientFailure, args.ResolutionErr, failAllPicker{err: args.ResolutionErr})
		return nil
	}
	var subs []*SubchannelWrapper
	for _, addr := range args.Addresses {
		sc, err := p.helper.CreateSubchannel(addr, SubchannelArgs{})
		if err != nil {
			return err
		}
		subs = append(subs, sc)
	}
	p.mu.Lock()
	p.subchannels = subs
	p.mu.Unlock()
	if len(subs) == 0 {
		return nil
	}
	p.helper.UpdateState(connectivity.Connecting, nil, queueAllPicker{})
	for _, sc := range subs {
		sc := sc
		sc.WatchConnectivityState(func(state connectivity.State, status error) {
			switch state {
			case connectivity.Ready:
				p.helper.UpdateState(connectivity.Ready, nil, readyPicker{sc: sc})
			case connectivity.TransientFailure:
				p.helper.UpdateState(connectivity.TransientFailure, status, failAllPicker{err: status})
			case connectivity.Connecting:
				p.helper.UpdateState(connectivity.Connecting, nil, queueAllPicker{})
			}
		})
		sc.RequestConnection()
	}
	return nil
}

func (p *fakePickFirstPolicy) ExitIdle() {
	p.mu.Lock()
	subs := append([]*SubchannelWrapper(nil), p.subchannels...)
	p.mu.Unlock()
	for _, sc := range subs {
		sc.RequestConnection()
	}
}

func (p *fakePickFirstPolicy) ResetBackoff() {
	p.mu.Lock()
	subs := append([]*SubchannelWrapper(nil), p.subchannels...)
	p.mu.Unlock()
	for _, sc := range subs {
		sc.ResetBackoff()
	}
}

func (p *fakePickFirstPolicy) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// readyPicker reports the given subchannel as the pick outcome for every
// call; fakePickFirstPolicy installs it once a subchannel's fake transport
// reports READY.
type readyPicker struct{ sc *SubchannelWrapper }

func (p readyPicker) Pick(PickArgs) PickResult {
	return PickResult{Kind: PickComplete, Subchannel: p.sc}
}

type fakeLBBuilder struct {
	name    string
	onBuild func(helper ControlHelperFacade) LBPolicy
}

func (b *fakeLBBuilder) Name() string { return b.name }

func (b *fakeLBBuilder) Build(helper ControlHelperFacade) LBPolicy {
	if b.onBuild != nil {
		return b.onBuild(helper)
	}
	return newFakePickFirstPolicy(helper)
}

// newTestChannel builds a Channel wired with a fakeResolverBuilder and a
// pick_first fakeLBBuilder, returning both for the test to drive.
func newTestChannel(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, extraOpts ...Option) (*Channel, *fakeResolverBuilder) {
	t.Helper()
	rb := &fakeResolverBuilder{}
	opts := append([]Option{
		WithTarget("test:///service"),
		WithResolverBuilder(rb),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "pick_first"}),
		WithSubchannelFactory(func(resolver.Address) transport.Subchannel { return transport.NewFake() }),
	}, extraOpts...)
	ch, err := NewChannel(opts...)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	return ch, rb
}
