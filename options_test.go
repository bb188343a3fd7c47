package clientchannel

import (
	"testing"

	"github.com/joeycumines/go-clientchannel/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/resolver"
)

func fakeSubchannelFactory(resolver.Address) transport.Subchannel { return transport.NewFake() }

func TestResolveOptions_requiresTarget(t *testing.T) {
	_, err := resolveOptions([]Option{
		WithResolverBuilder(&fakeResolverBuilder{}),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "pick_first"}),
		WithSubchannelFactory(fakeSubchannelFactory),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
}

func TestResolveOptions_requiresResolverBuilder(t *testing.T) {
	_, err := resolveOptions([]Option{
		WithTarget("test:///service"),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "pick_first"}),
		WithSubchannelFactory(fakeSubchannelFactory),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver builder")
}

func TestResolveOptions_requiresPickFirstAmongLBBuilders(t *testing.T) {
	_, err := resolveOptions([]Option{
		WithTarget("test:///service"),
		WithResolverBuilder(&fakeResolverBuilder{}),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "round_robin"}),
		WithSubchannelFactory(fakeSubchannelFactory),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pick_first")
}

func TestResolveOptions_requiresAtLeastOneLBBuilder(t *testing.T) {
	_, err := resolveOptions([]Option{
		WithTarget("test:///service"),
		WithResolverBuilder(&fakeResolverBuilder{}),
		WithSubchannelFactory(fakeSubchannelFactory),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LB policy builder")
}

func TestResolveOptions_requiresSubchannelFactory(t *testing.T) {
	_, err := resolveOptions([]Option{
		WithTarget("test:///service"),
		WithResolverBuilder(&fakeResolverBuilder{}),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "pick_first"}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subchannel factory")
}

func TestResolveOptions_loggerDefaultsToDisabled(t *testing.T) {
	cfg, err := resolveOptions([]Option{
		WithTarget("test:///service"),
		WithResolverBuilder(&fakeResolverBuilder{}),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "pick_first"}),
		WithSubchannelFactory(fakeSubchannelFactory),
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.logger)
}

func TestResolveOptions_rejectsNilTracerProvider(t *testing.T) {
	_, err := resolveOptions([]Option{WithTracerProvider(nil)})
	require.Error(t, err)
}

func TestResolveOptions_rejectsNilMeterProvider(t *testing.T) {
	_, err := resolveOptions([]Option{WithMeterProvider(nil)})
	require.Error(t, err)
}

func TestResolveOptions_rejectsEmptyTarget(t *testing.T) {
	_, err := resolveOptions([]Option{WithTarget("")})
	require.Error(t, err)
}

func TestResolveOptions_rejectsNonPositiveTraceRingSize(t *testing.T) {
	_, err := resolveOptions([]Option{WithTraceRingSize(0)})
	require.Error(t, err)
}

func TestResolveOptions_rejectsNilResolverBuilder(t *testing.T) {
	_, err := resolveOptions([]Option{WithResolverBuilder(nil)})
	require.Error(t, err)
}

func TestResolveOptions_rejectsNilSubchannelFactory(t *testing.T) {
	_, err := resolveOptions([]Option{WithSubchannelFactory(nil)})
	require.Error(t, err)
}

func TestResolveOptions_rejectsUnnamedLBBuilder(t *testing.T) {
	_, err := resolveOptions([]Option{WithLBPolicyBuilders(&fakeLBBuilder{name: ""})})
	require.Error(t, err)
}

func TestResolveOptions_acceptsFullyValidConfiguration(t *testing.T) {
	var gotAddr resolver.Address
	cfg, err := resolveOptions([]Option{
		WithTarget("test:///service"),
		WithDefaultAuthority("override.example.com"),
		WithDefaultServiceConfig(`{}`),
		WithResolverBuilder(&fakeResolverBuilder{}),
		WithLBPolicyBuilders(&fakeLBBuilder{name: "pick_first"}),
		WithSubchannelFactory(func(addr resolver.Address) transport.Subchannel {
			gotAddr = addr
			return transport.NewFake()
		}),
		WithSubchannelPool("shared"),
	})
	require.NoError(t, err)
	assert.Equal(t, "test:///service", cfg.target)
	assert.Equal(t, "override.example.com", cfg.defaultAuthority)
	assert.Equal(t, "shared", cfg.subchannelPool)
	_ = gotAddr
}
