package clientchannel

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-clientchannel/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/status"
)

func TestNewCall_pastDeadlineFailsImmediately(t *testing.T) {
	ch, _ := newTestChannel(t)
	call := ch.NewCall(CallOptions{Method: "/svc/M", Deadline: time.Now().Add(-time.Second)}, func(context.Context, transport.ConnectedSubchannel) error {
		t.Fatal("invoke must not run for an already-expired deadline")
		return nil
	})
	assert.Equal(t, PhaseCompleted, call.Phase())
	err := call.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestNewCall_shutdownChannelFailsImmediately(t *testing.T) {
	ch, _ := newTestChannel(t)
	ch.Disconnect(DisconnectToShutdown, nil)
	waitSerializerQuiesced(t, ch)

	call := ch.NewCall(CallOptions{Method: "/svc/M"}, func(context.Context, transport.ConnectedSubchannel) error {
		t.Fatal("invoke must not run once the channel is shut down")
		return nil
	})
	err := call.Wait(context.Background())
	require.Error(t, err)
}

func TestNewCall_onIdleChannelCreatesResolverWithoutExplicitConnect(t *testing.T) {
	ch, rb := newTestChannel(t)
	require.Equal(t, connectivity.Idle, ch.GetState(false))

	call := ch.NewCall(CallOptions{Method: "/svc/M"}, func(context.Context, transport.ConnectedSubchannel) error { return nil })

	waitCondition(t, func() bool { return rb.last() != nil })
	waitCondition(t, func() bool { return ch.GetState(false) == connectivity.Connecting })
	waitCondition(t, func() bool {
		ch.resMu.Lock()
		defer ch.resMu.Unlock()
		_, queued := ch.resolverQueue[call]
		return queued
	})
}

func TestCall_happyPath_singleAddress(t *testing.T) {
	ch, rb := newTestChannel(t)
	ch.Connect()
	waitCondition(t, func() bool { return rb.last() != nil })
	res := rb.last()

	invoked := make(chan struct{})

	callDone := make(chan error, 1)
	go func() {
		call := ch.NewCall(CallOptions{Method: "/svc/M"}, func(ctx context.Context, cs transport.ConnectedSubchannel) error {
			close(invoked)
			return cs.Ping(ctx)
		})
		callDone <- call.Wait(context.Background())
	}()

	res.push(ResolverResult{Addresses: []resolver.Address{{Addr: "127.0.0.1:1"}}})
	waitCondition(t, func() bool { return ch.GetState(false) == connectivity.Connecting || ch.GetState(false) == connectivity.Ready })

	// Drive the fake subchannel to READY.
	wrappers := ch.controlHelper.liveWrappers()
	require.Len(t, wrappers, 1)
	internal := wrappers[0].internal.(*transport.Fake)
	internal.SetState(connectivity.Ready, nil)

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("invoke was never called")
	}
	select {
	case err := <-callDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call never completed")
	}
}

func TestCall_waitForReady_queuesAcrossResolverTransientFailure(t *testing.T) {
	ch, rb := newTestChannel(t)
	ch.Connect()
	waitCondition(t, func() bool { return rb.last() != nil })
	res := rb.last()

	res.push(ResolverResult{Err: status.Error(codes.Unavailable, "dns lookup failed"), ServiceConfig: ServiceConfigResult{}})
	waitCondition(t, func() bool { return ch.GetState(false) == connectivity.TransientFailure })

	callDone := make(chan error, 1)
	go func() {
		call := ch.NewCall(CallOptions{Method: "/svc/M", WaitForReady: true}, func(ctx context.Context, cs transport.ConnectedSubchannel) error {
			return cs.Ping(ctx)
		})
		callDone <- call.Wait(context.Background())
	}()

	select {
	case err := <-callDone:
		t.Fatalf("wait_for_ready call must not complete during transient failure, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	res.push(ResolverResult{Addresses: []resolver.Address{{Addr: "127.0.0.1:1"}}})
	waitCondition(t, func() bool { return len(ch.controlHelper.liveWrappers()) == 1 })
	internal := ch.controlHelper.liveWrappers()[0].internal.(*transport.Fake)
	internal.SetState(connectivity.Ready, nil)

	select {
	case err := <-callDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call never completed after resolution succeeded")
	}
}

func TestCall_noWaitForReady_failsOnResolverTransientFailure(t *testing.T) {
	ch, rb := newTestChannel(t)
	ch.Connect()
	waitCondition(t, func() bool { return rb.last() != nil })
	res := rb.last()

	res.push(ResolverResult{Err: status.Error(codes.Unavailable, "dns lookup failed")})
	waitCondition(t, func() bool { return ch.GetState(false) == connectivity.TransientFailure })

	call := ch.NewCall(CallOptions{Method: "/svc/M"}, func(context.Context, transport.ConnectedSubchannel) error {
		t.Fatal("invoke must not run")
		return nil
	})
	err := call.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestCall_cancelWhileQueuedForResolution(t *testing.T) {
	ch, _ := newTestChannel(t)
	ch.Connect()

	call := ch.NewCall(CallOptions{Method: "/svc/M"}, func(context.Context, transport.ConnectedSubchannel) error {
		t.Fatal("invoke must not run on a cancelled call")
		return nil
	})
	waitCondition(t, func() bool {
		ch.resMu.Lock()
		defer ch.resMu.Unlock()
		_, queued := ch.resolverQueue[call]
		return queued
	})

	call.Cancel(context.Canceled)
	err := call.Wait(context.Background())
	require.Error(t, err)
}

func waitCondition(t interface{ Fatal(args ...any) }, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func waitSerializerQuiesced(t *testing.T, ch *Channel) {
	t.Helper()
	done := make(chan struct{})
	ch.serializer.Schedule(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serializer never drained scheduled work")
	}
}
