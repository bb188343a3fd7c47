package clientchannel

import (
	"testing"
	"time"

	"github.com/joeycumines/go-clientchannel/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/resolver"
)

func TestSubchannelWrapper_notificationRedispatchesOntoSerializer(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	notified := make(chan connectivity.State, 4)
	w.WatchConnectivityState(func(state connectivity.State, _ error) {
		notified <- state
	})

	fake := w.internal.(*transport.Fake)
	fake.SetState(connectivity.Ready, nil)

	select {
	case s := <-notified:
		assert.Equal(t, connectivity.Ready, s)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never notified")
	}
}

func TestSubchannelWrapper_statusMaskingOnlyForwardsOnTransientFailure(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	type notification struct {
		state  connectivity.State
		status error
	}
	notified := make(chan notification, 4)
	w.WatchConnectivityState(func(state connectivity.State, status error) {
		notified <- notification{state, status}
	})

	fake := w.internal.(*transport.Fake)
	fake.SetState(connectivity.Ready, assert.AnError)
	select {
	case n := <-notified:
		assert.Equal(t, connectivity.Ready, n.state)
		assert.NoError(t, n.status)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never notified for READY")
	}

	fake.SetState(connectivity.TransientFailure, assert.AnError)
	select {
	case n := <-notified:
		assert.Equal(t, connectivity.TransientFailure, n.state)
		assert.Equal(t, assert.AnError, n.status)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never notified for TRANSIENT_FAILURE")
	}
}

func TestSubchannelWrapper_keepaliveThrottlePropagatesToChannel(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)
	w.WatchConnectivityState(func(connectivity.State, error) {})

	fake := w.internal.(*transport.Fake)
	fake.SetKeepaliveThrottleNotification(assert.AnError, 5_000_000_000)

	waitCondition(t, func() bool { return fake.KeepaliveNanos() >= 5_000_000_000 })
}

func TestSubchannelWrapper_dataWatcherFanOut(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	var gotA, gotB any
	w.AddDataWatcher(func(data any) { gotA = data })
	h := w.AddDataWatcher(func(data any) { gotB = data })

	w.notifyDataWatchers("hello")
	assert.Equal(t, "hello", gotA)
	assert.Equal(t, "hello", gotB)

	w.CancelDataWatcher(h)
	gotB = nil
	w.notifyDataWatchers("world")
	assert.Equal(t, "world", gotA)
	assert.Nil(t, gotB)
}

func TestSubchannelWrapper_closeIsIdempotentAndReleasesSubchannel(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	w.Close()
	assert.Len(t, ch.controlHelper.liveWrappers(), 0)

	assert.NotPanics(t, func() { w.Close() })
}

func TestSubchannelWrapper_cancelConnectivityStateWatchClearsWatcher(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	notified := make(chan connectivity.State, 1)
	w.WatchConnectivityState(func(state connectivity.State, _ error) { notified <- state })
	w.CancelConnectivityStateWatch()

	fake := w.internal.(*transport.Fake)
	fake.SetState(connectivity.Ready, nil)

	select {
	case s := <-notified:
		t.Fatalf("watcher should have been cancelled, got %v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubchannelWrapper_forwardsConnectRequestAndResetBackoff(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	fake := w.internal.(*transport.Fake)
	w.RequestConnection()
	w.ResetBackoff()
	assert.Equal(t, 1, fake.ConnectRequests())
}

func TestSubchannelWrapper_connectedSubchannelOnlyWhenReady(t *testing.T) {
	ch, _ := newTestChannel(t)
	w, err := ch.controlHelper.CreateSubchannel(resolver.Address{Addr: "127.0.0.1:1"}, SubchannelArgs{})
	require.NoError(t, err)

	assert.Nil(t, w.ConnectedSubchannel())

	fake := w.internal.(*transport.Fake)
	fake.SetState(connectivity.Ready, nil)
	assert.NotNil(t, w.ConnectedSubchannel())
}
