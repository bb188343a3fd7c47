package clientchannel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickerHolder_startsQueueAll(t *testing.T) {
	h := newPickerHolder()
	result := h.current().Pick(PickArgs{})
	assert.Equal(t, PickQueue, result.Kind)
}

func TestPickerHolder_enqueueRejectsStalePicker(t *testing.T) {
	h := newPickerHolder()
	seen := h.current()

	h.swap(failAllPicker{err: errors.New("replaced")})

	call := &CallCore{}
	queued, current := h.enqueue(call, seen)
	assert.False(t, queued)
	assert.NotNil(t, current)
}

func TestPickerHolder_enqueueAcceptsCurrentPicker(t *testing.T) {
	h := newPickerHolder()
	seen := h.current()

	call := &CallCore{}
	queued, _ := h.enqueue(call, seen)
	assert.True(t, queued)
	assert.Equal(t, 1, h.testQueuedCount())
}

func TestPickerHolder_swapDrainsAndReturnsQueuedCalls(t *testing.T) {
	h := newPickerHolder()
	seen := h.current()

	calls := []*CallCore{{}, {}, {}}
	for _, c := range calls {
		queued, _ := h.enqueue(c, seen)
		require.True(t, queued)
	}

	drained := h.swap(queueAllPicker{})
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, h.testQueuedCount())
}

func TestPickerHolder_remove(t *testing.T) {
	h := newPickerHolder()
	seen := h.current()
	call := &CallCore{}
	_, _ = h.enqueue(call, seen)
	h.remove(call)
	assert.Equal(t, 0, h.testQueuedCount())
}

func TestFailAllPicker(t *testing.T) {
	err := errors.New("boom")
	p := failAllPicker{err: err}
	result := p.Pick(PickArgs{})
	assert.Equal(t, PickFail, result.Kind)
	assert.Equal(t, err, result.Status)
}
