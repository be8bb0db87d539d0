package evnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalQueueNormalIsFIFO(t *testing.T) {
	q := newSignalQueue()
	sender := SignalSender{q: q}
	sender.Send("a")
	sender.Send("b")
	sender.Send("c")

	recv := SignalReceiver{q: q}
	var got []string
	for i := 0; i < 3; i++ {
		v, ok := recv.receive()
		require.True(t, ok)
		got = append(got, v.(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSignalQueuePriorityInterleaving(t *testing.T) {
	// spec scenario: enqueue normal N1, N2, high H1, H2 all at t=now.
	// delivery order: H2, H1, N1, N2.
	q := newSignalQueue()
	sender := SignalSender{q: q}
	sender.Send("N1")
	sender.Send("N2")
	sender.SendWithPriority("H1")
	sender.SendWithPriority("H2")

	recv := SignalReceiver{q: q}
	var got []string
	for i := 0; i < 4; i++ {
		v, ok := recv.receive()
		require.True(t, ok)
		got = append(got, v.(string))
	}
	assert.Equal(t, []string{"H2", "H1", "N1", "N2"}, got)
}

func TestSignalQueueTimerAndCancel(t *testing.T) {
	// spec scenario: enqueue A with 100ms timer, B with 50ms timer, then
	// cancel A. Delivered sequence is [B] only.
	q := newSignalQueue()
	sender := SignalSender{q: q}
	idA := sender.SendWithTimer("A", 100*time.Millisecond)
	sender.SendWithTimer("B", 50*time.Millisecond)

	removed := sender.CancelTimer(idA)
	assert.True(t, removed)

	recv := SignalReceiver{q: q}
	v, ok := recv.receive()
	require.True(t, ok)
	assert.Equal(t, "B", v)

	// A was cancelled: cancelling again reports nothing removed.
	assert.False(t, sender.CancelTimer(idA))
}

func TestSignalQueueCancelAlreadyDeliveredReturnsFalse(t *testing.T) {
	q := newSignalQueue()
	sender := SignalSender{q: q}
	id := sender.SendWithTimer("v", 0)

	recv := SignalReceiver{q: q}
	_, ok := recv.receive()
	require.True(t, ok)

	assert.False(t, sender.CancelTimer(id))
}

func TestSignalQueueReceiveBlocksUntilDeadline(t *testing.T) {
	q := newSignalQueue()
	sender := SignalSender{q: q}
	start := time.Now()
	sender.SendWithTimer("late", 30*time.Millisecond)

	recv := SignalReceiver{q: q}
	v, ok := recv.receive()
	elapsed := time.Since(start)

	require.True(t, ok)
	assert.Equal(t, "late", v)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestSignalQueueCloseDrainsOnlyDueItems(t *testing.T) {
	q := newSignalQueue()
	sender := SignalSender{q: q}
	sender.Send("due-now")
	sender.SendWithTimer("future", time.Hour)

	q.close()

	recv := SignalReceiver{q: q}
	v, ok := recv.receive()
	require.True(t, ok)
	assert.Equal(t, "due-now", v)

	_, ok = recv.receive()
	assert.False(t, ok, "closed queue must not block waiting on a future deadline")
}
