package evnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForEvent collects NodeEvents from a channel-backed listener until pred
// matches one or the timeout elapses.
func waitForEvent(t *testing.T, recv EnqueuedReceiver, timeout time.Duration, pred func(NodeEvent) bool) NodeEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-recv.ch:
			require.True(t, ok, "receiver closed before matching event arrived")
			if pred(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for expected event")
		}
	}
}

func TestFramedTCPEchoRoundTrip(t *testing.T) {
	serverHandler, serverListener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer serverHandler.Stop()

	_, bound, err := serverHandler.Network.ListenFramedTCP("127.0.0.1:0")
	require.NoError(t, err)

	serverRecv, _ := serverListener.Enqueue()
	go func() {
		for {
			e, ok := serverRecv.Recv()
			if !ok {
				return
			}
			if e.Kind == NodeEventNetwork && e.Network.Kind == EventMessage {
				serverHandler.Network.Send(e.Network.Endpoint, e.Network.Data)
			}
		}
	}()

	clientHandler, clientListener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer clientHandler.Stop()

	clientRecv, _ := clientListener.Enqueue()

	ep, err := clientHandler.Network.ConnectSync(FramedTcp, Socket(bound.String()))
	require.NoError(t, err)

	status := clientHandler.Network.Send(ep, []byte("ping"))
	assert.Equal(t, Sent, status)

	echoed := waitForEvent(t, clientRecv, 2*time.Second, func(e NodeEvent) bool {
		return e.Kind == NodeEventNetwork && e.Network.Kind == EventMessage
	})
	assert.Equal(t, "ping", string(echoed.Network.Data))
}

func TestFramedTCPMultipleMessagesPreserveBoundaries(t *testing.T) {
	serverHandler, serverListener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer serverHandler.Stop()

	_, bound, err := serverHandler.Network.ListenFramedTCP("127.0.0.1:0")
	require.NoError(t, err)

	serverRecv, _ := serverListener.Enqueue()
	go func() {
		for {
			e, ok := serverRecv.Recv()
			if !ok {
				return
			}
			if e.Kind == NodeEventNetwork && e.Network.Kind == EventMessage {
				serverHandler.Network.Send(e.Network.Endpoint, e.Network.Data)
			}
		}
	}()

	clientHandler, clientListener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer clientHandler.Stop()
	clientRecv, _ := clientListener.Enqueue()

	ep, err := clientHandler.Network.ConnectSync(FramedTcp, Socket(bound.String()))
	require.NoError(t, err)

	for _, msg := range []string{"first", "second", "third"} {
		require.Equal(t, Sent, clientHandler.Network.Send(ep, []byte(msg)))
	}

	var got []string
	for len(got) < 3 {
		e := waitForEvent(t, clientRecv, 2*time.Second, func(e NodeEvent) bool {
			return e.Kind == NodeEventNetwork && e.Network.Kind == EventMessage
		})
		got = append(got, string(e.Network.Data))
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestUDPDatagramExchangeViaSynthesizedEndpoint(t *testing.T) {
	aHandler, aListener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer aHandler.Stop()
	bHandler, bListener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer bHandler.Stop()

	_, aBound, err := aHandler.Network.ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	_, _, err = bHandler.Network.ListenUDP("127.0.0.1:0")
	require.NoError(t, err)

	aRecv, _ := aListener.Enqueue()
	bRecv, _ := bListener.Enqueue()

	bEndpoint, _, err := bHandler.Network.ConnectUDP(aBound.String())
	require.NoError(t, err)

	require.Equal(t, Sent, bHandler.Network.Send(bEndpoint, []byte("hello from b")))

	// a's listener never owns a dedicated remote for b; the Message event
	// carries a's own listener resource id paired with b's address.
	msg := waitForEvent(t, aRecv, 2*time.Second, func(e NodeEvent) bool {
		return e.Kind == NodeEventNetwork && e.Network.Kind == EventMessage
	})
	assert.Equal(t, "hello from b", string(msg.Network.Data))

	require.Equal(t, Sent, aHandler.Network.Send(msg.Network.Endpoint, []byte("hello from a")))

	reply := waitForEvent(t, bRecv, 2*time.Second, func(e NodeEvent) bool {
		return e.Kind == NodeEventNetwork && e.Network.Kind == EventMessage
	})
	assert.Equal(t, "hello from a", string(reply.Network.Data))
}

func TestTCPAsyncConnectFailureEmitsConnectedNotOK(t *testing.T) {
	handler, listener, err := NewNode(nil, DefaultMaxBacklog, 64)
	require.NoError(t, err)
	defer handler.Stop()

	recv, _ := listener.Enqueue()

	// Bind a listener and immediately close it so the port refuses
	// connections, forcing the async connect to fail.
	tmpHandler, _, err := NewNode(nil, DefaultMaxBacklog, 1)
	require.NoError(t, err)
	tmpID, bound, err := tmpHandler.Network.ListenTCP("127.0.0.1:0")
	require.NoError(t, err)
	require.True(t, tmpHandler.Network.Remove(tmpID))
	tmpHandler.Stop()

	_, _, err = handler.Network.ConnectTCP(bound.String())
	require.NoError(t, err)

	e := waitForEvent(t, recv, 2*time.Second, func(e NodeEvent) bool {
		return e.Kind == NodeEventNetwork && e.Network.Kind == EventConnected
	})
	assert.False(t, e.Network.OK)
}

func TestSendToUnknownResourceReturnsResourceNotFound(t *testing.T) {
	handler, _, err := NewNode(nil, DefaultMaxBacklog, 1)
	require.NoError(t, err)
	defer handler.Stop()

	bogus := newEndpoint(ResourceId(1), nil)
	assert.Equal(t, ResourceNotFound, handler.Network.Send(bogus, []byte("x")))
}

func TestHandlerStopIsIdempotent(t *testing.T) {
	handler, _, err := NewNode(nil, DefaultMaxBacklog, 1)
	require.NoError(t, err)
	assert.True(t, handler.IsRunning())
	handler.Stop()
	handler.Stop()
	assert.False(t, handler.IsRunning())
}
