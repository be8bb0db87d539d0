package evnet

import (
	"sync"
	"time"
)

// NodeEventKind distinguishes the two streams a node fuses together.
type NodeEventKind uint8

const (
	NodeEventNetwork NodeEventKind = iota
	NodeEventSignal
)

// NodeEvent is what listener.for_each delivers: either a network Event or a
// user signal payload, tagged by Kind (spec.md §4.9).
type NodeEvent struct {
	Kind    NodeEventKind
	Network Event
	Signal  any
}

// Handler is the node's shareable half (spec.md §4.9): a NetworkController
// plus a signal Sender, safe to clone across any number of goroutines.
// Copies share the same underlying engine and signal queue.
type Handler struct {
	Network NetworkController
	Signals SignalSender

	proc  *NetworkProcessor
	sig   *signalQueue
	state *nodeState
}

type nodeState struct {
	stopOnce sync.Once
	stopped  chan struct{}
}

// Stop idempotently signals the node to wind down: it wakes the processor
// thread via the waker and closes the signal queue, per spec.md §4.9's
// Running -> Stopping -> Stopped transition. It does not itself block for
// for_each to observe and drain the final events; wait for ForEach to
// return (or join a NodeTask from ForEachAsync) for that.
func (h Handler) Stop() {
	h.state.stopOnce.Do(func() {
		close(h.state.stopped)
		go h.proc.Stop()
		h.sig.close()
	})
}

// IsRunning reports whether Stop has not yet been called.
func (h Handler) IsRunning() bool {
	select {
	case <-h.state.stopped:
		return false
	default:
		return true
	}
}

// Listener is the node's processing half: the network processor plus the
// signal Receiver, owned by whichever goroutine calls for_each.
type Listener struct {
	proc *NetworkProcessor
	sig  *signalQueue
}

// NodeTask is the join handle returned by ForEachAsync.
type NodeTask struct {
	done chan struct{}
}

// Join blocks until the asynchronous for_each loop has returned.
func (t NodeTask) Join() { <-t.done }

// EnqueuedReceiver is the owned-bytes alternative to ForEach/ForEachAsync
// (spec.md §9's zero-copy design note): every NodeEvent it yields has its
// network Data, if any, copied out of the adapter's decode buffer, so it
// remains valid after the receive call returns.
type EnqueuedReceiver struct {
	ch chan NodeEvent
}

// Recv returns the next event, or ok=false once the node has stopped and
// both streams are drained.
func (r EnqueuedReceiver) Recv() (NodeEvent, bool) {
	e, ok := <-r.ch
	return e, ok
}

// NewNode constructs a node: a poller, a network engine wired to it, and a
// signal queue, returning the shareable handler and the owned listener
// (spec.md §4.9's "construct a node -> (handler, listener)"). The processor
// thread is started immediately; no network events are missed between
// NewNode returning and the first ForEach call, since they accumulate on
// the processor's bounded hand-off channel.
func NewNode(metrics Metrics, maxBacklog, eventBuffer int) (Handler, *Listener, error) {
	if metrics == nil {
		metrics = NewDefaultMetrics()
	}
	poll, err := newPoller()
	if err != nil {
		return Handler{}, nil, err
	}
	proc, eng, err := newNetworkProcessor(poll, metrics, maxBacklog, eventBuffer)
	if err != nil {
		return Handler{}, nil, err
	}
	sig := newSignalQueue()

	go proc.run()

	h := Handler{
		Network: NetworkController{eng: eng},
		Signals: SignalSender{q: sig},
		proc:    proc,
		sig:     sig,
		state:   &nodeState{stopped: make(chan struct{})},
	}
	l := &Listener{proc: proc, sig: sig}
	return h, l, nil
}

// ForEach runs on the calling goroutine (spec.md §4.9): it drains network
// events and signal events in the order produced, forwarding each to cb,
// returning only once the node has been stopped and both streams are
// drained of due items.
func (l *Listener) ForEach(cb func(NodeEvent)) {
	sigCh := make(chan any)
	sigDone := make(chan struct{})
	go func() {
		defer close(sigDone)
		for {
			v, ok := SignalReceiver{q: l.sig}.receive()
			if !ok {
				return
			}
			sigCh <- v
		}
	}()

	netEvents := l.proc.Events()
	procDone := l.proc.done

	for {
		select {
		case e := <-netEvents:
			cb(NodeEvent{Kind: NodeEventNetwork, Network: e})
		case v := <-sigCh:
			cb(NodeEvent{Kind: NodeEventSignal, Signal: v})
		case <-procDone:
			l.drainRemaining(cb, netEvents, sigCh, sigDone)
			return
		}
	}
}

// drainRemaining delivers whatever is already buffered on either stream
// once the processor thread has fully exited, so nothing queued before the
// stop is lost (spec.md §4.9: "for_each returns only when... both queues
// are drained of due items").
func (l *Listener) drainRemaining(cb func(NodeEvent), netEvents <-chan Event, sigCh chan any, sigDone <-chan struct{}) {
	sigOpen := true
	for {
		select {
		case e := <-netEvents:
			cb(NodeEvent{Kind: NodeEventNetwork, Network: e})
			continue
		default:
		}
		if sigOpen {
			select {
			case v := <-sigCh:
				cb(NodeEvent{Kind: NodeEventSignal, Signal: v})
				continue
			case <-sigDone:
				sigOpen = false
				continue
			default:
			}
		}
		if len(netEvents) == 0 && !sigOpen {
			return
		}
		time.Sleep(time.Microsecond)
	}
}

// ForEachAsync runs the fusion loop on a dedicated goroutine, returning
// immediately with a join handle.
func (l *Listener) ForEachAsync(cb func(NodeEvent)) NodeTask {
	t := NodeTask{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		l.ForEach(cb)
	}()
	return t
}

// Enqueue runs the fusion loop on a background goroutine and hands events
// back through a channel-like receiver, for callers that would rather pull
// events than register a callback (spec.md §9's explicit owned-bytes mode).
// Network.Data already owns its bytes by the time it reaches this callback
// (copied at the processor's sink boundary, see newNetworkProcessor), so no
// further copy is needed here.
func (l *Listener) Enqueue() (EnqueuedReceiver, NodeTask) {
	ch := make(chan NodeEvent, 64)
	task := l.ForEachAsync(func(e NodeEvent) { ch <- e })
	go func() {
		task.Join()
		close(ch)
	}()
	return EnqueuedReceiver{ch: ch}, task
}
