package evnet

import "time"

// interest describes which readiness notifications a registered fd wants.
type interest uint8

const (
	interestRead interest = 1 << iota
	interestWrite
)

// readiness reports which interests fired for one fd.
type readiness struct {
	id    ResourceId
	read  bool
	write bool
}

// poller is the abstract OS readiness primitive the engine multiplexes
// every transport's kernel sockets over. Per spec.md §1 the choice of
// underlying primitive (epoll, kqueue, IOCP, ...) is an external
// collaborator; poller is the contract evnet writes against, and
// poll_epoll_linux.go / poll_generic.go are two concrete implementations
// of it.
//
// register/deregister may be called from any goroutine but MUST be
// serialized per resource id by the caller (the adapter's registry lock
// already provides this). wait is only ever called from the node's single
// processor goroutine.
type poller interface {
	// register adds fd under id with the given interest set.
	register(fd int, id ResourceId, interests interest) error
	// reregister changes the interest set for an already-registered id.
	reregister(fd int, id ResourceId, interests interest) error
	// deregister removes id. Safe to call even if fd is already closed.
	deregister(fd int, id ResourceId) error
	// wait blocks up to timeout (or indefinitely if timeout < 0) for one or
	// more registered fds to become ready, or until woken. It appends
	// readiness events to dst and returns the extended slice. Spurious
	// wakeups with zero events are permitted.
	wait(dst []readiness, timeout time.Duration) ([]readiness, error)
	// newWaker returns a handle that, when Wake is called from any
	// goroutine, causes the current or next call to wait to return
	// promptly.
	newWaker() (waker, error)
	// close releases the poller's own resources (e.g. the epoll fd).
	close() error
}

// waker lets any goroutine interrupt a blocked wait call.
type waker interface {
	// wake signals the poller. Idempotent and safe to call concurrently;
	// coalesces multiple wakes that arrive before the poller observes one.
	wake() error
	// close releases the waker's own resources.
	close() error
}
