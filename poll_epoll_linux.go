//go:build linux

package evnet

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux poller implementation, built directly on
// golang.org/x/sys/unix the way the retrieval pack's raw-fd event loops
// (epoll/kqueue based servers) do: one epoll instance per node, sockets
// registered with EPOLLIN/EPOLLOUT as edge-oblivious (level-triggered)
// interest, and an eventfd-backed waker so controller goroutines can
// interrupt a blocked epoll_wait from any thread.
type epollPoller struct {
	epfd    int
	wakerFD int // 0 until newWaker is called; excluded from returned readiness

	mu  sync.Mutex
	ids map[int]ResourceId // fd -> resource id, for translating events back
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("evnet: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd, ids: make(map[int]ResourceId)}, nil
}

func epollEvents(i interest) uint32 {
	var ev uint32
	if i&interestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if i&interestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) register(fd int, id ResourceId, interests interest) error {
	p.mu.Lock()
	p.ids[fd] = id
	p.mu.Unlock()
	ev := &unix.EpollEvent{Events: epollEvents(interests), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.ids, fd)
		p.mu.Unlock()
		return fmt.Errorf("evnet: epoll_ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) reregister(fd int, id ResourceId, interests interest) error {
	ev := &unix.EpollEvent{Events: epollEvents(interests), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("evnet: epoll_ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) deregister(fd int, id ResourceId) error {
	p.mu.Lock()
	delete(p.ids, fd)
	p.mu.Unlock()
	// EPOLL_CTL_DEL may legitimately fail if fd was already closed (the
	// kernel auto-removes closed fds from the epoll set); that is not an
	// error condition the caller needs to see.
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) wait(dst []readiness, timeout time.Duration) ([]readiness, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	events := make([]unix.EpollEvent, 128)
	n, err := unix.EpollWait(p.epfd, events, ms)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("evnet: epoll_wait: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		id, ok := p.ids[fd]
		if !ok {
			continue // raced with deregister; drop the stale event
		}
		if fd == p.wakerFD {
			// Drain the eventfd counter so it doesn't stay readable
			// forever (eventfd is level-triggered on the read side);
			// the waker's only job is to unblock epoll_wait, never to
			// produce a user-visible readiness event.
			var buf [8]byte
			_, _ = unix.Read(fd, buf[:])
			continue
		}
		dst = append(dst, readiness{
			id:    id,
			read:  events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			write: events[i].Events&unix.EPOLLOUT != 0,
		})
	}
	return dst, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func (p *epollPoller) newWaker() (waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("evnet: eventfd: %w", err)
	}
	p.wakerFD = fd
	if err := p.register(fd, 0, interestRead); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &eventfdWaker{fd: fd}, nil
}

type eventfdWaker struct {
	fd int
}

func (w *eventfdWaker) wake() error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("evnet: eventfd write: %w", err)
	}
	return nil
}

func (w *eventfdWaker) close() error {
	return unix.Close(w.fd)
}
