//go:build !linux

package evnet

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller is the non-Linux fallback poller, built on select(2) via
// golang.org/x/sys/unix rather than a platform-specific readiness facility
// (kqueue, IOCP). It adapts the same backoff idea Atsika-aznet/poll.go uses
// for its polling loop: instead of backing off a fixed interval forever, it
// backs off the select timeout only while nothing has been registered or
// readied recently, and resets to a fast interval the moment wait returns
// any readiness. This keeps non-Linux builds correct (select is POSIX) at
// the cost of select's fd_set limits, which is an accepted tradeoff for a
// platform evnet does not optimize for.
type selectPoller struct {
	mu  sync.Mutex
	ids map[int]ResourceId

	backoff *adaptiveBackoff
}

func newPoller() (poller, error) {
	return &selectPoller{
		ids:     make(map[int]ResourceId),
		backoff: newAdaptiveBackoff(time.Millisecond, 50*time.Millisecond),
	}, nil
}

func (p *selectPoller) register(fd int, id ResourceId, interests interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids[fd] = id
	return nil
}

func (p *selectPoller) reregister(fd int, id ResourceId, interests interest) error {
	return nil // select(2) recomputes fd_sets from scratch every call
}

func (p *selectPoller) deregister(fd int, id ResourceId) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ids, fd)
	return nil
}

func (p *selectPoller) wait(dst []readiness, timeout time.Duration) ([]readiness, error) {
	p.mu.Lock()
	fds := make([]int, 0, len(p.ids))
	for fd := range p.ids {
		fds = append(fds, fd)
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		p.backoff.sleep(timeout)
		return dst, nil
	}

	var rfds unix.FdSet
	maxFd := 0
	for _, fd := range fds {
		rfds.Set(fd)
		if fd > maxFd {
			maxFd = fd
		}
	}

	wait := p.backoff.current()
	if timeout >= 0 && timeout < wait {
		wait = timeout
	}
	tv := unix.NsecToTimeval(wait.Nanoseconds())

	n, err := unix.Select(maxFd+1, &rfds, nil, nil, &tv)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("evnet: select: %w", err)
	}
	if n == 0 {
		p.backoff.backoff()
		return dst, nil
	}
	p.backoff.reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fd := range fds {
		if rfds.IsSet(fd) {
			if id, ok := p.ids[fd]; ok {
				dst = append(dst, readiness{id: id, read: true, write: true})
			}
		}
	}
	return dst, nil
}

func (p *selectPoller) close() error { return nil }

func (p *selectPoller) newWaker() (waker, error) {
	r, w, err := pipe2()
	if err != nil {
		return nil, err
	}
	if err := p.register(r, 0, interestRead); err != nil {
		return nil, err
	}
	return &pipeWaker{readFD: r, writeFD: w}, nil
}

type pipeWaker struct {
	readFD, writeFD int
}

func (w *pipeWaker) wake() error {
	_, err := unix.Write(w.writeFD, []byte{0})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (w *pipeWaker) close() error {
	_ = unix.Close(w.readFD)
	return unix.Close(w.writeFD)
}

func pipe2() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, fmt.Errorf("evnet: pipe2: %w", err)
	}
	return fds[0], fds[1], nil
}

// adaptiveBackoff is the non-Linux select poller's idle timeout schedule:
// it starts fast and doubles up to a steady ceiling, exactly like
// Atsika-aznet's AdaptivePoll, reset() on any observed activity.
type adaptiveBackoff struct {
	cur, fast, steady time.Duration
}

func newAdaptiveBackoff(fast, steady time.Duration) *adaptiveBackoff {
	return &adaptiveBackoff{cur: fast, fast: fast, steady: steady}
}

func (b *adaptiveBackoff) current() time.Duration { return b.cur }

func (b *adaptiveBackoff) backoff() {
	b.cur *= 2
	if b.cur > b.steady {
		b.cur = b.steady
	}
}

func (b *adaptiveBackoff) reset() { b.cur = b.fast }

func (b *adaptiveBackoff) sleep(timeout time.Duration) {
	d := b.cur
	if timeout >= 0 && timeout < d {
		d = timeout
	}
	time.Sleep(d)
}
