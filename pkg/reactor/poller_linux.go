//go:build linux

package reactor

import "golang.org/x/sys/unix"

// epollPoller is the Linux poller implementation, grounded on the
// pack's own epoll wrapper (joeycumines-go-utilpkg's FastPoller):
// edge-triggered registration, a preallocated event buffer reused
// across Wait calls, EINTR swallowed rather than surfaced.
type epollPoller struct {
	fd  int
	buf []unix.EpollEvent
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd, buf: make([]unix.EpollEvent, minBatch)}, nil
}

func epollFlags(readable, writable bool) uint32 {
	flags := uint32(unix.EPOLLET)
	if readable {
		flags |= unix.EPOLLIN
	}
	if writable {
		flags |= unix.EPOLLOUT
	}
	return flags
}

func (p *epollPoller) Register(fd int, readable, writable bool) error {
	ev := unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, readable, writable bool) error {
	ev := unix.EpollEvent{Events: epollFlags(readable, writable), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Unregister(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(out []Event, timeoutMs int) (int, error) {
	if len(p.buf) < minBatch {
		p.buf = make([]unix.EpollEvent, minBatch)
	}
	n, err := unix.EpollWait(p.fd, p.buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n && count < len(out); i++ {
		e := p.buf[i]
		out[count] = Event{
			FD:       int(e.Fd),
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&unix.EPOLLERR != 0,
			Hangup:   e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		}
		count++
	}
	return count, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
