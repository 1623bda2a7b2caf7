//go:build darwin || freebsd || netbsd || openbsd

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/Darwin poller implementation. Read and write
// interest are tracked as independent kqueue filters and coalesced back
// into one Event per fd on the way out, since spec-level code only
// thinks in terms of a single readable/writable pair per fd.
type kqueuePoller struct {
	fd  int
	buf []unix.Kevent_t
}

func newPoller() (poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &kqueuePoller{fd: fd, buf: make([]unix.Kevent_t, minBatch)}, nil
}

func (p *kqueuePoller) apply(fd int, readable, writable bool) error {
	changes := make([]unix.Kevent_t, 0, 2)
	if readable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if writable {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR})
	} else {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *kqueuePoller) Register(fd int, readable, writable bool) error {
	return p.apply(fd, readable, writable)
}

func (p *kqueuePoller) Modify(fd int, readable, writable bool) error {
	return p.apply(fd, readable, writable)
}

func (p *kqueuePoller) Unregister(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.fd, changes, nil, nil)
	if err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *kqueuePoller) Wait(out []Event, timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * int64(time.Millisecond))
		ts = &t
	}
	if len(p.buf) < minBatch {
		p.buf = make([]unix.Kevent_t, minBatch)
	}

	n, err := unix.Kevent(p.fd, nil, p.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	merged := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		k := p.buf[i]
		fd := int(k.Ident)
		e, ok := merged[fd]
		if !ok {
			e = &Event{FD: fd}
			merged[fd] = e
			order = append(order, fd)
		}
		switch k.Filter {
		case unix.EVFILT_READ:
			e.Readable = true
		case unix.EVFILT_WRITE:
			e.Writable = true
		}
		if k.Flags&unix.EV_EOF != 0 {
			e.Hangup = true
		}
		if k.Flags&unix.EV_ERROR != 0 {
			e.Error = true
		}
	}

	count := 0
	for _, fd := range order {
		if count >= len(out) {
			break
		}
		out[count] = *merged[fd]
		count++
	}
	return count, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.fd)
}
