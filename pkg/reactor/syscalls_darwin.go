//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// acceptNonblock accepts a connection and then applies non-blocking and
// close-on-exec separately, since Darwin has no accept4 syscall.
func acceptNonblock(listenFD int) (int, unix.Sockaddr, error) {
	fd, sa, err := unix.Accept(listenFD)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sa, nil
}

// selfPipe creates the non-blocking pipe used to wake the reactor
// goroutine out of a blocking poller.Wait from another goroutine.
// Darwin has no pipe2 syscall, so the flags are applied after pipe(2).
func selfPipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}
