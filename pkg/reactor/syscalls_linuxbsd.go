//go:build linux || freebsd || netbsd || openbsd

package reactor

import "golang.org/x/sys/unix"

// acceptNonblock accepts a connection already set non-blocking and
// close-on-exec in one syscall on platforms that support accept4.
func acceptNonblock(listenFD int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// selfPipe creates the non-blocking pipe used to wake the reactor
// goroutine out of a blocking poller.Wait from another goroutine.
func selfPipe() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
