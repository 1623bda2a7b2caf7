package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// bindListen creates a non-blocking TCP listening socket bound to
// addr:port with SO_REUSEADDR set and a backlog of 1024, built directly
// on unix syscalls rather than net.Listen so the resulting fd can be
// registered with the poller directly.
func bindListen(addr string, port int) (int, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return -1, fmt.Errorf("reactor: invalid bind address %q", addr)
	}

	var fd int
	var err error
	if ip4 := ip.To4(); ip4 != nil {
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			return -1, err
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, err
		}
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ip4)
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, err
		}
	} else {
		fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
		if err != nil {
			return -1, err
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, err
		}
		var sa unix.SockaddrInet6
		copy(sa.Addr[:], ip.To16())
		sa.Port = port
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}

	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(a.Addr[:]).String(), a.Port)
	default:
		return "unknown"
	}
}
