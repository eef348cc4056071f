// Package sock holds the raw socket plumbing shared by the resolver and
// the command: address conversion and non-blocking socket creation.
package sock

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Sockaddr converts ap to the unix representation.
func Sockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr().Unmap()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
}

// AddrPort converts sa back to a netip value. Non-IP addresses yield the
// zero AddrPort.
func AddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

// Family returns the address family for ap.
func Family(ap netip.AddrPort) int {
	if ap.Addr().Unmap().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// Socket creates a non-blocking, close-on-exec socket.
func Socket(family, typ int) (int, error) {
	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("socket: set nonblock: %w", err)
	}
	return fd, nil
}

// Listen opens a TCP listener on ap. With reusePort several listeners,
// one per scheduler, may share the address and the kernel balances
// connections between them.
func Listen(ap netip.AddrPort, backlog int, reusePort bool) (int, error) {
	fd, err := Socket(Family(ap), unix.SOCK_STREAM)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: SO_REUSEADDR: %w", ap, err)
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return -1, fmt.Errorf("listen %s: SO_REUSEPORT: %w", ap, err)
		}
	}
	if err := unix.Bind(fd, Sockaddr(ap)); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: bind: %w", ap, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", ap, err)
	}
	return fd, nil
}

// LocalAddr returns the address fd is bound to.
func LocalAddr(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return AddrPort(sa), nil
}
