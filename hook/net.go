package hook

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
)

// Accept accepts a connection on the listening socket fd. Inside a fiber
// it suspends until a connection is pending. The accepted descriptor is
// non-blocking and, for TCP, has Nagle's algorithm disabled.
func (h *Hook) Accept(ctx context.Context, fd int) (int, unix.Sockaddr, error) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Accept(fd)
	}
	if err := h.nonblock(fd); err != nil {
		return -1, nil, fail(f, err)
	}

	for {
		nfd, sa, err := h.sys.Accept(fd)
		if err == nil {
			if err := h.nonblock(nfd); err != nil {
				_ = h.sys.Close(nfd)
				return -1, nil, fail(f, err)
			}
			h.noDelay(nfd, sa)
			return nfd, sa, nil
		}
		if !wouldBlock(err) {
			return -1, nil, fail(f, err)
		}

		f.Logf("ACCEPT wait fd=%d", fd)
		if _, err := f.WaitFD(fd, fiber.EventRead, fiber.NoTimeout); err != nil {
			return -1, nil, fail(f, err)
		}
	}
}

// Connect connects the socket fd to sa. Inside a fiber an in-progress
// connect suspends until the socket is writable, and the pending socket
// error decides the result.
func (h *Hook) Connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Connect(fd, sa)
	}
	if err := h.nonblock(fd); err != nil {
		return fail(f, err)
	}

	for {
		err := h.sys.Connect(fd, sa)
		switch {
		case err == nil, errors.Is(err, unix.EISCONN):
			h.noDelay(fd, sa)
			return nil
		case wouldBlock(err):
			// Some platforms report a full backlog on unix sockets as
			// EAGAIN; wait and try again.
		case inProgress(err):
			f.Logf("CONNECT wait fd=%d", fd)
			if _, err := f.WaitFD(fd, fiber.EventWrite, fiber.NoTimeout); err != nil {
				return fail(f, err)
			}
			soerr, err := h.sys.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if err != nil {
				return fail(f, err)
			}
			if soerr != 0 {
				return fail(f, unix.Errno(soerr))
			}
			h.noDelay(fd, sa)
			return nil
		default:
			return fail(f, err)
		}

		if _, err := f.WaitFD(fd, fiber.EventWrite, fiber.NoTimeout); err != nil {
			return fail(f, err)
		}
	}
}

// Read reads from fd into p. Inside a fiber it suspends until fd is
// readable.
func (h *Hook) Read(ctx context.Context, fd int, p []byte) (int, error) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Read(fd, p)
	}
	if err := h.nonblock(fd); err != nil {
		return -1, fail(f, err)
	}

	for {
		n, err := h.sys.Read(fd, p)
		if err == nil {
			return n, nil
		}
		if !wouldBlock(err) {
			return n, fail(f, err)
		}
		if _, err := f.WaitFD(fd, fiber.EventRead, fiber.NoTimeout); err != nil {
			return -1, fail(f, err)
		}
	}
}

// Write writes all of p to fd. Inside a fiber it suspends whenever fd is
// not writable and returns once every byte has been written or an error
// occurs, reporting how many bytes were written.
func (h *Hook) Write(ctx context.Context, fd int, p []byte) (int, error) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Write(fd, p)
	}
	if err := h.nonblock(fd); err != nil {
		return 0, fail(f, err)
	}

	var written int
	for written < len(p) {
		n, err := h.sys.Write(fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil && n == 0:
			return written, fail(f, io.ErrShortWrite)
		case err == nil:
			continue
		case !wouldBlock(err):
			return written, fail(f, err)
		}
		if _, err := f.WaitFD(fd, fiber.EventWrite, fiber.NoTimeout); err != nil {
			return written, fail(f, err)
		}
	}
	return written, nil
}

// Recvfrom receives a datagram on fd. Inside a fiber it suspends until fd
// is readable.
func (h *Hook) Recvfrom(ctx context.Context, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Recvfrom(fd, p, flags)
	}
	if err := h.nonblock(fd); err != nil {
		return -1, nil, fail(f, err)
	}

	for {
		n, from, err := h.sys.Recvfrom(fd, p, flags)
		if err == nil {
			return n, from, nil
		}
		if !wouldBlock(err) {
			return n, nil, fail(f, err)
		}
		if _, err := f.WaitFD(fd, fiber.EventRead, fiber.NoTimeout); err != nil {
			return -1, nil, fail(f, err)
		}
	}
}

// Sendto sends a datagram on fd. Inside a fiber it suspends until fd is
// writable.
func (h *Hook) Sendto(ctx context.Context, fd int, p []byte, flags int, to unix.Sockaddr) error {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Sendto(fd, p, flags, to)
	}
	if err := h.nonblock(fd); err != nil {
		return fail(f, err)
	}

	for {
		err := h.sys.Sendto(fd, p, flags, to)
		if err == nil {
			return nil
		}
		if !wouldBlock(err) {
			return fail(f, err)
		}
		if _, err := f.WaitFD(fd, fiber.EventWrite, fiber.NoTimeout); err != nil {
			return fail(f, err)
		}
	}
}

// Accept calls Default().Accept.
func Accept(ctx context.Context, fd int) (int, unix.Sockaddr, error) {
	return Default().Accept(ctx, fd)
}

// Connect calls Default().Connect.
func Connect(ctx context.Context, fd int, sa unix.Sockaddr) error {
	return Default().Connect(ctx, fd, sa)
}

// Read calls Default().Read.
func Read(ctx context.Context, fd int, p []byte) (int, error) {
	return Default().Read(ctx, fd, p)
}

// Write calls Default().Write.
func Write(ctx context.Context, fd int, p []byte) (int, error) {
	return Default().Write(ctx, fd, p)
}

// Recvfrom calls Default().Recvfrom.
func Recvfrom(ctx context.Context, fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	return Default().Recvfrom(ctx, fd, p, flags)
}

// Sendto calls Default().Sendto.
func Sendto(ctx context.Context, fd int, p []byte, flags int, to unix.Sockaddr) error {
	return Default().Sendto(ctx, fd, p, flags, to)
}
