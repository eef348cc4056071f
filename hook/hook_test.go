package hook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/internal/sock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newScheduler(t *testing.T) *fiber.Scheduler {
	t.Helper()
	s, err := fiber.New(fiber.WithLogger(discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func newSocketpair(t *testing.T, typ int) (a, b int) {
	t.Helper()
	sp, err := unix.Socketpair(unix.AF_UNIX, typ, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(sp[0])
		_ = unix.Close(sp[1])
	})
	return sp[0], sp[1]
}

func TestInstallOnce(t *testing.T) {
	r := require.New(t)

	h := Install(WithLogger(discard))
	r.Same(h, Install(WithSyscalls(failAccept{})))
	r.Same(h, Default())
	r.IsType(System{}, h.Syscalls())
}

func TestPassthrough(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))

	rfd, wfd := newPipe(t)
	_, err := h.Write(context.Background(), wfd, []byte("abc"))
	r.NoError(err)

	buf := make([]byte, 8)
	n, err := h.Read(context.Background(), rfd, buf)
	r.NoError(err)
	r.Equal("abc", string(buf[:n]))

	flags, err := unix.FcntlInt(uintptr(rfd), unix.F_GETFL, 0)
	r.NoError(err)
	r.Zero(flags&unix.O_NONBLOCK, "outside a fiber the descriptor is left alone")
}

func TestAcceptConnectEcho(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	lfd, err := sock.Listen(netip.MustParseAddrPort("127.0.0.1:0"), 16, false)
	r.NoError(err)
	defer unix.Close(lfd)
	addr, err := sock.LocalAddr(lfd)
	r.NoError(err)

	var (
		echoed  string
		nodelay int
	)

	server := s.Go(func(ctx context.Context) {
		cfd, peer, err := h.Accept(ctx, lfd)
		r.NoError(err)
		defer unix.Close(cfd)
		r.True(sock.AddrPort(peer).Addr().IsLoopback())

		nodelay, err = unix.GetsockoptInt(cfd, unix.IPPROTO_TCP, unix.TCP_NODELAY)
		r.NoError(err)

		buf := make([]byte, 64)
		n, err := h.Read(ctx, cfd, buf)
		r.NoError(err)
		_, err = h.Write(ctx, cfd, buf[:n])
		r.NoError(err)
	})

	s.Go(func(ctx context.Context) {
		r.Equal(fiber.StatusWaitingIO, server.Status())

		fd, err := sock.Socket(unix.AF_INET, unix.SOCK_STREAM)
		r.NoError(err)
		defer unix.Close(fd)

		r.NoError(h.Connect(ctx, fd, sock.Sockaddr(addr)))
		_, err = h.Write(ctx, fd, []byte("ping"))
		r.NoError(err)

		buf := make([]byte, 64)
		n, err := h.Read(ctx, fd, buf)
		r.NoError(err)
		echoed = string(buf[:n])
	})

	r.NoError(s.Run(context.Background()))
	r.Equal("ping", echoed)
	r.Equal(1, nodelay)
}

func TestConnectRefused(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	lfd, err := sock.Listen(netip.MustParseAddrPort("127.0.0.1:0"), 1, false)
	r.NoError(err)
	addr, err := sock.LocalAddr(lfd)
	r.NoError(err)
	r.NoError(unix.Close(lfd))

	s.Go(func(ctx context.Context) {
		fd, err := sock.Socket(unix.AF_INET, unix.SOCK_STREAM)
		r.NoError(err)
		defer unix.Close(fd)

		err = h.Connect(ctx, fd, sock.Sockaddr(addr))
		r.ErrorIs(err, unix.ECONNREFUSED)
		r.ErrorIs(fiber.MustFromContext(ctx).Err(), unix.ECONNREFUSED)
	})
	r.NoError(s.Run(context.Background()))
}

type failAccept struct{ System }

func (failAccept) Accept(int) (int, unix.Sockaddr, error) { return -1, nil, unix.EMFILE }

func TestAcceptErrorReturnedVerbatim(t *testing.T) {
	r := require.New(t)
	h := New(WithSyscalls(failAccept{}), WithLogger(discard))
	s := newScheduler(t)

	lfd, err := sock.Listen(netip.MustParseAddrPort("127.0.0.1:0"), 1, false)
	r.NoError(err)
	defer unix.Close(lfd)

	s.Go(func(ctx context.Context) {
		f := fiber.MustFromContext(ctx)
		_, _, err := h.Accept(ctx, lfd)
		r.Equal(unix.EMFILE, err)
		r.Equal(unix.EMFILE, f.Err())
		r.Zero(s.IOCount())
	})
	r.NoError(s.Run(context.Background()))
}

// countWaits reports how often the wrapped Read would block.
type countWaits struct {
	System
	blocked int
}

func (c *countWaits) Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if wouldBlock(err) {
		c.blocked++
	}
	return n, err
}

func TestReadSuspends(t *testing.T) {
	r := require.New(t)
	sys := new(countWaits)
	h := New(WithSyscalls(sys), WithLogger(discard))
	s := newScheduler(t)

	rfd, wfd := newPipe(t)

	var got string
	reader := s.Go(func(ctx context.Context) {
		buf := make([]byte, 16)
		n, err := h.Read(ctx, rfd, buf)
		r.NoError(err)
		got = string(buf[:n])
	})
	s.Go(func(ctx context.Context) {
		r.Equal(fiber.StatusWaitingIO, reader.Status())
		r.Equal(1, s.IOCount())
		r.NoError(fiber.MustFromContext(ctx).Sleep(5 * time.Millisecond))
		_, err := unix.Write(wfd, []byte("late"))
		r.NoError(err)
	})

	r.NoError(s.Run(context.Background()))
	r.Equal("late", got)
	r.Equal(1, sys.blocked)

	flags, err := unix.FcntlInt(uintptr(rfd), unix.F_GETFL, 0)
	r.NoError(err)
	r.NotZero(flags & unix.O_NONBLOCK)
}

func TestWriteAll(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	a, b := newSocketpair(t, unix.SOCK_STREAM)
	r.NoError(unix.SetsockoptInt(a, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))

	payload := bytes.Repeat([]byte("0123456789abcdef"), 1<<16)
	var received bytes.Buffer

	s.Go(func(ctx context.Context) {
		n, err := h.Write(ctx, a, payload)
		r.NoError(err)
		r.Equal(len(payload), n)
		r.NoError(unix.Shutdown(a, unix.SHUT_WR))
	})
	s.Go(func(ctx context.Context) {
		buf := make([]byte, 8192)
		for {
			n, err := h.Read(ctx, b, buf)
			r.NoError(err)
			if n == 0 {
				return
			}
			received.Write(buf[:n])
		}
	})

	r.NoError(s.Run(context.Background()))
	r.Equal(payload, received.Bytes())
}

func TestDatagram(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	a, b := newSocketpair(t, unix.SOCK_DGRAM)

	var got []string
	s.Go(func(ctx context.Context) {
		buf := make([]byte, 64)
		for range 2 {
			n, _, err := h.Recvfrom(ctx, b, buf, 0)
			r.NoError(err)
			got = append(got, string(buf[:n]))
		}
	})
	s.Go(func(ctx context.Context) {
		r.NoError(h.Sendto(ctx, a, []byte("one"), 0, nil))
		r.NoError(fiber.MustFromContext(ctx).Yield())
		r.NoError(h.Sendto(ctx, a, []byte("two"), 0, nil))
	})

	r.NoError(s.Run(context.Background()))
	r.Equal([]string{"one", "two"}, got)
}
