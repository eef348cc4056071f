package echo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/hook"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(t *testing.T, schedulers int) *Server {
	t.Helper()

	h := hook.New(hook.WithLogger(discard))
	srv, err := NewServer(ServerConfig{
		Addr:       netip.MustParseAddrPort("127.0.0.1:0"),
		Schedulers: schedulers,
	}, h, discard)
	require.NoError(t, err)
	require.NotZero(t, srv.Addr().Port())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, srv.Close())
	})
	return srv
}

func TestEchoBlockingClient(t *testing.T) {
	r := require.New(t)
	srv := startServer(t, 1)

	reply, err := Dial(context.Background(), hook.New(hook.WithLogger(discard)), srv.Addr(), []byte("hello"))
	r.NoError(err)
	r.Equal("hello", string(reply))
}

func TestEchoManyFibers(t *testing.T) {
	r := require.New(t)
	srv := startServer(t, 2)

	h := hook.New(hook.WithLogger(discard))
	s, err := fiber.New(fiber.WithLogger(discard))
	r.NoError(err)
	defer s.Close()

	const clients = 200
	replies := make([]string, clients)
	for i := range clients {
		s.Go(func(ctx context.Context) {
			reply, err := Dial(ctx, h, srv.Addr(), []byte(fmt.Sprintf("client-%d", i)))
			r.NoError(err)
			replies[i] = string(reply)
		})
	}

	r.NoError(s.Run(context.Background()))
	for i, reply := range replies {
		r.Equal(fmt.Sprintf("client-%d", i), reply)
	}
}

func TestNewServerAddrInUse(t *testing.T) {
	r := require.New(t)
	srv := startServer(t, 1)

	_, err := NewServer(ServerConfig{Addr: srv.Addr(), Schedulers: 1}, hook.New(hook.WithLogger(discard)), discard)
	r.ErrorIs(err, unix.EADDRINUSE)

	err = closeOnError(unix.EADDRINUSE, unix.EBADF)
	r.ErrorIs(err, unix.EADDRINUSE)
	r.ErrorIs(err, unix.EBADF)
	r.Equal(unix.EADDRINUSE, closeOnError(unix.EADDRINUSE, nil))
}
