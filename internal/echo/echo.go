// Package echo is a TCP echo server and client written in blocking
// style on top of fibers and the hook package. Each server scheduler
// runs on its own OS thread with its own SO_REUSEPORT listener.
package echo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/hook"
	"github.com/webriots/fiber/internal/sock"
)

const bufSize = 4096

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr       netip.AddrPort
	Schedulers int
	Backlog    int
	StackSize  int
	MaxEvents  int
}

// Server echoes every byte it receives back to the sender.
type Server struct {
	cfg       ServerConfig
	hook      *hook.Hook
	logger    *slog.Logger
	listeners []int
	addr      netip.AddrPort
}

// NewServer opens one listener per scheduler. When cfg.Addr has port 0
// the first listener picks the port and the others share it.
func NewServer(cfg ServerConfig, h *hook.Hook, logger *slog.Logger) (*Server, error) {
	if cfg.Schedulers <= 0 {
		cfg.Schedulers = 1
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = unix.SOMAXCONN
	}

	s := &Server{cfg: cfg, hook: h, logger: logger, addr: cfg.Addr}
	reusePort := cfg.Schedulers > 1
	for i := range cfg.Schedulers {
		fd, err := sock.Listen(s.addr, cfg.Backlog, reusePort)
		if err != nil {
			return nil, closeOnError(err, s.Close())
		}
		s.listeners = append(s.listeners, fd)

		if i == 0 {
			if s.addr, err = sock.LocalAddr(fd); err != nil {
				return nil, closeOnError(err, s.Close())
			}
		}
	}
	return s, nil
}

func closeOnError(err, closeErr error) error {
	if closeErr != nil {
		return multierror.Append(err, closeErr)
	}
	return err
}

// Addr returns the address the server listens on.
func (s *Server) Addr() netip.AddrPort {
	return s.addr
}

// Serve runs every scheduler until ctx ends or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, lfd := range s.listeners {
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			return s.serve(gctx, i, lfd)
		})
	}
	return g.Wait()
}

func (s *Server) serve(ctx context.Context, id, lfd int) error {
	logger := s.logger.With(slog.Int("scheduler", id))

	opts := []fiber.Option{fiber.WithLogger(logger)}
	if s.cfg.StackSize > 0 {
		opts = append(opts, fiber.WithStackSize(s.cfg.StackSize))
	}
	if s.cfg.MaxEvents > 0 {
		opts = append(opts, fiber.WithMaxEvents(s.cfg.MaxEvents))
	}
	sched, err := fiber.New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Close(); err != nil {
			logger.Warn("close scheduler", slog.Any("err", err))
		}
	}()

	sched.Go(func(ctx context.Context) { s.accept(ctx, logger, lfd) })

	logger.Info("serving", slog.String("addr", s.addr.String()))
	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) accept(ctx context.Context, logger *slog.Logger, lfd int) {
	f := fiber.MustFromContext(ctx)
	for {
		cfd, sa, err := s.hook.Accept(ctx, lfd)
		switch {
		case errors.Is(err, fiber.ErrSchedulerClosed):
			return
		case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
			logger.Warn("accept", slog.Any("err", err))
			if err := f.Sleep(100 * time.Millisecond); err != nil {
				return
			}
			continue
		case err != nil:
			logger.Error("accept", slog.Any("err", err))
			return
		}

		peer := sock.AddrPort(sa)
		f.Go(func(ctx context.Context) {
			defer unix.Close(cfd)
			n, err := s.echo(ctx, cfd)
			logger.Debug("connection closed",
				slog.String("peer", peer.String()),
				slog.Int64("bytes", n),
				slog.Any("err", err),
			)
		})
	}
}

func (s *Server) echo(ctx context.Context, fd int) (int64, error) {
	var total int64
	buf := make([]byte, bufSize)
	for {
		n, err := s.hook.Read(ctx, fd, buf)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		if _, err := s.hook.Write(ctx, fd, buf[:n]); err != nil {
			return total, err
		}
		total += int64(n)
	}
}

// Close closes the listeners.
func (s *Server) Close() error {
	var merr error
	for _, fd := range s.listeners {
		if err := unix.Close(fd); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("close listener: %w", err))
		}
	}
	s.listeners = nil
	return merr
}

// Dial connects to addr, sends payload and reads back the echo. Inside a
// fiber only the calling fiber waits.
func Dial(ctx context.Context, h *hook.Hook, addr netip.AddrPort, payload []byte) ([]byte, error) {
	fd, err := sock.Socket(sock.Family(addr), unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	if _, ok := fiber.FromContext(ctx); !ok {
		if err := unix.SetNonblock(fd, false); err != nil {
			return nil, err
		}
	}
	if err := h.Connect(ctx, fd, sock.Sockaddr(addr)); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if _, err := h.Write(ctx, fd, payload); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	var reply bytes.Buffer
	buf := make([]byte, bufSize)
	for reply.Len() < len(payload) {
		n, err := h.Read(ctx, fd, buf)
		if err != nil {
			return reply.Bytes(), fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return reply.Bytes(), fmt.Errorf("read: %w", unix.ECONNRESET)
		}
		reply.Write(buf[:n])
	}
	return reply.Bytes(), nil
}
