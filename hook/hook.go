// Package hook presents standard blocking socket and name-resolution
// entry points that cooperate with the fiber scheduler.
//
// Each call takes a context. When the context carries a fiber (see
// fiber.FromContext) the descriptor is switched to non-blocking mode,
// the operation is attempted, and a would-block outcome suspends only
// the calling fiber until the event engine reports readiness; the call
// then retries and returns exactly what the blocking call would have.
// Errors other than would-block are returned unchanged. When the context
// carries no fiber the call goes straight to the real implementation.
//
// The real implementations form a Syscalls table, wrapped by a Hook.
// The process-wide Hook used by the package-level functions is built
// once, by the first call to Install or Default.
package hook

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
)

// Syscalls is the table of real, possibly blocking, entry points that a
// Hook wraps. System is the implementation backed by the kernel.
type Syscalls interface {
	Accept(fd int) (nfd int, sa unix.Sockaddr, err error)
	Connect(fd int, sa unix.Sockaddr) error
	Read(fd int, p []byte) (n int, err error)
	Write(fd int, p []byte) (n int, err error)
	Recvfrom(fd int, p []byte, flags int) (n int, from unix.Sockaddr, err error)
	Sendto(fd int, p []byte, flags int, to unix.Sockaddr) error
	Poll(fds []unix.PollFd, timeout int) (n int, err error)
	Close(fd int) error
	FcntlInt(fd uintptr, cmd, arg int) (int, error)
	SetNonblock(fd int, nonblocking bool) error
	GetsockoptInt(fd, level, opt int) (int, error)
	SetsockoptInt(fd, level, opt, value int) error
}

// System implements Syscalls with golang.org/x/sys/unix.
type System struct{}

var _ Syscalls = System{}

func (System) Accept(fd int) (int, unix.Sockaddr, error) { return unix.Accept(fd) }

func (System) Connect(fd int, sa unix.Sockaddr) error { return unix.Connect(fd, sa) }

func (System) Read(fd int, p []byte) (int, error) { return unix.Read(fd, p) }

func (System) Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

func (System) Recvfrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	return unix.Recvfrom(fd, p, flags)
}

func (System) Sendto(fd int, p []byte, flags int, to unix.Sockaddr) error {
	return unix.Sendto(fd, p, flags, to)
}

func (System) Poll(fds []unix.PollFd, timeout int) (int, error) { return unix.Poll(fds, timeout) }

func (System) Close(fd int) error { return unix.Close(fd) }

func (System) FcntlInt(fd uintptr, cmd, arg int) (int, error) { return unix.FcntlInt(fd, cmd, arg) }

func (System) SetNonblock(fd int, nonblocking bool) error { return unix.SetNonblock(fd, nonblocking) }

func (System) GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

func (System) SetsockoptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

// Hook wraps a Syscalls table with fiber-aware versions of each entry
// point. A Hook holds no per-call state and may be shared by
// schedulers running on different threads.
type Hook struct {
	sys      Syscalls
	resolver Resolver
	logger   *slog.Logger
}

type options struct {
	sys      Syscalls
	resolver Resolver
	logger   *slog.Logger
}

// Option configures a Hook.
type Option func(*options)

// WithSyscalls replaces the real implementations, e.g. with a fake in
// tests.
func WithSyscalls(sys Syscalls) Option {
	return func(opts *options) {
		if sys != nil {
			opts.sys = sys
		}
	}
}

// WithResolver sets the name-resolution collaborator. Without one, name
// lookups use net.DefaultResolver, which blocks the calling thread and
// so every fiber of its scheduler.
func WithResolver(r Resolver) Option {
	return func(opts *options) {
		if r != nil {
			opts.resolver = r
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// New returns a Hook. Most programs use Install instead.
func New(opts ...Option) *Hook {
	cfg := options{
		sys:      System{},
		resolver: netResolver{r: net.DefaultResolver},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Hook{
		sys:      cfg.sys,
		resolver: cfg.resolver,
		logger:   cfg.logger,
	}
}

var (
	installOnce sync.Once
	installed   *Hook
)

// Install builds the process-wide Hook from opts the first time it is
// called and returns it. Later calls, and calls to Default, return the
// same Hook and ignore their options, so Install should run during
// program initialization, before any fiber uses the package-level
// functions.
func Install(opts ...Option) *Hook {
	installOnce.Do(func() {
		installed = New(opts...)
	})
	return installed
}

// Default returns the process-wide Hook, installing one with default
// options if none has been installed.
func Default() *Hook {
	return Install()
}

// Syscalls returns the real implementations wrapped by h.
func (h *Hook) Syscalls() Syscalls {
	return h.sys
}

// nonblock puts fd in non-blocking mode unless it already is, which
// keeps the call idempotent even when descriptor numbers are reused.
func (h *Hook) nonblock(fd int) error {
	flags, err := h.sys.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if flags&unix.O_NONBLOCK != 0 {
		return nil
	}
	return h.sys.SetNonblock(fd, true)
}

// noDelay disables Nagle's algorithm on TCP sockets. Failures are not
// fatal to the caller.
func (h *Hook) noDelay(fd int, sa unix.Sockaddr) {
	switch sa.(type) {
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
	default:
		return
	}
	if err := h.sys.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		h.logger.Debug("hook: set TCP_NODELAY", slog.Int("fd", fd), slog.Any("err", err))
	}
}

// fail records err in the fiber's error slot and returns it.
func fail(f *fiber.Fiber, err error) error {
	f.SetErr(err)
	return err
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func inProgress(err error) bool {
	return errors.Is(err, unix.EINPROGRESS) || errors.Is(err, unix.EALREADY)
}
