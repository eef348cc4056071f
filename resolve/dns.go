// Package resolve provides name resolvers for the hook package: a UDP
// DNS client whose socket I/O goes through the hook, so a lookup inside
// a fiber suspends only that fiber, and a static map resolver.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
	"github.com/webriots/fiber/hook"
	"github.com/webriots/fiber/internal/sock"
)

var (
	// ErrNotFound reports that the name does not exist.
	ErrNotFound = fmt.Errorf("resolve: name not found: %w", hook.HostNotFound)
	// ErrTimeout reports that no server answered in time.
	ErrTimeout = fmt.Errorf("resolve: timed out: %w", hook.TryAgain)
)

const (
	DefaultServer   = "8.8.8.8:53"
	DefaultTimeout  = 2 * time.Second
	DefaultAttempts = 2

	maxMessageSize = 1232
)

// DNS resolves A records over UDP against a single server.
type DNS struct {
	server   netip.AddrPort
	timeout  time.Duration
	attempts int
	hook     *hook.Hook
	logger   *slog.Logger
}

var _ hook.Resolver = (*DNS)(nil)

type options struct {
	server   netip.AddrPort
	timeout  time.Duration
	attempts int
	hook     *hook.Hook
	logger   *slog.Logger
}

// Option configures a DNS resolver.
type Option func(*options)

// WithServer sets the server address.
func WithServer(ap netip.AddrPort) Option {
	return func(opts *options) {
		if ap.IsValid() {
			opts.server = ap
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(opts *options) {
		if d > 0 {
			opts.timeout = d
		}
	}
}

// WithAttempts sets how many queries are sent before giving up.
func WithAttempts(n int) Option {
	return func(opts *options) {
		if n > 0 {
			opts.attempts = n
		}
	}
}

// WithHook sets the hook the socket I/O goes through. Defaults to
// hook.Default().
func WithHook(h *hook.Hook) Option {
	return func(opts *options) {
		if h != nil {
			opts.hook = h
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

// NewDNS returns a DNS resolver.
func NewDNS(opts ...Option) *DNS {
	cfg := options{
		server:   netip.MustParseAddrPort(DefaultServer),
		timeout:  DefaultTimeout,
		attempts: DefaultAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.hook == nil {
		cfg.hook = hook.Default()
	}
	return &DNS{
		server:   cfg.server,
		timeout:  cfg.timeout,
		attempts: cfg.attempts,
		hook:     cfg.hook,
		logger:   cfg.logger,
	}
}

// Server returns the server queried.
func (d *DNS) Server() netip.AddrPort {
	return d.server
}

// LookupHost returns the IPv4 addresses of name in answer order. Inside a
// fiber, concurrent lookups of one name on the same scheduler share a
// single query.
func (d *DNS) LookupHost(ctx context.Context, name string) ([]netip.Addr, error) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return d.lookup(ctx, name)
	}

	v, err, _ := f.Do("dns:"+d.server.String()+":"+name, func() (any, error) {
		return d.lookup(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]netip.Addr)), nil
}

func (d *DNS) lookup(ctx context.Context, name string) ([]netip.Addr, error) {
	fqdn := name
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}
	qname, err := dnsmessage.NewName(fqdn)
	if err != nil {
		return nil, fmt.Errorf("resolve: %q: %w", name, hook.NoRecovery)
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		addrs, err := d.exchange(ctx, qname)
		if err == nil {
			return addrs, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, hook.NoData) {
			return nil, err
		}
		d.logger.Debug("dns query failed",
			slog.String("name", name),
			slog.String("server", d.server.String()),
			slog.Int("attempt", attempt),
			slog.Any("err", err),
		)
		lastErr = err
	}
	return nil, lastErr
}

// exchange sends one A query and waits for the matching response.
func (d *DNS) exchange(ctx context.Context, qname dnsmessage.Name) ([]netip.Addr, error) {
	id := uint16(rand.Uint32())
	q := dnsmessage.Message{
		Header: dnsmessage.Header{ID: id, RecursionDesired: true},
		Questions: []dnsmessage.Question{{
			Name:  qname,
			Type:  dnsmessage.TypeA,
			Class: dnsmessage.ClassINET,
		}},
	}
	packed, err := q.Pack()
	if err != nil {
		return nil, fmt.Errorf("resolve: pack query: %w", err)
	}

	fd, err := sock.Socket(sock.Family(d.server), unix.SOCK_DGRAM)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	if err := d.hook.Connect(ctx, fd, sock.Sockaddr(d.server)); err != nil {
		return nil, fmt.Errorf("resolve: connect %s: %w", d.server, err)
	}
	if _, err := d.hook.Write(ctx, fd, packed); err != nil {
		return nil, fmt.Errorf("resolve: send: %w", err)
	}

	deadline := time.Now().Add(d.timeout)
	buf := make([]byte, maxMessageSize)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)

		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := d.hook.Poll(ctx, pfd, ms)
		if err != nil {
			return nil, fmt.Errorf("resolve: poll: %w", err)
		}
		if n == 0 {
			return nil, ErrTimeout
		}

		n, err = d.hook.Read(ctx, fd, buf)
		if err != nil {
			return nil, fmt.Errorf("resolve: receive: %w", err)
		}

		addrs, ours, err := parse(buf[:n], id, qname)
		if !ours {
			continue
		}
		return addrs, err
	}
}

// parse decodes a response. ours is false for datagrams that do not
// answer the query, which are dropped.
func parse(b []byte, id uint16, qname dnsmessage.Name) (addrs []netip.Addr, ours bool, err error) {
	var p dnsmessage.Parser
	h, err := p.Start(b)
	if err != nil || h.ID != id || !h.Response {
		return nil, false, nil
	}
	q, err := p.Question()
	if err != nil || !strings.EqualFold(q.Name.String(), qname.String()) {
		return nil, false, nil
	}

	switch h.RCode {
	case dnsmessage.RCodeSuccess:
	case dnsmessage.RCodeNameError:
		return nil, true, ErrNotFound
	case dnsmessage.RCodeServerFailure:
		return nil, true, fmt.Errorf("resolve: server failure: %w", hook.TryAgain)
	default:
		return nil, true, fmt.Errorf("resolve: %s: %w", h.RCode, hook.NoRecovery)
	}
	if h.Truncated {
		return nil, true, fmt.Errorf("resolve: truncated response: %w", hook.TryAgain)
	}

	if err := p.SkipAllQuestions(); err != nil {
		return nil, true, fmt.Errorf("resolve: parse: %w", err)
	}
	for {
		rh, err := p.AnswerHeader()
		if errors.Is(err, dnsmessage.ErrSectionDone) {
			break
		}
		if err != nil {
			return nil, true, fmt.Errorf("resolve: parse: %w", err)
		}
		if rh.Type != dnsmessage.TypeA || rh.Class != dnsmessage.ClassINET {
			if err := p.SkipAnswer(); err != nil {
				return nil, true, fmt.Errorf("resolve: parse: %w", err)
			}
			continue
		}
		r, err := p.AResource()
		if err != nil {
			return nil, true, fmt.Errorf("resolve: parse: %w", err)
		}
		addrs = append(addrs, netip.AddrFrom4(r.A))
	}

	if len(addrs) == 0 {
		return nil, true, fmt.Errorf("resolve: %s: %w", qname, hook.NoData)
	}
	return addrs, true, nil
}
