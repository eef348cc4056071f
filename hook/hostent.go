package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
)

// MaxAddrs is the most addresses laid out in a Hostent.
const MaxAddrs = 64

// hostBufSize is the buffer GetHostByName allocates per call.
const hostBufSize = 4096

// Resolver looks up the addresses of a host name. Implementations that
// perform their I/O through a Hook suspend only the calling fiber.
type Resolver interface {
	LookupHost(ctx context.Context, name string) ([]netip.Addr, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, name string) ([]netip.Addr, error)

func (fn ResolverFunc) LookupHost(ctx context.Context, name string) ([]netip.Addr, error) {
	return fn(ctx, name)
}

type netResolver struct {
	r *net.Resolver
}

func (n netResolver) LookupHost(ctx context.Context, name string) ([]netip.Addr, error) {
	return n.r.LookupNetIP(ctx, "ip4", name)
}

// HError is a resolver outcome in the h_errno convention.
type HError int

const (
	HostNotFound HError = 1
	TryAgain     HError = 2
	NoRecovery   HError = 3
	NoData       HError = 4
)

func (e HError) Error() string {
	switch e {
	case HostNotFound:
		return "hook: host not found"
	case TryAgain:
		return "hook: temporary resolver failure"
	case NoRecovery:
		return "hook: non-recoverable resolver failure"
	case NoData:
		return "hook: no address for host"
	default:
		return fmt.Sprintf("hook: resolver error %d", int(e))
	}
}

// Hostent is the result of a host lookup. Name and every AddrList entry
// are slices of the buffer passed to GetHostByNameR; they stay valid only
// as long as the caller keeps that buffer unchanged.
type Hostent struct {
	Name     []byte
	AddrType int
	Length   int
	AddrList [][]byte
}

// Addrs returns the addresses of h as netip values.
func (h *Hostent) Addrs() []netip.Addr {
	if h.Length != 4 {
		return nil
	}
	out := make([]netip.Addr, 0, len(h.AddrList))
	for _, a := range h.AddrList {
		out = append(out, netip.AddrFrom4([4]byte(a)))
	}
	return out
}

// GetHostByNameR resolves name to its IPv4 addresses and lays the result
// out in buf: the NUL-terminated name followed by each 4-byte address,
// at most MaxAddrs of them. ret is overwritten and points into buf. It
// returns unix.ERANGE when buf is too small and an HError when the name
// cannot be resolved; the two are never confused. A literal IPv4 address
// is answered without a lookup.
func (h *Hook) GetHostByNameR(ctx context.Context, name string, ret *Hostent, buf []byte) error {
	f, _ := fiber.FromContext(ctx)
	if ret == nil {
		return h.hostErr(f, unix.EINVAL)
	}
	*ret = Hostent{AddrList: ret.AddrList[:0]}
	clear(buf)

	addrs, err := h.lookup(ctx, name)
	if err != nil {
		return h.hostErr(f, err)
	}

	off := len(name) + 1
	if off > len(buf) {
		return h.hostErr(f, unix.ERANGE)
	}
	copy(buf, name)
	buf[len(name)] = 0

	addrs = addrs[:min(len(addrs), MaxAddrs)]
	if off+4*len(addrs) > len(buf) {
		return h.hostErr(f, unix.ERANGE)
	}

	ret.Name = buf[:len(name):len(name)]
	ret.AddrType = unix.AF_INET
	ret.Length = 4
	for _, a := range addrs {
		a4 := a.As4()
		copy(buf[off:], a4[:])
		ret.AddrList = append(ret.AddrList, buf[off:off+4:off+4])
		off += 4
	}
	return nil
}

// GetHostByName is GetHostByNameR with a fresh buffer per call.
func (h *Hook) GetHostByName(ctx context.Context, name string) (*Hostent, error) {
	ret := new(Hostent)
	if err := h.GetHostByNameR(ctx, name, ret, make([]byte, hostBufSize)); err != nil {
		return nil, err
	}
	return ret, nil
}

// lookup returns the IPv4 addresses of name in resolver order. Every
// resolver failure maps to an HError.
func (h *Hook) lookup(ctx context.Context, name string) ([]netip.Addr, error) {
	if name == "" {
		return nil, HostNotFound
	}
	if addr, err := netip.ParseAddr(name); err == nil {
		if addr.Is4() || addr.Is4In6() {
			return []netip.Addr{addr.Unmap()}, nil
		}
		return nil, NoData
	}

	addrs, err := h.resolver.LookupHost(ctx, name)
	if err != nil {
		h.logger.Debug("hook: lookup failed", slog.String("name", name), slog.Any("err", err))
		var herr HError
		if errors.As(err, &herr) {
			return nil, herr
		}
		return nil, HostNotFound
	}

	v4 := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.Is4() || a.Is4In6() {
			v4 = append(v4, a.Unmap())
		}
	}
	if len(v4) == 0 {
		return nil, NoData
	}
	return v4, nil
}

func (h *Hook) hostErr(f *fiber.Fiber, err error) error {
	if f != nil {
		f.SetErr(err)
	}
	return err
}

// GetHostByNameR calls Default().GetHostByNameR.
func GetHostByNameR(ctx context.Context, name string, ret *Hostent, buf []byte) error {
	return Default().GetHostByNameR(ctx, name, ret, buf)
}

// GetHostByName calls Default().GetHostByName.
func GetHostByName(ctx context.Context, name string) (*Hostent, error) {
	return Default().GetHostByName(ctx, name)
}
