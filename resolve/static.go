package resolve

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"strings"

	"github.com/webriots/fiber/hook"
)

// Static resolves names from a fixed table. Keys are lower case without
// a trailing dot.
type Static map[string][]netip.Addr

var _ hook.Resolver = Static(nil)

func (s Static) LookupHost(_ context.Context, name string) ([]netip.Addr, error) {
	addrs, ok := s[canonical(name)]
	if !ok || len(addrs) == 0 {
		return nil, ErrNotFound
	}
	return slices.Clone(addrs), nil
}

// Add appends addrs to the entry for name.
func (s Static) Add(name string, addrs ...netip.Addr) {
	key := canonical(name)
	s[key] = append(s[key], addrs...)
}

// ParseHosts reads a table in hosts(5) format: an address followed by
// one or more names per line, with # comments.
func ParseHosts(r io.Reader) (Static, error) {
	s := make(Static)
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("resolve: hosts line %d: missing name", line)
		}
		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			return nil, fmt.Errorf("resolve: hosts line %d: %w", line, err)
		}
		for _, name := range fields[1:] {
			s.Add(name, addr.Unmap())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("resolve: read hosts: %w", err)
	}
	return s, nil
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// Chain consults each resolver in order and returns the first answer.
// A resolver that reports the name as missing passes to the next; any
// other failure is returned.
type Chain []hook.Resolver

func (c Chain) LookupHost(ctx context.Context, name string) ([]netip.Addr, error) {
	for _, r := range c {
		addrs, err := r.LookupHost(ctx, name)
		if err == nil {
			return addrs, nil
		}
		if !errors.Is(err, hook.HostNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
