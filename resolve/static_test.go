package resolve

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/webriots/fiber/hook"
)

const hosts = `
# loopback
127.0.0.1   localhost  Local.Test
::1         localhost ip6-localhost

192.0.2.10  db.test   # primary
192.0.2.11  db.test
`

func TestParseHosts(t *testing.T) {
	r := require.New(t)

	s, err := ParseHosts(strings.NewReader(hosts))
	r.NoError(err)

	addrs, err := s.LookupHost(context.Background(), "DB.test.")
	r.NoError(err)
	r.Equal([]netip.Addr{
		netip.MustParseAddr("192.0.2.10"),
		netip.MustParseAddr("192.0.2.11"),
	}, addrs)

	addrs, err = s.LookupHost(context.Background(), "localhost")
	r.NoError(err)
	r.Len(addrs, 2)

	addrs, err = s.LookupHost(context.Background(), "local.test")
	r.NoError(err)
	r.Equal([]netip.Addr{netip.MustParseAddr("127.0.0.1")}, addrs)

	_, err = s.LookupHost(context.Background(), "missing.test")
	r.ErrorIs(err, ErrNotFound)
}

func TestParseHostsErrors(t *testing.T) {
	r := require.New(t)

	_, err := ParseHosts(strings.NewReader("192.0.2.1\n"))
	r.ErrorContains(err, "line 1: missing name")

	_, err = ParseHosts(strings.NewReader("\nnot-an-ip host\n"))
	r.ErrorContains(err, "line 2")
}

func TestStaticReturnsCopy(t *testing.T) {
	r := require.New(t)

	s := make(Static)
	s.Add("a.test", netip.MustParseAddr("192.0.2.1"))

	addrs, err := s.LookupHost(context.Background(), "a.test")
	r.NoError(err)
	addrs[0] = netip.Addr{}

	again, err := s.LookupHost(context.Background(), "a.test")
	r.NoError(err)
	r.Equal(netip.MustParseAddr("192.0.2.1"), again[0])
}

func TestChain(t *testing.T) {
	r := require.New(t)

	override := Static{"a.test": {netip.MustParseAddr("192.0.2.1")}}
	fallback := Static{
		"a.test": {netip.MustParseAddr("198.51.100.1")},
		"b.test": {netip.MustParseAddr("198.51.100.2")},
	}
	c := Chain{override, fallback}

	addrs, err := c.LookupHost(context.Background(), "a.test")
	r.NoError(err)
	r.Equal("192.0.2.1", addrs[0].String())

	addrs, err = c.LookupHost(context.Background(), "b.test")
	r.NoError(err)
	r.Equal("198.51.100.2", addrs[0].String())

	_, err = c.LookupHost(context.Background(), "c.test")
	r.ErrorIs(err, ErrNotFound)

	broken := hook.ResolverFunc(func(context.Context, string) ([]netip.Addr, error) {
		return nil, errors.New("network down")
	})
	_, err = Chain{broken, fallback}.LookupHost(context.Background(), "b.test")
	r.EqualError(err, "network down")
}
