package sock

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSockaddrRoundTrip(t *testing.T) {
	for _, s := range []string{"127.0.0.1:53", "[::1]:8080", "[::ffff:10.0.0.1]:1"} {
		ap := netip.MustParseAddrPort(s)
		got := AddrPort(Sockaddr(ap))
		require.Equal(t, ap.Port(), got.Port(), s)
		require.Equal(t, ap.Addr().Unmap(), got.Addr(), s)
	}
}

func TestListenEphemeral(t *testing.T) {
	fd, err := Listen(netip.MustParseAddrPort("127.0.0.1:0"), 16, false)
	require.NoError(t, err)
	defer unix.Close(fd)

	ap, err := LocalAddr(fd)
	require.NoError(t, err)
	require.NotZero(t, ap.Port())

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	require.NotZero(t, flags&unix.O_NONBLOCK)
}
