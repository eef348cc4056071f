package hook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
)

func TestPollZeroTimeout(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	rfd, _ := newPipe(t)
	s.Go(func(ctx context.Context) {
		f := fiber.MustFromContext(ctx)
		fds := []unix.PollFd{{Fd: int32(rfd), Events: unix.POLLIN}}
		n, err := h.Poll(ctx, fds, 0)
		r.NoError(err)
		r.Zero(n)
		r.Zero(fds[0].Revents)
		r.Equal(fiber.StatusRunning, f.Status())
		r.Zero(s.IOCount())
	})
	r.NoError(s.Run(context.Background()))
}

func TestPollAlreadyReady(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	rfd, wfd := newPipe(t)
	_, err := unix.Write(wfd, []byte{1})
	r.NoError(err)

	s.Go(func(ctx context.Context) {
		fds := []unix.PollFd{
			{Fd: int32(rfd), Events: unix.POLLIN},
			{Fd: int32(wfd), Events: unix.POLLOUT},
			{Fd: -1, Events: unix.POLLIN},
		}
		n, err := h.Poll(ctx, fds, -1)
		r.NoError(err)
		r.Equal(2, n)
		r.NotZero(fds[0].Revents & unix.POLLIN)
		r.NotZero(fds[1].Revents & unix.POLLOUT)
		r.Zero(fds[2].Revents)
		r.Zero(s.IOCount())
	})
	r.NoError(s.Run(context.Background()))
}

func TestPollSuspendsOnce(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	r1, _ := newPipe(t)
	r2, w2 := newPipe(t)

	var fds []unix.PollFd
	poller := s.Go(func(ctx context.Context) {
		fds = []unix.PollFd{
			{Fd: int32(r1), Events: unix.POLLIN},
			{Fd: int32(r2), Events: unix.POLLIN},
		}
		n, err := h.Poll(ctx, fds, -1)
		r.NoError(err)
		r.Equal(1, n)
	})
	s.Go(func(ctx context.Context) {
		r.Equal(fiber.StatusWaitingIO, poller.Status())
		r.Equal(1, s.IOCount(), "one registration for the whole set")
		r.NoError(fiber.MustFromContext(ctx).Sleep(5 * time.Millisecond))
		_, err := unix.Write(w2, []byte{1})
		r.NoError(err)
	})

	r.NoError(s.Run(context.Background()))
	r.Zero(fds[0].Revents)
	r.Equal(int16(unix.POLLIN), fds[1].Revents)
}

func TestPollTimeout(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	rfd, _ := newPipe(t)
	s.Go(func(ctx context.Context) {
		fds := []unix.PollFd{{Fd: int32(rfd), Events: unix.POLLIN}}
		start := time.Now()
		n, err := h.Poll(ctx, fds, 50)
		r.NoError(err)
		r.Zero(n)
		r.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
	})
	r.NoError(s.Run(context.Background()))
}

func TestPollInterrupted(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	rfd, _ := newPipe(t)
	poller := s.Go(func(ctx context.Context) {
		fds := []unix.PollFd{{Fd: int32(rfd), Events: unix.POLLIN}}
		_, err := h.Poll(ctx, fds, -1)
		r.ErrorIs(err, unix.EINTR)
	})
	s.Go(func(context.Context) {
		r.True(s.Ready(poller))
	})
	r.NoError(s.Run(context.Background()))
}

func TestSelect(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	r1, _ := newPipe(t)
	r2, w2 := newPipe(t)
	nfd := max(r1, r2, w2) + 1

	s.Go(func(ctx context.Context) {
		var rs, ws unix.FdSet
		rs.Set(r1)
		rs.Set(r2)
		ws.Set(w2)

		// The write end is already writable.
		n, err := h.Select(ctx, nfd, &rs, &ws, nil, nil)
		r.NoError(err)
		r.Equal(1, n)
		r.False(rs.IsSet(r1))
		r.False(rs.IsSet(r2))
		r.True(ws.IsSet(w2))

		rs.Zero()
		rs.Set(r1)
		rs.Set(r2)
		n, err = h.Select(ctx, nfd, &rs, nil, nil, nil)
		r.NoError(err)
		r.Equal(1, n)
		r.False(rs.IsSet(r1))
		r.True(rs.IsSet(r2))
	})
	s.Go(func(ctx context.Context) {
		r.NoError(fiber.MustFromContext(ctx).Sleep(5 * time.Millisecond))
		_, err := unix.Write(w2, []byte{1})
		r.NoError(err)
	})

	r.NoError(s.Run(context.Background()))
}

func TestSelectTimeout(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	rfd, _ := newPipe(t)
	s.Go(func(ctx context.Context) {
		var rs unix.FdSet
		rs.Set(rfd)
		tv := unix.NsecToTimeval((20 * time.Millisecond).Nanoseconds())

		start := time.Now()
		n, err := h.Select(ctx, rfd+1, &rs, nil, nil, &tv)
		r.NoError(err)
		r.Zero(n)
		r.False(rs.IsSet(rfd))
		r.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
	})
	r.NoError(s.Run(context.Background()))
}

func TestSelectInvalid(t *testing.T) {
	r := require.New(t)
	h := New(WithLogger(discard))
	s := newScheduler(t)

	s.Go(func(ctx context.Context) {
		_, err := h.Select(ctx, -1, nil, nil, nil, nil)
		r.ErrorIs(err, unix.EINVAL)
		r.ErrorIs(fiber.MustFromContext(ctx).Err(), unix.EINVAL)

		tv := unix.Timeval{Sec: -1}
		_, err = h.Select(ctx, 0, nil, nil, nil, &tv)
		r.ErrorIs(err, unix.EINVAL)
	})
	r.NoError(s.Run(context.Background()))
}
