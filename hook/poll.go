package hook

import (
	"context"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/webriots/fiber"
)

// fdSetSize is the number of descriptors an FdSet can hold.
const fdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

// Poll waits for events on fds like poll(2), with timeout in
// milliseconds (negative waits forever). Inside a fiber a call that would
// block registers every descriptor as one batch and suspends the fiber
// once; when it resumes, Revents are filled in from the kernel's view so
// results match the blocking call. A zero timeout, or descriptors that
// are already ready, return without suspending.
func (h *Hook) Poll(ctx context.Context, fds []unix.PollFd, timeout int) (int, error) {
	f, ok := fiber.FromContext(ctx)
	if !ok {
		return h.sys.Poll(fds, timeout)
	}

	n, err := h.sys.Poll(fds, 0)
	if err != nil {
		return -1, fail(f, err)
	}
	if n > 0 || timeout == 0 {
		return n, nil
	}

	b := fiber.NewBatch(len(fds))
	for _, pfd := range fds {
		if _, err := b.Add(int(pfd.Fd), pollToEvents(pfd.Events)); err != nil {
			return -1, fail(f, err)
		}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(time.Duration(timeout) * time.Millisecond)
	}

	for {
		wait := fiber.NoTimeout
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return 0, nil
			}
		}

		f.Logf("POLL wait fds=%d timeout=%v", b.Len(), wait)
		ready, err := f.WaitBatch(b, wait)
		if err != nil {
			return -1, fail(f, err)
		}
		switch {
		case b.TimedOut():
			return 0, nil
		case ready == 0:
			// Woken by Scheduler.Ready, as a blocking poll is by a
			// signal.
			return -1, fail(f, unix.EINTR)
		}

		n, err := h.sys.Poll(fds, 0)
		if err != nil {
			return -1, fail(f, err)
		}
		if n > 0 {
			return n, nil
		}
		// Another fiber consumed the readiness before this one resumed.
	}
}

// Select waits like select(2) on the first nfd descriptors of r, w and e,
// any of which may be nil. A nil tv waits forever. On return the sets
// hold only the ready descriptors and the count of set bits across all
// three is returned. It is built on Poll, so inside a fiber it suspends
// only the calling fiber.
func (h *Hook) Select(ctx context.Context, nfd int, r, w, e *unix.FdSet, tv *unix.Timeval) (int, error) {
	if nfd < 0 || nfd > fdSetSize {
		return -1, h.selectErr(ctx, unix.EINVAL)
	}
	timeout := -1
	if tv != nil {
		if tv.Sec < 0 || tv.Usec < 0 {
			return -1, h.selectErr(ctx, unix.EINVAL)
		}
		d := time.Duration(tv.Nano())
		timeout = int((d + time.Millisecond - 1) / time.Millisecond)
	}

	var fds []unix.PollFd
	for fd := 0; fd < nfd; fd++ {
		var events int16
		if r != nil && r.IsSet(fd) {
			events |= unix.POLLIN
		}
		if w != nil && w.IsSet(fd) {
			events |= unix.POLLOUT
		}
		if e != nil && e.IsSet(fd) {
			events |= unix.POLLPRI
		}
		if events != 0 {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		}
	}

	if _, err := h.Poll(ctx, fds, timeout); err != nil {
		return -1, err
	}

	for _, pfd := range fds {
		if pfd.Revents&unix.POLLNVAL != 0 {
			return -1, h.selectErr(ctx, unix.EBADF)
		}
	}

	for _, set := range []*unix.FdSet{r, w, e} {
		if set != nil {
			set.Zero()
		}
	}

	var count int
	for _, pfd := range fds {
		fd := int(pfd.Fd)
		if pfd.Events&unix.POLLIN != 0 && pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			r.Set(fd)
			count++
		}
		if pfd.Events&unix.POLLOUT != 0 && pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			w.Set(fd)
			count++
		}
		if pfd.Events&unix.POLLPRI != 0 && pfd.Revents&unix.POLLPRI != 0 {
			e.Set(fd)
			count++
		}
	}
	return count, nil
}

func (h *Hook) selectErr(ctx context.Context, err error) error {
	if f, ok := fiber.FromContext(ctx); ok {
		f.SetErr(err)
	}
	return err
}

// pollToEvents maps poll(2) request bits onto engine interests.
func pollToEvents(events int16) fiber.IOEvents {
	var ev fiber.IOEvents
	if events&(unix.POLLIN|unix.POLLPRI) != 0 {
		ev |= fiber.EventRead
	}
	if events&unix.POLLOUT != 0 {
		ev |= fiber.EventWrite
	}
	return ev
}

// Poll calls Default().Poll.
func Poll(ctx context.Context, fds []unix.PollFd, timeout int) (int, error) {
	return Default().Poll(ctx, fds, timeout)
}

// Select calls Default().Select.
func Select(ctx context.Context, nfd int, r, w, e *unix.FdSet, tv *unix.Timeval) (int, error) {
	return Default().Select(ctx, nfd, r, w, e, tv)
}
