package fiber

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/eapache/queue"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// waiter is one outstanding suspension: a single-descriptor wait, a
// batch, or a bare timer. It resolves exactly once.
type waiter struct {
	fiber     *Fiber
	interests []*interest
	revents   IOEvents
	batch     *Batch
	timer     *timer
	fired     bool
	timedOut  bool
}

func (w *waiter) watch(fd int, events IOEvents, out *IOEvents) {
	w.interests = append(w.interests, &interest{
		w:      w,
		fd:     fd,
		events: events & (EventRead | EventWrite | alwaysReported),
		out:    out,
	})
}

// interest is the engine's registration view of one (descriptor, mask)
// pair of a waiter. Results are written through out.
type interest struct {
	w      *waiter
	fd     int
	events IOEvents
	out    *IOEvents
}

type fdState struct {
	interests []*interest
	mask      IOEvents
}

func (st *fdState) union() IOEvents {
	var mask IOEvents
	for _, in := range st.interests {
		mask |= in.events & (EventRead | EventWrite)
	}
	return mask
}

// engine bridges the platform poller to the scheduler. Every waiter
// added is counted in pending (the scheduler's io_count) until it is
// resolved by readiness, by its deadline, or by cancellation.
type engine struct {
	poller  poller
	wakeup  *wakeup
	fds     map[int]*fdState
	timers  timerHeap
	fired   *queue.Queue
	pending int
	ready   func(*Fiber, wake)
	logger  *slog.Logger
}

func newEngine(maxEvents int, ready func(*Fiber, wake), logger *slog.Logger) (*engine, error) {
	p, err := newPoller(maxEvents)
	if err != nil {
		return nil, err
	}

	wk, err := newWakeup()
	if err != nil {
		_ = p.close()
		return nil, err
	}

	if err := p.add(wk.fd(), EventRead); err != nil {
		_ = wk.close()
		_ = p.close()
		return nil, fmt.Errorf("fiber: register wakeup: %w", err)
	}

	return &engine{
		poller: p,
		wakeup: wk,
		fds:    make(map[int]*fdState),
		fired:  queue.New(),
		ready:  ready,
		logger: logger,
	}, nil
}

// add registers every interest of w. On failure nothing stays
// registered and the error from the poller is returned.
func (e *engine) add(w *waiter) error {
	for i, in := range w.interests {
		if err := e.attach(in); err != nil {
			for _, prev := range w.interests[:i] {
				e.detach(prev)
			}
			return fmt.Errorf("fiber: register fd %d: %w", in.fd, err)
		}
	}
	e.pending++
	return nil
}

func (e *engine) arm(w *waiter, deadline time.Time) {
	w.timer = e.timers.schedule(deadline, w)
}

// remove drops every registration and the deadline of w.
func (e *engine) remove(w *waiter) {
	for _, in := range w.interests {
		e.detach(in)
	}
	if w.timer != nil {
		e.timers.cancel(w.timer)
		w.timer = nil
	}
}

func (e *engine) attach(in *interest) error {
	st, ok := e.fds[in.fd]
	if !ok {
		st = new(fdState)
	}

	mask := st.mask | in.events&(EventRead|EventWrite)
	if !ok {
		if err := e.poller.add(in.fd, mask); err != nil {
			return err
		}
		e.fds[in.fd] = st
	} else if err := e.poller.modify(in.fd, mask); err != nil {
		// The descriptor was closed under an earlier waiter and its
		// number reused; the kernel dropped the old registration.
		if !errors.Is(err, unix.ENOENT) {
			return err
		}
		if err := e.poller.add(in.fd, mask); err != nil {
			return err
		}
	}

	st.mask = mask
	st.interests = append(st.interests, in)
	return nil
}

func (e *engine) detach(in *interest) {
	st, ok := e.fds[in.fd]
	if !ok {
		return
	}

	for i, other := range st.interests {
		if other == in {
			st.interests = append(st.interests[:i], st.interests[i+1:]...)
			break
		}
	}

	if len(st.interests) == 0 {
		delete(e.fds, in.fd)
		if err := e.poller.remove(in.fd); err != nil && !closedFD(err) {
			e.logger.Warn("fiber: unregister fd", slog.Int("fd", in.fd), slog.Any("err", err))
		}
		return
	}

	if mask := st.union(); mask != st.mask {
		st.mask = mask
		if err := e.poller.modify(in.fd, mask); err != nil && !closedFD(err) {
			e.logger.Warn("fiber: modify fd", slog.Int("fd", in.fd), slog.Any("err", err))
		}
	}
}

// closedFD reports errors the poller returns for a descriptor that was
// closed while registered; the kernel has already dropped it.
func closedFD(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT)
}

// timeout returns the poller timeout in milliseconds until the earliest
// deadline, -1 when there is none. Partial milliseconds round up so a
// deadline is never reported early.
func (e *engine) timeout(now time.Time) int {
	t := e.timers.peek()
	if t == nil {
		return -1
	}
	d := t.when.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// wait blocks in the poller for at most timeout milliseconds (-1
// forever), then resolves every waiter that became ready or expired,
// in the order they were observed.
func (e *engine) wait(timeout int) error {
	if err := e.poller.wait(timeout, e.deliver); err != nil {
		return err
	}
	e.expire(time.Now())
	e.flush()
	return nil
}

func (e *engine) deliver(fd int, events IOEvents) {
	if fd == e.wakeup.fd() {
		e.wakeup.drain()
		return
	}

	st, ok := e.fds[fd]
	if !ok {
		return
	}

	// All interests of one descriptor are collected in this pass, so a
	// batch watching both directions resumes once with both results.
	for _, in := range st.interests {
		got := events & (in.events | alwaysReported)
		if got == 0 {
			continue
		}
		*in.out |= got
		e.fire(in.w)
	}
}

func (e *engine) expire(now time.Time) {
	for {
		t := e.timers.peek()
		if t == nil || t.when.After(now) {
			return
		}
		e.timers.pop()
		w := t.w
		w.timer = nil
		if !w.fired {
			w.timedOut = true
			e.fire(w)
		}
	}
}

func (e *engine) fire(w *waiter) {
	if w.fired {
		return
	}
	w.fired = true
	e.fired.Add(w)
}

func (e *engine) flush() {
	for e.fired.Length() > 0 {
		w := e.fired.Remove().(*waiter)
		e.resolve(w, wake{timedOut: w.timedOut})
	}
}

// cancel resolves w without readiness.
func (e *engine) cancel(w *waiter) {
	if w == nil || w.fired {
		return
	}
	w.fired = true
	e.resolve(w, wake{interrupted: true})
}

func (e *engine) resolve(w *waiter, wk wake) {
	e.remove(w)
	e.pending--
	e.ready(w.fiber, wk)
}

func (e *engine) close() error {
	var merr error
	if err := e.poller.close(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("fiber: close poller: %w", err))
	}
	if err := e.wakeup.close(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("fiber: close wakeup: %w", err))
	}
	e.fds = nil
	e.pending = 0
	return merr
}
