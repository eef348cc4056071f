package fiber

import (
	"context"
	"fmt"
	"runtime/trace"
	"strings"
	"time"

	"github.com/webriots/coro"
)

const (
	fiberTraceTaskType   = "fiber-scheduler"
	fiberTraceRegionType = "fiber"
	fiberTraceCategory   = "fiber"
)

// NoTimeout makes a wait unbounded.
const NoTimeout time.Duration = -1

// Status is the scheduling state of a fiber.
type Status int

const (
	// StatusNew is a fiber that has been created but not yet queued.
	StatusNew Status = iota
	// StatusReady is a fiber waiting in the ready queue.
	StatusReady
	// StatusRunning is the fiber currently switched into.
	StatusRunning
	// StatusWaitingIO is a fiber suspended on descriptor readiness.
	StatusWaitingIO
	// StatusWaitingTimer is a fiber suspended on a deadline only.
	StatusWaitingTimer
	// StatusSuspended is a fiber parked on a synchronization primitive
	// (Mutex, WaitGroup, Semaphore, Group).
	StatusSuspended
	// StatusDead is a fiber whose entry point has returned.
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusReady:
		return "READY"
	case StatusRunning:
		return "RUNNING"
	case StatusWaitingIO:
		return "WAITING_IO"
	case StatusWaitingTimer:
		return "WAITING_TIMER"
	case StatusSuspended:
		return "SUSPENDED"
	case StatusDead:
		return "DEAD"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Func is a fiber entry point. The context carries the fiber (see
// FromContext) and is cancelled when the scheduler is closed.
type Func func(ctx context.Context, f *Fiber)

// wake is the value handed to a fiber when it is switched back in.
type wake struct {
	timedOut    bool
	interrupted bool
}

// Fiber is a cooperatively scheduled unit of execution with its own
// stack. All methods must be called from the scheduler's own thread of
// control: the scheduler loop or one of its fibers.
type Fiber struct {
	id        uint64
	sched     *Scheduler
	ctx       context.Context
	fn        Func
	status    Status
	err       error
	stackSize int
	queued    bool
	pending   wake
	wait      *waiter
	resume    func(wake) (struct{}, bool)
	cancel    func()
	suspend   func() wake
}

func newFiber(parent context.Context, s *Scheduler, id uint64, fn Func, stackSize int) *Fiber {
	f := &Fiber{
		id:        id,
		sched:     s,
		fn:        fn,
		status:    StatusNew,
		stackSize: stackSize,
	}
	f.ctx = withFiber(parent, f)

	f.resume, f.cancel = coro.New(
		func(_ func(struct{}) wake, suspend func() wake) (z struct{}) {
			region := trace.StartRegion(f.ctx, fiberTraceRegionType)
			defer region.End()

			f.suspend = suspend
			f.fn(f.ctx, f)

			return
		},
	)

	return f
}

// ID returns the fiber's identifier, unique within its scheduler.
func (f *Fiber) ID() uint64 {
	return f.id
}

// Status returns the fiber's current scheduling state.
func (f *Fiber) Status() Status {
	return f.status
}

// StackSize returns the stack budget the fiber was created with.
func (f *Fiber) StackSize() int {
	return f.stackSize
}

// Scheduler returns the scheduler that owns the fiber.
func (f *Fiber) Scheduler() *Scheduler {
	return f.sched
}

// Context returns the fiber's context.
func (f *Fiber) Context() context.Context {
	return f.ctx
}

// SetErr records err in the fiber's error slot. Fibers share one thread
// of control, so each carries its own last-error value.
func (f *Fiber) SetErr(err error) {
	f.err = err
}

// Err returns the value last recorded with SetErr.
func (f *Fiber) Err() error {
	return f.err
}

// Go spawns a sibling fiber on the same scheduler.
func (f *Fiber) Go(fn func(context.Context)) *Fiber {
	return f.sched.Go(fn)
}

// Yield moves the running fiber to the back of the ready queue and
// switches to the scheduler.
func (f *Fiber) Yield() error {
	if err := f.checkRunning(); err != nil {
		return err
	}
	f.sched.makeReady(f, wake{})
	f.park()
	return nil
}

// Sleep suspends the fiber for at least d. A non-positive d yields.
func (f *Fiber) Sleep(d time.Duration) error {
	if d <= 0 {
		return f.Yield()
	}
	if err := f.checkRunning(); err != nil {
		return err
	}
	_, err := f.sched.await(f, &waiter{fiber: f}, d)
	return err
}

// WaitFD suspends the fiber until fd reports any of events, or until
// timeout elapses (NoTimeout waits forever). It returns the events
// observed, which are zero when the wait ended without readiness.
// Registration failures, such as a closed descriptor, are returned
// without suspending.
func (f *Fiber) WaitFD(fd int, events IOEvents, timeout time.Duration) (IOEvents, error) {
	if err := f.checkRunning(); err != nil {
		return 0, err
	}
	if fd < 0 {
		return 0, ErrInvalidFD
	}

	w := &waiter{fiber: f}
	w.watch(fd, events, &w.revents)

	if _, err := f.sched.await(f, w, timeout); err != nil {
		return 0, err
	}
	return w.revents, nil
}

// WaitBatch suspends the fiber once for every descriptor in b. It
// returns the number of members that reported readiness, which is zero
// when timeout elapsed first. A zero timeout reports current readiness
// without suspending. Per-member results are read back from b.
func (f *Fiber) WaitBatch(b *Batch, timeout time.Duration) (int, error) {
	if err := f.checkRunning(); err != nil {
		return 0, err
	}
	if b.waiting {
		return 0, ErrBatchBusy
	}
	b.reset()
	if timeout == 0 {
		if err := pollNow(b.items); err != nil {
			return 0, fmt.Errorf("fiber: poll batch: %w", err)
		}
		b.settle(wake{})
		b.timedOut = b.ready == 0
		return b.ready, nil
	}

	w := &waiter{fiber: f, batch: b}
	for i := range b.items {
		it := &b.items[i]
		if it.FD < 0 {
			continue
		}
		w.watch(it.FD, it.Events, &it.Revents)
	}

	b.waiting = true
	defer func() { b.waiting = false }()

	wk, err := f.sched.await(f, w, timeout)
	if err != nil {
		return 0, err
	}
	b.settle(wk)
	return b.ready, nil
}

// Do runs fn once per key among the fibers of this scheduler that call
// Do concurrently. Callers other than the first are suspended until fn
// returns and receive its results, with shared reported as true.
func (f *Fiber) Do(key any, fn func() (any, error)) (v any, err error, shared bool) {
	f.Logf("DO %v", key)
	return f.sched.single.do(f, key, fn)
}

// Group returns an error group whose fibers run on f's scheduler.
func (f *Fiber) Group() *Group {
	return newGroup(f)
}

func (f *Fiber) checkRunning() error {
	if f.sched.closed {
		return ErrSchedulerClosed
	}
	if f.sched.running != f {
		return ErrNotRunning
	}
	return nil
}

// park switches from the running fiber back to the scheduler. The
// caller sets the fiber's next status first.
func (f *Fiber) park() wake {
	return f.suspend()
}

func (f *Fiber) release() {
	f.resume = nil
	f.cancel = nil
	f.suspend = nil
	f.wait = nil
}

// Log writes msg to the execution trace, prefixed with the fiber's
// path. It is a no-op unless tracing is enabled.
func (f *Fiber) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		f.path(&sb)
		sb.WriteRune(' ')
		sb.WriteString(msg)
		trace.Log(f.ctx, fiberTraceCategory, sb.String())
	}
}

// Logf is Log with formatting.
func (f *Fiber) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		f.path(&sb)
		sb.WriteRune(' ')
		fmt.Fprintf(&sb, format, args...)
		trace.Log(f.ctx, fiberTraceCategory, sb.String())
	}
}

func (f *Fiber) path(sb *strings.Builder) {
	fmt.Fprintf(sb, "%p|%d", f.sched, f.id)
}
