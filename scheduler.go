package fiber

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/trace"
	"slices"
	"time"

	"github.com/gammazero/deque"
	"github.com/hashicorp/go-multierror"
)

// Scheduler runs fibers cooperatively on the goroutine that calls Run.
// It owns the ready queue, the event engine and every fiber it spawns.
//
// A Scheduler is confined to one thread of control: its methods, and the
// methods of its fibers, may only be called from the goroutine running
// its loop or from inside one of its fibers, which the loop switches
// into one at a time. Independent schedulers may run on different
// goroutines; fibers never migrate between them.
type Scheduler struct {
	ctx     context.Context
	stop    context.CancelFunc
	tracer  *trace.Task
	logger  *slog.Logger
	engine  *engine
	ready   deque.Deque[*Fiber]
	running *Fiber
	fibers  map[uint64]*Fiber
	single  singleFlight
	nextID  uint64
	stack   int
	looping bool
	closed  bool
}

// New creates a scheduler. It fails if the platform poller cannot be
// created.
func New(opts ...Option) (*Scheduler, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		logger: cfg.logger,
		fibers: make(map[uint64]*Fiber),
		stack:  cfg.stackSize,
	}

	s.engine, err = newEngine(cfg.maxEvents, s.makeReady, cfg.logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(cfg.ctx)
	s.ctx, s.tracer = trace.NewTask(ctx, fiberTraceTaskType)
	s.stop = cancel

	return s, nil
}

// Spawn creates a fiber running fn and appends it to the ready queue. A
// zero stackSize selects the scheduler default. Spawn fails, returning a
// nil fiber, when the scheduler is closed or the stack size is outside
// [0, MaxStackSize]; the caller cannot make progress with that fiber.
func (s *Scheduler) Spawn(fn Func, stackSize int) (*Fiber, error) {
	return s.spawn(s.ctx, fn, stackSize)
}

// Go spawns fn with the default stack size. Spawn failure is fatal and
// panics.
func (s *Scheduler) Go(fn func(context.Context)) *Fiber {
	f, err := s.Spawn(func(ctx context.Context, _ *Fiber) { fn(ctx) }, 0)
	if err != nil {
		panic(fmt.Errorf("fiber: spawn: %w", err))
	}
	return f
}

func (s *Scheduler) spawn(parent context.Context, fn Func, stackSize int) (*Fiber, error) {
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	if fn == nil {
		return nil, ErrNilFunc
	}
	switch {
	case stackSize == 0:
		stackSize = s.stack
	case stackSize < 0 || stackSize > MaxStackSize:
		return nil, fmt.Errorf("%w: %d", ErrStackSize, stackSize)
	}

	s.nextID++
	f := newFiber(parent, s, s.nextID, fn, stackSize)
	s.fibers[f.id] = f
	s.makeReady(f, wake{})

	s.logger.Debug("fiber spawned", slog.Uint64("fiber", f.id), slog.Int("stack", stackSize))
	return f, nil
}

// Ready makes a NEW, WAITING_IO or WAITING_TIMER fiber READY and
// appends it to the ready queue. A waiting fiber's registration is
// cancelled and it resumes as if its wait had ended without readiness.
// Ready reports whether the fiber was queued; it is a no-op for a fiber
// that is already READY, RUNNING, SUSPENDED or DEAD, or that belongs to
// another scheduler.
func (s *Scheduler) Ready(f *Fiber) bool {
	if f == nil || f.sched != s || s.closed {
		return false
	}
	switch f.status {
	case StatusNew:
		s.makeReady(f, wake{})
		return true
	case StatusWaitingIO, StatusWaitingTimer:
		s.engine.cancel(f.wait)
		return true
	default:
		return false
	}
}

// Running returns the fiber currently switched into, or nil while the
// scheduler loop itself is executing.
func (s *Scheduler) Running() *Fiber {
	return s.running
}

// ReadyLen returns the number of fibers in the ready queue.
func (s *Scheduler) ReadyLen() int {
	return s.ready.Len()
}

// IOCount returns the number of fibers suspended on readiness or a
// timer. The loop keeps waiting in the event engine while it is
// non-zero.
func (s *Scheduler) IOCount() int {
	return s.engine.pending
}

// Fibers returns the fibers that have not yet finished, by ID.
func (s *Scheduler) Fibers() []*Fiber {
	ids := make([]uint64, 0, len(s.fibers))
	for id := range s.fibers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*Fiber, len(ids))
	for i, id := range ids {
		out[i] = s.fibers[id]
	}
	return out
}

// Run drives fibers until the ready queue is empty and no fiber is
// waiting on readiness or a timer, then returns nil. It returns
// ctx.Err() if ctx ends first, leaving the remaining fibers in place, and
// returns an error if the event engine fails. A panic in a fiber
// propagates out of Run.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	stop := context.AfterFunc(ctx, s.engine.wakeup.signal)
	defer stop()

	s.logger.Debug("scheduler loop start", slog.Int("ready", s.ready.Len()))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		more, err := s.step()
		if err != nil {
			return err
		}
		if !more {
			s.done()
			return nil
		}
	}
}

// RunOnce performs a single scheduler pass: it runs every fiber that was
// ready when the pass began, then, if any fiber is waiting, performs one
// event engine wait and readies the fibers it resolves. The wait does
// not block when fibers are still ready. It reports whether work remains.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if err := s.enter(); err != nil {
		return false, err
	}
	defer s.leave()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	stop := context.AfterFunc(ctx, s.engine.wakeup.signal)
	defer stop()

	return s.step()
}

func (s *Scheduler) enter() error {
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.looping {
		return ErrReentrant
	}
	s.looping = true
	return nil
}

func (s *Scheduler) leave() {
	s.looping = false
	s.running = nil
}

// step drains the ready queue as it stood on entry, so fibers that yield
// during the pass run again only after the engine has been polled.
func (s *Scheduler) step() (bool, error) {
	for n := s.ready.Len(); n > 0; n-- {
		s.switchTo(s.ready.PopFront())
	}

	if s.ready.Len() == 0 && s.engine.pending == 0 {
		return false, nil
	}
	if s.engine.pending == 0 {
		return true, nil
	}

	timeout := 0
	if s.ready.Len() == 0 {
		timeout = s.engine.timeout(time.Now())
	}
	if err := s.engine.wait(timeout); err != nil {
		s.logger.Error("event engine wait failed", slog.Any("err", err))
		return false, err
	}
	return true, nil
}

// switchTo transfers control into f until it yields, suspends or
// returns.
func (s *Scheduler) switchTo(f *Fiber) {
	f.queued = false
	f.status = StatusRunning
	wk := f.pending
	f.pending = wake{}

	s.running = f
	_, alive := f.resume(wk)
	s.running = nil

	if !alive {
		s.retire(f)
	}
}

func (s *Scheduler) retire(f *Fiber) {
	f.status = StatusDead
	f.release()
	delete(s.fibers, f.id)
	s.logger.Debug("fiber exited", slog.Uint64("fiber", f.id))
}

func (s *Scheduler) makeReady(f *Fiber, wk wake) {
	if f.queued {
		return
	}
	f.queued = true
	f.pending = wk
	f.status = StatusReady
	s.ready.PushBack(f)
}

// await registers w, arms its deadline and suspends f until the engine
// resolves it.
func (s *Scheduler) await(f *Fiber, w *waiter, timeout time.Duration) (wake, error) {
	if err := s.engine.add(w); err != nil {
		f.err = err
		return wake{}, err
	}
	if timeout >= 0 {
		s.engine.arm(w, time.Now().Add(timeout))
	}

	f.wait = w
	if len(w.interests) == 0 {
		f.status = StatusWaitingTimer
	} else {
		f.status = StatusWaitingIO
	}

	wk := f.park()
	f.wait = nil
	return wk, nil
}

func (s *Scheduler) done() {
	var suspended int
	for _, f := range s.fibers {
		if f.status == StatusSuspended {
			suspended++
		}
	}
	if suspended > 0 {
		s.logger.Warn("scheduler exited with suspended fibers", slog.Int("fibers", suspended))
		return
	}
	s.logger.Debug("scheduler loop done")
}

// Close cancels every fiber that has not finished, including fibers
// still waiting on readiness, and releases the event engine. It must not
// be called from inside one of the scheduler's fibers.
func (s *Scheduler) Close() error {
	if s.looping {
		return ErrReentrant
	}
	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()

	var merr error
	for _, f := range s.Fibers() {
		if f.cancel != nil {
			f.cancel()
		}
		f.status = StatusDead
		f.release()
	}
	if n := len(s.fibers); n > 0 {
		s.logger.Debug("scheduler cancelled fibers", slog.Int("fibers", n))
	}
	clear(s.fibers)
	s.ready.Clear()

	if err := s.engine.close(); err != nil {
		merr = multierror.Append(merr, err)
	}

	s.tracer.End()
	return merr
}
