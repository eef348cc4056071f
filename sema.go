package fiber

import "github.com/gammazero/deque"

// waitq is a FIFO of fibers parked on a synchronization primitive.
type waitq struct {
	noCopy noCopy
	w      deque.Deque[*Fiber]
}

// park suspends the running fiber f until wake pops it.
func (q *waitq) park(f *Fiber) error {
	if err := f.checkRunning(); err != nil {
		return err
	}
	q.w.PushBack(f)
	f.status = StatusSuspended
	f.park()
	return nil
}

// wake readies the longest-parked fiber and returns it, or nil if none
// is parked.
func (q *waitq) wake() *Fiber {
	for q.w.Len() > 0 {
		f := q.w.PopFront()
		if f.status != StatusSuspended {
			continue
		}
		f.sched.makeReady(f, wake{})
		return f
	}
	return nil
}

func (q *waitq) len() int {
	return q.w.Len()
}

// Semaphore is a counting semaphore for fibers. Permits are handed
// directly to parked fibers in FIFO order.
type Semaphore struct {
	noCopy noCopy
	v      int
	q      waitq
}

// NewSemaphore returns a semaphore holding n permits.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{v: n}
}

// Acquire takes a permit, suspending f until one is available.
func (s *Semaphore) Acquire(f *Fiber) error {
	if s.v > 0 {
		s.v--
		return nil
	}
	return s.q.park(f)
}

// TryAcquire takes a permit if one is available without suspending.
func (s *Semaphore) TryAcquire() bool {
	if s.v > 0 {
		s.v--
		return true
	}
	return false
}

// Release returns a permit, resuming the longest-waiting fiber if any.
func (s *Semaphore) Release() {
	if s.q.wake() != nil {
		return
	}
	s.v++
}

// WaitCount returns the number of fibers waiting for a permit.
func (s *Semaphore) WaitCount() int {
	return s.q.len()
}
