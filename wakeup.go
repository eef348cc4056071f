package fiber

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// wakeup is a self-pipe that interrupts a blocked engine wait. signal
// is the only method that may be called from another goroutine.
type wakeup struct {
	mu     sync.Mutex
	r, w   int
	closed bool
}

func newWakeup() (*wakeup, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, err
		}
	}
	return &wakeup{r: p[0], w: p[1]}, nil
}

func (wk *wakeup) fd() int {
	return wk.r
}

func (wk *wakeup) signal() {
	wk.mu.Lock()
	defer wk.mu.Unlock()
	if wk.closed {
		return
	}
	// A full pipe already guarantees a pending wake-up.
	_, _ = unix.Write(wk.w, []byte{1})
}

func (wk *wakeup) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(wk.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (wk *wakeup) close() error {
	wk.mu.Lock()
	defer wk.mu.Unlock()
	if wk.closed {
		return nil
	}
	wk.closed = true
	var merr error
	for _, fd := range []int{wk.r, wk.w} {
		if err := unix.Close(fd); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr
}
