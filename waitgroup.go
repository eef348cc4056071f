package fiber

// WaitGroup waits for a collection of fibers to finish. Fibers call
// Add(1) when they start and Done() when they finish; other fibers call
// Wait to suspend until the counter reaches zero.
type WaitGroup struct {
	noCopy noCopy // Prevents copying of the WaitGroup
	v      int32  // Counter for the number of fibers
	q      waitq  // Fibers suspended in Wait
}

// Add adds delta to the counter. When it reaches zero every waiting
// fiber is readied. Add panics if the counter goes negative.
func (wg *WaitGroup) Add(delta int) {
	wg.v += int32(delta)

	if wg.v < 0 {
		panic("fiber: negative WaitGroup counter")
	}

	if wg.v > 0 {
		return
	}

	for wg.q.wake() != nil {
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait suspends f until the counter is zero. It returns immediately if
// the counter is already zero.
func (wg *WaitGroup) Wait(f *Fiber) error {
	if wg.v == 0 {
		return nil
	}
	return wg.q.park(f)
}
