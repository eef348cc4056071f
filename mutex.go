package fiber

// Mutex provides mutual exclusion for fibers of one scheduler. Only one
// fiber holds the lock at a time; others are suspended in FIFO order
// until it is handed to them.
type Mutex struct {
	noCopy noCopy // Prevents copying of the mutex
	owner  *Fiber // Fiber that holds the lock
	q      waitq  // Fibers waiting to acquire the lock
}

// Lock acquires the mutex for f, suspending it while another fiber
// holds the lock.
func (m *Mutex) Lock(f *Fiber) error {
	if m.owner == nil {
		m.owner = f
		return nil
	}
	return m.q.park(f)
}

// Unlock releases the mutex, handing it to the longest-waiting fiber.
func (m *Mutex) Unlock() {
	if m.owner == nil {
		panic("fiber: unlock of unlocked Mutex")
	}
	m.owner = m.q.wake()
}

// WaitCount returns the number of fibers waiting to acquire the mutex.
func (m *Mutex) WaitCount() int {
	return m.q.len()
}
