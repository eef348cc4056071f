package fiber

// BatchItem is one member of a Batch: the descriptor, the events
// requested and the events reported by the last wait.
type BatchItem struct {
	FD      int
	Events  IOEvents
	Revents IOEvents
}

// Batch is a single logical wait spanning several descriptors. It is
// owned by the fiber that waits on it; while a wait is outstanding the
// event engine fills in Revents through its own registrations, and once
// the fiber resumes the results are read back with Item, Ready and
// TimedOut. Members with a negative FD are ignored, as poll(2) does.
type Batch struct {
	items    []BatchItem
	ready    int
	timedOut bool
	waiting  bool
}

// NewBatch returns an empty batch with room for n members.
func NewBatch(n int) *Batch {
	return &Batch{items: make([]BatchItem, 0, n)}
}

// Add appends a member and returns its index.
func (b *Batch) Add(fd int, events IOEvents) (int, error) {
	if b.waiting {
		return -1, ErrBatchBusy
	}
	b.items = append(b.items, BatchItem{FD: fd, Events: events})
	return len(b.items) - 1, nil
}

// Len returns the number of members.
func (b *Batch) Len() int {
	return len(b.items)
}

// Item returns member i.
func (b *Batch) Item(i int) BatchItem {
	return b.items[i]
}

// Ready returns how many members reported events in the last wait.
func (b *Batch) Ready() int {
	return b.ready
}

// TimedOut reports whether the last wait ended because its deadline
// elapsed.
func (b *Batch) TimedOut() bool {
	return b.timedOut
}

// Clear removes every member so the batch can be reused.
func (b *Batch) Clear() error {
	if b.waiting {
		return ErrBatchBusy
	}
	b.items = b.items[:0]
	b.reset()
	return nil
}

func (b *Batch) reset() {
	for i := range b.items {
		b.items[i].Revents = 0
	}
	b.ready = 0
	b.timedOut = false
}

func (b *Batch) settle(wk wake) {
	b.ready = 0
	for i := range b.items {
		if b.items[i].Revents != 0 {
			b.ready++
		}
	}
	b.timedOut = wk.timedOut
}
