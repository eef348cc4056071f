package fiber

import (
	"container/heap"
	"time"
)

type timer struct {
	when  time.Time
	seq   uint64
	w     *waiter
	index int
}

// timerHeap orders deadlines earliest first; equal deadlines keep
// insertion order.
type timerHeap struct {
	items []*timer
	seq   uint64
}

func (h *timerHeap) Len() int { return len(h.items) }

func (h *timerHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.when.Equal(b.when) {
		return a.seq < b.seq
	}
	return a.when.Before(b.when)
}

func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(h.items)
	h.items = append(h.items, t)
}

func (h *timerHeap) Pop() any {
	n := len(h.items)
	t := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	t.index = -1
	return t
}

func (h *timerHeap) schedule(when time.Time, w *waiter) *timer {
	h.seq++
	t := &timer{when: when, seq: h.seq, w: w}
	heap.Push(h, t)
	return t
}

func (h *timerHeap) cancel(t *timer) {
	if t.index < 0 {
		return
	}
	heap.Remove(h, t.index)
}

func (h *timerHeap) peek() *timer {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

func (h *timerHeap) pop() *timer {
	return heap.Pop(h).(*timer)
}
