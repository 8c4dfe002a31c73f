package eventloop

import (
	"time"
)

// timerEntry is one scheduled callback, ordered by fire time.
type timerEntry struct {
	when      time.Time
	fn        func()
	cancelled bool
	index     int
}

// timerHeap is a min-heap of timerEntry ordered by when, implementing
// heap.Interface.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
