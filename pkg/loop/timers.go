package loop

// timerEntry is one armed timer. seq breaks deadline ties so that equal
// deadlines fire in registration order.
type timerEntry struct {
	deadline int64
	seq      uint64
	cb       Callback
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	te := x.(*timerEntry)
	te.index = len(*h)
	*h = append(*h, te)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	te := old[n-1]
	old[n-1] = nil
	te.index = -1
	*h = old[:n-1]
	return te
}
