package build

// jobHeap orders pending tiles by priority key, lowest first. Equal keys
// fall back to enqueue order.
type jobHeap []*tileState

func better(a, b *tileState) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.seq < b.seq
}

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return better(h[i], h[j]) }

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *jobHeap) Push(x any) {
	st := x.(*tileState)
	st.heapIdx = len(*h)
	*h = append(*h, st)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	st := old[n-1]
	old[n-1] = nil
	st.heapIdx = -1
	*h = old[:n-1]
	return st
}

// worst returns the job to shed on overflow: the one with the largest
// aged key, the most recent among equal keys. Age lowers a job's rank, so a
// far tile that has waited long enough is no longer the victim.
func (h jobHeap) worst() *tileState {
	var w *tileState
	for _, st := range h {
		if w == nil || better(w, st) {
			w = st
		}
	}
	return w
}
