package patterns

// boundedBuffer is a FIFO deque with a fixed capacity. Pushing past the cap
// evicts the oldest element; the newest signal is always preserved.
type boundedBuffer struct {
	items []DataPoint
	head  int
	cap   int
}

func newBoundedBuffer(capacity int) *boundedBuffer {
	return &boundedBuffer{cap: capacity}
}

// push appends in amortized O(1).
func (b *boundedBuffer) push(dp DataPoint) {
	b.items = append(b.items, dp)
	if b.len() > b.cap {
		b.head++
	}
	// Compact once the dead prefix dominates, keeping memory bounded.
	if b.head > b.cap {
		live := make([]DataPoint, b.len())
		copy(live, b.items[b.head:])
		b.items = live
		b.head = 0
	}
}

func (b *boundedBuffer) len() int {
	return len(b.items) - b.head
}

// snapshot copies the live window oldest-first.
func (b *boundedBuffer) snapshot() []DataPoint {
	out := make([]DataPoint, b.len())
	copy(out, b.items[b.head:])
	return out
}

// dropOlderThan removes leading elements whose timestamp precedes cutoff.
// Insertion order is time order for a live stream, so this is a prefix drop.
func (b *boundedBuffer) dropOlderThan(cutoff func(DataPoint) bool) {
	kept := b.items[b.head:]
	live := make([]DataPoint, 0, len(kept))
	for _, dp := range kept {
		if !cutoff(dp) {
			live = append(live, dp)
		}
	}
	b.items = live
	b.head = 0
}
