package state

import "github.com/cybergrid/hud-relay/internal/model"

// logRing is a fixed-capacity FIFO of log entries that overwrites the oldest
// entry when full. Not safe for concurrent use; Store synchronizes.
type logRing struct {
	buf      []model.LogEntry
	capacity int
	head     int // next write position
	count    int
	dropped  int64
}

func newLogRing(capacity int) *logRing {
	if capacity < 1 {
		capacity = 1
	}
	return &logRing{
		buf:      make([]model.LogEntry, capacity),
		capacity: capacity,
	}
}

func (r *logRing) push(e model.LogEntry) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.capacity
	if r.count == r.capacity {
		r.dropped++
		return
	}
	r.count++
}

// last returns up to n of the newest entries, oldest first.
// n <= 0 returns every stored entry.
func (r *logRing) last(n int) []model.LogEntry {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]model.LogEntry, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}
	return out
}

func (r *logRing) len() int {
	return r.count
}
