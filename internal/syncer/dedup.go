package syncer

import "time"

// window is the per-room dedup memory: recently-seen message ids bounded
// by count and age. Entries are created on first sighting of an id and
// evicted oldest-first when either bound is exceeded.
type window struct {
	cap  int
	ttl  time.Duration
	seen map[int64]time.Time
	fifo []int64
}

func newWindow(cap int, ttl time.Duration) *window {
	return &window{
		cap:  cap,
		ttl:  ttl,
		seen: make(map[int64]time.Time, cap),
	}
}

// observe records a sighting of id and reports whether it was already in
// the window, i.e. whether this delivery is a duplicate.
func (w *window) observe(id int64, now time.Time) bool {
	w.expire(now)
	if _, dup := w.seen[id]; dup {
		return true
	}
	w.seen[id] = now
	w.fifo = append(w.fifo, id)
	for len(w.seen) > w.cap {
		w.evictOldest()
	}
	return false
}

func (w *window) expire(now time.Time) {
	for len(w.fifo) > 0 {
		oldest := w.fifo[0]
		at, ok := w.seen[oldest]
		if ok && now.Sub(at) <= w.ttl {
			return
		}
		w.evictOldest()
	}
}

func (w *window) evictOldest() {
	if len(w.fifo) == 0 {
		return
	}
	delete(w.seen, w.fifo[0])
	w.fifo = w.fifo[1:]
}
