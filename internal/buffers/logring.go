package buffers

import (
	"sync"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

// DefaultCapacity is the number of entries the viewer keeps.
const DefaultCapacity = 1000

// PushResult describes what Push did with an entry.
type PushResult int

const (
	// Appended means the entry was stored and nothing was evicted.
	Appended PushResult = iota
	// AppendedEvicted means the entry was stored and the oldest one dropped.
	AppendedEvicted
	// Suppressed means the entry repeated the newest buffered entry and was dropped.
	Suppressed
)

// Accepted reports whether the entry ended up in the buffer.
func (p PushResult) Accepted() bool {
	return p != Suppressed
}

// LogRing is a fixed-size circular buffer of log entries for display.
// Only immediate repeats are suppressed: an entry identical to one further
// back in the buffer is kept.
// All methods are safe for concurrent use.
type LogRing struct {
	mu      sync.Mutex
	buf     []logtypes.LogEntry
	cap     int
	head    int // next write position
	count   int // entries in buffer (≤ cap)
	version int // monotonic counter for change detection
}

// NewLogRing creates a ring buffer with the given capacity.
// If cap ≤ 0, DefaultCapacity is used.
func NewLogRing(cap int) *LogRing {
	if cap <= 0 {
		cap = DefaultCapacity
	}
	return &LogRing{
		buf: make([]logtypes.LogEntry, cap),
		cap: cap,
	}
}

// Push adds an entry to the ring. If full, the oldest entry is overwritten.
// Never blocks.
func (r *LogRing) Push(entry logtypes.LogEntry) PushResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count > 0 {
		last := r.buf[(r.head-1+r.cap)%r.cap]
		if logtypes.SameDisplay(last, entry) {
			return Suppressed
		}
	}

	res := Appended
	r.buf[r.head] = entry
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	} else {
		res = AppendedEvicted
	}
	r.version++
	return res
}

// Clear drops every buffered entry.
func (r *LogRing) Clear() {
	r.mu.Lock()
	for i := range r.buf {
		r.buf[i] = logtypes.LogEntry{}
	}
	r.head = 0
	r.count = 0
	r.version++
	r.mu.Unlock()
}

// Snapshot returns a chronological copy of all entries in the ring.
func (r *LogRing) Snapshot() []logtypes.LogEntry {
	r.mu.Lock()
	n := r.count
	if n == 0 {
		r.mu.Unlock()
		return nil
	}

	out := make([]logtypes.LogEntry, n)
	start := (r.head - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.cap]
	}
	r.mu.Unlock()
	return out
}

// Len returns the number of buffered entries.
func (r *LogRing) Len() int {
	r.mu.Lock()
	n := r.count
	r.mu.Unlock()
	return n
}

// Cap returns the ring capacity.
func (r *LogRing) Cap() int {
	return r.cap
}

// Version returns a monotonic counter that increments on every append or clear.
func (r *LogRing) Version() int {
	r.mu.Lock()
	v := r.version
	r.mu.Unlock()
	return v
}
