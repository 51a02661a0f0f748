package live

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/scrapewatch/internal/feed"
)

// Stats collects feed counters for display and alerting.
// All methods are safe for concurrent use.
type Stats struct {
	Received    atomic.Int64
	Appended    atomic.Int64
	Suppressed  atomic.Int64
	Evicted     atomic.Int64
	Malformed   atomic.Int64
	RateLimited atomic.Int64
	Errors      atomic.Int64
	Reconnects  atomic.Int64

	mu         sync.Mutex
	state      feed.State
	stateSince time.Time
}

// NewStats creates a Stats collector.
func NewStats() *Stats {
	return &Stats{stateSince: time.Now()}
}

func (s *Stats) setState(st feed.State) {
	s.mu.Lock()
	if st != s.state {
		s.state = st
		s.stateSince = time.Now()
	}
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of feed stats.
type Snapshot struct {
	Received    int64
	Appended    int64
	Suppressed  int64
	Evicted     int64
	Malformed   int64
	RateLimited int64
	Errors      int64
	Reconnects  int64
	Buffered    int
	State       feed.State
	StateSince  time.Time
}

// Connected reports whether the snapshot was taken while connected.
func (s Snapshot) Connected() bool {
	return s.State == feed.Connected
}

// DisconnectedFor returns how long the feed has been out of the Connected
// state, or zero while connected.
func (s Snapshot) DisconnectedFor(now time.Time) time.Duration {
	if s.Connected() || s.StateSince.IsZero() {
		return 0
	}
	return now.Sub(s.StateSince)
}

// Snapshot returns a point-in-time copy of all stats.
func (s *Stats) Snapshot(buffered int) Snapshot {
	snap := Snapshot{
		Received:    s.Received.Load(),
		Appended:    s.Appended.Load(),
		Suppressed:  s.Suppressed.Load(),
		Evicted:     s.Evicted.Load(),
		Malformed:   s.Malformed.Load(),
		RateLimited: s.RateLimited.Load(),
		Errors:      s.Errors.Load(),
		Reconnects:  s.Reconnects.Load(),
		Buffered:    buffered,
	}
	s.mu.Lock()
	snap.State = s.state
	snap.StateSince = s.stateSince
	s.mu.Unlock()
	return snap
}
