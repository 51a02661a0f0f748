package live

import (
	"sync"
	"time"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

// Notification kinds.
const (
	KindRateLimit = "rate_limit"
	KindAlert     = "alert"
)

// RateLimitTTL is how long a rate-limit notification should stay visible.
const RateLimitTTL = 5 * time.Second

// Notification is a transient, user-facing event. It never enters the log buffer.
type Notification struct {
	Kind    string
	Title   string
	Detail  string
	Entry   *logtypes.LogEntry
	Time    time.Time
	TTL     time.Duration
	Backend string
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Multi fans a notification out to several notifiers. Nil entries are skipped.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// ChanNotifier queues notifications on a buffered channel for a UI to drain.
// When the channel is full new notifications are dropped.
type ChanNotifier struct {
	ch      chan Notification
	mu      sync.Mutex
	dropped int
}

// NewChanNotifier creates a notifier with the given queue size.
func NewChanNotifier(size int) *ChanNotifier {
	if size <= 0 {
		size = 16
	}
	return &ChanNotifier{ch: make(chan Notification, size)}
}

// Notify implements Notifier.
func (c *ChanNotifier) Notify(n Notification) {
	select {
	case c.ch <- n:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// C returns the receive side of the queue.
func (c *ChanNotifier) C() <-chan Notification {
	return c.ch
}

// Drain returns every queued notification without blocking.
func (c *ChanNotifier) Drain() []Notification {
	var out []Notification
	for {
		select {
		case n := <-c.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Dropped returns how many notifications were discarded on a full queue.
func (c *ChanNotifier) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func rateLimitNotification(e logtypes.LogEntry, backend string) Notification {
	entry := e
	return Notification{
		Kind:    KindRateLimit,
		Title:   "Requests too frequent",
		Detail:  "Backend hit HTTP 429; request interval raised by 1s.",
		Entry:   &entry,
		Time:    time.Now(),
		TTL:     RateLimitTTL,
		Backend: backend,
	}
}
