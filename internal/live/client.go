// Package live keeps a bounded, ordered view of the scraper backend's log
// stream and supervises the connection that feeds it.
package live

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ppiankov/scrapewatch/internal/buffers"
	"github.com/ppiankov/scrapewatch/internal/feed"
	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

// Client owns one live log feed subscription and the buffer it fills.
//
// Transport failures never surface as errors: they flip the connection state
// and the feed retries on its own. Events from a subscription that was torn
// down by Stop, Start or Reconnect are discarded.
type Client struct {
	feed     feed.Feed
	ring     *buffers.LogRing
	stats    *Stats
	notifier Notifier
	metrics  *Metrics
	logger   zerolog.Logger
	onEntry  func(logtypes.LogEntry)
	backend  string
	capacity int

	mu    sync.Mutex
	state feed.State
	gen   uint64
	unsub func()
	// seen is set once the current subscription reported its first state.
	seen bool
}

// Option configures a Client.
type Option func(*Client)

// WithCapacity sets the buffer capacity (default 1000).
func WithCapacity(n int) Option {
	return func(c *Client) { c.capacity = n }
}

// WithNotifier sets the receiver of rate-limit notifications.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithEntryHook registers fn to be called for every entry that enters the
// buffer. fn runs on the feed's delivery path and must not call Start, Stop
// or Reconnect.
func WithEntryHook(fn func(logtypes.LogEntry)) Option {
	return func(c *Client) { c.onEntry = fn }
}

// WithBackend records the backend address for notifications.
func WithBackend(addr string) Option {
	return func(c *Client) { c.backend = addr }
}

// New creates a stopped client for f. Call Start to begin.
func New(f feed.Feed, opts ...Option) *Client {
	c := &Client{
		feed:     f,
		stats:    NewStats(),
		logger:   zerolog.Nop(),
		capacity: buffers.DefaultCapacity,
		state:    feed.Disconnected,
	}
	for _, o := range opts {
		o(c)
	}
	c.ring = buffers.NewLogRing(c.capacity)
	c.metrics.Instrument(f)
	return c
}

// Start begins supervising the feed. An existing subscription is torn down
// first, so there is never more than one live feed.
func (c *Client) Start() {
	c.mu.Lock()
	old := c.unsub
	c.unsub = nil
	c.gen++
	gen := c.gen
	c.seen = false
	c.setStateLocked(feed.Disconnected)
	c.mu.Unlock()

	if old != nil {
		old()
	}

	unsub := c.feed.Subscribe(feed.Handler{
		OnEntry:     func(e logtypes.LogEntry) { c.handleEntry(gen, e) },
		OnState:     func(s feed.State) { c.handleState(gen, s) },
		OnMalformed: func(raw []byte, err error) { c.handleMalformed(gen, raw, err) },
	})

	c.mu.Lock()
	if c.gen != gen {
		// superseded by a concurrent Start or Stop
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsub = unsub
	c.mu.Unlock()
}

// Stop releases the feed and stops reconnecting. Safe to call repeatedly.
// When Stop returns no event from the released feed can reach the client.
func (c *Client) Stop() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.gen++
	c.setStateLocked(feed.Stopped)
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Reconnect drops the current connection and starts a new attempt immediately.
// A stopped client stays stopped; only Start revives it. Manual and automatic
// reconnects share one counter.
func (c *Client) Reconnect() {
	if c.State() == feed.Stopped {
		return
	}
	c.stats.Reconnects.Add(1)
	if c.metrics != nil {
		c.metrics.Reconnects.Inc()
	}
	c.logger.Info().Str("backend", c.backend).Msg("manual reconnect")
	c.Start()
}

// Clear empties the buffer. The connection and the feed position are untouched.
func (c *Client) Clear() {
	c.ring.Clear()
	if c.metrics != nil {
		c.metrics.BufferEntries.Set(0)
	}
}

// Entries returns the buffered entries, oldest first.
func (c *Client) Entries() []logtypes.LogEntry {
	return c.ring.Snapshot()
}

// Len returns the number of buffered entries.
func (c *Client) Len() int {
	return c.ring.Len()
}

// Capacity returns the buffer capacity.
func (c *Client) Capacity() int {
	return c.ring.Cap()
}

// Version changes whenever the buffer changes.
func (c *Client) Version() int {
	return c.ring.Version()
}

// State returns the current connection state.
func (c *Client) State() feed.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the feed is currently connected.
func (c *Client) Connected() bool {
	return c.State() == feed.Connected
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Snapshot {
	return c.stats.Snapshot(c.ring.Len())
}

// Backend returns the configured backend address.
func (c *Client) Backend() string {
	return c.backend
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Client) setStateLocked(s feed.State) {
	c.state = s
	c.stats.setState(s)
	if c.metrics != nil {
		if s == feed.Connected {
			c.metrics.Connected.Set(1)
		} else {
			c.metrics.Connected.Set(0)
		}
	}
}

func (c *Client) handleState(gen uint64, s feed.State) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	prev := c.state
	// the feed's first attempt is not a reconnect; later exits from
	// Disconnected are the transport retrying on its own
	auto := c.seen && prev == feed.Disconnected && (s == feed.Connecting || s == feed.Connected)
	c.seen = true
	c.setStateLocked(s)
	c.mu.Unlock()

	if auto {
		c.stats.Reconnects.Add(1)
		if c.metrics != nil {
			c.metrics.Reconnects.Inc()
		}
	}
	if prev != s {
		c.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("feed state")
	}
}

func (c *Client) handleEntry(gen uint64, e logtypes.LogEntry) {
	if !c.current(gen) {
		return
	}

	c.stats.Received.Add(1)
	if c.metrics != nil {
		c.metrics.EntriesReceived.Inc()
	}

	// every received marker notifies, whether or not the buffer keeps it
	if logtypes.IsRateLimited(e) {
		c.stats.RateLimited.Add(1)
		if c.metrics != nil {
			c.metrics.RateLimitNotices.Inc()
		}
		if c.notifier != nil {
			c.notifier.Notify(rateLimitNotification(e, c.backend))
		}
	}

	switch c.ring.Push(e) {
	case buffers.Suppressed:
		c.stats.Suppressed.Add(1)
		if c.metrics != nil {
			c.metrics.EntriesSuppressed.Inc()
		}
		return
	case buffers.AppendedEvicted:
		c.stats.Evicted.Add(1)
		if c.metrics != nil {
			c.metrics.EntriesEvicted.Inc()
		}
	}

	c.stats.Appended.Add(1)
	if e.Level == logtypes.LevelError || e.Level == logtypes.LevelCritical {
		c.stats.Errors.Add(1)
	}
	if c.metrics != nil {
		c.metrics.BufferEntries.Set(float64(c.ring.Len()))
	}
	if c.onEntry != nil {
		c.onEntry(e)
	}
}

func (c *Client) handleMalformed(gen uint64, raw []byte, err error) {
	if !c.current(gen) {
		return
	}
	c.stats.Malformed.Add(1)
	if c.metrics != nil {
		c.metrics.EntriesMalformed.Inc()
	}
	c.logger.Debug().Err(err).Int("bytes", len(raw)).Msg("malformed entry dropped")
}
