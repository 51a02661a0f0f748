package live

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/scrapewatch/internal/feed"
)

// Metrics holds all Prometheus metrics for the live log client.
type Metrics struct {
	EntriesReceived   prometheus.Counter
	EntriesSuppressed prometheus.Counter
	EntriesEvicted    prometheus.Counter
	EntriesMalformed  prometheus.Counter
	RateLimitNotices  prometheus.Counter
	Reconnects        prometheus.Counter
	Connected         prometheus.Gauge
	BufferEntries     prometheus.Gauge
	PollDuration      prometheus.Histogram
	PollSkipped       prometheus.Counter
	DialTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all client metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_entries_received_total",
			Help: "Total log entries received from the backend",
		}),
		EntriesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_entries_suppressed_total",
			Help: "Total entries dropped as immediate repeats",
		}),
		EntriesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_entries_evicted_total",
			Help: "Total entries evicted from the full buffer",
		}),
		EntriesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_entries_malformed_total",
			Help: "Total frames dropped because they did not parse as log entries",
		}),
		RateLimitNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_rate_limit_notifications_total",
			Help: "Total rate-limit notifications raised",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_reconnects_total",
			Help: "Total reconnect attempts, automatic and manual",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapewatch_connected",
			Help: "1 while the log feed is connected",
		}),
		BufferEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapewatch_buffer_entries",
			Help: "Entries currently held in the buffer",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scrapewatch_poll_duration_seconds",
			Help:    "Duration of log poll requests",
			Buckets: prometheus.DefBuckets,
		}),
		PollSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapewatch_poll_skipped_total",
			Help: "Poll ticks skipped because a request was still in flight",
		}),
		DialTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapewatch_socket_dials_total",
			Help: "Websocket dial attempts by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.EntriesReceived,
		m.EntriesSuppressed,
		m.EntriesEvicted,
		m.EntriesMalformed,
		m.RateLimitNotices,
		m.Reconnects,
		m.Connected,
		m.BufferEntries,
		m.PollDuration,
		m.PollSkipped,
		m.DialTotal,
	)
	return m
}

// Instrument wires transport hooks of f to m. Feeds without hooks are ignored.
func (m *Metrics) Instrument(f feed.Feed) {
	if m == nil {
		return
	}
	type pollHooks interface {
		SetOnPoll(func(d time.Duration, err error))
		SetOnSkip(func())
	}
	type dialHooks interface {
		SetOnDial(func(err error))
	}
	if p, ok := f.(pollHooks); ok {
		p.SetOnPoll(func(d time.Duration, _ error) { m.PollDuration.Observe(d.Seconds()) })
		p.SetOnSkip(func() { m.PollSkipped.Inc() })
	}
	if d, ok := f.(dialHooks); ok {
		d.SetOnDial(func(err error) {
			if err != nil {
				m.DialTotal.WithLabelValues("error").Inc()
				return
			}
			m.DialTotal.WithLabelValues("ok").Inc()
		})
	}
}
