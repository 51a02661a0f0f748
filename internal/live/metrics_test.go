package live

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/ppiankov/scrapewatch/internal/feed"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// metricValue returns the value of an unlabeled counter or gauge.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %s not found", name)
	}
	m := f.GetMetric()[0]
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return m.GetGauge().GetValue()
}

func TestNewMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.DialTotal.WithLabelValues("ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	expected := map[string]bool{
		"scrapewatch_entries_received_total":         false,
		"scrapewatch_entries_suppressed_total":       false,
		"scrapewatch_entries_evicted_total":          false,
		"scrapewatch_entries_malformed_total":        false,
		"scrapewatch_rate_limit_notifications_total": false,
		"scrapewatch_reconnects_total":               false,
		"scrapewatch_connected":                      false,
		"scrapewatch_buffer_entries":                 false,
		"scrapewatch_poll_duration_seconds":          false,
		"scrapewatch_poll_skipped_total":             false,
		"scrapewatch_socket_dials_total":             false,
	}
	for _, f := range families {
		if _, ok := expected[f.GetName()]; ok {
			expected[f.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestMetrics_InstrumentNil(t *testing.T) {
	var m *Metrics
	m.Instrument(feed.NewPollFeed("localhost:1", "", zerolog.Nop())) // must not panic
}

// hookedFeed exposes the transport hooks Instrument looks for.
type hookedFeed struct {
	fakeFeed
	onPoll func(time.Duration, error)
	onSkip func()
	onDial func(error)
}

func (h *hookedFeed) SetOnPoll(fn func(time.Duration, error)) { h.onPoll = fn }
func (h *hookedFeed) SetOnSkip(fn func())                     { h.onSkip = fn }
func (h *hookedFeed) SetOnDial(fn func(error))                { h.onDial = fn }

func TestMetrics_Instrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := &hookedFeed{}
	m.Instrument(h)

	h.onPoll(20*time.Millisecond, nil)
	h.onSkip()
	h.onSkip()
	h.onDial(nil)
	h.onDial(errors.New("refused"))
	h.onDial(errors.New("refused"))

	if v := metricValue(t, reg, "scrapewatch_poll_skipped_total"); v != 2 {
		t.Errorf("poll skipped = %v, want 2", v)
	}
	hist := gatherMetric(t, reg, "scrapewatch_poll_duration_seconds")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Errorf("expected one poll duration sample")
	}

	dials := gatherMetric(t, reg, "scrapewatch_socket_dials_total")
	counts := map[string]float64{}
	for _, mm := range dials.GetMetric() {
		counts[mm.GetLabel()[0].GetValue()] = mm.GetCounter().GetValue()
	}
	if counts["ok"] != 1 || counts["error"] != 2 {
		t.Errorf("dial counts = %v, want ok=1 error=2", counts)
	}
}
