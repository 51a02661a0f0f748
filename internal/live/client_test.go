package live

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ppiankov/scrapewatch/internal/feed"
	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

// fakeFeed hands out subscriptions that tests drive by hand. Subscriptions
// keep delivering after unsubscribe so the client's own filtering is tested.
type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	h      feed.Handler
	mu     sync.Mutex
	closed int
}

func (f *fakeFeed) Subscribe(h feed.Handler) func() {
	s := &fakeSub{h: h}
	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.closed++
		s.mu.Unlock()
	}
}

func (f *fakeFeed) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *fakeSub) send(entries ...logtypes.LogEntry) {
	for _, e := range entries {
		s.h.OnEntry(e)
	}
}

func (s *fakeSub) state(st feed.State) { s.h.OnState(st) }

func (s *fakeSub) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func info(t, msg string) logtypes.LogEntry {
	return logtypes.LogEntry{Time: t, Level: logtypes.LevelInfo, Message: msg}
}

func TestClient_InitialState(t *testing.T) {
	c := New(&fakeFeed{})
	if c.State() != feed.Disconnected || c.Connected() {
		t.Fatalf("initial state = %v, want disconnected", c.State())
	}
	if c.Capacity() != 1000 {
		t.Fatalf("capacity = %d, want 1000", c.Capacity())
	}
	if c.Entries() != nil {
		t.Fatal("expected empty buffer")
	}
}

func TestClient_StateFollowsFeed(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	defer c.Stop()

	s := ff.sub(0)
	s.state(feed.Connecting)
	if c.State() != feed.Connecting {
		t.Fatalf("state = %v, want connecting", c.State())
	}
	s.state(feed.Connected)
	if !c.Connected() {
		t.Fatal("expected connected")
	}
	s.state(feed.Disconnected)
	if c.Connected() {
		t.Fatal("expected disconnected immediately after close")
	}
}

func TestClient_Bounding(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	defer c.Stop()

	const n = 1500
	s := ff.sub(0)
	for i := 0; i < n; i++ {
		s.send(info("10:00", fmt.Sprintf("line %d", i)))
	}

	entries := c.Entries()
	if len(entries) != 1000 {
		t.Fatalf("buffer length = %d, want 1000", len(entries))
	}
	if entries[0].Message != "line 500" || entries[999].Message != "line 1499" {
		t.Fatalf("unexpected window: first=%q last=%q", entries[0].Message, entries[999].Message)
	}
	if st := c.Stats(); st.Evicted != 500 || st.Received != n {
		t.Fatalf("stats = %+v, want 500 evicted of %d", st, n)
	}
}

func TestClient_ImmediateDedup(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	defer c.Stop()

	ff.sub(0).send(info("10:00", "x"), info("10:00", "x"), info("10:00", "y"))

	entries := c.Entries()
	if len(entries) != 2 || entries[0].Message != "x" || entries[1].Message != "y" {
		t.Fatalf("entries = %v, want [x y]", entries)
	}
	if c.Stats().Suppressed != 1 {
		t.Fatalf("suppressed = %d, want 1", c.Stats().Suppressed)
	}
}

func TestClient_RateLimitNotification(t *testing.T) {
	ff := &fakeFeed{}
	var mu sync.Mutex
	var got []Notification
	c := New(ff, WithNotifier(NotifierFunc(func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})), WithBackend("scraper:8000"))
	c.Start()
	defer c.Stop()

	s := ff.sub(0)
	s.send(logtypes.LogEntry{Time: "10:00", Level: logtypes.LevelError, Message: "ERROR RATE_LIMIT_EXCEEDED: backing off"})
	s.send(info("10:01", "scraped 40 items"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	n := got[0]
	if n.Kind != KindRateLimit || n.TTL != RateLimitTTL || n.Backend != "scraper:8000" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Entry == nil || n.Entry.Message != "ERROR RATE_LIMIT_EXCEEDED: backing off" {
		t.Fatalf("notification entry = %+v", n.Entry)
	}
	if c.Len() != 2 {
		t.Fatalf("marker entry must still be buffered, len = %d", c.Len())
	}
}

func TestClient_NoNotificationWithoutMarker(t *testing.T) {
	ff := &fakeFeed{}
	notes := NewChanNotifier(4)
	c := New(ff, WithNotifier(notes))
	c.Start()
	defer c.Stop()

	ff.sub(0).send(info("10:00", "HTTP 200 OK"), info("10:01", "rate limit fine"))
	if n := len(notes.Drain()); n != 0 {
		t.Fatalf("notifications = %d, want 0", n)
	}
}

func TestClient_ClearThenAppend(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	defer c.Stop()

	s := ff.sub(0)
	s.send(info("10:00", "a"), info("10:01", "b"))
	s.state(feed.Connected)

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear = %d", c.Len())
	}
	if !c.Connected() {
		t.Fatal("clear must not affect connection state")
	}
	if ff.count() != 1 {
		t.Fatal("clear must not resubscribe")
	}

	s.send(info("10:01", "b"))
	entries := c.Entries()
	if len(entries) != 1 || entries[0].Message != "b" {
		t.Fatalf("entries = %v, want [b]", entries)
	}
}

func TestClient_StopIdempotent(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	ff.sub(0).state(feed.Connected)

	c.Stop()
	c.Stop()

	if c.Connected() {
		t.Fatal("expected not connected after stop")
	}
	if c.State() != feed.Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	if n := ff.sub(0).closedCount(); n != 1 {
		t.Fatalf("unsubscribe called %d times, want 1", n)
	}
}

func TestClient_StopWithoutStart(t *testing.T) {
	c := New(&fakeFeed{})
	c.Stop()
	if c.State() != feed.Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
}

func TestClient_IgnoresEventsAfterStop(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	s := ff.sub(0)
	s.state(feed.Connected)
	c.Stop()

	// a transport that keeps firing after teardown
	s.state(feed.Connected)
	s.send(info("10:00", "late"))

	if c.State() != feed.Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	if c.Len() != 0 {
		t.Fatal("late entry reached the buffer")
	}
}

func TestClient_StartReplacesSubscription(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	c.Start()
	defer c.Stop()

	if ff.count() != 2 {
		t.Fatalf("subscriptions = %d, want 2", ff.count())
	}
	if ff.sub(0).closedCount() != 1 {
		t.Fatal("first subscription was not torn down")
	}

	ff.sub(0).send(info("10:00", "stale"))
	ff.sub(1).send(info("10:00", "fresh"))
	entries := c.Entries()
	if len(entries) != 1 || entries[0].Message != "fresh" {
		t.Fatalf("entries = %v, want [fresh]", entries)
	}
}

func TestClient_StartAfterStop(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	c.Stop()
	c.Start()
	defer c.Stop()

	if c.State() != feed.Disconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
	ff.sub(1).state(feed.Connected)
	if !c.Connected() {
		t.Fatal("expected fresh start to go live")
	}
}

func TestClient_Reconnect(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	defer c.Stop()
	ff.sub(0).state(feed.Connected)
	ff.sub(0).send(info("10:00", "kept"))

	c.Reconnect()
	if c.Connected() {
		t.Fatal("reconnect must reset to disconnected")
	}
	if ff.count() != 2 || ff.sub(0).closedCount() != 1 {
		t.Fatal("reconnect must replace the subscription")
	}
	if c.Len() != 1 {
		t.Fatal("reconnect must keep the buffer")
	}
	if c.Stats().Reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", c.Stats().Reconnects)
	}
}

func TestClient_EntryHookSeesAcceptedOnly(t *testing.T) {
	ff := &fakeFeed{}
	var seen []string
	c := New(ff, WithEntryHook(func(e logtypes.LogEntry) { seen = append(seen, e.Message) }))
	c.Start()
	defer c.Stop()

	ff.sub(0).send(info("10:00", "a"), info("10:00", "a"), info("10:00", "b"))
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("hook saw %v, want [a b]", seen)
	}
}

func TestClient_Malformed(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff, WithLogger(zerolog.Nop()))
	c.Start()
	defer c.Stop()

	ff.sub(0).h.OnMalformed([]byte("nope"), logtypes.ErrMalformedEntry)
	if c.Stats().Malformed != 1 {
		t.Fatalf("malformed = %d, want 1", c.Stats().Malformed)
	}
	if c.Len() != 0 {
		t.Fatal("malformed frame reached the buffer")
	}
}

func TestClient_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ff := &fakeFeed{}
	c := New(ff, WithMetrics(m))
	c.Start()
	defer c.Stop()

	s := ff.sub(0)
	s.state(feed.Connected)
	s.send(info("10:00", "a"), info("10:00", "a"), info("10:01", "RATE_LIMIT_EXCEEDED"))

	if v := metricValue(t, reg, "scrapewatch_entries_received_total"); v != 3 {
		t.Errorf("received = %v, want 3", v)
	}
	if v := metricValue(t, reg, "scrapewatch_entries_suppressed_total"); v != 1 {
		t.Errorf("suppressed = %v, want 1", v)
	}
	if v := metricValue(t, reg, "scrapewatch_rate_limit_notifications_total"); v != 1 {
		t.Errorf("rate limit notices = %v, want 1", v)
	}
	if v := metricValue(t, reg, "scrapewatch_connected"); v != 1 {
		t.Errorf("connected = %v, want 1", v)
	}
	if v := metricValue(t, reg, "scrapewatch_buffer_entries"); v != 2 {
		t.Errorf("buffer entries = %v, want 2", v)
	}

	c.Stop()
	if v := metricValue(t, reg, "scrapewatch_connected"); v != 0 {
		t.Errorf("connected after stop = %v, want 0", v)
	}
}

// TestClient_PollClearKeepsCursor runs the client against a real polling feed.
func TestClient_PollClearKeepsCursor(t *testing.T) {
	var mu sync.Mutex
	var since []string
	bodies := []string{
		`[{"time":"10:00:01","level":"INFO","message":"one","timestamp":11}]`,
		`[]`,
		`[{"time":"10:00:02","level":"INFO","message":"two","timestamp":12}]`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		since = append(since, r.URL.Query().Get("since"))
		body := "[]"
		if len(bodies) > 0 {
			body = bodies[0]
			bodies = bodies[1:]
		}
		mu.Unlock()
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	pf := feed.NewPollFeedWithClient(srv.URL, "", srv.Client(), zerolog.Nop())
	pf.SetInterval(20 * time.Millisecond)
	c := New(pf)
	c.Start()
	defer c.Stop()

	waitUntil(t, "first entry", func() bool { return c.Len() == 1 })
	c.Clear()
	waitUntil(t, "second entry", func() bool { return c.Len() == 1 })

	entries := c.Entries()
	if entries[0].Message != "two" {
		t.Fatalf("entries = %v, want [two]", entries)
	}
	if !c.Connected() {
		t.Fatal("expected connected")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range since[1:] {
		if s == "0" {
			t.Fatalf("clear reset the cursor: %v", since)
		}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_ReconnectAfterStop(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	c.Stop()

	c.Reconnect()
	if c.State() != feed.Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	if ff.count() != 1 {
		t.Fatalf("subscriptions = %d, want 1", ff.count())
	}
	if c.Stats().Reconnects != 0 {
		t.Fatalf("reconnects = %d, want 0", c.Stats().Reconnects)
	}
}

func TestClient_RepeatedRateLimitNotifiesEachTime(t *testing.T) {
	ff := &fakeFeed{}
	notes := NewChanNotifier(4)
	c := New(ff, WithNotifier(notes))
	c.Start()
	defer c.Stop()

	line := logtypes.LogEntry{Time: "10:00", Level: logtypes.LevelWarning, Message: "RATE_LIMIT_EXCEEDED"}
	ff.sub(0).send(line, line)

	if c.Len() != 1 {
		t.Fatalf("buffered = %d, want 1", c.Len())
	}
	if n := len(notes.Drain()); n != 2 {
		t.Fatalf("notifications = %d, want 2", n)
	}
	if got := c.Stats().RateLimited; got != 2 {
		t.Fatalf("rate limited = %d, want 2", got)
	}
}

func TestClient_CountsAutomaticReconnects(t *testing.T) {
	reg := prometheus.NewRegistry()
	ff := &fakeFeed{}
	c := New(ff, WithMetrics(NewMetrics(reg)))
	c.Start()
	defer c.Stop()

	s := ff.sub(0)
	for _, st := range []feed.State{
		feed.Connecting, feed.Connected, feed.Disconnected, // first attempt, then a drop
		feed.Connecting, feed.Disconnected, // redial fails
		feed.Connecting, feed.Connected, // redial succeeds
	} {
		s.state(st)
	}
	if got := c.Stats().Reconnects; got != 2 {
		t.Fatalf("reconnects = %d, want 2", got)
	}

	c.Reconnect()
	ff.sub(1).state(feed.Connecting)
	if got := c.Stats().Reconnects; got != 3 {
		t.Fatalf("reconnects after manual reconnect = %d, want 3", got)
	}
	if v := metricValue(t, reg, "scrapewatch_reconnects_total"); v != 3 {
		t.Fatalf("reconnects metric = %v, want 3", v)
	}
}

func TestClient_PollRecoveryCountsAsReconnect(t *testing.T) {
	ff := &fakeFeed{}
	c := New(ff)
	c.Start()
	defer c.Stop()

	s := ff.sub(0)
	s.state(feed.Connecting)
	s.state(feed.Disconnected)
	s.state(feed.Disconnected)
	s.state(feed.Connected)
	if got := c.Stats().Reconnects; got != 1 {
		t.Fatalf("reconnects = %d, want 1", got)
	}
}
