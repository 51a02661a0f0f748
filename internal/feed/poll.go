package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

const (
	initialCursor   = "0"
	pollTimeout     = 10 * time.Second
	maxPollResponse = 10 << 20 // 10MB
)

// PollFeed fetches new entries from /api/logs?since=<cursor> on a fixed
// interval. The cursor belongs to the feed, so a new subscription continues
// where the previous one stopped instead of re-fetching history.
type PollFeed struct {
	url      string
	token    string
	client   *http.Client
	interval time.Duration
	logger   zerolog.Logger

	// mu guards the cursor and the settings below, which may change while a
	// subscription is running.
	mu     sync.Mutex
	cursor string
	onPoll func(d time.Duration, err error)
	onSkip func()
}

// NewPollFeed creates a polling feed for the given backend address.
func NewPollFeed(target, token string, logger zerolog.Logger) *PollFeed {
	return NewPollFeedWithClient(target, token, &http.Client{Timeout: pollTimeout}, logger)
}

// NewPollFeedWithClient creates a polling feed with a custom HTTP client (useful for tests).
func NewPollFeedWithClient(target, token string, client *http.Client, logger zerolog.Logger) *PollFeed {
	if client == nil {
		client = &http.Client{Timeout: pollTimeout}
	}
	return &PollFeed{
		url:      PollURL(target),
		token:    token,
		client:   client,
		interval: DefaultPollInterval,
		logger:   logger,
		cursor:   initialCursor,
	}
}

// pollSettings is a consistent copy of the fields a running subscription reads.
type pollSettings struct {
	interval time.Duration
	onPoll   func(d time.Duration, err error)
	onSkip   func()
}

func (f *PollFeed) settings() pollSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pollSettings{interval: f.interval, onPoll: f.onPoll, onSkip: f.onSkip}
}

// URL returns the polling endpoint without query parameters.
func (f *PollFeed) URL() string {
	return f.url
}

// SetInterval overrides the polling interval. A running subscription keeps
// the interval it started with.
func (f *PollFeed) SetInterval(d time.Duration) {
	f.mu.Lock()
	f.interval = d
	f.mu.Unlock()
}

// SetOnPoll registers a callback invoked after every completed request.
func (f *PollFeed) SetOnPoll(fn func(d time.Duration, err error)) {
	f.mu.Lock()
	f.onPoll = fn
	f.mu.Unlock()
}

// SetOnSkip registers a callback invoked when a tick is skipped because a
// request is still in flight.
func (f *PollFeed) SetOnSkip(fn func()) {
	f.mu.Lock()
	f.onSkip = fn
	f.mu.Unlock()
}

// Cursor returns the position the next request will ask from.
func (f *PollFeed) Cursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Subscribe implements Feed. The first request is issued immediately.
func (f *PollFeed) Subscribe(h Handler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSink(h)
	done := make(chan struct{})

	go func() {
		defer close(done)
		f.run(ctx, s)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.detach()
			cancel()
			<-done
		})
	}
}

func (f *PollFeed) run(ctx context.Context, s *sink) {
	var (
		inFlight atomic.Bool
		wg       sync.WaitGroup
	)
	defer wg.Wait()

	tick := func() {
		if !inFlight.CompareAndSwap(false, true) {
			if onSkip := f.settings().onSkip; onSkip != nil {
				onSkip()
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer inFlight.Store(false)
			f.poll(ctx, s)
		}()
	}

	s.state(Connecting)
	tick()

	ticker := time.NewTicker(f.settings().interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (f *PollFeed) poll(ctx context.Context, s *sink) {
	start := time.Now()
	batch, err := f.fetch(ctx, f.Cursor())
	if onPoll := f.settings().onPoll; onPoll != nil {
		onPoll(time.Since(start), err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn().Err(err).Str("url", f.url).Msg("poll logs failed")
		s.state(Disconnected)
		return
	}

	s.state(Connected)

	var (
		entries []logtypes.LogEntry
		next    string
	)
	for _, raw := range batch {
		entry, err := logtypes.Decode(raw)
		if err != nil {
			f.logger.Warn().Err(err).Bytes("frame", truncate(raw, 256)).Msg("dropping malformed log entry")
			s.malformed(raw, err)
			continue
		}
		entries = append(entries, entry)
		if entry.Cursor != "" {
			next = entry.Cursor.String()
		}
	}
	if len(entries) == 0 {
		return
	}

	// only advance once the batch reached a live subscriber
	if s.entries(entries...) && next != "" {
		f.mu.Lock()
		f.cursor = next
		f.mu.Unlock()
	}
}

func (f *PollFeed) fetch(ctx context.Context, cursor string) ([]json.RawMessage, error) {
	u := f.url + "?" + url.Values{"since": {cursor}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("poll logs: HTTP %d", resp.StatusCode)
	}

	var batch []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPollResponse)).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return batch, nil
}
