package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

const handshakeTimeout = 10 * time.Second

// SocketFeed streams entries from the backend's /ws/logs endpoint. One
// websocket frame carries one JSON log entry. After a failed dial or a closed
// connection it waits a fixed delay and dials again.
type SocketFeed struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	logger zerolog.Logger

	// mu guards the settings below, which may change while a subscription
	// is running.
	mu     sync.Mutex
	delay  time.Duration
	onDial func(err error)
}

// NewSocketFeed creates a feed for the given backend address.
func NewSocketFeed(target, token string, logger zerolog.Logger) *SocketFeed {
	return &SocketFeed{
		url:    SocketURL(target),
		header: authHeader(token),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		delay:  DefaultReconnectDelay,
		logger: logger,
	}
}

// URL returns the websocket address dialed by the feed.
func (f *SocketFeed) URL() string {
	return f.url
}

// SetReconnectDelay overrides the fixed delay between connection attempts.
// A running subscription keeps the delay it started with.
func (f *SocketFeed) SetReconnectDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// SetOnDial registers a callback invoked after every dial attempt.
func (f *SocketFeed) SetOnDial(fn func(err error)) {
	f.mu.Lock()
	f.onDial = fn
	f.mu.Unlock()
}

func (f *SocketFeed) settings() (time.Duration, func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delay, f.onDial
}

// Subscribe implements Feed.
func (f *SocketFeed) Subscribe(h Handler) func() {
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
			// detach first so the close below cannot reach the handler
			s.detach()
			cancel()
			<-done
		})
	}
}

func (f *SocketFeed) run(ctx context.Context, s *sink) {
	delay, _ := f.settings()
	b := backoff.NewConstantBackOff(delay)

	for {
		s.state(Connecting)
		conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if _, onDial := f.settings(); onDial != nil {
			onDial(err)
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn().Err(err).Str("url", f.url).Msg("log socket dial failed")
			s.state(Disconnected)
		} else {
			f.logger.Debug().Str("url", f.url).Msg("log socket connected")
			s.state(Connected)
			f.read(ctx, conn, s)
			if ctx.Err() != nil {
				return
			}
			s.state(Disconnected)
		}

		if !sleepContext(ctx, b.NextBackOff()) {
			return
		}
	}
}

// read consumes frames until the connection fails or ctx is cancelled.
// The connection is always closed on return.
func (f *SocketFeed) read(ctx context.Context, conn *websocket.Conn, s *sink) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn().Err(err).Str("url", f.url).Msg("log socket closed")
			}
			return
		}

		entry, err := logtypes.Decode(data)
		if err != nil {
			f.logger.Warn().Err(err).Bytes("frame", truncate(data, 256)).Msg("dropping malformed log frame")
			s.malformed(data, err)
			continue
		}
		s.entries(entry)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
