// Package feed delivers the backend's log stream to a subscriber, over a
// persistent websocket or by polling the REST endpoint.
package feed

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/scrapewatch/internal/logtypes"
)

// State is the connectivity of a feed.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Stopped is terminal; only a fresh Start leaves it.
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler receives feed events. Nil fields are ignored.
type Handler struct {
	OnEntry     func(logtypes.LogEntry)
	OnState     func(State)
	OnMalformed func(raw []byte, err error)
}

// Feed is a live source of log entries.
//
// Subscribe starts delivering events to h and returns a function that tears
// the subscription down. After the returned function returns, h is never
// called again. Calling it more than once is safe.
type Feed interface {
	Subscribe(h Handler) (unsubscribe func())
}

// Transport names accepted by New.
const (
	TransportSocket = "socket"
	TransportPoll   = "poll"
)

// Defaults for the two transports.
const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultPollInterval   = time.Second
)

// Options configures a feed built by New.
type Options struct {
	Backend        string // base URL or host:port of the scraper backend
	Token          string // bearer token, optional
	Transport      string // socket (default) or poll
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	Logger         zerolog.Logger
}

// New builds the feed selected by opts.Transport.
func New(opts Options) (Feed, error) {
	if strings.TrimSpace(opts.Backend) == "" {
		return nil, fmt.Errorf("backend address is required")
	}
	switch strings.ToLower(opts.Transport) {
	case "", TransportSocket, "ws", "websocket":
		f := NewSocketFeed(opts.Backend, opts.Token, opts.Logger)
		if opts.ReconnectDelay > 0 {
			f.SetReconnectDelay(opts.ReconnectDelay)
		}
		return f, nil
	case TransportPoll, "polling", "http":
		f := NewPollFeed(opts.Backend, opts.Token, opts.Logger)
		if opts.PollInterval > 0 {
			f.SetInterval(opts.PollInterval)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (expected socket or poll)", opts.Transport)
	}
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// sink serializes handler calls for one subscription and lets teardown
// detach the handler before the transport is closed.
type sink struct {
	mu sync.Mutex
	h  *Handler
}

func newSink(h Handler) *sink {
	return &sink{h: &h}
}

// detach drops the handler. It waits for an in-progress callback to finish.
func (s *sink) detach() {
	s.mu.Lock()
	s.h = nil
	s.mu.Unlock()
}

func (s *sink) state(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h != nil && s.h.OnState != nil {
		s.h.OnState(st)
	}
}

func (s *sink) malformed(raw []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h != nil && s.h.OnMalformed != nil {
		s.h.OnMalformed(raw, err)
	}
}

// entries delivers a batch in order and reports whether a handler was attached.
func (s *sink) entries(batch ...logtypes.LogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		return false
	}
	if s.h.OnEntry != nil {
		for _, e := range batch {
			s.h.OnEntry(e)
		}
	}
	return true
}
