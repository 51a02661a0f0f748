package feed

import (
	"context"
	"time"
)

// ProbeResult describes a one-shot check of a backend endpoint.
type ProbeResult struct {
	URL       string `json:"url"`
	OK        bool   `json:"ok"`
	Entries   int    `json:"entries,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Probe performs a single since=0 request. The feed's cursor is left untouched.
func (f *PollFeed) Probe(ctx context.Context) ProbeResult {
	res := ProbeResult{URL: f.url}
	start := time.Now()
	batch, err := f.fetch(ctx, initialCursor)
	res.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Entries = len(batch)
	return res
}

// Probe dials the websocket endpoint once and closes the connection.
func (f *SocketFeed) Probe(ctx context.Context) ProbeResult {
	res := ProbeResult{URL: f.url}
	start := time.Now()
	conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
	res.LatencyMS = time.Since(start).Milliseconds()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	_ = conn.Close()
	res.OK = true
	return res
}
