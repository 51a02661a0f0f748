package logtypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Log levels emitted by the scraper backend. Any other string is passed through.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// RateLimitMarker appears inside a message when the backend was throttled (HTTP 429).
const RateLimitMarker = "RATE_LIMIT_EXCEEDED"

// ErrMalformedEntry is returned by Decode for frames that are not log entries.
var ErrMalformedEntry = errors.New("malformed log entry")

// LogEntry is one line of the backend's log stream.
type LogEntry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
	// Cursor is the opaque ordering marker returned by the polling endpoint.
	Cursor Cursor `json:"timestamp,omitempty"`
}

// Cursor is the backend's ordering marker, kept as the text it was sent in
// and passed back verbatim as the since parameter. The backend may send it as
// a number or a string; any other JSON value is kept as raw text.
type Cursor string

// String returns the cursor text.
func (c Cursor) String() string {
	return string(c)
}

// UnmarshalJSON accepts any JSON value. It never fails, so an unexpected
// cursor shape cannot cost the entry it belongs to.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*c = Cursor(data)
			return nil
		}
		*c = Cursor(s)
	default:
		*c = Cursor(data)
	}
	return nil
}

// MarshalJSON writes numeric cursors as JSON numbers and everything else as
// a string.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if c.isNumber() {
		return []byte(c), nil
	}
	return json.Marshal(string(c))
}

func (c Cursor) isNumber() bool {
	if c == "" {
		return false
	}
	if ch := c[0]; ch != '-' && (ch < '0' || ch > '9') {
		return false
	}
	return json.Valid([]byte(c))
}

// Decode parses a single frame into a LogEntry.
func Decode(data []byte) (LogEntry, error) {
	var e LogEntry
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return e, fmt.Errorf("%w: not a JSON object", ErrMalformedEntry)
	}
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return LogEntry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if e.Message == "" && e.Time == "" {
		return LogEntry{}, fmt.Errorf("%w: missing time and message", ErrMalformedEntry)
	}
	return e, nil
}

// SameDisplay reports whether a and b render identically (same time, same message).
func SameDisplay(a, b LogEntry) bool {
	return a.Time == b.Time && a.Message == b.Message
}

// IsRateLimited reports whether the entry carries the rate-limit marker.
func IsRateLimited(e LogEntry) bool {
	return strings.Contains(e.Message, RateLimitMarker)
}
