package feed

import "strings"

const (
	socketPath = "/ws/logs"
	pollPath   = "/api/logs"
)

// TargetURL constructs a URL for the given backend and path, respecting scheme prefixes.
// Plain host:port targets default to http://.
func TargetURL(target, path string) string {
	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		return strings.TrimRight(target, "/") + path
	}
	return "http://" + strings.TrimRight(target, "/") + path
}

// SocketURL builds the websocket address for the log stream.
// http:// maps to ws:// and https:// to wss://; explicit ws schemes are kept.
func SocketURL(target string) string {
	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		return strings.TrimRight(target, "/") + socketPath
	case strings.HasPrefix(target, "https://"):
		return "wss://" + strings.TrimRight(strings.TrimPrefix(target, "https://"), "/") + socketPath
	}
	return "ws://" + strings.TrimPrefix(TargetURL(target, socketPath), "http://")
}

// PollURL builds the polling endpoint address (without the since parameter).
func PollURL(target string) string {
	switch {
	case strings.HasPrefix(target, "wss://"):
		target = "https://" + strings.TrimPrefix(target, "wss://")
	case strings.HasPrefix(target, "ws://"):
		target = "http://" + strings.TrimPrefix(target, "ws://")
	}
	return TargetURL(target, pollPath)
}
