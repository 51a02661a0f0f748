package main

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/websocket"
)

// fakeBackend serves /api/logs and, when socket is set, /ws/logs.
type fakeBackend struct {
	socket bool

	mu      sync.Mutex
	batches []string
}

var upgrader = websocket.Upgrader{}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/logs":
		b.mu.Lock()
		body := "[]"
		if len(b.batches) > 0 {
			body = b.batches[0]
			b.batches = b.batches[1:]
		}
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	case "/ws/logs":
		if !b.socket {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	default:
		http.NotFound(w, r)
	}
}

func newFakeBackend(socket bool, batches ...string) *httptest.Server {
	return httptest.NewServer(&fakeBackend{socket: socket, batches: batches})
}
