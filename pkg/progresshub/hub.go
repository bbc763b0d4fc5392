// Package progresshub broadcasts a running sync's ProgressReport stream to
// any number of connected WebSocket monitors. It is a one-way feed, not a
// command/control surface -- it never reads a frame from its subscribers
// -- equivalent to piping progress callbacks to a log file, just over a
// socket instead of a file descriptor. Adapted from internal/server's
// WebSocket RPC channel, which adapts the same coder/websocket connection
// type to jrpc2's Channel interface for a bidirectional RPC transport;
// Hub only ever needs the one-directional half of that adapter.
package progresshub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/katello/grinder/pkg/fetchengine"
	"github.com/katello/grinder/pkg/logger"
)

// writeTimeout bounds how long Broadcast waits for one slow subscriber
// before dropping it, so a stalled monitor cannot back-pressure a sync.
const writeTimeout = 5 * time.Second

// Hub tracks connected progress monitors and fans ProgressReport values out
// to all of them. The zero value is not usable; use New.
type Hub struct {
	log logger.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
}

// New creates an empty Hub. log may be nil.
func New(log logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Hub{log: log, subs: make(map[*subscriber]struct{})}
}

// Handler upgrades incoming HTTP requests to WebSocket connections and
// registers them as subscribers until the connection closes or the
// request context is canceled.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.log.Warning("progresshub: accept: %v", err)
			return
		}
		sub := &subscriber{conn: conn}
		h.add(sub)
		defer h.remove(sub)

		// The connection is never expected to send anything; block on a
		// read purely to detect the peer closing or going away so the
		// subscriber can be unregistered promptly.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	})
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// Broadcast sends report as a JSON frame to every connected subscriber. A
// subscriber that does not accept the write within writeTimeout is
// dropped. Broadcast is itself a valid fetchengine.ReportCallback.
func (h *Hub) Broadcast(report fetchengine.ProgressReport) {
	data, err := json.Marshal(report)
	if err != nil {
		h.log.Warning("progresshub: marshal report: %v", err)
		return
	}

	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := sub.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.log.Warning("progresshub: write: %v", err)
			h.remove(sub)
			sub.conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

// Count returns the number of currently connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
