package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/events"
)

const (
	// sseReplayWindow is the number of recent events kept for clients that
	// reconnect with Last-Event-ID.
	sseReplayWindow = 1000

	sseKeepaliveInterval = 15 * time.Second

	// sseClientBuffer is the per-client queue; a client that falls further
	// behind misses events.
	sseClientBuffer = 64
)

// sseEvent is one event delivered to stream clients.
type sseEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

// sseHub fans out published events to connected stream clients and keeps
// a replay window of the most recent ones.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	lastID  uint64
	window  []*sseEvent // oldest first, at most sseReplayWindow long
}

// sseClient is one connected stream consumer.
type sseClient struct {
	patterns []string
	ch       chan *sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{clients: make(map[*sseClient]struct{})}
}

// broadcast assigns the next event ID and delivers payload to every client
// whose patterns match topic. It never blocks on slow clients.
func (h *sseHub) broadcast(topic string, payload []byte) {
	h.mu.Lock()
	h.lastID++
	evt := &sseEvent{ID: h.lastID, Topic: topic, Data: payload}
	if len(h.window) == sseReplayWindow {
		copy(h.window, h.window[1:])
		h.window = h.window[:sseReplayWindow-1]
	}
	h.window = append(h.window, evt)

	for c := range h.clients {
		if !c.matches(topic) {
			continue
		}
		select {
		case c.ch <- evt:
		default:
			// Slow client; drop.
		}
	}
	h.mu.Unlock()
}

func (h *sseHub) subscribe(patterns []string) *sseClient {
	c := &sseClient{patterns: patterns, ch: make(chan *sseEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns the retained events with ID > lastID, oldest first.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*sseEvent
	for _, evt := range h.window {
		if evt.ID > lastID {
			out = append(out, evt)
		}
	}
	return out
}

// matches reports whether topic matches any of the client's patterns.
// A client without patterns receives everything.
func (c *sseClient) matches(topic string) bool {
	if len(c.patterns) == 0 {
		return true
	}
	for _, p := range c.patterns {
		if matchTopicPattern(p, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// "*" matches exactly one segment; a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i < len(top)
		}
		if i >= len(top) || (p != "*" && p != top[i]) {
			return false
		}
	}
	return len(pat) == len(top)
}

// handleSessionStream handles GET /api/session/{sessionId}/stream: location
// reports and departures of one room.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sessionId")
	s.stream(w, r, []string{events.LocationTopic(sid), events.DepartureTopic(sid)})
}

// handleEmployeeStream handles GET /api/employee-location/stream.
func (s *Server) handleEmployeeStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, []string{events.TopicEmployeeLocation})
}

// stream writes hub events matching patterns as server-sent events until
// the client goes away. A Last-Event-ID header replays what the client
// missed, as far as the replay window reaches.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, patterns []string) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := s.sseHub.subscribe(patterns)
	defer s.sseHub.unsubscribe(client)
	s.serveStream(w, r, client)
}

// serveStream replays the window after Last-Event-ID and then forwards the
// client's queue. The client must be subscribed before the replay is read,
// so an event broadcast in between may arrive twice; ids at or below the
// last replayed one are skipped.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, client *sseClient) {
	flusher := w.(http.Flusher)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var sent uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if lastID, err := strconv.ParseUint(v, 10, 64); err == nil {
			for _, evt := range s.sseHub.eventsSince(lastID) {
				if client.matches(evt.Topic) {
					writeSSEEvent(w, evt)
					sent = evt.ID
				}
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			if evt.ID <= sent {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
