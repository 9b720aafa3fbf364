package httpapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const streamHeartbeat = 25 * time.Second

// handleStream serves a task's progress feed as server-sent events. The
// channel id is the task id; subscribing to a finished or unknown task is
// not an error, the stream simply stays quiet until the client gives up and
// asks the main page for the authoritative state.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		respondError(w, http.StatusBadRequest, "missing_channel", "query parameter channel is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "unsupported", "streaming unsupported by this connection")
		return
	}

	events, cancel, err := s.broker.Subscribe(r.Context(), channel)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "subscribe_failed", err.Error())
		return
	}
	defer cancel()

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			// SSE comment line keeps proxies from reaping an idle stream.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("httpapi: encode stream event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// handleStreamWS is the websocket flavor of the progress feed, for clients
// that already hold a socket open. Same contract: advisory events, closed
// after the terminal one.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		respondError(w, http.StatusBadRequest, "missing_channel", "query parameter channel is required")
		return
	}

	events, cancel, err := s.broker.Subscribe(r.Context(), channel)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "subscribe_failed", err.Error())
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	// Reader goroutine notices the client going away; we never expect
	// application data on this socket.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case <-heartbeat.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Terminal() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type)),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
