package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rajeevc5260/Code-Review-Helper/internal/events"
)

const (
	eventsBuffer     = 64
	eventsWriteWait  = 10 * time.Second
	eventsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleEvents streams the operational event bus over a WebSocket.
// ?source= limits the feed to one publisher. The feed is lossy: a slow
// client misses events rather than slowing the publishers down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	source := r.URL.Query().Get("source")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventsBuffer)
	defer s.bus.Unsubscribe(ch)
	s.logger.Debug("event feed opened", "remote", r.RemoteAddr, "source", source, "subscribers", s.bus.SubscriberCount())

	// The client sends nothing; reading only surfaces its close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event feed read ended", "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		case ev := <-ch:
			if source != "" && ev.Source != source {
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				s.logger.Debug("event feed write failed", "error", err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
