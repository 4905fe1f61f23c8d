package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/markus-lassfolk/locationd/pkg/location"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

type streamClient struct {
	conn    *websocket.Conn
	send    chan []byte
	dropped int
}

// broadcast runs on the location goroutine. Slow clients lose events
// instead of holding the loop.
func (s *Server) broadcast(ev location.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("api_event_encode_failed", "event", ev.Type.String(), "error", err)
		return
	}
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			c.dropped++
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api_stream_upgrade_failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	client := &streamClient{conn: conn, send: make(chan []byte, streamBuffer)}

	s.clientMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientMu.Unlock()
	s.logger.Info("api_stream_connected", "remote_addr", r.RemoteAddr, "clients", total)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	go func() {
		defer s.removeClient(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) removeClient(c *streamClient) {
	s.clientMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.clientMu.Unlock()
	if !ok {
		return
	}
	close(c.send)
	s.logger.Info("api_stream_disconnected", "clients", total, "dropped", c.dropped)
}

func (s *Server) closeClients() {
	s.clientMu.Lock()
	clients := make([]*streamClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientMu.Unlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}

func (s *Server) clientCount() int {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return len(s.clients)
}
