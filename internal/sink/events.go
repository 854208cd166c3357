package sink

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pixlift/internal/async"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// uploadEvent is one accepted upload, broadcast to every subscriber.
type uploadEvent struct {
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Scope     string    `json:"scope,omitempty"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	MIME      string    `json:"mime"`
	Timestamp time.Time `json:"timestamp"`
}

// wsClient is one subscriber. Writes go through the send channel so a single
// goroutine owns the connection, as gorilla requires.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// handleEvents upgrades the connection and streams uploads until the peer
// goes away.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 16)}
	s.addClient(client)

	async.Go(s.logger, "events-write", func() { s.writePump(client) })
	s.readPump(client)
}

func (s *Server) addClient(client *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[client] = struct{}{}
	s.logger.Debug("event subscriber connected (%d total)", len(s.clients))
}

func (s *Server) removeClient(client *wsClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.send)
	s.logger.Debug("event subscriber gone (%d left)", len(s.clients))
}

func (s *Server) subscriberCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		close(client.send)
		delete(s.clients, client)
	}
}

// broadcast fans an event out without blocking on slow subscribers; a full
// send buffer drops the event for that subscriber only.
func (s *Server) broadcast(ev uploadEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event: %v", err)
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// readPump discards inbound frames; its job is noticing the close.
func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.removeClient(client)
		_ = client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump owns all writes to the connection, interleaving events with
// keepalive pings.
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
