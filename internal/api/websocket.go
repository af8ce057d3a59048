package api

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/redteltel/regi/internal/printer"
)

// WebSocket event types
const (
	EventPrinterState = "printer_state"
	EventCartChanged  = "cart_changed"
)

// wsMessage is one WebSocket frame.
type wsMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// wsClient represents a connected WebSocket client
type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsMessage, 256),
	}
	s.addClient(client)
	s.log.Debug().Msg("websocket client connected")

	// Greet with the current printer state so the front-end never has to
	// poll after connecting.
	client.send <- wsMessage{
		Event: EventPrinterState,
		Data: map[string]any{
			"state":  s.printer.State().String(),
			"device": s.printer.DeviceName(),
		},
	}

	go client.writePump()
	go s.readPump(client)
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump drains the connection. Clients never send anything the server
// acts on; reading is what detects the disconnect.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.removeClient(c)
		c.conn.Close()
		s.log.Debug().Msg("websocket client disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *wsClient) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.clientsMu.Unlock()
}

func (s *Server) broadcast(msg wsMessage) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
			// Client send buffer full, skip
		}
	}
}

// broadcastCart pushes the current cart to every client. A till often has a
// second screen open on the customer side; both follow the same cart.
func (s *Server) broadcastCart() {
	s.broadcast(wsMessage{
		Event: EventCartChanged,
		Data:  s.cartJSON(),
	})
}

// PumpPrinterEvents forwards printer state transitions to every connected
// client. It returns when the events channel closes.
func (s *Server) PumpPrinterEvents(events <-chan printer.Event) {
	for ev := range events {
		s.log.Info().
			Str("state", ev.State.String()).
			Str("reason", ev.Reason).
			Msg("printer state changed")
		s.broadcast(wsMessage{
			Event: EventPrinterState,
			Data: map[string]any{
				"state":  ev.State.String(),
				"reason": ev.Reason,
				"at":     ev.At,
				"device": s.printer.DeviceName(),
			},
		})
	}
}
