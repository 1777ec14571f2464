package ws

import (
	"log"
	"sync"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/gorilla/websocket"
)

// Message types carried over the websocket.
const (
	PeerMessageType          = "peer_message"
	AppointmentUpdateType    = "appointment_update"
	SubscribeAppointmentType = "subscribe_appointment"
)

// AppointmentUpdate is pushed to subscribed clients whenever an
// appointment changes, e.g. when the mentor's meeting link lands.
type AppointmentUpdate struct {
	ID          uint   `json:"id"`
	Status      string `json:"status"`
	MeetingType string `json:"meeting_type"`
	MeetingLink string `json:"meeting_link,omitempty"`
}

type WebSocketMessage struct {
	Type          string              `json:"type"`
	PeerMsg       *models.PeerMessage `json:"peer_message,omitempty"`
	AppointmentID uint                `json:"appointment_id,omitempty"`
	Appointment   *AppointmentUpdate  `json:"appointment,omitempty"`
}

// ClientConnection is one websocket attached to the hub. A user may
// hold several at once (phone plus browser tab).
type ClientConnection struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uint

	mu      sync.Mutex
	cancels []func()
}

// addCancel records a subscription teardown to run when the connection
// unregisters.
func (c *ClientConnection) addCancel(cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, cancel)
}

func (c *ClientConnection) runCancels() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Hub routes messages to connected clients, keyed by user.
type Hub struct {
	Register   chan *ClientConnection
	Unregister chan *ClientConnection

	mu              sync.RWMutex
	clients         map[*ClientConnection]bool
	peerConnections map[uint][]*ClientConnection

	done chan struct{}
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		Register:        make(chan *ClientConnection),
		Unregister:      make(chan *ClientConnection),
		clients:         make(map[*ClientConnection]bool),
		peerConnections: make(map[uint][]*ClientConnection),
		done:            make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.peerConnections[client.UserID] = append(h.peerConnections[client.UserID], client)
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()
			client.runCancels()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[*ClientConnection]bool)
			h.peerConnections = make(map[uint][]*ClientConnection)
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and closes every client's send channel.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) dropLocked(client *ClientConnection) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)

	connections := h.peerConnections[client.UserID]
	for i, conn := range connections {
		if conn == client {
			h.peerConnections[client.UserID] = append(connections[:i], connections[i+1:]...)
			break
		}
	}
	if len(h.peerConnections[client.UserID]) == 0 {
		delete(h.peerConnections, client.UserID)
	}
}

// BroadcastToUser delivers a message to every connection the user
// holds. Connections that cannot keep up are dropped.
func (h *Hub) BroadcastToUser(userID uint, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.peerConnections[userID] {
		select {
		case client.Send <- message:
		default:
			h.dropLocked(client)
		}
	}
}

// ConnectionCount reports how many connections a user currently holds.
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peerConnections[userID])
}

// WritePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *ClientConnection) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func logUnexpectedClose(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		log.Printf("websocket closed unexpectedly: %v", err)
	}
}
