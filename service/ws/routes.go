package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/cmd/utils"
	"github.com/emotions-app/emotions-server/service/events"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// ChatHandler owns the websocket endpoint plus the REST message
// history. Realtime appointment changes arriving on the bus are relayed
// to clients that subscribed to that appointment.
type ChatHandler struct {
	db  *gorm.DB
	hub *Hub
	bus *events.Bus
}

func NewChatHandler(db *gorm.DB, bus *events.Bus) *ChatHandler {
	hub := NewHub()
	go hub.Run()

	return &ChatHandler{
		db:  db,
		hub: hub,
		bus: bus,
	}
}

// Hub exposes the running hub so other services can push to users.
func (h *ChatHandler) Hub() *Hub {
	return h.hub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *ChatHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", utils.AuthMiddleware(h.HandleWebSocket))

	router.HandleFunc("/messages/peer/{userId}", utils.AuthMiddleware(h.GetPeerMessages)).Methods("GET")
	router.HandleFunc("/messages/peer/{userId}/read", utils.AuthMiddleware(h.MarkPeerMessagesRead)).Methods("PATCH")
	router.HandleFunc("/messages/conversations", utils.AuthMiddleware(h.GetConversations)).Methods("GET")
}

func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := &ClientConnection{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		UserID: userID,
	}

	h.hub.Register <- client

	go client.WritePump()
	go h.readLoop(client)
}

func (h *ChatHandler) readLoop(client *ClientConnection) {
	defer func() {
		h.hub.Unregister <- client
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			logUnexpectedClose(err)
			break
		}

		var wsMsg WebSocketMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			log.Printf("error unmarshaling message: %v", err)
			continue
		}

		switch wsMsg.Type {
		case PeerMessageType:
			h.handlePeerMessage(client, &wsMsg)
		case SubscribeAppointmentType:
			h.handleAppointmentSubscription(client, wsMsg.AppointmentID)
		}
	}
}

func (h *ChatHandler) handlePeerMessage(client *ClientConnection, wsMsg *WebSocketMessage) {
	if wsMsg.PeerMsg == nil || wsMsg.PeerMsg.Content == "" {
		return
	}
	wsMsg.PeerMsg.SenderID = client.UserID
	wsMsg.PeerMsg.CreatedAt = time.Now()
	wsMsg.PeerMsg.ReadAt = nil

	if err := h.db.Create(wsMsg.PeerMsg).Error; err != nil {
		log.Printf("error saving peer message: %v", err)
		return
	}

	msgBytes, err := json.Marshal(wsMsg)
	if err != nil {
		return
	}
	h.hub.BroadcastToUser(wsMsg.PeerMsg.ReceiverID, msgBytes)
	// Echo to the sender's other devices so every surface stays in sync.
	h.hub.BroadcastToUser(client.UserID, msgBytes)
}

// handleAppointmentSubscription relays bus changes for one appointment
// to the client for as long as the connection lives. Only the
// appointment's own participants may subscribe.
func (h *ChatHandler) handleAppointmentSubscription(client *ClientConnection, appointmentID uint) {
	if appointmentID == 0 {
		return
	}

	var appt models.Appointment
	if err := h.db.First(&appt, appointmentID).Error; err != nil {
		return
	}
	if !h.isParticipant(client.UserID, appt) {
		return
	}

	changes, cancel := h.bus.Subscribe(appointmentID)
	client.addCancel(cancel)

	go func() {
		for change := range changes {
			update := WebSocketMessage{
				Type: AppointmentUpdateType,
				Appointment: &AppointmentUpdate{
					ID:          change.New.ID,
					Status:      change.New.Status,
					MeetingType: change.New.MeetingType,
					MeetingLink: change.New.MeetingLink,
				},
			}
			msgBytes, err := json.Marshal(update)
			if err != nil {
				continue
			}
			select {
			case client.Send <- msgBytes:
			default:
			}
		}
	}()
}

func (h *ChatHandler) isParticipant(userID uint, appt models.Appointment) bool {
	if appt.PatientID == userID {
		return true
	}
	var count int64
	h.db.Model(&models.MoodMentor{}).
		Where("id = ? AND user_id = ?", appt.MentorID, userID).
		Count(&count)
	return count > 0
}

// GetPeerMessages retrieves the two-way history with another user.
func (h *ChatHandler) GetPeerMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	peerID, err := strconv.ParseUint(vars["userId"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var messages []models.PeerMessage
	if err := h.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userID, peerID, peerID, userID,
	).Order("created_at asc").Find(&messages).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(messages)
}

// MarkPeerMessagesRead marks everything the peer sent us as read.
func (h *ChatHandler) MarkPeerMessagesRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	peerID, err := strconv.ParseUint(vars["userId"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	result := h.db.Model(&models.PeerMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND read_at IS NULL", peerID, userID).
		Update("read_at", now)
	if result.Error != nil {
		http.Error(w, result.Error.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"marked_read": result.RowsAffected,
	})
}

// GetConversations lists each peer the user has exchanged messages
// with, newest conversation first, with unread counts.
func (h *ChatHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	type conversation struct {
		PeerID      uint      `json:"peer_id"`
		LastMessage string    `json:"last_message"`
		LastAt      time.Time `json:"last_at"`
		Unread      int64     `json:"unread"`
	}

	var messages []models.PeerMessage
	if err := h.db.Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at desc").
		Find(&messages).Error; err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	seen := make(map[uint]*conversation)
	order := make([]uint, 0)
	for _, msg := range messages {
		peerID := msg.SenderID
		if peerID == userID {
			peerID = msg.ReceiverID
		}
		conv, ok := seen[peerID]
		if !ok {
			conv = &conversation{
				PeerID:      peerID,
				LastMessage: msg.Content,
				LastAt:      msg.CreatedAt,
			}
			seen[peerID] = conv
			order = append(order, peerID)
		}
		if msg.ReceiverID == userID && msg.ReadAt == nil {
			conv.Unread++
		}
	}

	conversations := make([]conversation, 0, len(order))
	for _, peerID := range order {
		conversations = append(conversations, *seen[peerID])
	}

	json.NewEncoder(w).Encode(conversations)
}
