package call

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// SessionNotifier pushes a "session starting" notification to the
// patient once the mentor opens the room.
type SessionNotifier interface {
	NotifySessionStarting(appointment models.Appointment)
}

// CallHandler exposes the server side of the call lifecycle: room
// allocation for mentors, room status and teardown, waiting-room
// presence, and join/leave records for session analytics.
type CallHandler struct {
	db       *gorm.DB
	accessor *RecordAccessor
	provider RoomProvider
	presence *Presence
	notifier SessionNotifier
}

func NewCallHandler(db *gorm.DB, accessor *RecordAccessor, provider RoomProvider, presence *Presence, notifier SessionNotifier) *CallHandler {
	return &CallHandler{
		db:       db,
		accessor: accessor,
		provider: provider,
		presence: presence,
		notifier: notifier,
	}
}

func (h *CallHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/{id}/room", utils.AuthMiddleware(h.AllocateRoom)).Methods("POST")
	router.HandleFunc("/appointments/{id}/room", utils.AuthMiddleware(h.GetRoom)).Methods("GET")
	router.HandleFunc("/appointments/{id}/room", utils.AuthMiddleware(h.DeleteRoom)).Methods("DELETE")

	router.HandleFunc("/appointments/{id}/waiting-room", utils.AuthMiddleware(h.JoinWaitingRoom)).Methods("POST")
	router.HandleFunc("/appointments/{id}/waiting-room", utils.AuthMiddleware(h.GetWaitingRoom)).Methods("GET")
	router.HandleFunc("/appointments/{id}/waiting-room", utils.AuthMiddleware(h.LeaveWaitingRoom)).Methods("DELETE")

	router.HandleFunc("/appointments/{id}/call-events", utils.AuthMiddleware(h.RecordCallEvent)).Methods("POST")
}

// AllocateRoom creates the provider room for an appointment and stores
// its URL. Only the appointment's mentor may allocate; if a link
// already exists it is returned as-is instead of creating a second
// room.
func (h *CallHandler) AllocateRoom(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	role, err := h.participantRole(userID, &appointment)
	if err != nil {
		http.Error(w, "You are not part of this appointment", http.StatusForbidden)
		return
	}
	if role != RoleMentor {
		http.Error(w, "Only the mentor can start the session", http.StatusForbidden)
		return
	}

	// Reuse the existing link rather than allocating twice.
	if appointment.MeetingLink != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"url":    appointment.MeetingLink,
			"reused": true,
		})
		return
	}

	name := roomNameForAppointment(appointment.ID)
	room, err := h.provider.CreateRoom(r.Context(), CreateRoomParams{
		Name:      name,
		Privacy:   "private",
		TTL:       time.Until(appointment.EndTime) + time.Hour,
		AudioOnly: appointment.MeetingType == models.MeetingTypeAudio,
	})
	if err != nil {
		writeProviderError(w, err)
		return
	}

	if err := h.accessor.SetMeetingLink(r.Context(), appointment.ID, room.URL); err != nil {
		if errors.Is(err, ErrLinkAlreadySet) {
			// Concurrent allocation won; discard ours and return the
			// stored link.
			if derr := h.provider.DeleteRoom(r.Context(), room.Name); derr != nil {
				log.Printf("failed to discard duplicate room %s: %v", room.Name, derr)
			}
			var stored models.Appointment
			if err := h.db.First(&stored, appointment.ID).Error; err != nil {
				http.Error(w, "Error reloading appointment", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"url":    stored.MeetingLink,
				"reused": true,
			})
			return
		}
		http.Error(w, "Error saving meeting link", http.StatusInternalServerError)
		return
	}

	if h.notifier != nil {
		appointment.MeetingLink = room.URL
		go h.notifier.NotifySessionStarting(appointment)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"url":    room.URL,
		"name":   room.Name,
		"reused": false,
	})
}

// GetRoom reports the room backing an appointment, if allocated.
func (h *CallHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	if _, err := h.participantRole(userID, &appointment); err != nil {
		http.Error(w, "You are not part of this appointment", http.StatusForbidden)
		return
	}

	if appointment.MeetingLink == "" {
		http.Error(w, "No room allocated yet", http.StatusNotFound)
		return
	}

	room, err := h.provider.GetRoomDetails(r.Context(), roomNameFromURL(appointment.MeetingLink))
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			http.Error(w, "Room has expired", http.StatusGone)
			return
		}
		writeProviderError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(room)
}

// DeleteRoom tears down the provider room once a session has ended.
// Deleting an already-gone room succeeds.
func (h *CallHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	role, err := h.participantRole(userID, &appointment)
	if err != nil || role != RoleMentor {
		http.Error(w, "Only the mentor can end the session", http.StatusForbidden)
		return
	}

	if appointment.MeetingLink != "" {
		if err := h.provider.DeleteRoom(r.Context(), roomNameFromURL(appointment.MeetingLink)); err != nil {
			writeProviderError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Room deleted",
	})
}

func (h *CallHandler) JoinWaitingRoom(w http.ResponseWriter, r *http.Request) {
	appointmentID, userID, role, ok := h.waitingRoomContext(w, r)
	if !ok {
		return
	}

	if err := h.presence.Join(r.Context(), appointmentID, userID, string(role)); err != nil {
		http.Error(w, "Error joining waiting room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Waiting room joined",
	})
}

func (h *CallHandler) LeaveWaitingRoom(w http.ResponseWriter, r *http.Request) {
	appointmentID, userID, _, ok := h.waitingRoomContext(w, r)
	if !ok {
		return
	}

	if err := h.presence.Leave(r.Context(), appointmentID, userID); err != nil {
		http.Error(w, "Error leaving waiting room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Waiting room left",
	})
}

func (h *CallHandler) GetWaitingRoom(w http.ResponseWriter, r *http.Request) {
	appointmentID, _, _, ok := h.waitingRoomContext(w, r)
	if !ok {
		return
	}

	participants, err := h.presence.List(r.Context(), appointmentID)
	if err != nil {
		http.Error(w, "Error reading waiting room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"participants": participants,
	})
}

// RecordCallEvent stores join/leave timestamps for session analytics.
func (h *CallHandler) RecordCallEvent(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var eventRequest struct {
		Event string `json:"event"` // joined or left
	}
	if err := json.NewDecoder(r.Body).Decode(&eventRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	role, err := h.participantRole(userID, &appointment)
	if err != nil {
		http.Error(w, "You are not part of this appointment", http.StatusForbidden)
		return
	}

	now := time.Now()
	switch eventRequest.Event {
	case "joined":
		record := models.CallRecord{
			AppointmentID: appointment.ID,
			UserID:        userID,
			Role:          string(role),
			RoomName:      roomNameFromURL(appointment.MeetingLink),
			JoinedAt:      &now,
		}
		if err := h.db.Create(&record).Error; err != nil {
			http.Error(w, "Error recording call event", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(record)

	case "left":
		var record models.CallRecord
		if err := h.db.Where("appointment_id = ? AND user_id = ? AND left_at IS NULL", appointment.ID, userID).
			Order("created_at DESC").First(&record).Error; err != nil {
			http.Error(w, "No open call record", http.StatusNotFound)
			return
		}
		record.LeftAt = &now
		if record.JoinedAt != nil {
			record.DurationSeconds = int(now.Sub(*record.JoinedAt).Seconds())
		}
		if err := h.db.Save(&record).Error; err != nil {
			http.Error(w, "Error recording call event", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(record)

	default:
		http.Error(w, "Unknown event type", http.StatusBadRequest)
	}
}

func (h *CallHandler) waitingRoomContext(w http.ResponseWriter, r *http.Request) (uint, uint, Role, bool) {
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return 0, 0, "", false
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, "", false
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return 0, 0, "", false
	}

	role, err := h.participantRole(userID, &appointment)
	if err != nil {
		http.Error(w, "You are not part of this appointment", http.StatusForbidden)
		return 0, 0, "", false
	}
	return appointmentID, userID, role, true
}

// participantRole resolves which side of the appointment the user is
// on. The mentor id on the appointment references the mentor profile,
// not the user row.
func (h *CallHandler) participantRole(userID uint, appointment *models.Appointment) (Role, error) {
	if appointment.PatientID == userID {
		return RolePatient, nil
	}
	var mentor models.MoodMentor
	if err := h.db.Where("id = ? AND user_id = ?", appointment.MentorID, userID).First(&mentor).Error; err == nil {
		return RoleMentor, nil
	}
	return "", errors.New("not a participant")
}

func parseAppointmentID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func roomNameForAppointment(id uint) string {
	return "emotions-appt-" + strconv.FormatUint(uint64(id), 10)
}

// roomNameFromURL pulls the room name out of a meeting link like
// https://example.daily.co/emotions-appt-42.
func roomNameFromURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}

func writeProviderError(w http.ResponseWriter, err error) {
	switch RoomErrorKind(err) {
	case ErrorKindAuth:
		http.Error(w, "Video provider authentication failed; check the service credentials", http.StatusBadGateway)
	case ErrorKindValidation:
		http.Error(w, "Video provider rejected the request", http.StatusUnprocessableEntity)
	case ErrorKindNetwork:
		http.Error(w, "Video provider is unreachable", http.StatusBadGateway)
	default:
		http.Error(w, "Video provider error", http.StatusBadGateway)
	}
}
