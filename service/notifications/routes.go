package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/gorilla/mux"
	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gorm.io/gorm"
)

// Notification categories.
const (
	CategoryAppointmentReminder = "appointment_reminder"
	CategorySessionStarting     = "session_starting"
	CategoryGeneral             = "general"
)

// NotificationHandler manages device registration and Expo push
// delivery.
type NotificationHandler struct {
	db         *gorm.DB
	expoClient *expo.PushClient
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{
		db:         db,
		expoClient: expo.NewPushClient(nil),
	}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/devices", h.RegisterDevice).Methods("POST")
	router.HandleFunc("/devices/{id}", h.DeleteDevice).Methods("DELETE")
	router.HandleFunc("/notifications", h.SendNotification).Methods("POST")
	router.HandleFunc("/notifications/broadcast", h.BroadcastNotification).Methods("POST")
	router.HandleFunc("/notifications/reminders/run", h.RunAppointmentReminders).Methods("POST")
	router.HandleFunc("/users/{userId}/devices", h.GetUserDevices).Methods("GET")
	router.HandleFunc("/users/{userId}/notifications", h.SendUserNotification).Methods("POST")
	router.HandleFunc("/users/{userId}/history", h.GetUserNotificationHistory).Methods("GET")
}

// RegisterDevice registers (or refreshes) a device for push delivery.
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if device.UserID == "" || device.Token == "" {
		http.Error(w, "UserID and token are required", http.StatusBadRequest)
		return
	}

	if _, err := expo.NewExponentPushToken(device.Token); err != nil {
		http.Error(w, "Invalid Expo push token format", http.StatusBadRequest)
		return
	}

	var existingDevice models.Device
	result := h.db.Where("token = ? AND user_id = ?", device.Token, device.UserID).First(&existingDevice)

	if result.Error == nil {
		existingDevice.UpdatedAt = time.Now()
		existingDevice.Platform = device.Platform
		existingDevice.DeviceName = device.DeviceName
		if err := h.db.Save(&existingDevice).Error; err != nil {
			http.Error(w, "Error updating device", http.StatusInternalServerError)
			return
		}
		device = existingDevice
	} else {
		if err := h.db.Create(&device).Error; err != nil {
			http.Error(w, "Error creating device", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *NotificationHandler) GetUserDevices(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	var devices []models.Device
	if err := h.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		http.Error(w, "Error retrieving devices", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

// SendNotification pushes to one device token.
func (h *NotificationHandler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req models.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Token == "" || req.Title == "" || req.Body == "" {
		http.Error(w, "Token, title and body are required", http.StatusBadRequest)
		return
	}

	var device models.Device
	if err := h.db.Where("token = ?", req.Token).First(&device).Error; err != nil {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	success, err := h.sendExpoNotification([]string{req.Token}, req.Title, req.Body, req.Data)

	h.recordHistory(device.UserID, req.Title, req.Body, CategoryGeneral, req.Data, success && err == nil)

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"message": "Notification sent",
	})
}

// SendUserNotification pushes to every device a user has registered.
func (h *NotificationHandler) SendUserNotification(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	var notificationData struct {
		Title    string                 `json:"title"`
		Body     string                 `json:"body"`
		Category string                 `json:"category"`
		Data     map[string]interface{} `json:"data,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&notificationData); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	category := notificationData.Category
	if category == "" {
		category = CategoryGeneral
	}

	count, err := h.pushToUser(userID, notificationData.Title, notificationData.Body, category, notificationData.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if count == 0 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "No devices registered for this user",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Notification sent to %d devices", count),
	})
}

// pushToUser sends to all of a user's devices and records history.
// Returns the device count.
func (h *NotificationHandler) pushToUser(userID, title, body, category string, data map[string]interface{}) (int, error) {
	var devices []models.Device
	if err := h.db.Where("user_id = ?", userID).Find(&devices).Error; err != nil {
		return 0, fmt.Errorf("error retrieving user devices")
	}
	if len(devices) == 0 {
		return 0, nil
	}

	tokens := make([]string, 0, len(devices))
	for _, device := range devices {
		tokens = append(tokens, device.Token)
	}

	success, err := h.sendExpoNotification(tokens, title, body, data)
	h.recordHistory(userID, title, body, category, data, success && err == nil)
	if err != nil {
		return len(tokens), err
	}
	return len(tokens), nil
}

// NotifySessionStarting tells the patient their mentor has opened the
// session room. Fired on room allocation; errors are logged, the
// allocation itself never fails on push trouble.
func (h *NotificationHandler) NotifySessionStarting(appointment models.Appointment) {
	data := map[string]interface{}{
		"appointment_id": appointment.ID,
		"meeting_type":   appointment.MeetingType,
	}
	userID := strconv.FormatUint(uint64(appointment.PatientID), 10)
	if _, err := h.pushToUser(userID, "Your session is starting",
		"Your mentor is ready for you. Tap to join.", CategorySessionStarting, data); err != nil {
		log.Printf("error sending session-starting push for appointment %d: %v", appointment.ID, err)
	}
}

func (h *NotificationHandler) recordHistory(userID, title, body, category string, data map[string]interface{}, sent bool) {
	status := "sent"
	if !sent {
		status = "failed"
	}

	dataJSON, _ := json.Marshal(data)
	history := models.NotificationHistory{
		UserID:   userID,
		Title:    title,
		Body:     body,
		Category: category,
		Data:     string(dataJSON),
		Status:   status,
		SentAt:   time.Now(),
	}
	if err := h.db.Create(&history).Error; err != nil {
		log.Printf("error creating notification history: %v", err)
	}
}

// BroadcastNotification pushes to many users, or everyone.
func (h *NotificationHandler) BroadcastNotification(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Title == "" || req.Body == "" {
		http.Error(w, "Title and body are required", http.StatusBadRequest)
		return
	}

	var devices []models.Device
	query := h.db
	if len(req.UserIDs) > 0 {
		query = query.Where("user_id IN ?", req.UserIDs)
	}
	if err := query.Find(&devices).Error; err != nil {
		http.Error(w, "Error retrieving devices", http.StatusInternalServerError)
		return
	}

	if len(devices) == 0 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "No devices found for notification",
		})
		return
	}

	var tokens []string
	userMap := make(map[string]bool)
	for _, device := range devices {
		tokens = append(tokens, device.Token)
		userMap[device.UserID] = true
	}

	success, err := h.sendExpoNotification(tokens, req.Title, req.Body, req.Data)

	for userID := range userMap {
		h.recordHistory(userID, req.Title, req.Body, CategoryGeneral, req.Data, success && err == nil)
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"message": fmt.Sprintf("Broadcast sent to %d devices", len(tokens)),
	})
}

// RunAppointmentReminders pushes a reminder for every confirmed
// appointment starting within the next hour that has not been reminded
// yet. Intended to be hit by a scheduler.
func (h *NotificationHandler) RunAppointmentReminders(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	windowEnd := now.Add(time.Hour)

	var appointments []models.Appointment
	if err := h.db.Where("status = ? AND start_time BETWEEN ? AND ?",
		models.AppointmentStatusConfirmed, now, windowEnd).
		Preload("Mentor").
		Find(&appointments).Error; err != nil {
		http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
		return
	}

	reminded := 0
	for _, appointment := range appointments {
		data := map[string]interface{}{
			"appointment_id": appointment.ID,
			"start_time":     appointment.StartTime.Format(time.RFC3339),
		}

		recipients := []string{strconv.FormatUint(uint64(appointment.PatientID), 10)}
		if appointment.Mentor != nil {
			recipients = append(recipients, strconv.FormatUint(uint64(appointment.Mentor.UserID), 10))
		}

		title := "Upcoming session"
		body := fmt.Sprintf("Your session starts at %s", appointment.StartTime.Format("15:04"))

		for _, userID := range recipients {
			if h.alreadyReminded(userID, appointment.ID) {
				continue
			}
			if _, err := h.pushToUser(userID, title, body, CategoryAppointmentReminder, data); err != nil {
				log.Printf("error sending reminder for appointment %d to user %s: %v", appointment.ID, userID, err)
				continue
			}
			reminded++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointments": len(appointments),
		"reminded":     reminded,
	})
}

// alreadyReminded checks history so a rerun of the scheduler does not
// double-remind.
func (h *NotificationHandler) alreadyReminded(userID string, appointmentID uint) bool {
	var count int64
	h.db.Model(&models.NotificationHistory{}).
		Where("user_id = ? AND category = ? AND data LIKE ?",
			userID, CategoryAppointmentReminder, "%"+appointmentMarker(appointmentID)+"%").
		Count(&count)
	return count > 0
}

// appointmentMarker identifies an appointment inside the stored data
// JSON. The trailing comma keeps appointment 5 from matching 51;
// marshaled maps order keys alphabetically, so appointment_id is never
// the last field in reminder data.
func appointmentMarker(appointmentID uint) string {
	return fmt.Sprintf("\"appointment_id\":%d,", appointmentID)
}

// GetUserNotificationHistory lists a user's past notifications.
func (h *NotificationHandler) GetUserNotificationHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	limit := 20
	page := 1
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsedLimit, err := strconv.Atoi(limitParam); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		if parsedPage, err := strconv.Atoi(pageParam); err == nil && parsedPage > 0 {
			page = parsedPage
		}
	}
	offset := (page - 1) * limit

	query := h.db.Model(&models.NotificationHistory{}).Where("user_id = ?", userID)
	if category := r.URL.Query().Get("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		http.Error(w, "Error counting notifications", http.StatusInternalServerError)
		return
	}

	var history []models.NotificationHistory
	if err := query.Order("sent_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&history).Error; err != nil {
		http.Error(w, "Error retrieving notification history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total":   count,
		"page":    page,
		"limit":   limit,
		"history": history,
	})
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid device ID", http.StatusBadRequest)
		return
	}

	result := h.db.Delete(&models.Device{}, deviceID)
	if result.Error != nil {
		http.Error(w, "Error deleting device", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Device deleted successfully",
	})
}

// sendExpoNotification pushes via the Expo SDK, pruning tokens the
// service reports as invalid.
func (h *NotificationHandler) sendExpoNotification(tokenStrings []string, title, body string, data map[string]interface{}) (bool, error) {
	var validTokens []expo.ExponentPushToken
	var invalidTokens []string

	for _, tokenString := range tokenStrings {
		pushToken, err := expo.NewExponentPushToken(tokenString)
		if err != nil {
			log.Printf("invalid push token format %s: %v", tokenString, err)
			invalidTokens = append(invalidTokens, tokenString)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}

	if len(validTokens) == 0 {
		return false, fmt.Errorf("no valid push tokens found")
	}

	var stringData map[string]string
	if data != nil {
		stringData = make(map[string]string)
		for key, value := range data {
			stringData[key] = fmt.Sprintf("%v", value)
		}
	}

	pushMessage := &expo.PushMessage{
		To:       validTokens,
		Body:     body,
		Title:    title,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     stringData,
	}

	response, err := h.expoClient.Publish(pushMessage)
	if err != nil {
		return false, fmt.Errorf("failed to publish notification: %v", err)
	}

	if validationErr := response.ValidateResponse(); validationErr != nil {
		log.Printf("push notification validation error: %v", validationErr)
		h.cleanupInvalidTokens(invalidTokens)
		return false, fmt.Errorf("notification validation failed: %v", validationErr)
	}

	if len(invalidTokens) > 0 {
		h.cleanupInvalidTokens(invalidTokens)
	}

	return true, nil
}

func (h *NotificationHandler) cleanupInvalidTokens(tokens []string) {
	for _, token := range tokens {
		if err := h.db.Where("token = ?", token).Delete(&models.Device{}).Error; err != nil {
			log.Printf("error cleaning up invalid token %s: %v", token, err)
		}
	}
}
