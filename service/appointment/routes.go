package appointment

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/cmd/utils"
	"github.com/emotions-app/emotions-server/service/events"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Cancellations inside this window are refused; the slot is considered
// committed.
const cancellationCutoff = 2 * time.Hour

type AppointmentHandler struct {
	db  *gorm.DB
	bus *events.Bus
}

func NewAppointmentHandler(db *gorm.DB, bus *events.Bus) *AppointmentHandler {
	return &AppointmentHandler{db: db, bus: bus}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/book", utils.AuthMiddleware(h.BookAppointment)).Methods("POST")
	router.HandleFunc("/appointments", h.GetAllAppointments).Methods("GET")
	router.HandleFunc("/appointments/patient/{patientId}", utils.AuthMiddleware(h.GetPatientAppointments)).Methods("GET")
	router.HandleFunc("/appointments/mentor/{mentorId}", utils.AuthMiddleware(h.GetMentorAppointments)).Methods("GET")
	router.HandleFunc("/appointments/{id}", utils.AuthMiddleware(h.GetAppointment)).Methods("GET")
	router.HandleFunc("/appointments/{id}/cancel", utils.AuthMiddleware(h.CancelAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/complete", utils.AuthMiddleware(h.CompleteAppointment)).Methods("PATCH")
}

func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	patientID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var bookingRequest struct {
		AvailabilityID uint   `json:"availability_id"`
		MeetingType    string `json:"meeting_type"`
		Concern        string `json:"concern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&bookingRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	meetingType := bookingRequest.MeetingType
	if meetingType == "" {
		meetingType = models.MeetingTypeVideo
	}
	if meetingType != models.MeetingTypeVideo && meetingType != models.MeetingTypeAudio {
		http.Error(w, "Meeting type must be video or audio", http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()

	var availability models.Availability
	if err := tx.First(&availability, bookingRequest.AvailabilityID).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Time slot not found", http.StatusNotFound)
		return
	}

	if availability.StartTime.Before(time.Now()) {
		tx.Rollback()
		http.Error(w, "Time slot is in the past", http.StatusBadRequest)
		return
	}

	// One live appointment per slot.
	var existingAppointment models.Appointment
	if err := tx.Where("availability_id = ? AND status != ?",
		bookingRequest.AvailabilityID, models.AppointmentStatusCancelled).
		First(&existingAppointment).Error; err == nil {
		tx.Rollback()
		http.Error(w, "Time slot already booked", http.StatusConflict)
		return
	}

	appointment := models.Appointment{
		PatientID:       patientID,
		MentorID:        availability.MentorID,
		AvailabilityID:  bookingRequest.AvailabilityID,
		AppointmentDate: availability.Date,
		StartTime:       availability.StartTime,
		EndTime:         availability.EndTime,
		MeetingType:     meetingType,
		Status:          models.AppointmentStatusConfirmed,
		Concern:         bookingRequest.Concern,
	}

	if err := tx.Create(&appointment).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating appointment", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing booking", http.StatusInternalServerError)
		return
	}

	h.db.Preload("Patient").Preload("Mentor").Preload("Mentor.User").First(&appointment, appointment.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) GetAllAppointments(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	query := h.db.Model(&models.Appointment{}).Preload("Patient").Preload("Mentor")

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if date := r.URL.Query().Get("date"); date != "" {
		query = query.Where("appointment_date = ?", date)
	}

	var total int64
	query.Count(&total)

	var appointments []models.Appointment
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("appointment_date DESC, start_time DESC").Find(&appointments).Error; err != nil {
		http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointments": appointments,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetAppointment retrieves one appointment; only its participants may
// see it.
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var appointment models.Appointment
	if err := h.db.Preload("Patient").Preload("Mentor").Preload("Mentor.User").
		First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	if !h.isParticipant(userID, appointment) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) isParticipant(userID uint, appointment models.Appointment) bool {
	if appointment.PatientID == userID {
		return true
	}
	var count int64
	h.db.Model(&models.MoodMentor{}).
		Where("id = ? AND user_id = ?", appointment.MentorID, userID).
		Count(&count)
	return count > 0
}

// CancelAppointment cancels, outside the cutoff window, by either
// participant.
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var cancelRequest struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&cancelRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}

	if !h.isParticipant(userID, appointment) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if appointment.Status == models.AppointmentStatusCancelled {
		http.Error(w, "Appointment is already cancelled", http.StatusConflict)
		return
	}
	if appointment.Status == models.AppointmentStatusCompleted {
		http.Error(w, "Completed appointments cannot be cancelled", http.StatusConflict)
		return
	}

	if time.Until(appointment.StartTime) < cancellationCutoff {
		http.Error(w, "Appointments cannot be cancelled less than 2 hours before start time", http.StatusBadRequest)
		return
	}

	old := appointment
	if err := h.db.Model(&appointment).Updates(map[string]interface{}{
		"status":        models.AppointmentStatusCancelled,
		"cancel_reason": cancelRequest.Reason,
	}).Error; err != nil {
		http.Error(w, "Error cancelling appointment", http.StatusInternalServerError)
		return
	}
	h.bus.Publish(events.AppointmentChange{New: appointment, Old: old})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Appointment cancelled successfully",
	})
}

// CompleteAppointment marks a session done. Mentor only.
func (h *AppointmentHandler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
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

	var count int64
	h.db.Model(&models.MoodMentor{}).
		Where("id = ? AND user_id = ?", appointment.MentorID, userID).
		Count(&count)
	if count == 0 {
		http.Error(w, "Only the mentor can complete an appointment", http.StatusForbidden)
		return
	}

	if appointment.Status == models.AppointmentStatusCancelled {
		http.Error(w, "Cancelled appointments cannot be completed", http.StatusConflict)
		return
	}

	old := appointment
	if err := h.db.Model(&appointment).
		Update("status", models.AppointmentStatusCompleted).Error; err != nil {
		http.Error(w, "Error completing appointment", http.StatusInternalServerError)
		return
	}
	h.bus.Publish(events.AppointmentChange{New: appointment, Old: old})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Appointment marked as completed",
	})
}

// GetPatientAppointments lists a patient's own bookings.
func (h *AppointmentHandler) GetPatientAppointments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	patientID, err := strconv.ParseUint(vars["patientId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid patient ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil || callerID != uint(patientID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.listAppointments(w, r, "patient_id = ?", patientID)
}

// GetMentorAppointments lists a mentor's schedule.
func (h *AppointmentHandler) GetMentorAppointments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var count int64
	h.db.Model(&models.MoodMentor{}).
		Where("id = ? AND user_id = ?", mentorID, callerID).
		Count(&count)
	if count == 0 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.listAppointments(w, r, "mentor_id = ?", mentorID)
}

func (h *AppointmentHandler) listAppointments(w http.ResponseWriter, r *http.Request, condition string, id uint64) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	query := h.db.Model(&models.Appointment{}).Where(condition, id).
		Preload("Patient").Preload("Mentor").Preload("Mentor.User").Preload("Availability")

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if upcoming := r.URL.Query().Get("upcoming"); upcoming == "true" {
		query = query.Where("start_time > ? AND status != ?", time.Now(), models.AppointmentStatusCancelled)
	}

	var total int64
	query.Count(&total)

	var appointments []models.Appointment
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("appointment_date DESC, start_time DESC").Find(&appointments).Error; err != nil {
		http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointments": appointments,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
