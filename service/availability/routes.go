package availability

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type AvailabilityHandler struct {
	db *gorm.DB
}

func NewAvailabilityHandler(db *gorm.DB) *AvailabilityHandler {
	return &AvailabilityHandler{db: db}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/mentors/{mentorId}/availability", utils.AuthMiddleware(h.CreateAvailability)).Methods("POST")
	router.HandleFunc("/mentors/{mentorId}/availability", h.GetAvailabilities).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/availability/date/{date}", h.GetAvailabilitiesByDate).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/availability/{id}", h.GetAvailability).Methods("GET")
	router.HandleFunc("/mentors/{mentorId}/availability/{id}", utils.AuthMiddleware(h.UpdateAvailability)).Methods("PUT")
	router.HandleFunc("/mentors/{mentorId}/availability/{id}", utils.AuthMiddleware(h.DeleteAvailability)).Methods("DELETE")
}

// requireOwnMentor loads the mentor row and checks the caller owns it.
func (h *AvailabilityHandler) requireOwnMentor(w http.ResponseWriter, r *http.Request, mentorID uint) bool {
	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	var mentor models.MoodMentor
	if err := h.db.First(&mentor, mentorID).Error; err != nil {
		http.Error(w, "Mentor not found", http.StatusNotFound)
		return false
	}
	if mentor.UserID != callerID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *AvailabilityHandler) CreateAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.Atoi(vars["mentorId"])
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}
	if !h.requireOwnMentor(w, r, uint(mentorID)) {
		return
	}

	var availability models.Availability
	if err := json.NewDecoder(r.Body).Decode(&availability); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !availability.EndTime.After(availability.StartTime) {
		http.Error(w, "End time must be after start time", http.StatusBadRequest)
		return
	}

	// Check for overlapping slots
	var existingAvailability models.Availability
	overlap := h.db.Where("mentor_id = ? AND date = ? AND start_time < ? AND end_time > ?",
		mentorID,
		availability.Date,
		availability.EndTime,
		availability.StartTime,
	).First(&existingAvailability)

	if overlap.Error != nil && overlap.Error != gorm.ErrRecordNotFound {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if overlap.Error == nil {
		http.Error(w, "Time slot overlaps with existing availability", http.StatusConflict)
		return
	}

	availability.MentorID = uint(mentorID)

	if err := h.db.Create(&availability).Error; err != nil {
		http.Error(w, "Error creating availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(availability)
}

func (h *AvailabilityHandler) GetAvailabilities(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	startDate := r.URL.Query().Get("start_date")
	endDate := r.URL.Query().Get("end_date")
	free := r.URL.Query().Get("free")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	query := h.db.Model(&models.Availability{}).Where("mentor_id = ?", mentorID)

	if startDate != "" {
		query = query.Where("date >= ?", startDate)
	}
	if endDate != "" {
		query = query.Where("date <= ?", endDate)
	}
	if free == "true" {
		// Hide slots already taken by a live appointment.
		query = query.Where(
			"id NOT IN (SELECT availability_id FROM appointments WHERE availability_id IS NOT NULL AND status IN ? AND deleted_at IS NULL)",
			[]string{models.AppointmentStatusPending, models.AppointmentStatusConfirmed},
		)
	}

	var total int64
	query.Count(&total)

	var availabilities []models.Availability
	result := query.Order("date asc, start_time asc").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&availabilities)
	if result.Error != nil {
		http.Error(w, "Error retrieving availabilities", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"availabilities": availabilities,
		"total":          total,
		"page":           page,
		"page_size":      pageSize,
		"total_pages":    (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	availabilityID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid availability ID", http.StatusBadRequest)
		return
	}

	var availability models.Availability
	if err := h.db.Where("id = ? AND mentor_id = ?", availabilityID, mentorID).First(&availability).Error; err != nil {
		http.Error(w, "Availability not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(availability)
}

func (h *AvailabilityHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}
	if !h.requireOwnMentor(w, r, uint(mentorID)) {
		return
	}

	availabilityID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid availability ID", http.StatusBadRequest)
		return
	}

	var updateData models.Availability
	if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !updateData.EndTime.After(updateData.StartTime) {
		http.Error(w, "End time must be after start time", http.StatusBadRequest)
		return
	}

	var availability models.Availability
	if err := h.db.Where("id = ? AND mentor_id = ?", availabilityID, mentorID).First(&availability).Error; err != nil {
		http.Error(w, "Availability not found", http.StatusNotFound)
		return
	}

	// Check for overlapping slots, excluding this one
	var existingAvailability models.Availability
	overlap := h.db.Where("id != ? AND mentor_id = ? AND date = ? AND start_time < ? AND end_time > ?",
		availabilityID,
		mentorID,
		updateData.Date,
		updateData.EndTime,
		updateData.StartTime,
	).First(&existingAvailability)
	if overlap.Error == nil {
		http.Error(w, "Time slot overlaps with existing availability", http.StatusConflict)
		return
	}

	availability.Date = updateData.Date
	availability.StartTime = updateData.StartTime
	availability.EndTime = updateData.EndTime
	availability.Note = updateData.Note
	availability.Recurring = updateData.Recurring

	if err := h.db.Save(&availability).Error; err != nil {
		http.Error(w, "Error updating availability", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(availability)
}

func (h *AvailabilityHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}
	if !h.requireOwnMentor(w, r, uint(mentorID)) {
		return
	}

	availabilityID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid availability ID", http.StatusBadRequest)
		return
	}

	result := h.db.Where("id = ? AND mentor_id = ?", availabilityID, mentorID).Delete(&models.Availability{})
	if result.Error != nil {
		http.Error(w, "Error deleting availability", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Availability not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Availability deleted successfully",
	})
}

func (h *AvailabilityHandler) GetAvailabilitiesByDate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	dateStr := vars["date"]
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	var availabilities []models.Availability
	if err := h.db.Where("mentor_id = ? AND date = ?", mentorID, date).
		Order("start_time asc").
		Find(&availabilities).Error; err != nil {
		http.Error(w, "Error retrieving availabilities", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(availabilities)
}
