package mood

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

type MoodHandler struct {
	db *gorm.DB
}

func NewMoodHandler(db *gorm.DB) *MoodHandler {
	return &MoodHandler{db: db}
}

func (h *MoodHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/mood", utils.AuthMiddleware(h.LogMood)).Methods("POST")
	router.HandleFunc("/mood", utils.AuthMiddleware(h.GetMoodHistory)).Methods("GET")
	router.HandleFunc("/mood/summary", utils.AuthMiddleware(h.GetMoodSummary)).Methods("GET")
	router.HandleFunc("/mood/{id}", utils.AuthMiddleware(h.DeleteMoodEntry)).Methods("DELETE")
}

// LogMood records a mood check-in for the caller.
func (h *MoodHandler) LogMood(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var entryRequest struct {
		Score    int       `json:"score"`
		Mood     string    `json:"mood"`
		Tags     []string  `json:"tags"`
		Note     string    `json:"note"`
		LoggedAt time.Time `json:"logged_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&entryRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if entryRequest.Score < 1 || entryRequest.Score > 10 {
		http.Error(w, "Score must be between 1 and 10", http.StatusBadRequest)
		return
	}
	if entryRequest.Mood == "" {
		http.Error(w, "Mood is required", http.StatusBadRequest)
		return
	}

	loggedAt := entryRequest.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = time.Now()
	}

	entry := models.MoodEntry{
		UserID:   userID,
		Score:    entryRequest.Score,
		Mood:     entryRequest.Mood,
		Tags:     entryRequest.Tags,
		Note:     entryRequest.Note,
		LoggedAt: loggedAt,
	}

	if err := h.db.Create(&entry).Error; err != nil {
		http.Error(w, "Error saving mood entry", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// GetMoodHistory lists the caller's check-ins, newest first.
func (h *MoodHandler) GetMoodHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	startDate := r.URL.Query().Get("start_date")
	endDate := r.URL.Query().Get("end_date")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 50

	query := h.db.Model(&models.MoodEntry{}).Where("user_id = ?", userID)

	if startDate != "" {
		query = query.Where("logged_at >= ?", startDate)
	}
	if endDate != "" {
		query = query.Where("logged_at <= ?", endDate)
	}

	var total int64
	query.Count(&total)

	var entries []models.MoodEntry
	if err := query.Order("logged_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&entries).Error; err != nil {
		http.Error(w, "Error retrieving mood history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries":     entries,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetMoodSummary aggregates the caller's recent check-ins: average
// score, counts per mood label, and the current daily logging streak.
func (h *MoodHandler) GetMoodSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days < 1 {
		days = 30
	}
	since := time.Now().AddDate(0, 0, -days)

	var entries []models.MoodEntry
	if err := h.db.Where("user_id = ? AND logged_at >= ?", userID, since).
		Order("logged_at DESC").
		Find(&entries).Error; err != nil {
		http.Error(w, "Error retrieving mood entries", http.StatusInternalServerError)
		return
	}

	summary := Summarize(entries, time.Now())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"days":          days,
		"entry_count":   len(entries),
		"average_score": summary.AverageScore,
		"mood_counts":   summary.MoodCounts,
		"streak_days":   summary.StreakDays,
	})
}

// DeleteMoodEntry removes one of the caller's own entries.
func (h *MoodHandler) DeleteMoodEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entryID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid entry ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result := h.db.Where("id = ? AND user_id = ?", entryID, userID).Delete(&models.MoodEntry{})
	if result.Error != nil {
		http.Error(w, "Error deleting mood entry", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Mood entry not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Mood entry deleted successfully",
	})
}
