package review

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type ReviewHandler struct {
	db *gorm.DB
}

func NewReviewHandler(db *gorm.DB) *ReviewHandler {
	return &ReviewHandler{db: db}
}

func (h *ReviewHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/mentors/{mentorId}/reviews", utils.AuthMiddleware(h.SubmitReview)).Methods("POST")
	router.HandleFunc("/mentors/{mentorId}/reviews", h.GetMentorReviews).Methods("GET")
	router.HandleFunc("/reviews/{id}/reply", utils.AuthMiddleware(h.ReplyToReview)).Methods("POST")
	router.HandleFunc("/reviews/{id}", utils.AuthMiddleware(h.DeleteReview)).Methods("DELETE")
}

// SubmitReview creates or updates the caller's review of a mentor. One
// review per patient/mentor pair; only patients who completed a session
// with the mentor may review.
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	patientID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var reviewRequest struct {
		Rating  float64 `json:"rating"`
		Comment string  `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reviewRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reviewRequest.Rating < 1 || reviewRequest.Rating > 5 {
		http.Error(w, "Rating must be between 1 and 5", http.StatusBadRequest)
		return
	}

	var mentor models.MoodMentor
	if err := h.db.First(&mentor, mentorID).Error; err != nil {
		http.Error(w, "Mentor not found", http.StatusNotFound)
		return
	}

	var completed int64
	h.db.Model(&models.Appointment{}).
		Where("patient_id = ? AND mentor_id = ? AND status = ?",
			patientID, mentorID, models.AppointmentStatusCompleted).
		Count(&completed)
	if completed == 0 {
		http.Error(w, "You can only review mentors after a completed session", http.StatusForbidden)
		return
	}

	tx := h.db.Begin()

	var review models.Review
	err = tx.Where("patient_id = ? AND mentor_id = ?", patientID, mentorID).First(&review).Error
	switch {
	case err == nil:
		// Re-submitting replaces the earlier rating; any mentor reply
		// refers to the old text, so it is cleared.
		review.Rating = reviewRequest.Rating
		review.Comment = reviewRequest.Comment
		review.Reply = ""
		review.RepliedAt = nil
		if err := tx.Save(&review).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error updating review", http.StatusInternalServerError)
			return
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		review = models.Review{
			PatientID: patientID,
			MentorID:  uint(mentorID),
			Rating:    reviewRequest.Rating,
			Comment:   reviewRequest.Comment,
		}
		if err := tx.Create(&review).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error creating review", http.StatusInternalServerError)
			return
		}
	default:
		tx.Rollback()
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := recomputeMentorRating(tx, uint(mentorID)); err != nil {
		tx.Rollback()
		http.Error(w, "Error updating mentor rating", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error saving review", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(review)
}

// recomputeMentorRating refreshes the denormalized aggregate on the
// mentor row from the review table.
func recomputeMentorRating(tx *gorm.DB, mentorID uint) error {
	var stats struct {
		Avg   float64
		Count int64
	}
	if err := tx.Model(&models.Review{}).
		Where("mentor_id = ?", mentorID).
		Select("COALESCE(AVG(rating), 0) as avg, COUNT(*) as count").
		Scan(&stats).Error; err != nil {
		return err
	}

	return tx.Model(&models.MoodMentor{}).Where("id = ?", mentorID).
		Updates(map[string]interface{}{
			"average_rating": stats.Avg,
			"total_reviews":  stats.Count,
		}).Error
}

// GetMentorReviews lists a mentor's reviews, newest first.
func (h *ReviewHandler) GetMentorReviews(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["mentorId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.Review{}).Where("mentor_id = ?", mentorID).Preload("Patient")

	var total int64
	query.Count(&total)

	var reviews []models.Review
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&reviews).Error; err != nil {
		http.Error(w, "Error retrieving reviews", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"reviews":     reviews,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// ReplyToReview lets the reviewed mentor attach one public reply.
func (h *ReviewHandler) ReplyToReview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reviewID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid review ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var replyRequest struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(r.Body).Decode(&replyRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if replyRequest.Reply == "" {
		http.Error(w, "Reply is required", http.StatusBadRequest)
		return
	}

	var review models.Review
	if err := h.db.First(&review, reviewID).Error; err != nil {
		http.Error(w, "Review not found", http.StatusNotFound)
		return
	}

	var count int64
	h.db.Model(&models.MoodMentor{}).
		Where("id = ? AND user_id = ?", review.MentorID, userID).
		Count(&count)
	if count == 0 {
		http.Error(w, "Only the reviewed mentor can reply", http.StatusForbidden)
		return
	}

	now := time.Now()
	review.Reply = replyRequest.Reply
	review.RepliedAt = &now
	if err := h.db.Save(&review).Error; err != nil {
		http.Error(w, "Error saving reply", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(review)
}

// DeleteReview removes the caller's own review and refreshes the
// mentor's aggregate.
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	reviewID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid review ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var review models.Review
	if err := h.db.First(&review, reviewID).Error; err != nil {
		http.Error(w, "Review not found", http.StatusNotFound)
		return
	}
	if review.PatientID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	tx := h.db.Begin()
	if err := tx.Delete(&review).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting review", http.StatusInternalServerError)
		return
	}
	if err := recomputeMentorRating(tx, review.MentorID); err != nil {
		tx.Rollback()
		http.Error(w, "Error updating mentor rating", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error deleting review", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Review deleted successfully",
	})
}
