package group

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

type GroupHandler struct {
	db *gorm.DB
}

func NewGroupHandler(db *gorm.DB) *GroupHandler {
	return &GroupHandler{db: db}
}

func (h *GroupHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/groups", utils.AuthMiddleware(h.CreateGroup)).Methods("POST")
	router.HandleFunc("/groups", h.GetGroups).Methods("GET")
	router.HandleFunc("/groups/{id}", h.GetGroup).Methods("GET")
	router.HandleFunc("/groups/{id}", utils.AuthMiddleware(h.UpdateGroup)).Methods("PUT")
	router.HandleFunc("/groups/{id}/join", utils.AuthMiddleware(h.JoinGroup)).Methods("POST")
	router.HandleFunc("/groups/{id}/leave", utils.AuthMiddleware(h.LeaveGroup)).Methods("POST")
	router.HandleFunc("/groups/{id}/members", h.GetGroupMembers).Methods("GET")
	router.HandleFunc("/groups/{id}/sessions", utils.AuthMiddleware(h.CreateSession)).Methods("POST")
	router.HandleFunc("/groups/{id}/sessions", h.GetSessions).Methods("GET")
	router.HandleFunc("/groups/{id}/analytics", utils.AuthMiddleware(h.GetGroupAnalytics)).Methods("GET")
	router.HandleFunc("/sessions/{sessionId}/attendance", utils.AuthMiddleware(h.MarkAttendance)).Methods("POST")
}

// mentorIDForUser resolves the caller's mentor profile, if any.
func (h *GroupHandler) mentorIDForUser(userID uint) (uint, bool) {
	var mentor models.MoodMentor
	if err := h.db.Where("user_id = ?", userID).First(&mentor).Error; err != nil {
		return 0, false
	}
	return mentor.ID, true
}

// CreateGroup opens a new support group. Mentors only.
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	mentorID, ok := h.mentorIDForUser(userID)
	if !ok {
		http.Error(w, "Only mood mentors can create support groups", http.StatusForbidden)
		return
	}

	var groupRequest struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		FocusAreas  []string `json:"focus_areas"`
		MaxMembers  int      `json:"max_members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&groupRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if groupRequest.Name == "" {
		http.Error(w, "Group name is required", http.StatusBadRequest)
		return
	}

	group := models.SupportGroup{
		Name:        groupRequest.Name,
		Description: groupRequest.Description,
		MentorID:    mentorID,
		FocusAreas:  groupRequest.FocusAreas,
	}
	if groupRequest.MaxMembers > 0 {
		group.MaxMembers = groupRequest.MaxMembers
	}

	if err := h.db.Create(&group).Error; err != nil {
		http.Error(w, "Error creating group", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(group)
}

// GetGroups lists active groups, filterable by focus area.
func (h *GroupHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.SupportGroup{}).
		Where("status = ?", "active").
		Preload("Mentor").Preload("Mentor.User")

	if focus := r.URL.Query().Get("focus"); focus != "" {
		query = query.Where("? = ANY(focus_areas)", focus)
	}

	var total int64
	query.Count(&total)

	var groups []models.SupportGroup
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&groups).Error; err != nil {
		http.Error(w, "Error retrieving groups", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"groups":      groups,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	var group models.SupportGroup
	if err := h.db.Preload("Mentor").Preload("Mentor.User").Preload("Sessions").
		First(&group, groupID).Error; err != nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}

	var memberCount int64
	h.db.Model(&models.GroupMember{}).
		Where("group_id = ? AND status = ?", groupID, "active").
		Count(&memberCount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"group":        group,
		"member_count": memberCount,
	})
}

// UpdateGroup edits a group. Owning mentor only.
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	group, ok := h.requireOwnGroup(w, r, uint(groupID))
	if !ok {
		return
	}

	var updateRequest struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		FocusAreas  []string `json:"focus_areas"`
		MaxMembers  int      `json:"max_members"`
		Status      string   `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updateRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if updateRequest.Name != "" {
		group.Name = updateRequest.Name
	}
	if updateRequest.Description != "" {
		group.Description = updateRequest.Description
	}
	if updateRequest.FocusAreas != nil {
		group.FocusAreas = updateRequest.FocusAreas
	}
	if updateRequest.MaxMembers > 0 {
		group.MaxMembers = updateRequest.MaxMembers
	}
	if updateRequest.Status != "" {
		group.Status = updateRequest.Status
	}

	if err := h.db.Save(group).Error; err != nil {
		http.Error(w, "Error updating group", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(group)
}

func (h *GroupHandler) requireOwnGroup(w http.ResponseWriter, r *http.Request, groupID uint) (*models.SupportGroup, bool) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	var group models.SupportGroup
	if err := h.db.First(&group, groupID).Error; err != nil {
		http.Error(w, "Group not found", http.StatusNotFound)
		return nil, false
	}

	mentorID, ok := h.mentorIDForUser(userID)
	if !ok || group.MentorID != mentorID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	return &group, true
}

// JoinGroup adds the caller to a group, respecting the member cap.
func (h *GroupHandler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tx := h.db.Begin()

	var group models.SupportGroup
	if err := tx.First(&group, groupID).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}
	if group.Status != "active" {
		tx.Rollback()
		http.Error(w, "Group is not accepting members", http.StatusConflict)
		return
	}

	var existing models.GroupMember
	if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&existing).Error; err == nil {
		if existing.Status == "active" {
			tx.Rollback()
			http.Error(w, "Already a member of this group", http.StatusConflict)
			return
		}
		// Rejoining after having left.
		existing.Status = "active"
		existing.JoinedAt = time.Now()
		if err := tx.Save(&existing).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error joining group", http.StatusInternalServerError)
			return
		}
		tx.Commit()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(existing)
		return
	}

	var memberCount int64
	tx.Model(&models.GroupMember{}).
		Where("group_id = ? AND status = ?", groupID, "active").
		Count(&memberCount)
	if group.MaxMembers > 0 && memberCount >= int64(group.MaxMembers) {
		tx.Rollback()
		http.Error(w, "Group is full", http.StatusConflict)
		return
	}

	member := models.GroupMember{
		GroupID:  uint(groupID),
		UserID:   userID,
		JoinedAt: time.Now(),
		Status:   "active",
	}
	if err := tx.Create(&member).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error joining group", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error joining group", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(member)
}

// LeaveGroup marks the caller's membership inactive.
func (h *GroupHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result := h.db.Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND status = ?", groupID, userID, "active").
		Update("status", "left")
	if result.Error != nil {
		http.Error(w, "Error leaving group", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Not a member of this group", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Left group successfully",
	})
}

func (h *GroupHandler) GetGroupMembers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	var members []models.GroupMember
	if err := h.db.Where("group_id = ? AND status = ?", groupID, "active").
		Preload("User").
		Find(&members).Error; err != nil {
		http.Error(w, "Error retrieving members", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(members)
}

// CreateSession schedules a group meeting. Owning mentor only.
func (h *GroupHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	if _, ok := h.requireOwnGroup(w, r, uint(groupID)); !ok {
		return
	}

	var sessionRequest struct {
		Title           string    `json:"title"`
		ScheduledAt     time.Time `json:"scheduled_at"`
		DurationMinutes int       `json:"duration_minutes"`
		MeetingLink     string    `json:"meeting_link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&sessionRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if sessionRequest.ScheduledAt.IsZero() {
		http.Error(w, "scheduled_at is required", http.StatusBadRequest)
		return
	}

	session := models.GroupSession{
		GroupID:     uint(groupID),
		Title:       sessionRequest.Title,
		ScheduledAt: sessionRequest.ScheduledAt,
		MeetingLink: sessionRequest.MeetingLink,
	}
	if sessionRequest.DurationMinutes > 0 {
		session.DurationMinutes = sessionRequest.DurationMinutes
	}

	if err := h.db.Create(&session).Error; err != nil {
		http.Error(w, "Error creating session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

func (h *GroupHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	query := h.db.Where("group_id = ?", groupID)
	if upcoming := r.URL.Query().Get("upcoming"); upcoming == "true" {
		query = query.Where("scheduled_at > ?", time.Now())
	}

	var sessions []models.GroupSession
	if err := query.Order("scheduled_at asc").Find(&sessions).Error; err != nil {
		http.Error(w, "Error retrieving sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// MarkAttendance records who showed up to a session. Owning mentor
// only.
func (h *GroupHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, err := strconv.ParseUint(vars["sessionId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	var session models.GroupSession
	if err := h.db.First(&session, sessionID).Error; err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if _, ok := h.requireOwnGroup(w, r, session.GroupID); !ok {
		return
	}

	var attendanceRequest struct {
		Records []struct {
			UserID uint   `json:"user_id"`
			Status string `json:"status"`
		} `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&attendanceRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()
	now := time.Now()
	for _, record := range attendanceRequest.Records {
		if record.Status != "attended" && record.Status != "absent" {
			tx.Rollback()
			http.Error(w, "Attendance status must be attended or absent", http.StatusBadRequest)
			return
		}

		attendance := models.SessionAttendance{
			SessionID: uint(sessionID),
			UserID:    record.UserID,
			Status:    record.Status,
		}
		if record.Status == "attended" {
			attendance.JoinedAt = &now
		}

		// Re-marking replaces the earlier record.
		if err := tx.Where("session_id = ? AND user_id = ?", sessionID, record.UserID).
			Delete(&models.SessionAttendance{}).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error recording attendance", http.StatusInternalServerError)
			return
		}
		if err := tx.Create(&attendance).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error recording attendance", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error recording attendance", http.StatusInternalServerError)
		return
	}

	if session.Status == "scheduled" {
		h.db.Model(&session).Update("status", "completed")
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Attendance recorded",
		"recorded": len(attendanceRequest.Records),
	})
}

// GetGroupAnalytics reports membership and attendance rates for a
// group. Owning mentor only.
func (h *GroupHandler) GetGroupAnalytics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid group ID", http.StatusBadRequest)
		return
	}

	if _, ok := h.requireOwnGroup(w, r, uint(groupID)); !ok {
		return
	}

	var memberCount int64
	h.db.Model(&models.GroupMember{}).
		Where("group_id = ? AND status = ?", groupID, "active").
		Count(&memberCount)

	var sessions []models.GroupSession
	if err := h.db.Where("group_id = ?", groupID).
		Preload("Attendance").
		Find(&sessions).Error; err != nil {
		http.Error(w, "Error retrieving sessions", http.StatusInternalServerError)
		return
	}

	report := AttendanceReport(sessions)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"member_count":       memberCount,
		"session_count":      len(sessions),
		"sessions_held":      report.SessionsHeld,
		"attendance_rate":    report.Rate,
		"attended_total":     report.Attended,
		"per_session_counts": report.PerSession,
	})
}
