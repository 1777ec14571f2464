package user

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/gomail.v2"

	stream_chat "github.com/GetStream/stream-chat-go/v5"
	"github.com/emotions-app/emotions-server/cmd/models"
	"github.com/emotions-app/emotions-server/cmd/utils"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes sets up all user and mentor-directory routes.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{id}", utils.AuthMiddleware(h.UpdateUser)).Methods("PUT")
	router.HandleFunc("/users/{id}", utils.AuthMiddleware(h.DeleteUser)).Methods("DELETE")
	router.HandleFunc("/users/{id}/profile-picture", utils.AuthMiddleware(h.UploadProfilePicture)).Methods("POST")
	router.HandleFunc("/user/verify", h.verifyUser).Methods("POST")
	router.HandleFunc("/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/reset-password", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/reset-password/{userId}/confirm", h.handlePasswordReset).Methods("POST")
	router.HandleFunc("/verify-reset-token", h.handleVerifyResetToken).Methods("POST")
	router.HandleFunc("/mentors", h.GetMentors).Methods("GET")
	router.HandleFunc("/mentors/search", h.SearchMentors).Methods("GET")
	router.HandleFunc("/mentors/specialty/{specialty}", h.GetMentorsBySpecialty).Methods("GET")
	router.HandleFunc("/mentors/{id}", h.GetMentor).Methods("GET")
	router.HandleFunc("/mentors/{id}", utils.AuthMiddleware(h.UpdateMentor)).Methods("PUT")
	router.HandleFunc("/mentors/verify/{id}", h.VerifyMentor).Methods("POST")
	router.HandleFunc("/images/{filename}", h.ServeImage).Methods("GET")
}

func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	filename := vars["filename"]

	if containsDotDot(filename) {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	imagePath := filepath.Join(utils.ImagePath, filepath.Clean(filename))
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", getContentType(imagePath))
	http.ServeFile(w, r, imagePath)
}

func containsDotDot(v string) bool {
	if !filepath.IsAbs(v) {
		v = filepath.Clean(filepath.Join("/", v))
	}
	return filepath.Clean(v) != v
}

func getContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	result := h.db.Where("email = ?", loginRequest.Email).First(&user)
	if result.Error != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(loginRequest.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	accessToken, err := generateJWT(user.ID, 24*time.Hour)
	if err != nil {
		http.Error(w, "Error generating access token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := generateRefreshToken(user.ID)
	if err != nil {
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	if err := saveRefreshToken(h.db, user.ID, refreshToken); err != nil {
		http.Error(w, "Error saving refresh token", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"message":       "Login successful",
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user_id":       user.ID,
		"role":          user.Role,
	}

	// Chat runs on Stream; hand the client its chat token at login.
	streamClient, err := stream_chat.NewClient(os.Getenv("STREAM_API_KEY"), os.Getenv("STREAM_API_SECRET"))
	if err == nil {
		streamToken, terr := streamClient.CreateToken(fmt.Sprintf("%d", user.ID), time.Now().Add(time.Hour*24*365))
		if terr == nil {
			response["stream_token"] = streamToken
		} else {
			log.Printf("error generating stream token for user %d: %v", user.ID, terr)
		}
	} else {
		log.Printf("error initializing stream client: %v", err)
	}

	if user.Role == "mood_mentor" {
		var mentor models.MoodMentor
		result := h.db.Where("user_id = ?", user.ID).First(&mentor)
		if result.Error == nil {
			response["mentor_id"] = mentor.ID
		} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, "Error fetching mentor profile", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var registerRequest struct {
		FullName  string   `json:"full_name"`
		Email     string   `json:"email"`
		Password  string   `json:"password"`
		Phone     string   `json:"phone"`
		Role      string   `json:"role"`
		Specialty string   `json:"specialty"`
		Bio       string   `json:"bio"`
		Languages []string `json:"languages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&registerRequest); err != nil {
		http.Error(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}

	if registerRequest.FullName == "" || registerRequest.Email == "" || registerRequest.Password == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if registerRequest.Role != "patient" && registerRequest.Role != "mood_mentor" {
		http.Error(w, "Role must be patient or mood_mentor", http.StatusBadRequest)
		return
	}
	if len(registerRequest.Password) < 6 {
		http.Error(w, "Password must be at least 6 characters long", http.StatusBadRequest)
		return
	}

	var existingUser models.User
	if result := h.db.Where("email = ?", registerRequest.Email).First(&existingUser); !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if result.Error != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		log.Printf("registration attempt with duplicate email")
		http.Error(w, "Email is already in use", http.StatusConflict)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error hashing password", http.StatusInternalServerError)
		return
	}

	verificationCode, err := sixDigitCode()
	if err != nil {
		http.Error(w, "Error generating verification code", http.StatusInternalServerError)
		return
	}
	verificationExpiry := time.Now().Add(15 * time.Minute)

	tx := h.db.Begin()

	user := models.User{
		FullName:              registerRequest.FullName,
		Email:                 registerRequest.Email,
		PasswordHash:          string(passwordHash),
		Phone:                 registerRequest.Phone,
		Role:                  registerRequest.Role,
		EmailVerificationCode: verificationCode,
		VerificationExpiry:    verificationExpiry,
	}

	if err := tx.Create(&user).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error registering user", http.StatusInternalServerError)
		return
	}

	var mentorID uint
	if registerRequest.Role == "mood_mentor" {
		mentor := models.MoodMentor{
			UserID:    user.ID,
			Specialty: registerRequest.Specialty,
			Bio:       registerRequest.Bio,
			Languages: registerRequest.Languages,
		}
		if err := tx.Create(&mentor).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error creating mentor profile", http.StatusInternalServerError)
			return
		}
		mentorID = mentor.ID
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error committing transaction", http.StatusInternalServerError)
		return
	}

	go func() {
		if err := sendVerificationEmail(user.Email, verificationCode); err != nil {
			log.Printf("error sending verification email: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"message": "User registered successfully. Please check your email for verification code.",
		"user_id": user.ID,
	}
	if mentorID != 0 {
		response["mentor_id"] = mentorID
	}
	json.NewEncoder(w).Encode(response)
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// sendVerificationEmail delivers the 6-digit code over SMTP.
func sendVerificationEmail(email, code string) error {
	smtpHost := os.Getenv("SMTP_HOST")
	smtpPort := os.Getenv("SMTP_PORT")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")

	m := gomail.NewMessage()
	m.SetHeader("From", smtpUser)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Email Verification Code")
	m.SetBody("text/plain", fmt.Sprintf("Your verification code is: %s. Ignore this email if you did not request a verification code.", code))

	port, err := strconv.Atoi(smtpPort)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %v", err)
	}
	d := gomail.NewDialer(smtpHost, port, smtpUser, smtpPass)

	return d.DialAndSend(m)
}

func (h *Handler) verifyUser(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", request.Email).First(&user).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if user.EmailVerificationCode != request.Code || time.Now().After(user.VerificationExpiry) {
		http.Error(w, "Invalid or expired verification code", http.StatusUnauthorized)
		return
	}

	user.EmailVerified = true
	user.EmailVerificationCode = ""
	user.VerificationExpiry = time.Time{}

	if err := h.db.Save(&user).Error; err != nil {
		http.Error(w, "Error updating user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Email verified successfully",
	})
}

// GetUser retrieves a specific user by ID.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var user models.User
	result := h.db.Preload("Mentor").First(&user, userID)
	if result.Error != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// UpdateUser updates the caller's own profile.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil || callerID != uint(userID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var updateData struct {
		FullName          string `json:"full_name"`
		Phone             string `json:"phone"`
		ProfilePictureURL string `json:"profile_picture_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
		http.Error(w, "Invalid JSON input", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if updateData.FullName != "" {
		user.FullName = updateData.FullName
	}
	if updateData.Phone != "" {
		user.Phone = updateData.Phone
	}
	if updateData.ProfilePictureURL != "" {
		user.ProfilePicturePath = updateData.ProfilePictureURL
	}

	if err := h.db.Save(&user).Error; err != nil {
		http.Error(w, "Error updating user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// UploadProfilePicture accepts a multipart image and stores it.
func (h *Handler) UploadProfilePicture(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil || callerID != uint(userID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := r.ParseMultipartForm(utils.MaxImageSize); err != nil {
		http.Error(w, "Could not parse form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "Missing image file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	path, err := utils.SaveImage(file, header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.db.Model(&models.User{}).Where("id = ?", userID).
		Update("profile_picture_path", path).Error; err != nil {
		http.Error(w, "Error saving profile picture", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"profile_picture_path": path,
	})
}

// DeleteUser removes the caller's own account.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil || callerID != uint(userID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	result := h.db.Delete(&models.User{}, userID)
	if result.Error != nil {
		http.Error(w, "Error deleting user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User deleted successfully",
	})
}

func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&refreshRequest); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()

	var user models.User
	if err := tx.Where("refresh_token = ?", refreshRequest.RefreshToken).First(&user).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	if user.RefreshTokenExpiredAt.Before(time.Now()) {
		tx.Rollback()
		http.Error(w, "Refresh token expired", http.StatusUnauthorized)
		return
	}

	newAccessToken, err := generateJWT(user.ID, 24*time.Hour)
	if err != nil {
		tx.Rollback()
		http.Error(w, "Error generating new token", http.StatusInternalServerError)
		return
	}

	// Rotate the refresh token on every use.
	newRefreshToken, err := generateRefreshToken(user.ID)
	if err != nil {
		tx.Rollback()
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	updateResult := tx.Model(&user).Updates(models.User{
		Refresh:               newRefreshToken,
		RefreshTokenExpiredAt: time.Now().Add(30 * 24 * time.Hour),
	})
	if updateResult.Error != nil {
		tx.Rollback()
		http.Error(w, "Error updating refresh token", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token":  newAccessToken,
		"refresh_token": newRefreshToken,
	})
}

func generateJWT(userID uint, lifetime time.Duration) (string, error) {
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(lifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func generateRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(os.Getenv("SECRET_KEY")))
	mac.Write([]byte(fmt.Sprintf("%d", userID)))
	mac.Write(b)

	signature := mac.Sum(nil)
	return fmt.Sprintf("%d_%x_%x", userID, b, signature), nil
}

func saveRefreshToken(db *gorm.DB, userID uint, refreshToken string) error {
	expirationTime := time.Now().Add(30 * 24 * time.Hour)
	return db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"refresh_token":            refreshToken,
		"refresh_token_expired_at": expirationTime,
	}).Error
}

func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var resetRequest struct {
		Email string `json:"email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if resetRequest.Email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	var user models.User
	result := h.db.Where("email = ?", resetRequest.Email).First(&user)
	if result.Error != nil {
		// Keep response vague so account existence is not revealed.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "If an account exists, a reset code will be sent to your email",
		})
		return
	}

	resetToken, err := sixDigitCode()
	if err != nil {
		http.Error(w, "Error processing reset request", http.StatusInternalServerError)
		return
	}

	tx := h.db.Begin()

	if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error processing reset request", http.StatusInternalServerError)
		return
	}

	passwordResetToken := models.PasswordResetToken{
		UserID:    user.ID,
		Token:     resetToken,
		ExpiresAt: time.Now().Add(5 * time.Minute),
	}
	if err := tx.Create(&passwordResetToken).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating reset token", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error processing reset request", http.StatusInternalServerError)
		return
	}

	if err := sendVerificationEmail(user.Email, resetToken); err != nil {
		http.Error(w, "Error sending email", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "If an account exists, a reset code will be sent to your email",
	})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["userId"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var resetRequest struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&resetRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(resetRequest.Password) < 6 {
		http.Error(w, "Password must be at least 6 characters long", http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()

	var user models.User
	if err := tx.First(&user, userID).Error; err != nil {
		tx.Rollback()
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(resetRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		tx.Rollback()
		http.Error(w, "Error hashing password", http.StatusInternalServerError)
		return
	}

	user.PasswordHash = string(passwordHash)
	if err := tx.Save(&user).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating password", http.StatusInternalServerError)
		return
	}

	// A used token is a dead token.
	if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error processing password reset", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error processing password reset", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Password reset successful",
	})
}

func (h *Handler) handleVerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Token string `json:"token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		http.Error(w, "Invalid email or token", http.StatusBadRequest)
		return
	}

	var resetToken models.PasswordResetToken
	if err := h.db.Where("user_id = ? AND token = ?", user.ID, req.Token).First(&resetToken).Error; err != nil {
		http.Error(w, "Invalid email or token", http.StatusBadRequest)
		return
	}

	if time.Now().After(resetToken.ExpiresAt) {
		http.Error(w, "Token expired", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Token is valid",
		"user_id": user.ID,
	})
}

// GetMentors lists the mentor directory with pagination.
func (h *Handler) GetMentors(w http.ResponseWriter, r *http.Request) {
	verified := r.URL.Query().Get("verified")
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.MoodMentor{}).Preload("User")

	if verified != "" {
		isVerified, parseErr := strconv.ParseBool(verified)
		if parseErr != nil {
			http.Error(w, "Invalid value for 'verified'", http.StatusBadRequest)
			return
		}
		query = query.Where("verified = ?", isVerified)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		http.Error(w, "Error counting mentors", http.StatusInternalServerError)
		return
	}

	var mentors []models.MoodMentor
	result := query.Order("average_rating desc").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&mentors)
	if result.Error != nil {
		http.Error(w, "Error retrieving mentors", http.StatusInternalServerError)
		return
	}

	response := make([]map[string]interface{}, 0, len(mentors))
	for _, mentor := range mentors {
		response = append(response, mentorView(mentor))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mentors":     response,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// mentorView flattens a mentor row for directory responses, with only
// the public slice of the user record.
func mentorView(mentor models.MoodMentor) map[string]interface{} {
	view := map[string]interface{}{
		"id":             mentor.ID,
		"user_id":        mentor.UserID,
		"specialty":      mentor.Specialty,
		"bio":            mentor.Bio,
		"languages":      mentor.Languages,
		"verified":       mentor.Verified,
		"hourly_rate":    mentor.HourlyRate,
		"average_rating": mentor.AverageRating,
		"total_reviews":  mentor.TotalReviews,
	}
	if mentor.User != nil {
		view["user"] = map[string]interface{}{
			"full_name":            mentor.User.FullName,
			"profile_picture_path": mentor.User.ProfilePicturePath,
		}
	}
	return view
}

// GetMentor retrieves a mentor profile with its reviews.
func (h *Handler) GetMentor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	var mentor models.MoodMentor
	result := h.db.Preload("User").Preload("Reviews").First(&mentor, mentorID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, "Mentor not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error retrieving mentor", http.StatusInternalServerError)
		}
		return
	}

	view := mentorView(mentor)
	view["reviews"] = mentor.Reviews

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// UpdateMentor lets a mentor edit their own professional profile.
func (h *Handler) UpdateMentor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var mentor models.MoodMentor
	if result := h.db.First(&mentor, mentorID); result.Error != nil {
		http.Error(w, "Mentor not found", http.StatusNotFound)
		return
	}
	if mentor.UserID != callerID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var updateRequest struct {
		Specialty  string   `json:"specialty"`
		Bio        string   `json:"bio"`
		Languages  []string `json:"languages"`
		HourlyRate *float64 `json:"hourly_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updateRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if updateRequest.Specialty != "" {
		mentor.Specialty = updateRequest.Specialty
	}
	if updateRequest.Bio != "" {
		mentor.Bio = updateRequest.Bio
	}
	if updateRequest.Languages != nil {
		mentor.Languages = updateRequest.Languages
	}
	if updateRequest.HourlyRate != nil {
		mentor.HourlyRate = *updateRequest.HourlyRate
	}

	if err := h.db.Save(&mentor).Error; err != nil {
		http.Error(w, "Error updating mentor", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Mentor updated successfully",
		"mentor":  mentor,
	})
}

// VerifyMentor flips a mentor's verified flag.
func (h *Handler) VerifyMentor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mentorID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid mentor ID", http.StatusBadRequest)
		return
	}

	var verifyRequest struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&verifyRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var mentor models.MoodMentor
	result := h.db.First(&mentor, mentorID)
	if result.Error != nil {
		http.Error(w, "Mentor not found", http.StatusNotFound)
		return
	}

	mentor.Verified = verifyRequest.Verified
	if err := h.db.Save(&mentor).Error; err != nil {
		http.Error(w, "Error updating mentor verification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Mentor verification updated",
		"verified": mentor.Verified,
	})
}

// SearchMentors searches the directory by free text, specialty and
// verification status.
func (h *Handler) SearchMentors(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	specialty := r.URL.Query().Get("specialty")
	verified := r.URL.Query().Get("verified")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	dbQuery := h.db.Model(&models.MoodMentor{}).Preload("User")

	if query != "" {
		searchQuery := "%" + query + "%"
		dbQuery = dbQuery.Where(
			"specialty ILIKE ? OR bio ILIKE ?",
			searchQuery, searchQuery,
		)
	}
	if specialty != "" {
		dbQuery = dbQuery.Where("specialty ILIKE ?", "%"+specialty+"%")
	}
	if verified != "" {
		isVerified, _ := strconv.ParseBool(verified)
		dbQuery = dbQuery.Where("verified = ?", isVerified)
	}

	var total int64
	dbQuery.Count(&total)

	var mentors []models.MoodMentor
	result := dbQuery.Order("average_rating desc").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&mentors)
	if result.Error != nil {
		http.Error(w, "Error searching mentors", http.StatusInternalServerError)
		return
	}

	response := make([]map[string]interface{}, 0, len(mentors))
	for _, mentor := range mentors {
		response = append(response, mentorView(mentor))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mentors":     response,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetMentorsBySpecialty lists mentors matching one specialty area.
func (h *Handler) GetMentorsBySpecialty(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	specialty := vars["specialty"]

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	query := h.db.Model(&models.MoodMentor{}).
		Where("specialty ILIKE ?", "%"+specialty+"%").
		Preload("User")

	var total int64
	query.Count(&total)

	var mentors []models.MoodMentor
	result := query.Order("average_rating desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&mentors)
	if result.Error != nil {
		http.Error(w, "Error retrieving mentors", http.StatusInternalServerError)
		return
	}

	response := make([]map[string]interface{}, 0, len(mentors))
	for _, mentor := range mentors {
		response = append(response, mentorView(mentor))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"mentors":     response,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}
