package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	FullName              string    `gorm:"column:full_name;size:255;not null" json:"full_name"`
	Email                 string    `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash          string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role                  string    `gorm:"column:role;size:50;not null" json:"role"` // patient or mood_mentor
	Phone                 string    `gorm:"column:phone;size:20" json:"phone"`
	EmailVerified         bool      `gorm:"column:email_verified;default:false" json:"email_verified"`
	Status                string    `gorm:"column:status;size:50;not null;default:active" json:"status"`
	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`
	ProfilePicturePath    string    `gorm:"column:profile_picture_path;size:255" json:"profile_picture_path"`
	EmailVerificationCode string    `gorm:"size:6" json:"-"`
	VerificationExpiry    time.Time `json:"-"`

	Mentor *MoodMentor `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"mentor,omitempty"`
}

// MoodMentor is the professional profile attached to a user with the
// mood_mentor role. Patients book sessions against it and review it.
type MoodMentor struct {
	gorm.Model
	UserID     uint           `gorm:"column:user_id;not null;uniqueIndex" json:"user_id"`
	Specialty  string         `gorm:"column:specialty;size:255" json:"specialty"`
	Bio        string         `gorm:"column:bio;type:text" json:"bio"`
	Languages  pq.StringArray `gorm:"type:text[];column:languages" json:"languages,omitempty"`
	Verified   bool           `gorm:"column:verified;default:false" json:"verified"`
	HourlyRate float64        `gorm:"column:hourly_rate;default:0" json:"hourly_rate"`

	AverageRating float64 `gorm:"column:average_rating;default:0" json:"average_rating"`
	TotalReviews  int     `gorm:"column:total_reviews;default:0" json:"total_reviews"`

	User    *User    `gorm:"foreignKey:UserID" json:"-"`
	Reviews []Review `gorm:"foreignKey:MentorID" json:"reviews,omitempty"`
}

func (MoodMentor) TableName() string {
	return "mood_mentors"
}

// Review is a patient's rating of a mentor. One row per patient/mentor
// pair; re-submitting updates the existing row.
type Review struct {
	gorm.Model
	PatientID uint       `gorm:"column:patient_id;not null;uniqueIndex:idx_patient_mentor" json:"patient_id"`
	MentorID  uint       `gorm:"column:mentor_id;not null;uniqueIndex:idx_patient_mentor" json:"mentor_id"`
	Rating    float64    `gorm:"column:rating;not null" json:"rating"` // 1-5
	Comment   string     `gorm:"column:comment;type:text" json:"comment"`
	Reply     string     `gorm:"column:reply;type:text" json:"reply,omitempty"`
	RepliedAt *time.Time `gorm:"column:replied_at" json:"replied_at,omitempty"`

	Patient *User       `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Mentor  *MoodMentor `gorm:"foreignKey:MentorID" json:"mentor,omitempty"`
}

func (Review) TableName() string {
	return "reviews"
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null"`
	Token     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}
