package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"

	MeetingTypeVideo = "video"
	MeetingTypeAudio = "audio"
)

// Appointment is a booked session between a patient and a mood mentor.
// MeetingLink stays empty until the mentor's client allocates a call
// room; once set it is never replaced for the same occurrence.
type Appointment struct {
	gorm.Model
	PatientID       uint      `gorm:"column:patient_id;not null" json:"patient_id"`
	MentorID        uint      `gorm:"column:mentor_id;not null" json:"mentor_id"`
	AvailabilityID  uint      `gorm:"column:availability_id;not null" json:"availability_id"`
	AppointmentDate time.Time `gorm:"column:appointment_date;not null" json:"appointment_date"`
	StartTime       time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime         time.Time `gorm:"column:end_time;not null" json:"end_time"`
	MeetingType     string    `gorm:"column:meeting_type;size:20;not null;default:video" json:"meeting_type"`
	MeetingLink     string    `gorm:"column:meeting_link;size:500" json:"meeting_link,omitempty"`
	Status          string    `gorm:"column:status;size:50;default:pending" json:"status"`
	Concern         string    `gorm:"column:concern;type:text" json:"concern,omitempty"`
	CancelReason    string    `gorm:"column:cancel_reason;type:text" json:"cancel_reason,omitempty"`

	Patient      *User         `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Mentor       *MoodMentor   `gorm:"foreignKey:MentorID" json:"mentor,omitempty"`
	Availability *Availability `gorm:"foreignKey:AvailabilityID" json:"availability,omitempty"`
}

// CallRecord tracks each participant's join/leave within an
// appointment's call, for session duration analytics.
type CallRecord struct {
	gorm.Model
	AppointmentID   uint       `gorm:"column:appointment_id;not null;index" json:"appointment_id"`
	UserID          uint       `gorm:"column:user_id;not null" json:"user_id"`
	Role            string     `gorm:"column:role;size:20;not null" json:"role"` // patient or mentor
	RoomName        string     `gorm:"column:room_name;size:255" json:"room_name"`
	JoinedAt        *time.Time `gorm:"column:joined_at" json:"joined_at,omitempty"`
	LeftAt          *time.Time `gorm:"column:left_at" json:"left_at,omitempty"`
	DurationSeconds int        `gorm:"column:duration_seconds;default:0" json:"duration_seconds"`

	Appointment *Appointment `gorm:"foreignKey:AppointmentID" json:"-"`
}

func (CallRecord) TableName() string {
	return "call_records"
}
