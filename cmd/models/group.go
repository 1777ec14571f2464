package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SupportGroup is a mentor-led group that meets on a schedule.
type SupportGroup struct {
	gorm.Model
	Name        string         `gorm:"column:name;size:255;not null" json:"name"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	MentorID    uint           `gorm:"column:mentor_id;not null" json:"mentor_id"`
	FocusAreas  pq.StringArray `gorm:"type:text[];column:focus_areas" json:"focus_areas,omitempty"`
	MaxMembers  int            `gorm:"column:max_members;default:20" json:"max_members"`
	Status      string         `gorm:"column:status;size:50;default:active" json:"status"`

	Mentor   *MoodMentor    `gorm:"foreignKey:MentorID" json:"mentor,omitempty"`
	Members  []GroupMember  `gorm:"foreignKey:GroupID" json:"members,omitempty"`
	Sessions []GroupSession `gorm:"foreignKey:GroupID" json:"sessions,omitempty"`
}

func (SupportGroup) TableName() string {
	return "support_groups"
}

type GroupMember struct {
	gorm.Model
	GroupID  uint      `gorm:"column:group_id;not null;uniqueIndex:idx_group_user" json:"group_id"`
	UserID   uint      `gorm:"column:user_id;not null;uniqueIndex:idx_group_user" json:"user_id"`
	JoinedAt time.Time `gorm:"column:joined_at;not null" json:"joined_at"`
	Status   string    `gorm:"column:status;size:50;default:active" json:"status"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

// GroupSession is one scheduled meeting of a support group.
type GroupSession struct {
	gorm.Model
	GroupID         uint      `gorm:"column:group_id;not null;index" json:"group_id"`
	Title           string    `gorm:"column:title;size:255" json:"title"`
	ScheduledAt     time.Time `gorm:"column:scheduled_at;not null" json:"scheduled_at"`
	DurationMinutes int       `gorm:"column:duration_minutes;default:60" json:"duration_minutes"`
	MeetingLink     string    `gorm:"column:meeting_link;size:500" json:"meeting_link,omitempty"`
	Status          string    `gorm:"column:status;size:50;default:scheduled" json:"status"`

	Group      *SupportGroup       `gorm:"foreignKey:GroupID" json:"-"`
	Attendance []SessionAttendance `gorm:"foreignKey:SessionID" json:"attendance,omitempty"`
}

func (GroupSession) TableName() string {
	return "group_sessions"
}

type SessionAttendance struct {
	gorm.Model
	SessionID uint       `gorm:"column:session_id;not null;uniqueIndex:idx_session_user" json:"session_id"`
	UserID    uint       `gorm:"column:user_id;not null;uniqueIndex:idx_session_user" json:"user_id"`
	Status    string     `gorm:"column:status;size:20;not null" json:"status"` // attended or absent
	JoinedAt  *time.Time `gorm:"column:joined_at" json:"joined_at,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (SessionAttendance) TableName() string {
	return "session_attendance"
}
