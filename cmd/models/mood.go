package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// MoodEntry is a single mood check-in. Score runs 1 (lowest) to 10.
type MoodEntry struct {
	gorm.Model
	UserID   uint           `gorm:"column:user_id;not null;index" json:"user_id"`
	Score    int            `gorm:"column:score;not null" json:"score"`
	Mood     string         `gorm:"column:mood;size:50;not null" json:"mood"` // e.g. happy, anxious, low
	Tags     pq.StringArray `gorm:"type:text[];column:tags" json:"tags,omitempty"`
	Note     string         `gorm:"column:note;type:text" json:"note,omitempty"`
	LoggedAt time.Time      `gorm:"column:logged_at;not null;index" json:"logged_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (MoodEntry) TableName() string {
	return "mood_entries"
}
