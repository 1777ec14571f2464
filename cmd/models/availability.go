package models

import (
	"time"

	"gorm.io/gorm"
)

type Availability struct {
	gorm.Model
	MentorID  uint      `gorm:"column:mentor_id;not null" json:"mentor_id"`
	Date      time.Time `gorm:"column:date;not null" json:"date"`
	StartTime time.Time `gorm:"column:start_time;not null" json:"start_time"`
	EndTime   time.Time `gorm:"column:end_time;not null" json:"end_time"`
	Note      string    `gorm:"column:note;type:text" json:"note"`
	Recurring bool      `gorm:"column:recurring;default:false" json:"recurring"`

	Mentor *MoodMentor `gorm:"foreignKey:MentorID" json:"-"`
}

func (Availability) TableName() string {
	return "availabilities"
}
