package models

import (
	"time"

	"gorm.io/gorm"
)

type Device struct {
	gorm.Model
	Token      string `gorm:"not null;uniqueIndex:idx_token_user" json:"token"`
	UserID     string `gorm:"not null;index;uniqueIndex:idx_token_user" json:"userId"`
	Platform   string `gorm:"type:varchar(20)" json:"platform"` // ios, android
	DeviceName string `gorm:"type:varchar(100)" json:"deviceName,omitempty"`
}

type NotificationRequest struct {
	Token string                 `json:"token"`
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type BroadcastRequest struct {
	Title   string                 `json:"title"`
	Body    string                 `json:"body"`
	Data    map[string]interface{} `json:"data,omitempty"`
	UserIDs []string               `json:"userIds,omitempty"`
}

type NotificationHistory struct {
	gorm.Model
	UserID   string    `gorm:"index" json:"userId"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Category string    `gorm:"type:varchar(50)" json:"category,omitempty"` // appointment_reminder, session_starting, ...
	Data     string    `gorm:"type:text" json:"data,omitempty"`            // JSON string of additional data
	Status   string    `gorm:"type:varchar(20)" json:"status"`             // sent, failed
	SentAt   time.Time `json:"sentAt"`
}
