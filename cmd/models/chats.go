package models

import (
	"time"

	"gorm.io/gorm"
)

// PeerMessage is a direct message between a patient and a mentor.
type PeerMessage struct {
	gorm.Model
	SenderID   uint       `gorm:"column:sender_id;not null;index" json:"sender_id"`
	ReceiverID uint       `gorm:"column:receiver_id;not null;index" json:"receiver_id"`
	Content    string     `gorm:"column:content;type:text;not null" json:"content"`
	ReadAt     *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`

	Sender   *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Receiver *User `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
}

func (PeerMessage) TableName() string {
	return "peer_messages"
}
