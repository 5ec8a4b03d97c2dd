package model

import "time"

// MessageType distinguishes user text from server-generated system lines.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// Message is one immutable chat line in a room. SenderID is nil for
// system messages.
type Message struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64       `gorm:"index:idx_message_room;not null" json:"room_id"`
	SenderID  *int64      `json:"sender_id,omitempty"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Type      MessageType `gorm:"size:16;default:text;not null" json:"type"`
	CreatedAt time.Time   `gorm:"index:idx_message_created;autoCreateTime:milli" json:"created_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}
