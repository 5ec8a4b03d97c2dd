package model

import "time"

// ChatRoom is a group chat or a two-party direct-message container.
// DMKey is set only for DMs: the sorted participant pair, unique, so a
// second create for the same pair resolves to the existing room.
type ChatRoom struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomName  string    `gorm:"size:64" json:"roomname,omitempty"`
	IsGroup   bool      `gorm:"not null" json:"is_group"`
	DMKey     *string   `gorm:"uniqueIndex;size:48" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Members []ChatRoomMember `gorm:"foreignKey:RoomID" json:"members,omitempty"`
}

// ChatRoomMember joins a user into a room. One row per (room, user).
type ChatRoomMember struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID    int64     `gorm:"uniqueIndex:idx_room_user;not null" json:"room_id"`
	UserID    int64     `gorm:"uniqueIndex:idx_room_user;not null" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
