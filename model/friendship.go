package model

import "time"

// FriendshipStatus is the lifecycle state of a pairwise relationship.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is a directed request between two users. PairKey is derived
// from the sorted pair of user IDs and is unique, so at most one row can
// exist per unordered pair regardless of direction.
type Friendship struct {
	ID          int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	RequesterID int64            `gorm:"index:idx_friendship_requester;not null" json:"requester_id"`
	ReceiverID  int64            `gorm:"index:idx_friendship_receiver;not null" json:"receiver_id"`
	Status      FriendshipStatus `gorm:"size:16;default:pending;not null" json:"status"`
	PairKey     string           `gorm:"uniqueIndex;size:48;not null" json:"-"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Requester *User `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Receiver  *User `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
}
