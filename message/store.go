// Package message persists chat messages. It performs no business
// validation of its own; callers gate membership and input before
// appending.
package message

import (
	"github.com/emberlink/chatd/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store writes and reads messages scoped to a room.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates a message Store.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Append stores one message and returns it with the server-assigned id and
// timestamp. senderID is nil for system messages. When tx is non-nil the
// insert joins the caller's transaction, so a failure here rolls back the
// whole enclosing operation.
func (s *Store) Append(tx *gorm.DB, roomID int64, senderID *int64, content string, typ model.MessageType) (*model.Message, error) {
	conn := tx
	if conn == nil {
		conn = s.db
	}
	msg := &model.Message{
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
		Type:     typ,
	}
	if err := conn.Create(msg).Error; err != nil {
		return nil, err
	}
	s.logger.Info("message created",
		zap.Int64("message_id", msg.ID),
		zap.Int64("room_id", msg.RoomID),
		zap.Int64p("sender_id", msg.SenderID),
		zap.String("type", string(msg.Type)))
	return msg, nil
}

// ListForRoom returns all messages of a room ordered by creation time
// ascending, with senders preloaded.
func (s *Store) ListForRoom(roomID int64) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.Where("room_id = ?", roomID).
		Preload("Sender").
		Order("created_at ASC").
		Find(&msgs).Error
	return msgs, err
}
