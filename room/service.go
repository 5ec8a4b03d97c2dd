// Package room manages chat rooms and their memberships: group creation,
// DM deduplication, invites and the membership gate every room-scoped
// action passes through.
package room

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/emberlink/chatd/apperr"
	"github.com/emberlink/chatd/db"
	"github.com/emberlink/chatd/message"
	"github.com/emberlink/chatd/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DMKey derives the unique key for a two-party room from the unordered
// participant pair.
func DMKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

// InviteCandidate is an accepted friend annotated with whether they are
// already in the room.
type InviteCandidate struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"` // "in_chat" | "available"
}

// Service creates rooms and enforces membership invariants. Multi-write
// operations run inside a single transaction: either the room and every
// membership and system message exist, or none do.
type Service struct {
	db        *gorm.DB
	messages  *message.Store
	txRetries int
	logger    *zap.Logger
}

// NewService creates a room Service. txRetries bounds transaction retries
// on transient conflicts (0 uses the default).
func NewService(gdb *gorm.DB, messages *message.Store, txRetries int, logger *zap.Logger) *Service {
	return &Service{db: gdb, messages: messages, txRetries: txRetries, logger: logger}
}

// CreateGroup creates a group room with the creator and the given members.
// Member ids are deduplicated and the creator is always included. The room
// and all membership rows are written in one transaction.
func (s *Service) CreateGroup(creator *model.User, roomname string, memberIDs []int64) (*model.ChatRoom, error) {
	idSet := make(map[int64]struct{}, len(memberIDs)+1)
	idSet[creator.ID] = struct{}{}
	for _, id := range memberIDs {
		idSet[id] = struct{}{}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var count int64
	if err := s.db.Model(&model.User{}).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return nil, err
	}
	if count != int64(len(ids)) {
		return nil, apperr.New(apperr.InvalidArgument, "one or more member ids are invalid")
	}

	room := &model.ChatRoom{
		RoomName: roomname,
		IsGroup:  true,
	}
	err := db.Transact(s.db, s.txRetries, func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		members := make([]model.ChatRoomMember, len(ids))
		for i, id := range ids {
			members[i] = model.ChatRoomMember{RoomID: room.ID, UserID: id}
		}
		return tx.Create(&members).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to create group chat", err)
	}

	s.logger.Info("chat room created",
		zap.Int64("room_id", room.ID),
		zap.String("roomname", roomname),
		zap.Int("total_members", len(ids)))
	return room, nil
}

// CreateOrGetDM returns the DM room for the unordered pair (creator,
// friendID). When the room already exists it is returned as-is and the
// system message is nil; otherwise the room, both memberships and one
// system message are created in a single transaction.
func (s *Service) CreateOrGetDM(creator *model.User, friendID int64) (*model.ChatRoom, *model.User, *model.Message, error) {
	if friendID == creator.ID {
		return nil, nil, nil, apperr.New(apperr.InvalidArgument, "you can't start a direct message with yourself")
	}
	var friend model.User
	if err := s.db.First(&friend, friendID).Error; err != nil {
		return nil, nil, nil, apperr.New(apperr.InvalidArgument, "the user doesn't exist")
	}

	key := DMKey(creator.ID, friendID)
	var existing model.ChatRoom
	err := s.db.Where("dm_key = ? AND is_group = ?", key, false).
		Preload("Members.User").
		First(&existing).Error
	if err == nil {
		return &existing, &friend, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil, err
	}

	dm := &model.ChatRoom{IsGroup: false, DMKey: &key}
	var sysMsg *model.Message
	err = db.Transact(s.db, s.txRetries, func(tx *gorm.DB) error {
		if err := tx.Create(dm).Error; err != nil {
			return err
		}
		members := []model.ChatRoomMember{
			{RoomID: dm.ID, UserID: creator.ID},
			{RoomID: dm.ID, UserID: friendID},
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		content := fmt.Sprintf("Direct message started between %s and %s",
			creator.Username, friend.Username)
		var msgErr error
		sysMsg, msgErr = s.messages.Append(tx, dm.ID, nil, content, model.MessageSystem)
		return msgErr
	})
	if err != nil {
		// A concurrent create for the same pair loses the unique-key race;
		// resolve it by returning the winner's room.
		if isUniqueViolation(err) {
			var won model.ChatRoom
			if findErr := s.db.Where("dm_key = ?", key).Preload("Members.User").First(&won).Error; findErr == nil {
				return &won, &friend, nil, nil
			}
		}
		return nil, nil, nil, apperr.Wrap(apperr.Internal, "failed to create direct message", err)
	}

	s.logger.Info("dm created",
		zap.Int64("room_id", dm.ID),
		zap.Int64("creator_id", creator.ID),
		zap.Int64("friend_id", friendID))
	return dm, &friend, sysMsg, nil
}

// IsMember reports whether userID belongs to roomID. Used as the
// authorization gate before every room-scoped action.
func (s *Service) IsMember(userID, roomID int64) (bool, error) {
	var count int64
	err := s.db.Model(&model.ChatRoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

// AddMembers invites candidateIDs into a room. Candidates already in the
// room are silently excluded. New membership rows plus one system message
// enumerating the added usernames are written in a single transaction.
// Returns the added members (with users preloaded) and the system message;
// both are nil-safe when every candidate was already a member.
func (s *Service) AddMembers(roomID int64, inviter *model.User, candidateIDs []int64) ([]model.ChatRoomMember, *model.Message, error) {
	ok, err := s.IsMember(inviter.ID, roomID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.New(apperr.Forbidden, "inviter is not a member of this room")
	}

	var users []model.User
	if err := s.db.Where("id IN ?", candidateIDs).Find(&users).Error; err != nil {
		return nil, nil, err
	}
	if len(users) != len(dedupe(candidateIDs)) {
		found := make(map[int64]struct{}, len(users))
		for _, u := range users {
			found[u.ID] = struct{}{}
		}
		var invalid []string
		for _, id := range dedupe(candidateIDs) {
			if _, ok := found[id]; !ok {
				invalid = append(invalid, fmt.Sprintf("%d", id))
			}
		}
		return nil, nil, apperr.Newf(apperr.InvalidArgument,
			"invalid member ids: %s", strings.Join(invalid, ", "))
	}

	var existing []model.ChatRoomMember
	if err := s.db.Where("room_id = ? AND user_id IN ?", roomID, candidateIDs).
		Find(&existing).Error; err != nil {
		return nil, nil, err
	}
	already := make(map[int64]struct{}, len(existing))
	for _, m := range existing {
		already[m.UserID] = struct{}{}
	}

	var newUsers []model.User
	for _, u := range users {
		if _, ok := already[u.ID]; !ok {
			newUsers = append(newUsers, u)
		}
	}
	if len(newUsers) == 0 {
		return nil, nil, nil
	}

	names := make([]string, len(newUsers))
	members := make([]model.ChatRoomMember, len(newUsers))
	for i, u := range newUsers {
		names[i] = u.Username
		members[i] = model.ChatRoomMember{RoomID: roomID, UserID: u.ID}
	}

	var sysMsg *model.Message
	err = db.Transact(s.db, s.txRetries, func(tx *gorm.DB) error {
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		content := fmt.Sprintf("User %s invited %s", inviter.Username, strings.Join(names, ", "))
		var msgErr error
		sysMsg, msgErr = s.messages.Append(tx, roomID, nil, content, model.MessageSystem)
		return msgErr
	})
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.Internal, "failed to add members", err)
	}

	for i := range members {
		u := newUsers[i]
		members[i].User = &u
	}
	s.logger.Info("members added",
		zap.Int64("room_id", roomID),
		zap.Int64("inviter_id", inviter.ID),
		zap.Int("added", len(members)))
	return members, sysMsg, nil
}

// ListMembers returns all membership rows of a room with users preloaded.
func (s *Service) ListMembers(roomID int64) ([]model.ChatRoomMember, error) {
	var members []model.ChatRoomMember
	err := s.db.Where("room_id = ?", roomID).
		Preload("User").
		Find(&members).Error
	return members, err
}

// ListGroupsForUser returns the group rooms the user belongs to.
func (s *Service) ListGroupsForUser(user *model.User) ([]model.ChatRoom, error) {
	var rooms []model.ChatRoom
	err := s.db.
		Joins("JOIN chat_room_members ON chat_room_members.room_id = chat_rooms.id").
		Where("chat_room_members.user_id = ? AND chat_rooms.is_group = ?", user.ID, true).
		Find(&rooms).Error
	return rooms, err
}

// ListDMsForUser returns the user's DM rooms with both members (and their
// users) preloaded so clients can show the counterpart.
func (s *Service) ListDMsForUser(user *model.User) ([]model.ChatRoom, error) {
	var rooms []model.ChatRoom
	err := s.db.
		Joins("JOIN chat_room_members ON chat_room_members.room_id = chat_rooms.id").
		Where("chat_room_members.user_id = ? AND chat_rooms.is_group = ?", user.ID, false).
		Preload("Members.User").
		Find(&rooms).Error
	return rooms, err
}

// ListMessages returns a room's messages for a member, oldest first.
func (s *Service) ListMessages(roomID int64, requester *model.User) ([]model.Message, error) {
	var room model.ChatRoom
	if err := s.db.First(&room, roomID).Error; err != nil {
		return nil, apperr.New(apperr.NotFound, "chatroom not found")
	}
	ok, err := s.IsMember(requester.ID, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.Forbidden, "user is not a member of the chat")
	}
	return s.messages.ListForRoom(roomID)
}

// PostMessage persists a user text message after re-checking membership.
func (s *Service) PostMessage(roomID int64, sender *model.User, content string) (*model.Message, error) {
	ok, err := s.IsMember(sender.ID, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.Forbidden, "user is not a member of the chat")
	}
	return s.messages.Append(nil, roomID, &sender.ID, content, model.MessageText)
}

// InviteCandidates returns the user's accepted friends annotated with
// whether they already belong to the room.
func (s *Service) InviteCandidates(user *model.User, roomID int64, friends []model.User) ([]InviteCandidate, error) {
	var room model.ChatRoom
	if err := s.db.First(&room, roomID).Error; err != nil {
		return nil, apperr.New(apperr.NotFound, "chat not found")
	}

	members, err := s.ListMembers(roomID)
	if err != nil {
		return nil, err
	}
	inRoom := make(map[int64]struct{}, len(members))
	for _, m := range members {
		inRoom[m.UserID] = struct{}{}
	}

	out := make([]InviteCandidate, 0, len(friends))
	for _, f := range friends {
		status := "available"
		if _, ok := inRoom[f.ID]; ok {
			status = "in_chat"
		}
		out = append(out, InviteCandidate{ID: f.ID, Username: f.Username, Status: status})
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
