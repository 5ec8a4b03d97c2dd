// Package friendship implements the pairwise relationship state machine:
// pending → accepted/declined/blocked, declined → pending/blocked,
// accepted → blocked. At most one row exists per unordered user pair,
// enforced by a unique key derived from the sorted pair of ids.
package friendship

import (
	"errors"
	"fmt"

	"github.com/emberlink/chatd/apperr"
	"github.com/emberlink/chatd/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// validTransitions maps a current status to the set of statuses it may
// move to. Blocked is terminal.
var validTransitions = map[model.FriendshipStatus][]model.FriendshipStatus{
	model.FriendshipPending:  {model.FriendshipAccepted, model.FriendshipDeclined, model.FriendshipBlocked},
	model.FriendshipAccepted: {model.FriendshipBlocked},
	model.FriendshipDeclined: {model.FriendshipPending, model.FriendshipBlocked},
	model.FriendshipBlocked:  {},
}

// PairKey derives the unique key for an unordered user pair. It must be
// recomputed from the current requester/receiver before every write.
func PairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

// UserWithStatus is a search result annotated with the relationship
// status relative to the searching user ("none" when no row exists).
type UserWithStatus struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// Service validates and transitions friendships.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a friendship Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// normalize recomputes the pair key from the row's current requester and
// receiver. Called immediately before every insert or update so the key
// can never go stale after a direction swap.
func normalize(f *model.Friendship) {
	f.PairKey = PairKey(f.RequesterID, f.ReceiverID)
}

// Request sends a friend request from user to targetID. A pending request
// in the opposite direction collapses into acceptance; a declined row
// reopens as pending with the new direction.
func (s *Service) Request(user *model.User, targetID int64) (*model.Friendship, error) {
	var target model.User
	if err := s.db.First(&target, targetID).Error; err != nil {
		return nil, apperr.New(apperr.NotFound, "the user doesn't exist")
	}
	if user.ID == targetID {
		return nil, apperr.New(apperr.InvalidArgument, "you can't add yourself as a friend")
	}

	key := PairKey(user.ID, targetID)
	var existing model.Friendship
	err := s.db.Where("pair_key = ?", key).First(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		f := &model.Friendship{
			RequesterID: user.ID,
			ReceiverID:  targetID,
			Status:      model.FriendshipPending,
		}
		normalize(f)
		if err := s.db.Create(f).Error; err != nil {
			return nil, err
		}
		s.logger.Info("friend request created",
			zap.Int64("requester_id", user.ID),
			zap.Int64("receiver_id", targetID))
		return f, nil
	}

	switch existing.Status {
	case model.FriendshipPending:
		if existing.RequesterID == user.ID {
			return nil, apperr.New(apperr.Conflict, "friend request already sent")
		}
		// The other person sent one already; collapse into acceptance.
		existing.Status = model.FriendshipAccepted
		normalize(&existing)
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, err
		}
		s.logger.Info("mutual friend request accepted",
			zap.Int64("friendship_id", existing.ID))
		return &existing, nil

	case model.FriendshipAccepted:
		return nil, apperr.New(apperr.Conflict, "you are already friends")

	case model.FriendshipDeclined:
		// Reopen with the new direction.
		existing.RequesterID = user.ID
		existing.ReceiverID = targetID
		existing.Status = model.FriendshipPending
		normalize(&existing)
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil

	case model.FriendshipBlocked:
		return nil, apperr.New(apperr.Forbidden, "cannot send friend request, user is blocked")

	default:
		return nil, apperr.New(apperr.Conflict, "invalid friendship status")
	}
}

// UpdateStatus transitions a friendship. Only the current receiver may
// accept or decline; either party may block.
func (s *Service) UpdateStatus(user *model.User, friendshipID int64, status model.FriendshipStatus) (*model.Friendship, error) {
	var f model.Friendship
	if err := s.db.First(&f, friendshipID).Error; err != nil {
		return nil, apperr.New(apperr.NotFound, "friend request not found")
	}

	if !transitionAllowed(f.Status, status) {
		return nil, apperr.New(apperr.InvalidArgument, "invalid status transition")
	}

	if status == model.FriendshipBlocked {
		if f.ReceiverID != user.ID && f.RequesterID != user.ID {
			return nil, apperr.New(apperr.Forbidden, "not allowed to block this user")
		}
	} else if f.ReceiverID != user.ID {
		return nil, apperr.New(apperr.Forbidden, "not allowed to update this request")
	}

	f.Status = status
	normalize(&f)
	if err := s.db.Save(&f).Error; err != nil {
		return nil, err
	}
	s.logger.Info("friendship updated",
		zap.Int64("friendship_id", f.ID),
		zap.String("status", string(status)))
	return &f, nil
}

func transitionAllowed(from, to model.FriendshipStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ListFriends returns the counterpart of every accepted row touching user.
func (s *Service) ListFriends(user *model.User) ([]model.User, error) {
	var friendships []model.Friendship
	err := s.db.
		Where("(receiver_id = ? OR requester_id = ?) AND status = ?",
			user.ID, user.ID, model.FriendshipAccepted).
		Preload("Requester").
		Preload("Receiver").
		Find(&friendships).Error
	if err != nil {
		return nil, err
	}

	friends := make([]model.User, 0, len(friendships))
	for _, f := range friendships {
		if f.RequesterID == user.ID {
			if f.Receiver != nil {
				friends = append(friends, *f.Receiver)
			}
		} else if f.Requester != nil {
			friends = append(friends, *f.Requester)
		}
	}
	return friends, nil
}

// ListIncoming returns pending or declined requests where user is the
// receiver, with requesters preloaded.
func (s *Service) ListIncoming(user *model.User) ([]model.Friendship, error) {
	var rows []model.Friendship
	err := s.db.
		Where("receiver_id = ? AND status IN ?",
			user.ID, []model.FriendshipStatus{model.FriendshipPending, model.FriendshipDeclined}).
		Preload("Requester").
		Find(&rows).Error
	return rows, err
}

// ListOutgoing returns pending requests where user is the requester.
func (s *Service) ListOutgoing(user *model.User) ([]model.Friendship, error) {
	var rows []model.Friendship
	err := s.db.
		Where("requester_id = ? AND status = ?", user.ID, model.FriendshipPending).
		Preload("Receiver").
		Find(&rows).Error
	return rows, err
}

// CancelRequest deletes a request the user sent. Only the requester may
// cancel.
func (s *Service) CancelRequest(user *model.User, requestID int64) error {
	var f model.Friendship
	if err := s.db.First(&f, requestID).Error; err != nil {
		return apperr.New(apperr.NotFound, "friendship request not found")
	}
	if f.RequesterID != user.ID {
		return apperr.New(apperr.Forbidden, "you are not authorized to delete this request")
	}
	return s.db.Delete(&f).Error
}

// RemoveFriend deletes the relationship row between user and friendID
// regardless of status.
func (s *Service) RemoveFriend(user *model.User, friendID int64) error {
	var f model.Friendship
	err := s.db.Where("pair_key = ?", PairKey(user.ID, friendID)).First(&f).Error
	if err != nil {
		return apperr.New(apperr.NotFound, "friendship not found")
	}
	return s.db.Delete(&f).Error
}

// SearchWithStatus returns users matching the username query, each
// annotated with the relationship status relative to user.
func (s *Service) SearchWithStatus(user *model.User, query string) ([]UserWithStatus, error) {
	var users []model.User
	if err := s.db.Where("username LIKE ?", "%"+query+"%").Find(&users).Error; err != nil {
		return nil, err
	}

	var friendships []model.Friendship
	err := s.db.
		Where("requester_id = ? OR receiver_id = ?", user.ID, user.ID).
		Find(&friendships).Error
	if err != nil {
		return nil, err
	}

	statusByUser := make(map[int64]model.FriendshipStatus, len(friendships))
	for _, f := range friendships {
		other := f.RequesterID
		if other == user.ID {
			other = f.ReceiverID
		}
		statusByUser[other] = f.Status
	}

	result := make([]UserWithStatus, 0, len(users))
	for _, u := range users {
		if u.ID == user.ID {
			continue
		}
		status := "none"
		if st, ok := statusByUser[u.ID]; ok {
			status = string(st)
		}
		result = append(result, UserWithStatus{ID: u.ID, Username: u.Username, Status: status})
	}
	return result, nil
}
