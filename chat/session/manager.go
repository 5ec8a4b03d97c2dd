package session

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager maintains the registry of connected sessions and the broadcast
// groups they belong to: one personal group per user and one group per
// joined room.
type Manager struct {
	mu      sync.RWMutex
	byUser  map[int64]map[*Session]struct{} // personal groups
	byRoom  map[int64]map[*Session]struct{} // room groups
	logger  *zap.Logger
}

// NewManager creates a session Manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		byUser: make(map[int64]map[*Session]struct{}),
		byRoom: make(map[int64]map[*Session]struct{}),
		logger: logger,
	}
}

// Register adds a session and enrolls it in its user's personal group.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.byUser[s.UserID]
	if !ok {
		group = make(map[*Session]struct{})
		m.byUser[s.UserID] = group
	}
	group[s] = struct{}{}
	m.logger.Info("session registered",
		zap.Int64("user_id", s.UserID),
		zap.Int("user_sessions", len(group)))
}

// Unregister removes a session from its personal group and every room
// group it joined. Called on disconnect.
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if group, ok := m.byUser[s.UserID]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
	for _, roomID := range s.Rooms() {
		if group, ok := m.byRoom[roomID]; ok {
			delete(group, s)
			if len(group) == 0 {
				delete(m.byRoom, roomID)
			}
		}
	}
	m.logger.Info("session unregistered", zap.Int64("user_id", s.UserID))
}

// JoinRoom enrolls a session into a room's broadcast group. Authorization
// (membership) is the caller's responsibility.
func (m *Manager) JoinRoom(s *Session, roomID int64) {
	m.mu.Lock()
	group, ok := m.byRoom[roomID]
	if !ok {
		group = make(map[*Session]struct{})
		m.byRoom[roomID] = group
	}
	group[s] = struct{}{}
	m.mu.Unlock()
	s.EnrollRoom(roomID)
}

// LeaveRoom removes a session from a room's broadcast group.
func (m *Manager) LeaveRoom(s *Session, roomID int64) {
	m.mu.Lock()
	if group, ok := m.byRoom[roomID]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(m.byRoom, roomID)
		}
	}
	m.mu.Unlock()
	s.LeaveRoom(roomID)
}

// IsOnline reports whether a user has at least one live session.
func (m *Manager) IsOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

// Count returns the number of currently connected sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, group := range m.byUser {
		n += len(group)
	}
	return n
}

// OnlineUsers returns the IDs of users with at least one live session.
func (m *Manager) OnlineUsers() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.byUser))
	for userID, group := range m.byUser {
		if len(group) > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

// roomSnapshot returns the sessions currently in a room's group.
func (m *Manager) roomSnapshot(roomID int64) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	group := m.byRoom[roomID]
	out := make([]*Session, 0, len(group))
	for s := range group {
		out = append(out, s)
	}
	return out
}

// BroadcastRoom sends raw pre-encoded data to every session in a room's
// group, optionally excluding one session. Sends are non-blocking so a
// slow connection cannot stall the fan-out; each failure stays isolated
// to its own connection.
func (m *Manager) BroadcastRoom(roomID int64, data []byte, exclude *Session) {
	for _, s := range m.roomSnapshot(roomID) {
		if s == exclude {
			continue
		}
		s.SendRaw(data)
	}
}

// SendToUser sends raw data to every session in a user's personal group,
// reaching the user on devices not currently viewing any room.
func (m *Manager) SendToUser(userID int64, data []byte) {
	m.mu.RLock()
	group := m.byUser[userID]
	sessions := make([]*Session, 0, len(group))
	for s := range group {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.SendRaw(data)
	}
}

// SendPacketToUser marshals pkt and delivers it to a user's personal group.
func (m *Manager) SendPacketToUser(userID int64, pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		m.logger.Error("failed to marshal packet", zap.Error(err))
		return
	}
	m.SendToUser(userID, data)
}

// CloseAll gracefully closes every connected session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0)
	for _, group := range m.byUser {
		for s := range group {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()

	m.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}

	// Wait briefly for write pumps to drain.
	maxWait := 10 * time.Second
	start := time.Now()
	for time.Since(start) < maxWait {
		if m.Count() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
}
