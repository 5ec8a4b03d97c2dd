// Package session tracks live WebSocket connections: which authenticated
// user each one belongs to, and which room broadcast groups it is
// enrolled in.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session represents one connected client's WebSocket session. A user may
// hold several sessions at once (multiple devices).
type Session struct {
	UserID   int64
	Username string

	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	mu     sync.Mutex
	rooms  map[int64]struct{} // room groups this session is enrolled in
	logger *zap.Logger
}

// New creates a Session with its write goroutine started.
func New(userID int64, username string, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		UserID:   userID,
		Username: username,
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		rooms:    make(map[int64]struct{}),
		logger:   logger,
	}
	go s.writePump()
	return s
}

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.Int64("user_id", s.UserID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *Session) Send(pkt *Packet) {
	if s.IsClosed() {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw sends raw bytes non-blocking. Drops if channel full or closed.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.SendChan <- data:
	case <-s.Done:
		// Session closed while sending
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.Int64("user_id", s.UserID))
		}
	}
}

// Close signals the writePump to shut down.
func (s *Session) Close() {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// EnrollRoom records this session as enrolled in a room broadcast group.
func (s *Session) EnrollRoom(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = struct{}{}
}

// LeaveRoom removes this session's enrollment in a room broadcast group.
func (s *Session) LeaveRoom(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// InRoom reports whether this session has joined the room's broadcast
// group. Gates send_message: a connection must join_room first.
func (s *Session) InRoom(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms returns a snapshot of the rooms this session is enrolled in.
func (s *Session) Rooms() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// SetReadDeadline resets the WebSocket read deadline to 60 s from now.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}

// SendHeartbeatPong sends a pong packet in response to a client ping.
func (s *Session) SendHeartbeatPong(clientTS int64) {
	type pongPayload struct {
		ClientTS int64 `json:"client_ts"`
		ServerTS int64 `json:"server_ts"`
	}
	payload, _ := json.Marshal(pongPayload{
		ClientTS: clientTS,
		ServerTS: time.Now().UnixMilli(),
	})
	s.Send(&Packet{Type: "pong", Payload: payload})
}
