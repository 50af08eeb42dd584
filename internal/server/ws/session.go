package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// encrypted group content carries one envelope per member, so frames
	// run far bigger than ordinary chat text
	maxMessageSize = 256 * 1024
	sendQueueSize  = 256
)

// session adapts one websocket connection to hub.Session. All writes go
// through the buffered send queue owned by writePump; the read loop is
// the only reader. Close is safe from any goroutine.
type session struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSession(userID int64, conn *websocket.Conn) *session {
	return &session{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (s *session) UserID() int64 { return s.userID }

// Send enqueues one frame without blocking. A full queue means the peer
// stopped reading; the session is torn down instead of stalling the
// caller, and the frame is dropped.
func (s *session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.Close()
		return false
	}
}

func (s *session) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
