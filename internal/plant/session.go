// ABOUTME: Per-connection session state for the control-plane client.
// ABOUTME: Owns the send queue, pending request correlation, and teardown.

package plant

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var errSendQueueFull = errors.New("send queue full")

// session wraps one websocket connection. It dies with the connection; the
// Client builds a fresh one per reconnect.
type session struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// seq numbers outbound event frames within this session.
	seq atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan frame
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		pending: map[string]chan frame{},
	}
}

// close tears the session down exactly once. Both pump loops and the session
// supervisor call it; whoever notices the failure first wins.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// enqueue queues one frame without blocking. The queue absorbs bursts;
// overflow means the peer stopped draining, so the frame is refused rather
// than stalling the caller.
func (s *session) enqueue(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrNotConnected
	case s.send <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

func (s *session) addPending(id string) chan frame {
	ch := make(chan frame, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	return ch
}

func (s *session) removePending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// completePending routes a response frame to its waiting caller. Responses
// for forgotten requests are dropped.
func (s *session) completePending(f frame) {
	s.pendingMu.Lock()
	ch, ok := s.pending[f.ID]
	if ok {
		delete(s.pending, f.ID)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- f
	}
}
