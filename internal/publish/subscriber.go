package publish

import (
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const maxInboundMessage = 4096

// subscriber is one connected client. The broadcast loop hands it messages
// through a single-slot mailbox; a message not yet written when the next one
// arrives is replaced, so a slow client only ever falls one message behind.
type subscriber struct {
	id   string
	conn *ws.Conn

	// joinedSeq is the snapshot that was current when the client connected.
	// Only later snapshots are delivered.
	joinedSeq uint64

	mu         sync.Mutex
	pending    []byte
	pendingSeq uint64
	lastSeq    uint64

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id string, conn *ws.Conn, joinedSeq uint64) *subscriber {
	return &subscriber{
		id:        id,
		conn:      conn,
		joinedSeq: joinedSeq,
		lastSeq:   joinedSeq,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// offer puts msg in the mailbox. It reports whether the message was accepted
// and whether it replaced one that had not been written yet.
func (s *subscriber) offer(seq uint64, msg []byte) (accepted, superseded bool) {
	s.mu.Lock()
	if seq <= s.lastSeq || seq <= s.pendingSeq {
		s.mu.Unlock()
		return false, false
	}
	superseded = s.pending != nil
	s.pending = msg
	s.pendingSeq = seq
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true, superseded
}

// take empties the mailbox.
func (s *subscriber) take() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, seq := s.pending, s.pendingSeq
	s.pending = nil
	if msg != nil {
		s.lastSeq = seq
	}
	return msg, seq
}

// writeLoop writes mailbox messages until the subscriber is closed or a
// write fails.
func (s *subscriber) writeLoop(writeTimeout time.Duration) error {
	for {
		select {
		case <-s.done:
			return nil
		case <-s.notify:
			msg, _ := s.take()
			if msg == nil {
				continue
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(ws.TextMessage, msg); err != nil {
				return err
			}
		}
	}
}

// readLoop discards inbound messages; it only exists to process control
// frames and notice when the client goes away.
func (s *subscriber) readLoop() error {
	s.conn.SetReadLimit(maxInboundMessage)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// close stops the writer and closes the connection. It sends a close frame
// first when graceful is set.
func (s *subscriber) close(graceful bool, writeTimeout time.Duration) bool {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		if graceful {
			_ = s.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
		}
		_ = s.conn.Close()
	})
	return closed
}
