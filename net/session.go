package net

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxPayloadSize bounds a single frame's payload.
const MaxPayloadSize = 16 << 20

// frameHeaderSize is the width of the u32_be length prefix.
const frameHeaderSize = 4

// sendQueueSize bounds the writer's internal queue so Send enqueues and
// returns without waiting on the network.
const sendQueueSize = 256

// Handler receives frames and the close notification for one Session. All
// calls happen on the session's own reader goroutine, so a single peer's
// frames are always delivered in order.
type Handler interface {
	OnReceive(s *Session, payload []byte)
	OnClose(s *Session)
}

// Session wraps a net.Conn in a length-framed byte-stream protocol: u32_be
// length followed by that many payload bytes.
type Session struct {
	ID   uuid.UUID
	conn net.Conn
	log  *logrus.Entry

	sendCh  chan []byte
	closeCh chan struct{}
	closeOnce sync.Once
	wg      sync.WaitGroup
}

// NewSession wraps conn. Call Start to begin pumping reads/writes.
func NewSession(conn net.Conn, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	id := uuid.New()
	return &Session{
		ID:      id,
		conn:    conn,
		log:     log.WithFields(logrus.Fields{"component": "session", "session_id": id.String()}),
		sendCh:  make(chan []byte, sendQueueSize),
		closeCh: make(chan struct{}),
	}
}

// Start launches the reader and writer goroutines, dispatching received
// frames and the close notification to handler.
func (s *Session) Start(handler Handler) {
	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop(handler)
}

// Send enqueues payload for transmission. It returns ErrPayloadTooLarge if
// payload exceeds MaxPayloadSize, or ErrSendOnClosedConnection if the
// session is already closed or closes before the enqueue completes.
func (s *Session) Send(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	select {
	case <-s.closeCh:
		return ErrSendOnClosedConnection
	default:
	}
	select {
	case s.sendCh <- payload:
		return nil
	case <-s.closeCh:
		return ErrSendOnClosedConnection
	}
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// Close closes the underlying connection and stops both pumps. Safe to call
// more than once or concurrently with Send/Start.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

// Wait blocks until both the reader and writer goroutines have exited.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case payload := <-s.sendCh:
			if err := s.writeFrame(payload); err != nil {
				s.log.WithError(err).Debug("session write failed")
				s.Close()
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeFrame(payload []byte) error {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := s.conn.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := s.conn.Write(payload)
	return err
}

func (s *Session) readLoop(handler Handler) {
	defer s.wg.Done()
	defer func() {
		s.Close()
		if handler != nil {
			handler.OnClose(s)
		}
	}()

	var header [frameHeaderSize]byte
	for {
		if _, err := io.ReadFull(s.conn, header[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:])
		if n > MaxPayloadSize {
			s.log.WithField("len", n).Warn("frame exceeds max payload size")
			return
		}
		payload := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(s.conn, payload); err != nil {
				return
			}
		}
		if handler != nil {
			handler.OnReceive(s, payload)
		}
	}
}
