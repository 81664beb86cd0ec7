package channel

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// recvPollTimeout is the read deadline used to emulate a non-blocking recv
// on a net.Conn. A read returns as soon as data is available; an idle
// connection returns within this window.
const recvPollTimeout = 10 * time.Millisecond

// Socket is a channel riding over an established net.Conn. Bind and connect
// (and their TLS and WebSocket decorations) all reduce to this type once a
// connection exists. A Socket can also be built directly around a connection
// obtained elsewhere.
type Socket struct {
	lookahead

	log       *zap.SugaredLogger
	conn      net.Conn
	connected bool
}

// NewSocket wraps an established connection. Passing a nil conn creates a
// detached socket which a listening variant attaches later.
func NewSocket(conn net.Conn, log *zap.SugaredLogger) *Socket {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Socket{log: log.Named("socket")}
	s.lookahead.read = s.rawRead
	if conn != nil {
		s.attach(conn)
	}
	return s
}

func (s *Socket) attach(conn net.Conn) {
	s.conn = conn
	s.connected = true
	s.log.Debugw("channel attached", "RemoteAddr", conn.RemoteAddr().String())
}

func (s *Socket) rawRead(p []byte) (int, error) {
	if !s.connected {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	s.conn.SetReadDeadline(time.Now().Add(recvPollTimeout))
	n, err := s.conn.Read(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return n, nil
		}
		s.log.Debugf("recv failed, marking closed: %s", err)
		s.connected = false
		return n, ErrClosed
	}
	return n, nil
}

// Connect is a no-op for an already-attached socket.
func (s *Socket) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}
	return ErrClosed
}

// Send writes the full buffer, blocking until the transport accepts it.
func (s *Socket) Send(p []byte) (int, error) {
	if !s.connected {
		return 0, ErrClosed
	}

	s.conn.SetWriteDeadline(time.Time{})
	written := 0
	for written < len(p) {
		n, err := s.conn.Write(p[written:])
		written += n
		if err != nil {
			s.log.Debugf("send failed after %d bytes: %s", written, err)
			s.connected = false
			return written, ErrClosed
		}
	}
	return written, nil
}

func (s *Socket) Connected() bool { return s.connected }

// Close tears down the connection. Calling it on a closed socket is a no-op.
func (s *Socket) Close() error {
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.conn.Close()
}

func (s *Socket) String() string {
	if s.conn == nil {
		return "socket (detached)"
	}
	return s.conn.RemoteAddr().String()
}
