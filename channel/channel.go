// Package channel abstracts a bidirectional byte stream to a remote target.
// A channel makes no assumption about what rides on top of it; in the common
// case the remote end is an interactive shell and the remote package layers a
// process-execution protocol over it.
//
// Channels mimic a socket with a few additions that higher layers depend on:
// non-consuming look-ahead (Peek), push-back of over-read bytes (Unrecv), and
// timed pattern reads (RecvUntil). Recv is non-blocking and returns whatever
// is immediately available; Send blocks until the full buffer is written.
//
// Concrete channels are registered under a protocol name ("connect", "bind",
// "tls-connect", "tls-bind", "ssh", "ws-connect", "ws-bind") and constructed
// through New.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultRecvTimeout bounds RecvUntil when the caller does not provide a
// timeout.
const DefaultRecvTimeout = 30 * time.Second

// ErrClosed indicates the transport died mid-conversation (or an operation
// was attempted after Close). Any session riding on the channel is invalid
// once this is observed; the owner of the session performs the teardown.
var ErrClosed = errors.New("channel unexpectedly closed")

// TimeoutError is returned by RecvUntil when the needle does not arrive
// before the deadline. Partial holds everything received so far; the channel
// remains usable and the call may be retried.
type TimeoutError struct {
	Partial []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("channel receive timed out after %d bytes", len(e.Partial))
}

// Timeout marks this error as transient for net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// Channel is a bidirectional byte stream to a remote target.
//
// A single channel is a single logical conversation: it is driven from one
// goroutine at a time. Independent channels are fully independent.
type Channel interface {
	// Connect establishes the data stream for channels that wait for a
	// peer (bind-style listeners). Channels that dial do so during
	// construction and treat Connect as a no-op.
	Connect(ctx context.Context) error

	// Send writes the full buffer, blocking until the transport accepts
	// all of it. It returns ErrClosed if the peer is gone.
	Send(p []byte) (int, error)

	// Recv reads whatever is immediately available, up to len(p). A
	// return of (0, nil) means no data is pending right now, not EOF;
	// ErrClosed is returned only on a hard transport failure.
	Recv(p []byte) (int, error)

	// Peek returns up to n bytes without consuming them. The returned
	// slice is only valid until the next channel operation.
	Peek(n int) ([]byte, error)

	// Unrecv pushes data back onto the channel so the next Recv or Peek
	// sees it first.
	Unrecv(p []byte)

	// RecvUntil reads until the received data ends with needle, one byte
	// at a time so it never overshoots. The needle is not stripped. If
	// the deadline elapses first it returns a *TimeoutError carrying the
	// partial data. A timeout of zero means DefaultRecvTimeout.
	RecvUntil(needle []byte, timeout time.Duration) ([]byte, error)

	// Drain discards incoming bytes until none arrive within a short
	// idle window. With waitForSome it first blocks until at least one
	// byte arrives. It reports whether the channel reached EOF.
	Drain(waitForSome bool) (bool, error)

	// Connected reports whether the data stream is established.
	Connected() bool

	// Close tears down the channel. It is idempotent.
	Close() error
}

// Config carries the construction parameters shared by all channel
// protocols. Individual protocols use the subset they need.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Identity string // path to an SSH private key
	CertFile string // PEM certificate for TLS server mode
	KeyFile  string // PEM key for TLS server mode
	Logger   *zap.SugaredLogger
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}

// Constructor builds a channel for one protocol. Dialing protocols perform
// the dial here; listening protocols only set up the listener.
type Constructor func(ctx context.Context, cfg Config) (Channel, error)

var protocols = map[string]Constructor{}

// Register associates a protocol name with a channel constructor.
func Register(name string, fn Constructor) {
	protocols[name] = fn
}

// New constructs a channel for the named protocol. If protocol is empty it
// is inferred from the config: a user implies ssh, a missing or wildcard
// host implies bind, anything else implies connect.
func New(ctx context.Context, protocol string, cfg Config) (Channel, error) {
	if protocol == "" {
		switch {
		case cfg.User != "":
			protocol = "ssh"
		case cfg.Host == "" || cfg.Host == "0.0.0.0":
			protocol = "bind"
		default:
			protocol = "connect"
		}
	}

	fn, ok := protocols[protocol]
	if !ok {
		return nil, fmt.Errorf("unknown channel protocol %q", protocol)
	}
	return fn(ctx, cfg)
}
