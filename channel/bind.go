package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

func init() {
	Register("bind", NewBind)
}

// Bind listens for a connection from the target. The target received a
// reverse-shell payload and dials us. The listening socket is created at
// construction; Connect performs the blocking accept.
type Bind struct {
	*Socket

	ln net.Listener

	// wrap, when set, decorates the accepted connection before any data
	// flows. TLS bind uses it for the server-side handshake.
	wrap func(ctx context.Context, conn net.Conn) (net.Conn, error)
}

// NewBind opens a listening socket on host:port. The host defaults to all
// interfaces.
func NewBind(ctx context.Context, cfg Config) (Channel, error) {
	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		return nil, errors.New("no port specified")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	log := cfg.logger()
	log.Infof("bound to %s", addr)

	return &Bind{Socket: NewSocket(nil, log), ln: ln}, nil
}

// Connect blocks until a peer connects or the context is canceled. The
// listening socket is closed afterward regardless of outcome.
func (b *Bind) Connect(ctx context.Context) error {
	if b.Connected() {
		return nil
	}
	defer b.ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := b.ln.Accept()
		accepted <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		b.ln.Close()
		go func() {
			if r := <-accepted; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("listener aborted: %w", ctx.Err())

	case r := <-accepted:
		if r.err != nil {
			return fmt.Errorf("accepting connection: %w", r.err)
		}

		conn := r.conn
		if b.wrap != nil {
			wrapped, err := b.wrap(ctx, conn)
			if err != nil {
				conn.Close()
				return err
			}
			conn = wrapped
		}
		b.attach(conn)
		return nil
	}
}

// Close shuts the listener down along with any accepted connection.
func (b *Bind) Close() error {
	b.ln.Close()
	return b.Socket.Close()
}
