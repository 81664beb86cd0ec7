package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

func init() {
	Register("tls-connect", NewTLSConnect)
}

// NewTLSConnect dials host:port and wraps the connection in a TLS client
// session before any data flows. The peer certificate is not verified: the
// listener on the other end is operator-controlled and usually presents a
// throwaway self-signed certificate.
func NewTLSConnect(ctx context.Context, cfg Config) (Channel, error) {
	if cfg.Host == "" {
		return nil, errors.New("no host address provided")
	}
	if cfg.Port == 0 {
		return nil, errors.New("no port provided")
	}

	log := cfg.logger()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.addr(), err)
	}

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", cfg.addr(), err)
	}
	log.Infof("tls connection to %s established", cfg.addr())

	return NewSocket(tlsConn, log), nil
}
