package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

func init() {
	Register("tls-bind", NewTLSBind)
}

// NewTLSBind listens like a plain bind channel and performs a server-side
// TLS handshake on the accepted connection before any data flows. When no
// certificate is configured a throwaway self-signed one is generated.
func NewTLSBind(ctx context.Context, cfg Config) (Channel, error) {
	ch, err := NewBind(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bind := ch.(*Bind)

	var cert tls.Certificate
	if cfg.CertFile != "" {
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			bind.Close()
			return nil, fmt.Errorf("loading certificate: %w", err)
		}
	} else {
		cert, err = SelfSignedCert()
		if err != nil {
			bind.Close()
			return nil, fmt.Errorf("generating certificate: %w", err)
		}
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	bind.wrap = func(ctx context.Context, conn net.Conn) (net.Conn, error) {
		tlsConn := tls.Server(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return tlsConn, nil
	}
	return bind, nil
}
