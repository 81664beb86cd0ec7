package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
)

func init() {
	Register("connect", NewConnect)
}

// NewConnect dials host:port and assumes a shell is attached to the
// resulting stream. The target received a bind-shell payload and is
// listening for us. Dial failures (refused, unreachable, bad name) surface
// immediately.
func NewConnect(ctx context.Context, cfg Config) (Channel, error) {
	if cfg.Host == "" {
		return nil, errors.New("no host address provided")
	}
	if cfg.Port == 0 {
		return nil, errors.New("no port provided")
	}

	log := cfg.logger()
	log.Debugf("connecting to %s", cfg.addr())

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.addr(), err)
	}
	log.Infof("connection to %s established", cfg.addr())

	return NewSocket(conn, log), nil
}
