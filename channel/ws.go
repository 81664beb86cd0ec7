package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
)

func init() {
	Register("ws-connect", NewWSConnect)
	Register("ws-bind", NewWSBind)
}

// wsReadLimit bounds a single incoming WebSocket message.
const wsReadLimit = 32768

// NewWSConnect dials ws://host:port/shell and exposes the WebSocket as a
// byte-stream channel. Useful when the only way out of a network is an
// HTTP-shaped hole.
func NewWSConnect(ctx context.Context, cfg Config) (Channel, error) {
	if cfg.Host == "" {
		return nil, errors.New("no host address provided")
	}
	if cfg.Port == 0 {
		return nil, errors.New("no port provided")
	}

	log := cfg.logger()
	u := fmt.Sprintf("ws://%s/shell", cfg.addr())
	log.Debugw("dialing websocket", "URL", u)

	wsConn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing websocket %s: %w", u, err)
	}
	wsConn.SetReadLimit(wsReadLimit)

	conn := websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary)
	log.Infof("websocket connection to %s established", cfg.addr())

	p := newPumped(log.Named("ws"))
	p.startPump(conn, conn, conn.Close)
	return p, nil
}

// WSBind serves a single WebSocket upgrade on GET /shell and treats the
// resulting connection as the inbound byte stream.
type WSBind struct {
	*pumped

	server *http.Server
	ln     net.Listener
	conns  chan net.Conn
}

// NewWSBind starts an HTTP listener on host:port (host defaults to all
// interfaces). Connect blocks until a peer completes the upgrade.
func NewWSBind(ctx context.Context, cfg Config) (Channel, error) {
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
	b := &WSBind{
		pumped: newPumped(log.Named("ws")),
		ln:     ln,
		conns:  make(chan net.Conn, 1),
	}

	router := httprouter.New()
	router.GET("/shell", b.handleShell)
	b.server = &http.Server{Handler: router}
	go b.server.Serve(ln)

	log.Infof("websocket listener bound to %s", addr)
	return b, nil
}

func (b *WSBind) handleShell(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		b.log.Debugf("websocket accept error: %s", err)
		return
	}
	wsConn.SetReadLimit(wsReadLimit)

	conn := websocket.NetConn(context.Background(), wsConn, websocket.MessageBinary)
	select {
	case b.conns <- conn:
	default:
		// Already have a session on this listener.
		conn.Close()
	}
}

// Connect waits for a peer to complete the WebSocket upgrade, then stops
// accepting further upgrades.
func (b *WSBind) Connect(ctx context.Context) error {
	if b.Connected() {
		return nil
	}

	select {
	case <-ctx.Done():
		b.server.Close()
		return fmt.Errorf("listener aborted: %w", ctx.Err())

	case conn := <-b.conns:
		// The upgrade hijacked the connection, so shutting the server
		// down does not disturb it.
		b.server.Close()
		b.startPump(conn, conn, conn.Close)
		b.log.Debugw("websocket session attached", "RemoteAddr", conn.RemoteAddr().String())
		return nil
	}
}

// Close tears down the listener and any established session.
func (b *WSBind) Close() error {
	b.server.Close()
	return b.pumped.Close()
}
