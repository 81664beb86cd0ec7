package channel

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// pumped adapts transports that only expose blocking reads (an SSH session,
// a WebSocket net.Conn) to the non-blocking Recv contract. A background
// goroutine copies incoming bytes into an internal buffer which the raw read
// path drains without blocking.
type pumped struct {
	lookahead

	log *zap.SugaredLogger

	mu        sync.Mutex
	buf       []byte
	readErr   error
	connected bool

	w         io.Writer
	closeFn   func() error
	closeOnce sync.Once
}

func newPumped(log *zap.SugaredLogger) *pumped {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &pumped{log: log}
	p.lookahead.read = p.rawRead
	return p
}

// startPump marks the channel connected and begins draining r in the
// background. closeFn tears the underlying transport down.
func (p *pumped) startPump(r io.Reader, w io.Writer, closeFn func() error) {
	p.mu.Lock()
	p.connected = true
	p.w = w
	p.closeFn = closeFn
	p.mu.Unlock()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			p.mu.Lock()
			if n > 0 {
				p.buf = append(p.buf, buf[:n]...)
			}
			if err != nil {
				p.readErr = err
				p.mu.Unlock()
				p.log.Debugf("pump finished: %s", err)
				return
			}
			p.mu.Unlock()
		}
	}()
}

func (p *pumped) rawRead(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	if !p.connected || p.readErr != nil {
		return 0, ErrClosed
	}
	return 0, nil
}

func (p *pumped) Connect(ctx context.Context) error {
	if p.Connected() {
		return nil
	}
	return ErrClosed
}

func (p *pumped) Send(b []byte) (int, error) {
	p.mu.Lock()
	connected, w := p.connected, p.w
	p.mu.Unlock()
	if !connected {
		return 0, ErrClosed
	}

	written := 0
	for written < len(b) {
		n, err := w.Write(b[written:])
		written += n
		if err != nil {
			p.log.Debugf("send failed after %d bytes: %s", written, err)
			p.markClosed()
			return written, ErrClosed
		}
	}
	return written, nil
}

func (p *pumped) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *pumped) markClosed() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *pumped) Close() error {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	closeFn := p.closeFn
	p.mu.Unlock()

	if !wasConnected || closeFn == nil {
		return nil
	}
	var err error
	p.closeOnce.Do(func() { err = closeFn() })
	return err
}
