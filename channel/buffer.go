package channel

import (
	"bytes"
	"errors"
	"time"
)

const (
	// pollInterval is the sleep between attempts when a blocking-style
	// operation is waiting on a non-blocking read.
	pollInterval = 10 * time.Millisecond

	// drainIdle is how long Drain waits for more data before deciding
	// the stream is quiet.
	drainIdle = 100 * time.Millisecond
)

// lookahead implements the buffered portion of the Channel contract on top
// of a raw non-blocking read. Concrete channels embed it and point read at
// their transport so Peek, Unrecv, RecvUntil and Drain behave identically
// everywhere. The peek buffer is owned here; implementations must not bypass
// it.
type lookahead struct {
	peekBuf []byte
	read    func(p []byte) (int, error)
}

// Recv serves buffered look-ahead bytes first, then whatever the transport
// has pending. (0, nil) means no data right now.
func (l *lookahead) Recv(p []byte) (int, error) {
	n := 0
	if len(l.peekBuf) > 0 {
		n = copy(p, l.peekBuf)
		l.peekBuf = l.peekBuf[n:]
		if n == len(p) {
			return n, nil
		}
	}

	m, err := l.read(p[n:])
	if err != nil && n+m > 0 {
		// Deliver what we have; the error resurfaces on the next call.
		return n + m, nil
	}
	return n + m, err
}

// Peek returns up to n bytes without consuming them.
func (l *lookahead) Peek(n int) ([]byte, error) {
	if missing := n - len(l.peekBuf); missing > 0 {
		buf := make([]byte, missing)
		m, err := l.read(buf)
		l.peekBuf = append(l.peekBuf, buf[:m]...)
		if err != nil && len(l.peekBuf) == 0 {
			return nil, err
		}
	}
	if n > len(l.peekBuf) {
		n = len(l.peekBuf)
	}
	return l.peekBuf[:n], nil
}

// Unrecv prepends data to the look-ahead buffer so the next Recv or Peek
// returns it first.
func (l *lookahead) Unrecv(p []byte) {
	if len(p) == 0 {
		return
	}
	buf := make([]byte, 0, len(p)+len(l.peekBuf))
	buf = append(buf, p...)
	buf = append(buf, l.peekBuf...)
	l.peekBuf = buf
}

// RecvUntil reads one byte at a time until the accumulated data ends with
// needle, so the needle is never overshot. On deadline it returns a
// *TimeoutError carrying the partial data.
func (l *lookahead) RecvUntil(needle []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultRecvTimeout
	}
	deadline := time.Now().Add(timeout)

	var data []byte
	one := make([]byte, 1)
	for !bytes.HasSuffix(data, needle) {
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Partial: data}
		}

		n, err := l.Recv(one)
		if err != nil {
			return data, err
		}
		if n == 0 {
			time.Sleep(pollInterval)
			continue
		}
		data = append(data, one[0])
	}
	return data, nil
}

// Drain discards incoming data until the stream is quiet for drainIdle. It
// reports whether the channel hit EOF while draining.
func (l *lookahead) Drain(waitForSome bool) (bool, error) {
	buf := make([]byte, 4096)

	if waitForSome {
		for {
			n, err := l.Recv(buf)
			if errors.Is(err, ErrClosed) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			if n > 0 {
				break
			}
			time.Sleep(pollInterval)
		}
	}

	idle := time.Now()
	for time.Since(idle) < drainIdle {
		n, err := l.Recv(buf)
		if errors.Is(err, ErrClosed) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if n > 0 {
			idle = time.Now()
			continue
		}
		time.Sleep(pollInterval)
	}
	return false, nil
}
