package channel

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns a connected loopback socket channel and the raw peer
// connection driving the other side.
func tcpPair(t *testing.T) (*Socket, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	peer, err := ln.Accept()
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		peer.Close()
	})
	return NewSocket(conn, nil), peer
}

func recvN(t *testing.T, ch Channel, n int) []byte {
	t.Helper()

	data := make([]byte, 0, n)
	buf := make([]byte, n)
	require.Eventually(t, func() bool {
		m, err := ch.Recv(buf[:n-len(data)])
		if err != nil {
			return false
		}
		data = append(data, buf[:m]...)
		return len(data) == n
	}, 5*time.Second, 10*time.Millisecond)
	return data
}

func TestSocketSendRecv(t *testing.T) {
	ch, peer := tcpPair(t)

	n, err := ch.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	buf := make([]byte, 4)
	_, err = peer.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), buf)

	_, err = peer.Write([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), recvN(t, ch, 4))
}

func TestSocketRecvWithoutDataReturnsNothing(t *testing.T) {
	ch, _ := tcpPair(t)

	n, err := ch.Recv(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSocketPeekDoesNotConsume(t *testing.T) {
	ch, peer := tcpPair(t)

	_, err := peer.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := ch.Peek(3)
		return err == nil && string(data) == "hel"
	}, 5*time.Second, 10*time.Millisecond)

	// A second peek sees the same bytes, and Recv still gets everything.
	data, err := ch.Peek(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("hel"), data)
	assert.Equal(t, []byte("hello"), recvN(t, ch, 5))
}

func TestSocketUnrecvOrdering(t *testing.T) {
	ch, _ := tcpPair(t)

	ch.Unrecv([]byte("456"))
	ch.Unrecv([]byte("123"))
	assert.Equal(t, []byte("123456"), recvN(t, ch, 6))
}

func TestSocketRecvUntilStopsAtNeedle(t *testing.T) {
	ch, peer := tcpPair(t)

	_, err := peer.Write([]byte("hello\nworld"))
	require.NoError(t, err)

	data, err := ch.RecvUntil([]byte("\n"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), data)

	// Nothing past the needle was consumed.
	assert.Equal(t, []byte("world"), recvN(t, ch, 5))
}

func TestSocketRecvUntilTimeout(t *testing.T) {
	ch, peer := tcpPair(t)

	_, err := peer.Write([]byte("partial"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = ch.RecvUntil([]byte("\n"), 200*time.Millisecond)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Timeout())
	assert.Equal(t, []byte("partial"), timeoutErr.Partial)
}

func TestSocketPeerCloseSurfacesErrClosed(t *testing.T) {
	ch, peer := tcpPair(t)

	_, err := peer.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, peer.Close())

	// Buffered data is still delivered before the failure shows up.
	assert.Equal(t, []byte("bye"), recvN(t, ch, 3))

	require.Eventually(t, func() bool {
		_, err := ch.Recv(make([]byte, 16))
		return errors.Is(err, ErrClosed)
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, ch.Connected())
	_, err = ch.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocketSendAfterClose(t *testing.T) {
	ch, _ := tcpPair(t)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err := ch.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ch.Recv(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSocketDrain(t *testing.T) {
	ch, peer := tcpPair(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		peer.Write([]byte("noise noise noise"))
	}()

	eof, err := ch.Drain(true)
	require.NoError(t, err)
	assert.False(t, eof)

	// Everything was discarded.
	n, err := ch.Recv(make([]byte, 64))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSocketDrainReportsEOF(t *testing.T) {
	ch, peer := tcpPair(t)

	go func() {
		peer.Write([]byte("last words"))
		peer.Close()
	}()

	eof, err := ch.Drain(true)
	require.NoError(t, err)
	assert.True(t, eof)
}
