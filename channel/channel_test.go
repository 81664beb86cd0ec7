package channel

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebstewart/shellcat/internal/netutil"
)

func TestNewUnknownProtocol(t *testing.T) {
	_, err := New(context.Background(), "carrier-pigeon", Config{})
	assert.ErrorContains(t, err, "unknown channel protocol")
}

func TestNewInfersProtocol(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"user implies ssh", Config{User: "root", Host: "target"}, "ssh"},
		{"no host implies bind", Config{Port: 4444}, "bind"},
		{"wildcard host implies bind", Config{Host: "0.0.0.0", Port: 4444}, "bind"},
		{"host implies connect", Config{Host: "target", Port: 4444}, "connect"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			saved := map[string]Constructor{}
			var chosen string
			for _, name := range []string{"ssh", "bind", "connect"} {
				name := name
				saved[name] = protocols[name]
				protocols[name] = func(ctx context.Context, cfg Config) (Channel, error) {
					chosen = name
					return nil, nil
				}
			}
			defer func() {
				for name, fn := range saved {
					protocols[name] = fn
				}
			}()

			_, err := New(context.Background(), "", tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, chosen)
		})
	}
}

func TestConnectValidation(t *testing.T) {
	_, err := NewConnect(context.Background(), Config{Port: 4444})
	assert.Error(t, err)
	_, err = NewConnect(context.Background(), Config{Host: "127.0.0.1"})
	assert.Error(t, err)
}

func TestBindAcceptsConnection(t *testing.T) {
	port, err := netutil.GetEphemeralTCPPort()
	require.NoError(t, err)

	ch, err := NewBind(context.Background(), Config{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer ch.Close()
	assert.False(t, ch.Connected())

	errs := make(chan error, 1)
	go func() {
		errs <- ch.Connect(context.Background())
	}()

	var peer net.Conn
	require.Eventually(t, func() bool {
		var err error
		peer, err = net.DialTimeout("tcp", ch.(*Bind).ln.Addr().String(), time.Second)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	defer peer.Close()

	require.NoError(t, <-errs)
	assert.True(t, ch.Connected())

	_, err = peer.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), recvN(t, ch, 2))
}

func TestBindConnectHonorsContext(t *testing.T) {
	port, err := netutil.GetEphemeralTCPPort()
	require.NoError(t, err)

	ch, err := NewBind(context.Background(), Config{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = ch.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ch.Connected())
}

func TestConnectToBindLoopback(t *testing.T) {
	port, err := netutil.GetEphemeralTCPPort()
	require.NoError(t, err)

	bind, err := New(context.Background(), "bind", Config{Host: "127.0.0.1", Port: port})
	require.NoError(t, err)
	defer bind.Close()

	type dialed struct {
		ch  Channel
		err error
	}
	dials := make(chan dialed, 1)
	go func() {
		var d dialed
		// The listener exists already, but give the accept loop a head
		// start anyway.
		for i := 0; i < 50; i++ {
			d.ch, d.err = New(context.Background(), "connect",
				Config{Host: "127.0.0.1", Port: port})
			if d.err == nil {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
		dials <- d
	}()

	require.NoError(t, bind.Connect(context.Background()))
	d := <-dials
	require.NoError(t, d.err)
	defer d.ch.Close()

	_, err = d.ch.Send([]byte("marco"))
	require.NoError(t, err)
	data, err := bind.RecvUntil([]byte("marco"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("marco"), data)

	_, err = bind.Send([]byte("polo"))
	require.NoError(t, err)
	data, err = d.ch.RecvUntil([]byte("polo"), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("polo"), data)
}
