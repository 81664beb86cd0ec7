package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebstewart/shellcat/internal/netutil"
)

func TestSSHRequiresUserAndHost(t *testing.T) {
	_, err := NewSSH(context.Background(), Config{Host: "target"})
	assert.ErrorContains(t, err, "user")

	_, err = NewSSH(context.Background(), Config{User: "root"})
	assert.ErrorContains(t, err, "host")
}

func TestSSHMissingIdentityFile(t *testing.T) {
	_, err := NewSSH(context.Background(), Config{
		User:     "root",
		Host:     "127.0.0.1",
		Identity: "/does/not/exist_id_rsa",
	})
	assert.ErrorContains(t, err, "reading identity file")
}

func TestSSHDialFailure(t *testing.T) {
	// Grab a port that nothing is listening on.
	port, err := netutil.GetEphemeralTCPPort()
	require.NoError(t, err)

	// A password is set so the constructor never prompts.
	_, err = NewSSH(context.Background(), Config{
		User:     "root",
		Host:     "127.0.0.1",
		Port:     port,
		Password: "hunter2",
	})
	assert.ErrorContains(t, err, "connecting to")
}
