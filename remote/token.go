// Package remote runs commands on the far side of an established channel by
// driving the peer's interactive shell. Each command is wrapped in a script
// that prints random delimiters around its output, so stdout and the exit
// code can be carved out of the shared terminal stream.
package remote

import (
	"math/rand"
	"time"
)

const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var tokenRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// randomToken returns n random alphanumeric characters. Tokens delimit
// command output on the remote terminal, so they only need to be unlikely to
// appear in real output, not unguessable.
func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenChars[tokenRand.Intn(len(tokenChars))]
	}
	return string(b)
}
