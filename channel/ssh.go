package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

func init() {
	Register("ssh", NewSSH)
}

// promptSecret interactively requests a credential from the operator. It is
// a variable so tests can stub it out.
var promptSecret = func(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SSH rides over an interactive shell started in a pty on an SSH session.
// Transport negotiation and authentication are delegated to the SSH library;
// look-ahead falls back to the generic buffer since the session does not
// expose a native peek.
type SSH struct {
	*pumped

	client  *ssh.Client
	session *ssh.Session
}

// NewSSH dials host:port (port defaults to 22), authenticates with an
// identity file or password, then requests a pty and starts a shell. The
// host key is deliberately not verified; the operator controls the link.
func NewSSH(ctx context.Context, cfg Config) (Channel, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh: you must specify a user")
	}
	if cfg.Host == "" {
		return nil, errors.New("ssh: no host address provided")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}

	auth, err := sshAuthMethod(cfg)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("ssh: connecting to %s: %w", cfg.addr(), err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.addr(), clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh: negotiation with %s failed: %w", cfg.addr(), err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh: opening session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 24, 80, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: requesting pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: opening stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: opening stdout: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: starting shell: %w", err)
	}

	log := cfg.logger()
	log.Infof("ssh shell established on %s", cfg.addr())

	s := &SSH{pumped: newPumped(log.Named("ssh")), client: client, session: session}
	s.startPump(stdout, stdin, func() error {
		session.Close()
		return client.Close()
	})
	return s, nil
}

func sshAuthMethod(cfg Config) (ssh.AuthMethod, error) {
	if cfg.Identity != "" {
		key, err := os.ReadFile(cfg.Identity)
		if err != nil {
			return nil, fmt.Errorf("ssh: reading identity file: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err == nil {
			return ssh.PublicKeys(signer), nil
		}

		var passErr *ssh.PassphraseMissingError
		if !errors.As(err, &passErr) {
			return nil, fmt.Errorf("ssh: parsing identity file: %w", err)
		}

		passphrase, err := promptSecret("Private key passphrase: ")
		if err != nil {
			return nil, fmt.Errorf("ssh: reading passphrase: %w", err)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("ssh: invalid private key or passphrase: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}

	password := cfg.Password
	if password == "" {
		var err error
		password, err = promptSecret("Password: ")
		if err != nil {
			return nil, fmt.Errorf("ssh: reading password: %w", err)
		}
	}
	return ssh.Password(password), nil
}
