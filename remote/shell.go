package remote

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calebstewart/shellcat/channel"
)

const tokenLen = 10

// terminalSetup puts the remote terminal into a state the delimiter protocol
// can tolerate: no local echo of what we send, no CR/NL output translation,
// literal-next so control bytes pass through, and an empty prompt. Without
// this a pty-backed channel echoes every submitted script and terminates
// lines with \r\n, and the \n-bounded markers never match.
const terminalSetup = " stty -echo nl lnext ^V ; export PS1=\n"

// Shell drives the interactive shell on the far side of a channel. The
// terminal is a single shared stream, so only one spawned process can be
// tracked at a time.
type Shell struct {
	log *zap.SugaredLogger
	ch  channel.Channel

	running  *Proc
	prepared bool

	// newToken is swappable so tests can pin the delimiters.
	newToken func(n int) string
}

type Option func(*Shell)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Shell) { s.log = log }
}

// NewShell wraps an established channel. The channel must already be
// connected and sitting at an interactive shell prompt.
func NewShell(ch channel.Channel, opts ...Option) *Shell {
	s := &Shell{
		log:      zap.NewNop().Sugar(),
		ch:       ch,
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes one completed remote command.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int
	Stdout    []byte
}

// Spawn starts a command on the remote host and returns a handle on it. Only
// one process may run at a time; the handle must reach completion (or be
// killed or detached) before the next Spawn.
func (s *Shell) Spawn(req SpawnRequest) (*Proc, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("no command provided")
	}
	if s.running != nil {
		return nil, fmt.Errorf("process %v is still running on this shell", s.running.args)
	}

	if !s.prepared {
		s.log.Debugf("normalizing remote terminal")
		if _, err := s.ch.Send([]byte(terminalSetup)); err != nil {
			return nil, fmt.Errorf("preparing terminal: %w", err)
		}
		// Discard the echo of the setup line itself, produced before
		// the mode change took effect.
		if _, err := s.ch.Drain(false); err != nil {
			return nil, fmt.Errorf("draining terminal setup: %w", err)
		}
		s.prepared = true
	}

	startDelim := s.newToken(tokenLen)
	endDelim := s.newToken(tokenLen)
	codeDelim := s.newToken(tokenLen)
	payload := buildScript(req, startDelim, endDelim, codeDelim)

	s.log.Debugw("spawning remote process",
		"Args", req.Args,
		"StartDelim", startDelim,
		"EndDelim", endDelim,
		"CodeDelim", codeDelim,
	)
	if _, err := s.ch.Send([]byte(payload.String())); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}

	// The delimiters are echoed on their own lines, so including the
	// newline in the markers skips past the terminal echo of the script
	// itself.
	stdout, err := channel.NewFileReader(s.ch,
		[]byte(startDelim+"\n"), []byte(endDelim+"\n"))
	if err != nil {
		return nil, fmt.Errorf("synchronizing with remote process: %w", err)
	}
	stdout.SetBlocking(false)

	proc := &Proc{
		Stdout:    stdout,
		log:       s.log,
		ch:        s.ch,
		args:      req.Args,
		codeDelim: []byte(codeDelim),
	}
	if req.Stdin == Pipe {
		proc.Stdin = channel.NewFileWriter(s.ch, nil)
	}

	s.running = proc
	proc.onExit = func() { s.running = nil }
	return proc, nil
}

// Run executes args to completion and collects its output. A zero timeout
// waits forever.
func (s *Shell) Run(args []string, timeout time.Duration) (*Result, error) {
	started := time.Now()

	proc, err := s.Spawn(SpawnRequest{Args: args, Stdout: Pipe})
	if err != nil {
		return nil, err
	}

	stdout, _, err := proc.Communicate(nil, timeout)
	if err != nil {
		return nil, err
	}

	return &Result{
		StartTime: started,
		EndTime:   time.Now(),
		ExitCode:  proc.exitCode,
		Stdout:    stdout,
	}, nil
}
