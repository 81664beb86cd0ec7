package remote

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/calebstewart/shellcat/channel"
)

// FD selects where one of a remote command's standard streams goes. The zero
// value discards the stream (stdin reads end-of-file immediately).
type FD int

const (
	// Discard routes the stream to /dev/null.
	Discard FD = iota
	// Pipe exposes the stream to the caller: stdout is captured in the
	// output frame, stdin becomes writable through Proc.Stdin, stderr is
	// folded into stdout.
	Pipe
	// File redirects the stream to the corresponding *File path on the
	// remote host.
	File
)

// SpawnRequest describes a command to start on the remote host.
type SpawnRequest struct {
	Args []string
	// Shell runs the space-joined Args through /bin/sh -c instead of
	// executing them as an argument vector.
	Shell bool
	Dir   string
	Env   map[string]string

	Stdin  FD
	Stdout FD
	Stderr FD

	StdinFile  string
	StdoutFile string
	StderrFile string
}

// ExitTimeoutError reports that a remote process did not exit within the
// caller's deadline. Output holds whatever stdout had produced by then.
type ExitTimeoutError struct {
	Args   []string
	After  time.Duration
	Output []byte
}

func (e *ExitTimeoutError) Error() string {
	return fmt.Sprintf("process %v did not exit within %s", e.Args, e.After)
}

func (e *ExitTimeoutError) Timeout() bool { return true }

// pollWindow caps how much pending stdout a non-forced poll buffers while
// checking for completion.
const pollWindow = 65536

// Proc is a handle on a running remote command. Stdout reads the command's
// output frame; Stdin is non-nil only when the request piped stdin.
type Proc struct {
	Stdout *channel.File
	Stdin  *channel.File

	log  *zap.SugaredLogger
	ch   channel.Channel
	args []string

	codeDelim []byte
	exitCode  int
	done      bool
	onExit    func()
}

// Poll checks without blocking whether the process has exited, buffering a
// bounded amount of not-yet-read stdout while it looks. It returns the exit
// code and whether the process is done.
func (p *Proc) Poll() (int, bool, error) {
	if err := p.poll(false); err != nil {
		return 0, false, err
	}
	return p.exitCode, p.done, nil
}

// Wait blocks until the process exits or timeout elapses (zero means wait
// forever). Stdout produced in the meantime is buffered, never dropped, so
// it can still be read afterwards. On timeout the process keeps running and
// Wait can be called again.
func (p *Proc) Wait(timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := p.poll(true); err != nil {
			return 0, err
		}
		if p.done {
			return p.exitCode, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, &ExitTimeoutError{
				Args:   p.args,
				After:  timeout,
				Output: p.Stdout.Buffered(),
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Communicate optionally writes input to the process, then collects stdout
// until the process exits. The second return is always nil since stderr has
// no dedicated frame. On timeout the partial output rides on the error.
func (p *Proc) Communicate(input []byte, timeout time.Duration) ([]byte, []byte, error) {
	if len(input) > 0 {
		if p.Stdin == nil {
			return nil, nil, fmt.Errorf("process %v has no stdin pipe", p.args)
		}
		if _, err := p.Stdin.Write(input); err != nil {
			return nil, nil, fmt.Errorf("writing process stdin: %w", err)
		}
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := p.Stdout.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return out.Bytes(), nil, err
		}
		if n == 0 {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return out.Bytes(), nil, &ExitTimeoutError{
					Args:   p.args,
					After:  timeout,
					Output: out.Bytes(),
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	if err := p.poll(true); err != nil {
		return out.Bytes(), nil, err
	}
	return out.Bytes(), nil, nil
}

// poll advances the stdout frame looking for the end of the process. When
// force is set it buffers however much output it takes to reach the end;
// otherwise buffering stops at pollWindow and the process is reported as
// still running.
func (p *Proc) poll(force bool) error {
	if p.done {
		return nil
	}

	max := pollWindow
	if force {
		max = math.MaxInt
	}
	if err := p.Stdout.Fill(max); err != nil {
		return fmt.Errorf("reading process output: %w", err)
	}
	if !p.Stdout.AtEOF() {
		return nil
	}

	p.finish(p.receiveExitCode())
	return nil
}

// receiveExitCode reads the status line printed between the end and code
// delimiters. A missing or garbled status is treated as success since the
// delimiters themselves prove the command finished.
func (p *Proc) receiveExitCode() int {
	data, err := p.ch.RecvUntil(p.codeDelim, 0)
	if err != nil {
		p.log.Warnf("exit status for %v never arrived, assuming 0: %s", p.args, err)
		return 0
	}

	// Eat the newline trailing the delimiter so it does not leak into the
	// next command's frame.
	if _, err := p.ch.RecvUntil([]byte("\n"), time.Second); err != nil {
		p.log.Debugf("discarding delimiter newline: %s", err)
	}

	raw := string(bytes.TrimSpace(bytes.TrimSuffix(data, p.codeDelim)))
	code, err := strconv.Atoi(raw)
	if err != nil {
		p.log.Warnf("malformed exit status %q for %v, assuming 0", raw, p.args)
		return 0
	}
	return code
}

func (p *Proc) finish(code int) {
	if p.done {
		return
	}
	p.exitCode = code
	p.done = true
	if p.onExit != nil {
		p.onExit()
	}
}

// SendSignal delivers a signal to the foreground process by writing the
// matching terminal control character.
func (p *Proc) SendSignal(sig syscall.Signal) error {
	var ctrl byte
	switch sig {
	case syscall.SIGINT:
		ctrl = 0x03
	case syscall.SIGQUIT:
		ctrl = 0x1c
	case syscall.SIGTSTP:
		ctrl = 0x1a
	default:
		return fmt.Errorf("no terminal control character for signal %s", sig)
	}

	_, err := p.ch.Send([]byte{ctrl})
	return err
}

// Kill interrupts the process twice and abandons it. The exit code is
// reported as -1 since the real status never reaches us.
func (p *Proc) Kill() error {
	if p.done {
		return nil
	}
	if _, err := p.ch.Send([]byte{0x03, 0x03}); err != nil {
		return err
	}
	p.finish(-1)
	return nil
}

// Terminate sends the process a quit request twice and abandons it.
func (p *Proc) Terminate() error {
	if p.done {
		return nil
	}
	if _, err := p.ch.Send([]byte{0x1c, 0x1c}); err != nil {
		return err
	}
	p.finish(-1)
	return nil
}

// Detach releases the handle without waiting for or disturbing the remote
// process. Its remaining output stays on the channel for the caller to deal
// with.
func (p *Proc) Detach() {
	p.finish(-1)
}
