package remote

import (
	"fmt"
	"sort"
	"strings"
)

// quote wraps s in single quotes so the remote shell treats it as a single
// literal word. Embedded single quotes are closed, escaped and reopened.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func joinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quote(a)
	}
	return strings.Join(quoted, " ")
}

// script is the full terminal payload for one remote command. The command is
// bracketed by echoed delimiters so its output and exit status can be picked
// out of the terminal stream, with job control suspended so backgrounding it
// does not print job notifications.
type script struct {
	startDelim string
	endDelim   string
	codeDelim  string
	command    string

	// background detaches the command from the shell's stdin so the
	// terminal stays usable while it runs.
	background bool
}

func (s script) String() string {
	sep := "; "
	if s.background {
		sep = " & "
	}
	return fmt.Sprintf(
		"export PS1=; set +m; { echo; echo %s; %s; R=$?; echo %s; echo $R; echo %s; }%sset -m\n",
		s.startDelim, s.command, s.endDelim, s.codeDelim, sep,
	)
}

// buildScript assembles the remote command line for req: environment
// assignments, optional working directory, the argument vector (or a /bin/sh
// wrapper when requested) and the stream redirections.
func buildScript(req SpawnRequest, startDelim, endDelim, codeDelim string) script {
	var cmd string
	if req.Shell {
		cmd = fmt.Sprintf("/bin/sh -c %s", quote(strings.Join(req.Args, " ")))
	} else {
		cmd = joinArgs(req.Args)
	}

	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var assigns strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&assigns, "%s=%s ", k, quote(req.Env[k]))
		}
		cmd = assigns.String() + cmd
	}

	if req.Dir != "" {
		cmd = fmt.Sprintf("(cd %s && %s)", quote(req.Dir), cmd)
	}

	switch req.Stdout {
	case Discard:
		cmd += " 1>/dev/null"
	case File:
		cmd += " 1>" + quote(req.StdoutFile)
	}

	switch req.Stderr {
	case Discard:
		cmd += " 2>/dev/null"
	case File:
		cmd += " 2>" + quote(req.StderrFile)
	case Pipe:
		// No dedicated stderr frame exists, fold it into stdout.
		cmd += " 2>&1"
	}

	switch req.Stdin {
	case File:
		cmd += " 0<" + quote(req.StdinFile)
	case Pipe:
		// The command reads the terminal directly.
	default:
		cmd += " 0</dev/null"
	}

	return script{
		startDelim: startDelim,
		endDelim:   endDelim,
		codeDelim:  codeDelim,
		command:    cmd,
		background: req.Stdin != Pipe,
	}
}
