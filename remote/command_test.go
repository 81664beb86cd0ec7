package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"simple", "'simple'"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"$HOME `id` \"x\"", "'$HOME `id` \"x\"'"},
		{"", "''"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, quote(tc.in))
	}
}

func TestBuildScriptBackground(t *testing.T) {
	got := buildScript(SpawnRequest{
		Args:   []string{"echo", "hello"},
		Stdout: Pipe,
	}, "SSS", "EEE", "CCC")

	want := "export PS1=; set +m; " +
		"{ echo; echo SSS; 'echo' 'hello' 2>/dev/null 0</dev/null; R=$?; echo EEE; echo $R; echo CCC; }" +
		" & set -m\n"
	assert.Equal(t, want, got.String())
}

func TestBuildScriptPipedStdinRunsForeground(t *testing.T) {
	got := buildScript(SpawnRequest{
		Args:   []string{"cat"},
		Stdin:  Pipe,
		Stdout: Pipe,
	}, "SSS", "EEE", "CCC")

	want := "export PS1=; set +m; " +
		"{ echo; echo SSS; 'cat' 2>/dev/null; R=$?; echo EEE; echo $R; echo CCC; }" +
		"; set -m\n"
	assert.Equal(t, want, got.String())
}

func TestBuildScriptRedirects(t *testing.T) {
	got := buildScript(SpawnRequest{
		Args:       []string{"tool"},
		Stdout:     File,
		StdoutFile: "/tmp/out",
		Stderr:     File,
		StderrFile: "/tmp/err",
		Stdin:      File,
		StdinFile:  "/tmp/in",
	}, "S", "E", "C")

	assert.Equal(t, "'tool' 1>'/tmp/out' 2>'/tmp/err' 0<'/tmp/in'", got.command)

	// Only a piped stdin keeps the command in the foreground.
	assert.True(t, got.background)
}

func TestBuildScriptStderrPipeMergesIntoStdout(t *testing.T) {
	got := buildScript(SpawnRequest{
		Args:   []string{"tool"},
		Stdout: Pipe,
		Stderr: Pipe,
	}, "S", "E", "C")

	assert.Equal(t, "'tool' 2>&1 0</dev/null", got.command)
}

func TestBuildScriptEnvDirShell(t *testing.T) {
	got := buildScript(SpawnRequest{
		Args:  []string{"echo", "$GREETING"},
		Shell: true,
		Dir:   "/var/www",
		Env: map[string]string{
			"GREETING": "hi there",
			"COLOR":    "1",
		},
		Stdout: Pipe,
	}, "S", "E", "C")

	want := "(cd '/var/www' && COLOR='1' GREETING='hi there' " +
		"/bin/sh -c 'echo $GREETING') 2>/dev/null 0</dev/null"
	assert.Equal(t, want, got.command)
}

func TestRandomToken(t *testing.T) {
	a := randomToken(10)
	b := randomToken(10)
	assert.Len(t, a, 10)
	assert.Len(t, b, 10)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, "^[a-zA-Z0-9]+$", a)
}
