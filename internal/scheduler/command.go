package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// heredocMarker terminates the job script in the printable form of a Command.
const heredocMarker = "EOF"

// Command is a fully rendered external command.
type Command struct {
	Name  string
	Args  []string
	Stdin string // job script; empty when nothing is piped
}

// Argv returns the name followed by the arguments.
func (c *Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command as it could be typed in a shell. A command with
// stdin is shown with a quoted here-document, which passes the script
// unexpanded just like the Runner does.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, a := range c.Argv() {
		parts = append(parts, displayQuote(a))
	}
	line := strings.Join(parts, " ")
	if c.Stdin == "" {
		return line
	}
	body := c.Stdin
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return fmt.Sprintf("%s <<'%s'\n%s%s", line, heredocMarker, body, heredocMarker)
}

// Result is the outcome of running a Command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports a zero exit code.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

func (r *Result) asError() error {
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Errorf("exit status %d: %s", r.ExitCode, msg)
}

// Runner executes commands. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd *Command) (*Result, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run executes cmd and captures its output. A non-zero exit is reported in
// the Result, not as an error; errors are reserved for commands that could
// not be started.
func (ExecRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	err := c.Run()
	res := &Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}
