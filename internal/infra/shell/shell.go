// Package shell runs external tools and keeps the end of what they print,
// which is usually where the reason for a failure is.
package shell

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// DefaultTail is how much output a Command keeps for diagnostics.
const DefaultTail = 4 << 10

// TailBuffer is an io.Writer that only retains the last Limit bytes
// written to it. It is safe for concurrent writers, so stdout and stderr can
// share one.
type TailBuffer struct {
	Limit int

	mu  sync.Mutex
	buf []byte
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	limit := t.Limit
	if limit <= 0 {
		limit = DefaultTail
	}
	n := len(p)
	if n >= limit {
		t.buf = append(t.buf[:0], p[n-limit:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return n, nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// Command is an exec.Cmd whose stderr is captured into a TailBuffer. It is
// bound to a context: cancelling it kills the process.
type Command struct {
	*exec.Cmd
	Tail *TailBuffer
}

func NewCommand(ctx context.Context, name string, args ...string) *Command {
	cmd := exec.CommandContext(ctx, name, args...)
	out := &TailBuffer{Limit: DefaultTail}
	cmd.Stderr = out
	return &Command{Cmd: cmd, Tail: out}
}

// CombineOutput also routes stdout into the tail buffer. Call it before Run
// for tools that report progress and errors on stdout.
func (c *Command) CombineOutput() *Command {
	c.Stdout = c.Tail
	return c
}

// Resolve looks a tool up on PATH, or checks an explicit path.
func Resolve(name string) (string, error) {
	return exec.LookPath(name)
}
