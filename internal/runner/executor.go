package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/signalnine/ratchet/internal/result"
)

// DefaultMaxOutputBytes caps how much stdout a program may produce before
// the rest is dropped.
const DefaultMaxOutputBytes = 1 << 20

// Executor runs one harness program in isolation. It never returns an
// error: every failure is folded into a sentinel Result.
type Executor interface {
	Execute(ctx context.Context, program, label string) result.Result
}

// writeProgram stores program text in dir and returns the file path. The
// caller removes it.
func writeProgram(dir, program string) (string, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating program dir: %w", err)
		}
	}
	f, err := os.CreateTemp(dir, "ratchet-eval-*.star")
	if err != nil {
		return "", fmt.Errorf("creating program file: %w", err)
	}
	if _, err := f.WriteString(program); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing program file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing program file: %w", err)
	}
	return f.Name(), nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest
// while still reporting success to the writer.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string { return c.buf.String() }
