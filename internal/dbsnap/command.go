package dbsnap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mschirtzinger/dbsync/internal/logging"
)

// maxStderrBytes caps the diagnostic output kept from a tool run.
const maxStderrBytes = 64 * 1024

// Command runs external programs to dump and restore. The dump program
// writes SQL to stdout; the restore program reads SQL from stdin.
type Command struct {
	DumpArgs    []string
	RestoreArgs []string

	// Dir is the working directory for both programs.
	Dir string

	// Env is appended to the inherited environment, e.g. MYSQL_PWD=...
	Env []string

	// Timeout bounds each run. Zero means no bound.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewCommand validates the argument vectors and returns a Command.
func NewCommand(dumpArgs, restoreArgs []string, timeout time.Duration, logger *slog.Logger) (*Command, error) {
	if len(dumpArgs) == 0 {
		return nil, fmt.Errorf("dump command cannot be empty")
	}
	if len(restoreArgs) == 0 {
		return nil, fmt.Errorf("restore command cannot be empty")
	}
	return &Command{
		DumpArgs:    dumpArgs,
		RestoreArgs: restoreArgs,
		Timeout:     timeout,
		Logger:      logging.OrDiscard(logger),
	}, nil
}

// Name returns the dump program name.
func (c *Command) Name() string {
	return c.DumpArgs[0]
}

// Dump runs the dump program with stdout connected to w.
func (c *Command) Dump(ctx context.Context, w io.Writer) error {
	return c.run(ctx, "dump", c.DumpArgs, nil, w)
}

// Restore runs the restore program with stdin connected to r.
func (c *Command) Restore(ctx context.Context, r io.Reader) error {
	return c.run(ctx, "restore", c.RestoreArgs, r, nil)
}

func (c *Command) run(ctx context.Context, op string, argv []string, stdin io.Reader, stdout io.Writer) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = stdin
	if stdout == nil {
		stdout = io.Discard
	}
	cmd.Stdout = stdout

	stderr := &limitedOutputBuffer{maxBytes: maxStderrBytes}
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	diag := strings.TrimSpace(string(stderr.Bytes()))
	logger := logging.OrDiscard(c.Logger)

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s: %v", ErrToolUnavailable, argv[0], err)
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ToolError{Op: op, Tool: argv[0], ExitCode: code, Stderr: diag, Err: err}
	}

	logger.Debug("database tool finished", "op", op, "tool", argv[0], "duration", time.Since(start), "stderr", diag)
	return nil
}

// limitedOutputBuffer keeps the first maxBytes written and drops the rest.
type limitedOutputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	maxBytes  int
	truncated bool
}

func (b *limitedOutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxBytes <= 0 {
		return len(p), nil
	}
	remaining := b.maxBytes - b.buf.Len()
	if remaining > 0 {
		if len(p) > remaining {
			_, _ = b.buf.Write(p[:remaining])
			b.truncated = true
			return len(p), nil
		}
		_, _ = b.buf.Write(p)
		return len(p), nil
	}
	b.truncated = true
	return len(p), nil
}

func (b *limitedOutputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf.Bytes()...)
	if b.truncated {
		out = append(out, "\n[output truncated]"...)
	}
	return out
}
