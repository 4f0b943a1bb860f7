package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// waitDelay bounds how long ExecContext waits for output pipes after the
// command was killed.
const waitDelay = 2 * time.Second

// ExecContext executes a VCS command with timeout and context support.
// This is a common utility for git and jj implementations.
//
// On failure the returned error wraps the sentinel chosen by Classify and
// carries the command's trimmed stderr.
//
// Example:
//
//	output, err := ExecContext(ctx, 30*time.Second, repoRoot, "git", "status", "--porcelain")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	killGroupOnCancel(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return stdout.Bytes(), commandError(name, args, err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// commandError builds the error for a failed command.
func commandError(name string, args []string, err error, output string) error {
	output = strings.TrimSpace(output)
	kind := Classify(err, output)

	label := name
	if len(args) > 0 {
		label = name + " " + args[0]
	}

	if kind == err {
		if output == "" {
			return fmt.Errorf("%s failed: %w", label, err)
		}
		return fmt.Errorf("%s failed: %w: %s", label, err, output)
	}
	if output == "" {
		return fmt.Errorf("%s failed: %w (%v)", label, kind, err)
	}
	return fmt.Errorf("%s failed: %w: %s", label, kind, output)
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// ===================
// Path Utilities
// ===================

// RelativePath returns the relative path from base to target.
// Returns an error if the paths cannot be related.
func RelativePath(base, target string) (string, error) {
	relPath, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return "", fmt.Errorf("cannot determine relative path: %w", err)
	}
	return relPath, nil
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
