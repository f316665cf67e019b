package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single CLI invocation.
const DefaultTimeout = 5 * time.Minute

// maxStderr limits how much stderr is carried into error messages.
const maxStderr = 2000

// ExitError wraps a non-zero exit from the Claude CLI.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("claude exited with code %d: %s", e.Code, e.Stderr)
}

// InvokeOpts configures a Claude CLI invocation.
type InvokeOpts struct {
	// Prompt is piped to the CLI's stdin.
	Prompt string

	// Dir is the working directory for the process. It does not need to be
	// a git repository; the skip-permissions flag bypasses repo checks.
	Dir string

	// Timeout bounds the invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Invoker runs the Claude CLI as a subprocess. The zero value uses the
// "claude" binary from PATH.
type Invoker struct {
	// Bin is the CLI executable. Empty means "claude".
	Bin string
}

// Invoke runs the CLI in --print mode with the prompt on stdin and returns
// trimmed stdout. A timeout kills the subprocess and returns
// context.DeadlineExceeded.
func (iv *Invoker) Invoke(ctx context.Context, opts InvokeOpts) (string, error) {
	bin := iv.Bin
	if bin == "" {
		bin = "claude"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "--dangerously-skip-permissions", "--print")
	cmd.Dir = opts.Dir
	cmd.Stdin = strings.NewReader(opts.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &ExitError{
				Code:   exitErr.ExitCode(),
				Stderr: truncate(strings.TrimSpace(stderr.String()), maxStderr),
			}
		}
		return "", fmt.Errorf("running %s: %w", bin, err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// ExtractJSON pulls a JSON object out of CLI output that may wrap it in a
// fenced code block or surround it with prose. Returns the raw input when no
// fence or brace structure is found.
func ExtractJSON(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			return strings.TrimSpace(rest[:j])
		}
	}
	// Fall back to the outermost brace pair.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(s[start : end+1])
	}
	return strings.TrimSpace(s)
}
