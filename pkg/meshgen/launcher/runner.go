package launcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// maxLine is the longest line delivered whole. Longer output without a
// line break arrives in pieces of this size.
const maxLine = 1024 * 1024

// killGrace is how long a canceled process group gets between SIGTERM
// and SIGKILL.
const killGrace = 5 * time.Second

// Command is a single process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string

	// Env is appended to the current environment as KEY=VALUE pairs.
	Env []string

	// Stdout and Stderr receive raw output when no line callback is given.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs and dry runs.
func (c Command) String() string {
	var b bytes.Buffer
	b.WriteString(quote(c.Name))
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	return b.String()
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '"' || r == '\'' || r == '\\' || r == '$' {
			return fmt.Sprintf("%q", s)
		}
	}
	return s
}

// ExecResult describes a finished process.
type ExecResult struct {
	ExitCode int
	Duration time.Duration
	Lines    int
}

// Runner executes commands. ExecRunner is the real implementation; tests
// substitute a recording fake.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine func(string)) (ExecResult, error)
}

// ExitError reports a process that exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

// ExecRunner runs commands with os/exec in their own process group.
type ExecRunner struct{}

// Run starts cmd and waits for it. When onLine is non-nil stdout and
// stderr are merged and delivered line by line; carriage returns end a
// line so progress bars are seen as they redraw. Canceling ctx terminates
// the whole process group.
func (ExecRunner) Run(ctx context.Context, c Command, onLine func(string)) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var (
		pr    *os.File
		pw    *os.File
		lines int
	)
	if onLine != nil {
		var err error
		pr, pw, err = os.Pipe()
		if err != nil {
			return ExecResult{ExitCode: -1}, fmt.Errorf("create output pipe: %w", err)
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
	} else {
		cmd.Stdout = c.Stdout
		cmd.Stderr = c.Stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if pr != nil {
			pr.Close()
			pw.Close()
		}
		return ExecResult{ExitCode: -1}, fmt.Errorf("start %s: %w", c.Name, err)
	}

	var readErr error
	if pr != nil {
		// The child holds its own copy; closing ours lets the reader see EOF.
		pw.Close()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 2*maxLine)
		scanner.Split(splitLong(ScanLines, maxLine))
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			lines++
			onLine(line)
		}
		if readErr = scanner.Err(); readErr != nil {
			// Keep the child from blocking on a full pipe.
			_, _ = io.Copy(io.Discard, pr)
		}
		pr.Close()
	}

	err := cmd.Wait()
	res := ExecResult{Duration: time.Since(start), Lines: lines}
	if err == nil {
		if readErr != nil {
			return res, fmt.Errorf("read output of %s: %w", c.Name, readErr)
		}
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Command: c.Name, Code: res.ExitCode}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("wait %s: %w", c.Name, err)
}

// ScanLines is a bufio.SplitFunc that ends lines at \n, \r\n or a bare \r.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				// Need one more byte to tell \r from \r\n.
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// splitLong wraps split so that data without a token is cut at limit
// instead of failing with bufio.ErrTooLong.
func splitLong(split bufio.SplitFunc, limit int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := split(data, atEOF)
		if err == nil && advance == 0 && token == nil && len(data) >= limit {
			return limit, data[:limit], nil
		}
		return advance, token, err
	}
}
