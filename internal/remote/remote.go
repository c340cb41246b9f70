// Package remote runs shell scripts and bounded file tails either on the
// local host or on a configured user@host through the OpenSSH client.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultOutputLimit    = 10 * 1024 * 1024
	waitDelay             = 5 * time.Second
	// sshExitCode is what the OpenSSH client returns for its own failures.
	sshExitCode = 255
	// missingFileExitCode is returned by the tail command when path is absent.
	missingFileExitCode = 66
)

var (
	// ErrRemoteUnavailable marks failures of the SSH channel itself.
	ErrRemoteUnavailable = errors.New("remote: host unreachable")
	// ErrFileMissing marks a tail of a path that does not exist.
	ErrFileMissing = errors.New("remote: file does not exist")
)

// Result carries captured process output.
type Result struct {
	Stdout    string
	Stderr    string
	Truncated bool
}

// CommandError describes a failed local or remote invocation.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	target := "local"
	if e.Host != "" {
		target = e.Host
	}
	msg := fmt.Sprintf("%s on %s failed", e.Command, target)
	if e.ExitCode != 0 {
		msg += " (exit " + strconv.Itoa(e.ExitCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLines(stderr, 3)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Runner executes commands locally or over SSH.
type Runner struct {
	ConnectTimeout time.Duration
	OutputLimit    int
	SSHBinary      string
	Shell          string
}

// NewRunner returns a Runner with defaults applied.
func NewRunner(connectTimeout time.Duration, outputLimit int) Runner {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if outputLimit <= 0 {
		outputLimit = defaultOutputLimit
	}
	return Runner{
		ConnectTimeout: connectTimeout,
		OutputLimit:    outputLimit,
		SSHBinary:      "ssh",
		Shell:          "sh",
	}
}

// SSHArgs builds non-interactive ssh arguments for running remoteCommand on host.
func (r Runner) SSHArgs(host, remoteCommand string) []string {
	timeout := r.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(secs),
		host,
		remoteCommand,
	}
}

// RunScript feeds script to a shell on host (or locally when host is empty).
// The process is killed when ctx is done.
func (r Runner) RunScript(ctx context.Context, host, script string) (Result, error) {
	shell := r.shell()
	var cmd *exec.Cmd
	if strings.TrimSpace(host) == "" {
		cmd = exec.CommandContext(ctx, shell, "-s")
	} else {
		cmd = exec.CommandContext(ctx, r.sshBinary(), r.SSHArgs(host, shell+" -s")...)
	}
	cmd.Stdin = strings.NewReader(script)
	return r.run(ctx, cmd, host, "deploy script")
}

// Tail returns the last lines of path on host. A missing file is an error
// wrapping ErrFileMissing; failures of the SSH channel wrap ErrRemoteUnavailable.
func (r Runner) Tail(ctx context.Context, host, path string, lines int) (string, error) {
	if lines <= 0 {
		lines = 1
	}
	quoted := ShellQuote(path)
	remoteCmd := fmt.Sprintf("if [ -f %s ]; then tail -n %d -- %s; else echo 'no such file' >&2; exit %d; fi",
		quoted, lines, quoted, missingFileExitCode)
	var cmd *exec.Cmd
	if strings.TrimSpace(host) == "" {
		cmd = exec.CommandContext(ctx, r.shell(), "-c", remoteCmd)
	} else {
		cmd = exec.CommandContext(ctx, r.sshBinary(), r.SSHArgs(host, remoteCmd)...)
	}
	res, err := r.run(ctx, cmd, host, "tail "+path)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == missingFileExitCode && ctx.Err() == nil {
			cmdErr.Err = fmt.Errorf("%w: %v", ErrFileMissing, cmdErr.Err)
		}
		return "", err
	}
	return res.Stdout, nil
}

func (r Runner) run(ctx context.Context, cmd *exec.Cmd, host, label string) (Result, error) {
	limit := r.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: 64 * 1024}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Prevent git and ssh from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	err := cmd.Run()
	res := Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated,
	}
	if err == nil {
		return res, nil
	}
	cmdErr := &CommandError{Host: host, Command: label, Stderr: res.Stderr, Err: err}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cmdErr.Err = fmt.Errorf("%w: %v", ctxErr, err)
		return res, cmdErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
		if host != "" && cmdErr.ExitCode == sshExitCode {
			cmdErr.Err = fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
	} else if host != "" {
		cmdErr.Err = fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return res, cmdErr
}

func (r Runner) shell() string {
	if r.Shell == "" {
		return "sh"
	}
	return r.Shell
}

func (r Runner) sshBinary() string {
	if r.SSHBinary == "" {
		return "ssh"
	}
	return r.SSHBinary
}

// ReadLocal returns the content of path. A missing file reads as empty.
func ReadLocal(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// ShellQuote wraps s in single quotes so a POSIX shell treats it as one
// literal word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// limitedBuffer keeps the first limit bytes and silently discards the rest
// so the child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// LastLines returns at most n trailing lines of s.
func LastLines(s string, n int) string {
	return lastLines(s, n)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
