// Package process runs external scripts and captures their output.
package process

//go:generate go run go.uber.org/mock/mockgen -package process -destination=runner_mock.go -source=./runner.go -build_flags=-mod=mod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("process", fx.Provide(NewExecRunner))

type Command struct {
	Name string
	Args []string
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner starts a command and waits for it to exit. A non-zero exit status is
// reported through Result.ExitCode; the error is reserved for spawn failures.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

type ExecRunner struct{}

func NewExecRunner() Runner {
	return &ExecRunner{}
}

const (
	// maxLine bounds a single logged line; the rest of the line is still drained.
	maxLine = 64 * 1024
	// maxCapture bounds the output kept per stream; older bytes are dropped.
	maxCapture = 1024 * 1024
	// waitDelay bounds how long Wait keeps reading pipes held open by
	// orphaned children once the command was killed.
	waitDelay = 5 * time.Second
)

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	zapLog := zap.L().With(zap.String("command", c.String()), zap.String("dir", c.Dir))

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	killGroupOnCancel(cmd)

	stdout := newLineWriter(func(line string) { zapLog.Info("[Process] stdout", zap.String("line", line)) })
	stderr := newLineWriter(func(line string) { zapLog.Warn("[Process] stderr", zap.String("line", line)) })
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	zapLog.Info("[Process] starting")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}

	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() != nil {
		zapLog.Warn("[Process] cancelled", zap.Error(ctx.Err()))
		return res, fmt.Errorf("%s: %w", c.Name, ctx.Err())
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, waitErr
		}
		res.ExitCode = exitErr.ExitCode()
	}

	zapLog.Info("[Process] finished", zap.Int("exit_code", res.ExitCode))
	return res, nil
}

// lineWriter splits a stream into lines for logging and keeps the last
// maxCapture bytes of it. It never blocks the writer.
type lineWriter struct {
	onLine    func(string)
	line      []byte
	truncated bool
	captured  bytes.Buffer
}

func newLineWriter(onLine func(string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.capture(p)

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			w.appendLine(rest)
			break
		}
		w.appendLine(rest[:i])
		w.emit()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) appendLine(b []byte) {
	room := maxLine - len(w.line)
	if len(b) > room {
		b = b[:room]
		w.truncated = true
	}
	w.line = append(w.line, b...)
}

func (w *lineWriter) emit() {
	line := strings.TrimRight(string(w.line), "\r")
	if w.truncated {
		line += "...(truncated)"
	}
	w.onLine(line)
	w.line = w.line[:0]
	w.truncated = false
}

func (w *lineWriter) capture(p []byte) {
	if len(p) >= maxCapture {
		w.captured.Reset()
		w.captured.Write(p[len(p)-maxCapture:])
		return
	}
	if over := w.captured.Len() + len(p) - maxCapture; over > 0 {
		kept := append([]byte(nil), w.captured.Bytes()[over:]...)
		w.captured.Reset()
		w.captured.Write(kept)
	}
	w.captured.Write(p)
}

// Flush logs a trailing line that had no newline.
func (w *lineWriter) Flush() {
	if len(w.line) > 0 || w.truncated {
		w.emit()
	}
}

func (w *lineWriter) String() string {
	return w.captured.String()
}

// Tail returns at most the last n bytes of s, trimmed.
func Tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
