// Package runner spawns the configured agent subprocess, concurrently
// drains its stdout/stderr into a single ordered event stream, classifies
// each line, and finalizes the execution row from the exit code: two
// reader goroutines feeding one queue, one consumer assigning sequence
// numbers.
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"unicode"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
	"github.com/mx-claw/agent-fleet/internal/common/logger"
	"github.com/mx-claw/agent-fleet/internal/store"
	"github.com/mx-claw/agent-fleet/internal/tracing"
	"go.uber.org/zap"
)

// Result is returned by Run alongside the persisted events.
type Result struct {
	ExitCode int
	Summary  Summary
}

// Summary holds the per-source line counts the runner reports back. A
// json-classified line counts toward JSONEvents regardless of which
// stream (stdout or stderr) it arrived on.
type Summary struct {
	JSONEvents  int
	StdoutLines int
	StderrLines int
}

// Runner spawns the configured subprocess and streams its output into the
// store as classified execution events.
type Runner struct {
	store   *store.Store
	command []string
	logger  *logger.Logger
}

// New builds a Runner. command is the configured base command (e.g.
// ["codex", "exec", "--json"]); the prompt is appended as the final
// positional argument on each invocation.
func New(s *store.Store, command []string, log *logger.Logger) *Runner {
	return &Runner{store: s, command: command, logger: log.WithFields(zap.String("component", "runner"))}
}

// streamLine is one line observed on either the child's stdout or stderr,
// tagged with its origin so classification can fall back to it.
type streamLine struct {
	source string // "stdout" or "stderr"
	line   string
	err    error
}

// Run spawns the subprocess in workingDir with prompt as its final
// argument, streams both pipes into execution events, and finalizes the
// execution row from the observed exit code.
func (r *Runner) Run(ctx context.Context, executionID, workingDir, prompt string) (Result, error) {
	ctx, span := tracing.StartRunnerExecute(ctx, executionID)
	defer span.End()

	args := r.buildArgs(workingDir, prompt)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workingDir
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, apperrors.Subprocess(err, "failed to open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, apperrors.Subprocess(err, "failed to open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return Result{}, apperrors.Subprocess(err, "failed to start agent subprocess")
	}

	if _, err := r.store.MarkExecutionRunning(ctx, executionID, cmd.Process.Pid); err != nil {
		return Result{}, err
	}
	r.logger.Info("agent subprocess started",
		zap.String("execution_id", executionID),
		zap.Int("pid", cmd.Process.Pid))

	lines := make(chan streamLine)
	go drainStream(stdout, "stdout", lines)
	go drainStream(stderr, "stderr", lines)

	summary, err := r.consume(ctx, executionID, lines)
	if err != nil {
		return Result{}, err
	}

	waitErr := cmd.Wait()
	exitCode := exitCodeFrom(waitErr)

	if exitCode == 0 {
		if _, err := r.store.MarkExecutionSucceeded(ctx, executionID, exitCode); err != nil {
			return Result{}, err
		}
	} else {
		code := exitCode
		if _, err := r.store.MarkExecutionFailed(ctx, executionID, &code); err != nil {
			return Result{}, err
		}
	}

	r.logger.Info("agent subprocess finished",
		zap.String("execution_id", executionID),
		zap.Int("exit_code", exitCode),
		zap.Int("json_events", summary.JSONEvents),
		zap.Int("stdout_lines", summary.StdoutLines),
		zap.Int("stderr_lines", summary.StderrLines))

	return Result{ExitCode: exitCode, Summary: summary}, nil
}

// buildArgs composes the subprocess argv: the configured base command, an
// injected --skip-git-repo-check flag when the binary is codex and
// workingDir is not inside a git worktree, then the prompt as the final
// positional argument.
func (r *Runner) buildArgs(workingDir, prompt string) []string {
	args := append([]string{}, r.command...)
	if len(args) > 0 && args[0] == "codex" && !isGitWorktree(workingDir) {
		args = append(args, "--skip-git-repo-check")
	}
	args = append(args, prompt)
	return args
}

func isGitWorktree(workingDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workingDir
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// drainStream reads stream line by line and forwards each to lines,
// tagged with source. A scanner error is forwarded as an item carrying
// that error. It always finishes by sending a per-reader sentinel, an item
// whose err is errEndOfStream; the channel itself is never closed.
func drainStream(stream io.ReadCloser, source string, lines chan<- streamLine) {
	defer stream.Close()
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- streamLine{source: source, line: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		lines <- streamLine{source: source, err: err}
	}
	lines <- streamLine{source: source, line: "", err: errEndOfStream}
}

// errEndOfStream is the per-reader sentinel: its presence (not a nil
// channel value) signals that this reader will send nothing further.
var errEndOfStream = fmt.Errorf("end of stream")

// consume drains the merged stream until both readers' sentinels have been
// seen, classifying and persisting each real line in arrival order.
func (r *Runner) consume(ctx context.Context, executionID string, lines <-chan streamLine) (Summary, error) {
	var summary Summary
	var sequenceNumber int64
	doneReaders := 0

	for doneReaders < 2 {
		item := <-lines
		if item.err == errEndOfStream {
			doneReaders++
			continue
		}
		if item.err != nil {
			// A read error still yields a sentinel above; surface this one
			// as a raw_text line so it is not silently dropped.
			ioErr := apperrors.IO(item.err, "stream read error")
			r.logger.Warn("stream read error", zap.String("source", item.source), zap.Error(ioErr))
			item.line = ioErr.Error()
		}

		sequenceNumber++
		source, eventType, payload := classify(item.source, item.line)
		switch source {
		case "json":
			summary.JSONEvents++
		case "stderr":
			summary.StderrLines++
		default:
			summary.StdoutLines++
		}

		if _, err := r.store.AppendExecutionEvent(ctx, executionID, sequenceNumber, source, eventType, payload); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// classify attempts to parse the line as JSON: a decoded object yields
// source=json with event_type taken from its type/event_type field
// (normalized), a decoded non-object yields source=json with
// event_type=json_event, and a parse failure falls back to the origin
// stream with event_type=raw_text.
func classify(source, line string) (classifiedSource, eventType, payload string) {
	var decoded any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		return source, "raw_text", line
	}

	if obj, ok := decoded.(map[string]any); ok {
		eventType = typeField(obj)
	} else {
		eventType = "json_event"
	}

	// encoding/json already renders map keys in sorted order, satisfying
	// the canonical-payload requirement without a custom encoder.
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return source, "raw_text", line
	}
	return "json", normalize(eventType), string(canonical)
}

type classifiedSource = string

func typeField(obj map[string]any) string {
	if v, ok := obj["type"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := obj["event_type"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "json_event"
}

// normalize lowercases s, replaces each non-alphanumeric code point with
// its own underscore (so a run of N separators produces N underscores,
// not one), strips leading/trailing underscores, and substitutes
// "json_event" for an empty result.
func normalize(s string) string {
	lowered := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	trimmed := strings.Trim(b.String(), "_")
	if trimmed == "" {
		return "json_event"
	}
	return trimmed
}

// exitCodeFrom extracts the subprocess exit code from cmd.Wait()'s error:
// 0 for a nil error, the ExitError's code otherwise (-1 when the child was
// killed by a signal), and -1 for any other error. Run records whatever
// this returns as the execution's exit code.
func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
