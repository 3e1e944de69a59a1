package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"

	"github.com/mx-claw/agent-fleet/internal/common/logger"
	"github.com/mx-claw/agent-fleet/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent_fleet.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeFakeAgent writes a small shell script standing in for the agent
// binary, emitting script to stdout/stderr as instructed, and returns its
// path. Requires /bin/sh, present on the CI/dev environments this targets.
func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write fake agent script: %v", err)
	}
	return path
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("logger.New failed: %v", err)
	}
	return log
}

func TestRunMixedOutputClassification(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task, _ := s.EnqueueTask(ctx, "codex", `{}`)
	execution, _ := s.CreateExecution(ctx, task.ID, "codex")

	script := `echo '{"type":"Task.Started","step":1}'
echo "plain stdout line"
echo "stderr raw line" 1>&2
exit 0
`
	agentPath := writeFakeAgent(t, script)
	r := New(s, []string{agentPath}, newTestLogger(t))

	result, err := r.Run(ctx, execution.ID, t.TempDir(), "ignored prompt")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if result.Summary.JSONEvents != 1 || result.Summary.StdoutLines != 1 || result.Summary.StderrLines != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}

	events, err := s.ListExecutionEvents(ctx, execution.ID)
	if err != nil {
		t.Fatalf("ListExecutionEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	seqs := make([]int64, len(events))
	for i, e := range events {
		seqs[i] = e.SequenceNumber
	}
	if !sort.SliceIsSorted(seqs, func(i, j int) bool { return seqs[i] < seqs[j] }) {
		t.Errorf("expected events ordered by sequence_number, got %v", seqs)
	}

	var sawJSON, sawStdout, sawStderr bool
	for _, e := range events {
		switch {
		case e.Source == "json":
			sawJSON = true
			if e.EventType != "task_started" {
				t.Errorf("expected event_type task_started, got %q", e.EventType)
			}
		case e.Source == "stdout" && e.Payload == "plain stdout line":
			sawStdout = true
			if e.EventType != "raw_text" {
				t.Errorf("expected event_type raw_text for stdout line, got %q", e.EventType)
			}
		case e.Source == "stderr" && e.Payload == "stderr raw line":
			sawStderr = true
			if e.EventType != "raw_text" {
				t.Errorf("expected event_type raw_text for stderr line, got %q", e.EventType)
			}
		}
	}
	if !sawJSON || !sawStdout || !sawStderr {
		t.Fatalf("expected one json, one stdout, one stderr event; got %+v", events)
	}

	finalExecution, err := s.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if finalExecution.Status != store.StatusSucceeded {
		t.Errorf("expected execution succeeded, got %s", finalExecution.Status)
	}
	if finalExecution.ExitCode == nil || *finalExecution.ExitCode != 0 {
		t.Errorf("expected exit_code 0, got %+v", finalExecution.ExitCode)
	}
	if finalExecution.ProcessID == nil {
		t.Errorf("expected process_id to be set")
	}
}

func TestRunNonZeroExitMarksFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task, _ := s.EnqueueTask(ctx, "codex", `{}`)
	execution, _ := s.CreateExecution(ctx, task.ID, "codex")

	agentPath := writeFakeAgent(t, "exit 7\n")
	r := New(s, []string{agentPath}, newTestLogger(t))

	result, err := r.Run(ctx, execution.ID, t.TempDir(), "prompt")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", result.ExitCode)
	}

	finalExecution, err := s.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if finalExecution.Status != store.StatusFailed {
		t.Errorf("expected execution failed, got %s", finalExecution.Status)
	}
	if finalExecution.ExitCode == nil || *finalExecution.ExitCode != 7 {
		t.Errorf("expected exit_code 7, got %+v", finalExecution.ExitCode)
	}
}

func TestBuildArgsInjectsSkipGitRepoCheckOutsideWorktree(t *testing.T) {
	r := &Runner{command: []string{"codex"}}
	dir := t.TempDir() // not a git worktree
	args := r.buildArgs(dir, "the prompt")

	found := false
	for i, a := range args {
		if a == "--skip-git-repo-check" {
			found = true
			if i == len(args)-1 {
				t.Errorf("expected --skip-git-repo-check before the prompt, found it last")
			}
		}
	}
	if !found {
		t.Errorf("expected --skip-git-repo-check to be injected, got %v", args)
	}
	if args[len(args)-1] != "the prompt" {
		t.Errorf("expected prompt as final argument, got %v", args)
	}
}

func TestBuildArgsInsideWorktreeOmitsSkipFlag(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init")

	r := &Runner{command: []string{"codex"}}
	args := r.buildArgs(dir, "the prompt")
	for _, a := range args {
		if a == "--skip-git-repo-check" {
			t.Errorf("expected no --skip-git-repo-check inside a worktree, got %v", args)
		}
	}
}

func TestBuildArgsNonCodexBinaryNeverInjectsFlag(t *testing.T) {
	r := &Runner{command: []string{"claude"}}
	args := r.buildArgs(t.TempDir(), "the prompt")
	for _, a := range args {
		if a == "--skip-git-repo-check" {
			t.Errorf("expected no flag injection for non-codex binary, got %v", args)
		}
	}
}

func TestNormalizeTable(t *testing.T) {
	cases := map[string]string{
		"Task.Started": "task_started",
		"!!!":          "json_event",
		"a b":          "a_b",
		"a..b":         "a__b",
	}
	for input, want := range cases {
		if got := normalize(input); got != want {
			t.Errorf("normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestClassifyNonObjectJSON(t *testing.T) {
	source, eventType, payload := classify("stdout", "42")
	if source != "json" || eventType != "json_event" || payload != "42" {
		t.Errorf("unexpected classification: source=%q event_type=%q payload=%q", source, eventType, payload)
	}
}

func TestClassifyInvalidJSONFallsBackToRawText(t *testing.T) {
	source, eventType, payload := classify("stderr", "not json at all")
	if source != "stderr" || eventType != "raw_text" || payload != "not json at all" {
		t.Errorf("unexpected classification: source=%q event_type=%q payload=%q", source, eventType, payload)
	}
}

func TestClassifySortsJSONKeys(t *testing.T) {
	_, _, payload := classify("stdout", `{"b":1,"a":2}`)
	if payload != `{"a":2,"b":1}` {
		t.Errorf("expected sorted-key payload, got %q", payload)
	}
}

func TestExitCodeFromExitError(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	err := cmd.Run()
	if exitCodeFrom(err) != 3 {
		t.Errorf("expected exit code 3, got %d", exitCodeFrom(err))
	}
}

func TestExitCodeFromNilIsZero(t *testing.T) {
	if exitCodeFrom(nil) != 0 {
		t.Error("expected exit code 0 for nil error")
	}
}

func init() {
	// Guard against environments without /bin/sh; the fake-agent tests
	// would otherwise fail with a confusing error.
	if _, err := exec.LookPath("sh"); err != nil {
		fmt.Println("warning: sh not found on PATH, fake-agent runner tests may fail")
	}
}
