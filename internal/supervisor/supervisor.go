// Package supervisor implements the single-instance guard and
// daemonization handshake around the orchestrator loop: pid-file
// acquisition/release, liveness probing, and the parent/child spawn
// protocol between CLI `start` and `run`.
package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
)

// AcquirePIDFile ensures the parent directory exists, fails if a live
// process already owns the file, removes any stale file, then writes pid
// (or the current process's pid if pid is 0) as ASCII decimal followed by
// a newline.
func AcquirePIDFile(path string, pid int) (int, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, apperrors.Lifecycle("failed to create runtime directory: %v", err)
		}
	}

	currentPID := pid
	if currentPID == 0 {
		currentPID = os.Getpid()
	}

	existing, err := ReadPIDFile(path)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if IsProcessRunning(*existing) {
			return 0, apperrors.Lifecycle("process already running with pid %d", *existing)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return 0, apperrors.Lifecycle("failed to remove stale pid file: %v", err)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(currentPID)+"\n"), 0644); err != nil {
		return 0, apperrors.Lifecycle("failed to write pid file: %v", err)
	}
	return currentPID, nil
}

// ReleasePIDFile removes the pid file if present; absence is not an error.
func ReleasePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperrors.Lifecycle("failed to release pid file: %v", err)
	}
	return nil
}

// ReadPIDFile returns nil if the file is absent or empty, the parsed pid
// otherwise, and a lifecycle error on non-numeric contents.
func ReadPIDFile(path string) (*int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Lifecycle("failed to read pid file: %v", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(content)
	if err != nil {
		return nil, apperrors.Lifecycle("invalid pid file contents in %s", path)
	}
	return &pid, nil
}

// IsProcessRunning reports whether the OS reports pid alive. A
// permission-denied probe (the pid exists but belongs to another user) is
// also treated as alive, matching os.kill(pid, 0) semantics.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.EPERM {
		return true
	}
	return false
}

// StopProcess sends a polite termination signal (SIGTERM).
func StopProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return apperrors.Lifecycle("failed to locate process %d: %v", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return apperrors.Lifecycle("failed to signal process %d: %v", pid, err)
	}
	return nil
}

// WaitForPIDFile polls ReadPIDFile until it reports expectedPID or timeout
// elapses, used by `start` to confirm the daemonized child came up.
func WaitForPIDFile(path string, expectedPID int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pid, err := ReadPIDFile(path)
		if err != nil {
			return err
		}
		if pid != nil && *pid == expectedPID {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return apperrors.Lifecycle("timed out waiting for pid file %s", path)
}

// WaitForProcessExit polls IsProcessRunning until pid disappears or
// timeout elapses, used by `stop` after sending SIGTERM.
func WaitForProcessExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
