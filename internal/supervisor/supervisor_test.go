package supervisor

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
)

func TestReadPIDFileAbsentReturnsNil(t *testing.T) {
	pid, err := ReadPIDFile(filepath.Join(t.TempDir(), "missing.pid"))
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid != nil {
		t.Errorf("expected nil pid, got %v", *pid)
	}
}

func TestReadPIDFileEmptyReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pid")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatalf("failed to write empty pid file: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid != nil {
		t.Errorf("expected nil pid for empty file, got %v", *pid)
	}
}

func TestReadPIDFileNonNumericFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	if err := os.WriteFile(path, []byte("not-a-number\n"), 0644); err != nil {
		t.Fatalf("failed to write pid file: %v", err)
	}
	_, err := ReadPIDFile(path)
	if err == nil {
		t.Fatal("expected error for non-numeric pid file contents")
	}
	if !apperrors.IsLifecycle(err) {
		t.Errorf("expected a lifecycle error, got %v", err)
	}
}

// TestAcquirePIDFileStalePID covers scenario #4: a pid file naming a dead
// process is treated as stale and overwritten.
func TestAcquirePIDFileStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.pid")
	if err := os.WriteFile(path, []byte("999999\n"), 0644); err != nil {
		t.Fatalf("failed to seed stale pid file: %v", err)
	}

	acquired, err := AcquirePIDFile(path, 12345)
	if err != nil {
		t.Fatalf("expected stale pid to be reclaimed, got error: %v", err)
	}
	if acquired != 12345 {
		t.Errorf("expected acquired pid 12345, got %d", acquired)
	}

	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid == nil || *pid != 12345 {
		t.Fatalf("expected pid file to read 12345, got %v", pid)
	}
}

func TestAcquirePIDFileLivePIDFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.pid")
	livePID := os.Getpid()
	if err := os.WriteFile(path, []byte(itoa(livePID)+"\n"), 0644); err != nil {
		t.Fatalf("failed to seed live pid file: %v", err)
	}

	_, err := AcquirePIDFile(path, 1)
	if err == nil {
		t.Fatal("expected AcquirePIDFile to fail when a live pid already owns the file")
	}
	if !apperrors.IsLifecycle(err) {
		t.Errorf("expected a lifecycle error, got %v", err)
	}
}

func TestAcquireThenReleasePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.pid")
	if _, err := AcquirePIDFile(path, 42); err != nil {
		t.Fatalf("AcquirePIDFile failed: %v", err)
	}
	if err := ReleasePIDFile(path); err != nil {
		t.Fatalf("ReleasePIDFile failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected pid file to be removed")
	}
}

func TestReleasePIDFileAbsentIsNotAnError(t *testing.T) {
	if err := ReleasePIDFile(filepath.Join(t.TempDir(), "never-existed.pid")); err != nil {
		t.Errorf("expected no error releasing an absent pid file, got %v", err)
	}
}

func TestIsProcessRunningSelf(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("expected the current process to be reported running")
	}
}

func TestIsProcessRunningDeadPID(t *testing.T) {
	if IsProcessRunning(999999) {
		t.Error("expected pid 999999 to be reported not running")
	}
}

func TestWaitForPIDFileTimesOutWhenNeverWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.pid")
	err := WaitForPIDFile(path, 123, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !apperrors.IsLifecycle(err) {
		t.Errorf("expected a lifecycle error, got %v", err)
	}
}

func TestWaitForPIDFileSucceedsOnceWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appears.pid")
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, []byte("555\n"), 0644)
	}()
	if err := WaitForPIDFile(path, 555, 2*time.Second); err != nil {
		t.Fatalf("expected WaitForPIDFile to succeed, got %v", err)
	}
}

func TestSignalGuardInvokesStopOnSIGTERM(t *testing.T) {
	stopped := make(chan struct{}, 1)
	guard := InstallSignalHandlers(func() {
		select {
		case stopped <- struct{}{}:
		default:
		}
	})
	defer guard.Release()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess failed: %v", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("failed to self-signal: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected stop callback to be invoked on SIGTERM")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
