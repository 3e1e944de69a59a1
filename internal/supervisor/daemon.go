package supervisor

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
)

// DaemonizeOptions configures the parent-side spawn in Daemonize.
type DaemonizeOptions struct {
	// Args is the full argv for the child `run` invocation, e.g.
	// []string{os.Args[0], "--database", dbPath, "run", "--pid-file", pidPath}.
	Args []string
	// LogPath receives the child's redirected stdout+stderr, append mode.
	LogPath string
	// PIDFilePath is polled after spawn to confirm the child came up.
	PIDFilePath string
	// HandshakeTimeout bounds how long to wait for PIDFilePath to report
	// the child's pid before Daemonize fails.
	HandshakeTimeout time.Duration
}

// Daemonize spawns a detached child inheriting no controlling terminal,
// redirects its stdio to LogPath, and polls PIDFilePath for the child's
// own acquire_pid_file write to appear before returning.
func Daemonize(opts DaemonizeOptions) (pid int, err error) {
	if existing, err := ReadPIDFile(opts.PIDFilePath); err != nil {
		return 0, err
	} else if existing != nil {
		if IsProcessRunning(*existing) {
			return 0, apperrors.Lifecycle("process already running with pid %d", *existing)
		}
		if err := ReleasePIDFile(opts.PIDFilePath); err != nil {
			return 0, err
		}
	}

	logFile, err := os.OpenFile(opts.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, apperrors.Lifecycle("failed to open orchestrator log: %v", err)
	}
	defer logFile.Close()

	cmd := exec.Command(opts.Args[0], opts.Args[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, apperrors.Lifecycle("failed to spawn orchestrator child: %v", err)
	}
	// The child is detached; release it from this process's reaping duty.
	go cmd.Wait()

	if err := WaitForPIDFile(opts.PIDFilePath, cmd.Process.Pid, opts.HandshakeTimeout); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
