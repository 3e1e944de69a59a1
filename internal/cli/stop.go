package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mx-claw/agent-fleet/internal/supervisor"
)

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemonized orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			pidPath := defaultPIDFilePath(cfg.Runtime.Dir)

			pid, err := supervisor.ReadPIDFile(pidPath)
			if err != nil {
				return err
			}
			if pid == nil {
				return userError("orchestrator is not running")
			}
			if !supervisor.IsProcessRunning(*pid) {
				supervisor.ReleasePIDFile(pidPath)
				return userError("orchestrator pid file was stale and has been removed")
			}

			if err := supervisor.StopProcess(*pid); err != nil {
				return err
			}

			timeout := time.Duration(cfg.Runtime.StopTimeoutSecs * float64(time.Second))
			if !supervisor.WaitForProcessExit(*pid, timeout) {
				return userError("timed out waiting for pid %d to stop", *pid)
			}

			supervisor.ReleasePIDFile(pidPath)
			fmt.Fprintf(cmd.OutOrStdout(), "stopped orchestrator pid %d\n", *pid)
			return nil
		},
	}
}
