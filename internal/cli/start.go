package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mx-claw/agent-fleet/internal/supervisor"
)

func newStartCommand() *cobra.Command {
	var pollInterval float64

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Daemonize the orchestrator loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			pidPath := defaultPIDFilePath(cfg.Runtime.Dir)
			logPath := defaultLogFilePath(cfg.Runtime.Dir)

			exe, err := os.Executable()
			if err != nil {
				return err
			}
			childArgs := []string{
				exe,
				"--database", cfg.Database.Path,
				"--runtime-dir", cfg.Runtime.Dir,
				"run",
				"--poll-interval", strconv.FormatFloat(pollInterval, 'f', -1, 64),
				"--pid-file", pidPath,
			}

			pid, err := supervisor.Daemonize(supervisor.DaemonizeOptions{
				Args:             childArgs,
				LogPath:          logPath,
				PIDFilePath:      pidPath,
				HandshakeTimeout: time.Duration(cfg.Runtime.DaemonTimeoutSecs * float64(time.Second)),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "started orchestrator pid %d, log %s\n", pid, logPath)
			return nil
		},
	}

	cmd.Flags().Float64Var(&pollInterval, "poll-interval", 1.0, "seconds to sleep between empty-queue polls")
	return cmd
}
