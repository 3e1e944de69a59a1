// Package cli wires the cobra command surface: enqueue, run, start, stop,
// status, and events (with history as an alias).
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mx-claw/agent-fleet/internal/common/config"
	"github.com/mx-claw/agent-fleet/internal/common/logger"
)

// Root builds the top-level command, binding the global --database and
// --runtime-dir flags via viper through Load.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentfleet",
		Short: "Manage the agent-fleet queue and orchestrator lifecycle",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("database", "agent_fleet.db", "path to the SQLite database")
	root.PersistentFlags().String("runtime-dir", "runtime", "path to the runtime directory (pid file, log)")

	root.AddCommand(
		newEnqueueCommand(),
		newRunCommand(),
		newStartCommand(),
		newStopCommand(),
		newStatusCommand(),
		newEventsCommand(),
	)

	return root
}

// loadConfig resolves configuration from defaults, an optional config file,
// env, and the command's own flags, in that ascending precedence.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	return config.Load("", flags)
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
}

func userError(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
