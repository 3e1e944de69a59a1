package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mx-claw/agent-fleet/internal/httpapi"
	"github.com/mx-claw/agent-fleet/internal/orchestrator/service"
	"github.com/mx-claw/agent-fleet/internal/queue"
	"github.com/mx-claw/agent-fleet/internal/runner"
	"github.com/mx-claw/agent-fleet/internal/store"
	"github.com/mx-claw/agent-fleet/internal/supervisor"
	"github.com/mx-claw/agent-fleet/internal/tracing"
)

func newRunCommand() *cobra.Command {
	var (
		pollInterval float64
		pidFile      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator dispatch loop in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			shutdownTracing, err := tracing.Init(ctx, "agent-fleet", "dev", cfg.Observability.TracingEndpoint)
			if err != nil {
				return err
			}
			defer shutdownTracing(ctx)

			q := queue.New(s)
			r := runner.New(s, cfg.Agent.Command, log)
			interval := time.Duration(pollInterval * float64(time.Second))
			svc := service.New(s, q, r, interval, log)

			pidWritten := false
			if pidFile != "" {
				if _, err := supervisor.AcquirePIDFile(pidFile, 0); err != nil {
					return err
				}
				pidWritten = true
			}

			guard := supervisor.InstallSignalHandlers(svc.Stop)
			defer guard.Release()
			if pidWritten {
				defer supervisor.ReleasePIDFile(pidFile)
			}

			if cfg.Observability.HTTPAddr != "" {
				httpServer := httpapi.New(s, log)
				httpCtx, cancelHTTP := context.WithCancel(ctx)
				defer cancelHTTP()
				go func() {
					if err := httpServer.Run(httpCtx, cfg.Observability.HTTPAddr); err != nil {
						log.Warn("observability http server exited", zap.Error(err))
					}
				}()
			}

			svc.Run(ctx)
			return nil
		},
	}

	cmd.Flags().Float64Var(&pollInterval, "poll-interval", 1.0, "seconds to sleep between empty-queue polls")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "path to write this process's pid (daemonized children always supply one)")

	return cmd
}

func defaultPIDFilePath(runtimeDir string) string {
	return filepath.Join(runtimeDir, "orchestrator.pid")
}

func defaultLogFilePath(runtimeDir string) string {
	return filepath.Join(runtimeDir, "orchestrator.log")
}
