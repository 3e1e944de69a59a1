package cli

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mx-claw/agent-fleet/internal/store"
	"github.com/mx-claw/agent-fleet/internal/supervisor"
)

func newStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator lifecycle and recent tasks",
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
			running := pid != nil && supervisor.IsProcessRunning(*pid)

			out := cmd.OutOrStdout()

			lifecycle := tablewriter.NewWriter(out)
			lifecycle.SetHeader([]string{"Field", "Value"})
			lifecycle.Append([]string{"Database", cfg.Database.Path})
			lifecycle.Append([]string{"Runtime Dir", cfg.Runtime.Dir})
			lifecycle.Append([]string{"PID File", pidPath})
			lifecycle.Append([]string{"Running", boolToYesNo(running)})
			lifecycle.Append([]string{"PID", pidString(pid)})
			lifecycle.Render()

			s, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			tasks, err := s.ListTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}

			taskTable := tablewriter.NewWriter(out)
			taskTable.SetHeader([]string{"Task", "Status", "Queued", "Kind"})
			for _, task := range tasks {
				taskTable.Append([]string{task.ID, string(task.Status), task.QueuedAt, task.Kind})
			}
			taskTable.Render()

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent tasks to show")
	return cmd
}

func boolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func pidString(pid *int) string {
	if pid == nil {
		return "-"
	}
	return strconv.Itoa(*pid)
}
