package cli

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mx-claw/agent-fleet/internal/store"
)

func newEventsCommand() *cobra.Command {
	var (
		taskID string
		tail   int
	)

	cmd := &cobra.Command{
		Use:     "events",
		Aliases: []string{"history"},
		Short:   "Render a task's executions and their events",
		Hidden:  false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			history, ok, err := s.GetTaskHistory(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if !ok {
				return userError("task %s not found", taskID)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "task %s\nstatus=%s\nkind=%s\n\n", history.Task.ID, history.Task.Status, history.Task.Kind)

			for _, execution := range history.Executions {
				fmt.Fprintf(out, "execution %s\nstatus=%s process_id=%s exit_code=%s\n",
					execution.Execution.ID, execution.Execution.Status, optionalInt64(execution.Execution.ProcessID), optionalInt64(execution.Execution.ExitCode))

				events := execution.Events
				if tail > 0 && len(events) > tail {
					events = events[len(events)-tail:]
				}

				table := tablewriter.NewWriter(out)
				table.SetHeader([]string{"Seq", "Source", "Type", "Payload"})
				for _, event := range events {
					table.Append([]string{
						fmt.Sprintf("%d", event.SequenceNumber),
						event.Source,
						event.EventType,
						event.Payload,
					})
				}
				table.Render()
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "task id")
	cmd.MarkFlagRequired("task-id")
	cmd.Flags().IntVar(&tail, "tail", 50, "show only the last N events per execution")

	return cmd
}

func optionalInt64(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
