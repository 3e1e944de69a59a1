package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mx-claw/agent-fleet/internal/prompt"
	"github.com/mx-claw/agent-fleet/internal/queue"
	"github.com/mx-claw/agent-fleet/internal/store"
)

type githubIssuePayload struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Number int    `json:"number"`
}

type taskPayload struct {
	WorkingDir  string              `json:"working_dir"`
	TaskType    string              `json:"task_type"`
	InputMode   string              `json:"input_mode"`
	Instruction string              `json:"instruction"`
	GithubIssue *githubIssuePayload `json:"github_issue"`
}

func newEnqueueCommand() *cobra.Command {
	var (
		workingDir        string
		instruction       string
		githubIssueURL    string
		githubIssueTitle  string
		githubIssueBody   string
		githubIssueNumber int
		taskType          string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			hasInstruction := instruction != ""
			hasIssue := githubIssueURL != "" || githubIssueTitle != "" || githubIssueBody != "" || githubIssueNumber != 0

			if hasInstruction && hasIssue {
				return userError("specify either --instruction or --github-issue-*, not both")
			}
			if !hasInstruction && !hasIssue {
				return userError("specify --instruction or --github-issue-url plus --github-issue-title/--github-issue-body")
			}

			inputMode := prompt.InputModePlainTask
			var issue *githubIssuePayload
			if hasIssue {
				if githubIssueURL == "" {
					return userError("--github-issue-url is required in issue mode")
				}
				if githubIssueTitle == "" && githubIssueBody == "" {
					return userError("issue mode requires at least --github-issue-title or --github-issue-body")
				}
				inputMode = prompt.InputModeGithubIssue
				issue = &githubIssuePayload{
					URL:    githubIssueURL,
					Title:  githubIssueTitle,
					Body:   githubIssueBody,
					Number: githubIssueNumber,
				}
			}

			normalizedType, err := prompt.NormalizeTaskType(taskType)
			if err != nil {
				return err
			}

			payload := taskPayload{
				WorkingDir:  workingDir,
				TaskType:    string(normalizedType),
				InputMode:   inputMode,
				Instruction: instruction,
				GithubIssue: issue,
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			q := queue.New(s)
			task, err := q.Enqueue(cmd.Context(), "codex", string(encoded))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued task %s\n", task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&workingDir, "working-dir", "", "absolute path of the working directory")
	cmd.MarkFlagRequired("working-dir")
	cmd.Flags().StringVar(&instruction, "instruction", "", "plain-text task instruction")
	cmd.Flags().StringVar(&githubIssueURL, "github-issue-url", "", "hosted issue URL")
	cmd.Flags().StringVar(&githubIssueTitle, "github-issue-title", "", "hosted issue title")
	cmd.Flags().StringVar(&githubIssueBody, "github-issue-body", "", "hosted issue body")
	cmd.Flags().IntVar(&githubIssueNumber, "github-issue-number", 0, "hosted issue number")
	cmd.Flags().StringVar(&taskType, "task-type", string(prompt.FeatureImplementation), "task type")

	return cmd
}
