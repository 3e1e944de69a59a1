// Package prompt composes the subprocess prompt from a task's payload and
// the working directory's git state, using file-backed templates keyed by
// task_type with regex-tag substitution for the task and git-policy
// sections.
package prompt

import (
	"embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// GithubIssue is the optional hosted-issue record an enqueue may reference
// instead of a plain instruction.
type GithubIssue struct {
	URL    string
	Title  string
	Body   string
	Number int
}

// Request holds the inputs to Build.
type Request struct {
	TaskType    TaskType
	InputMode   string
	Instruction string
	GithubIssue *GithubIssue
	WorkingDir  string
}

const (
	// InputModePlainTask requires a non-empty instruction.
	InputModePlainTask = "plain_task"
	// InputModeGithubIssue requires a GithubIssue record.
	InputModeGithubIssue = "github_issue"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Build composes the final prompt string for req.
func Build(req Request) (string, error) {
	template, err := loadTemplate(req.TaskType)
	if err != nil {
		return "", err
	}

	taskSection, err := buildTaskSection(req)
	if err != nil {
		return "", err
	}

	context := map[string]string{
		"git_policy":   buildGitPolicy(req.WorkingDir),
		"task_section": taskSection,
	}

	rendered, err := substitute(template, context)
	if err != nil {
		return "", err
	}
	return normalizeOutput(rendered), nil
}

func loadTemplate(taskType TaskType) (string, error) {
	data, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.tmpl", taskType))
	if err != nil {
		return "", apperrors.Validation("no template for task_type %q", taskType)
	}
	return string(data), nil
}

// buildGitPolicy assembles the git-conditional policy lines: a commit
// directive iff inside a worktree, a push directive iff a remote is
// configured, and a PR/MR directive iff the first remote looks hosted on
// github.com or gitlab.com.
func buildGitPolicy(workingDir string) string {
	probe := gitProbe{workingDir: workingDir}
	if !probe.isWorktree() {
		return ""
	}

	lines := []string{"- Before finishing, create a commit with all changes in the repository."}
	if probe.hasRemote() {
		lines = append(lines, "- Push your branch to the configured remote.")
		if probe.suggestsPullRequestWorkflow() {
			lines = append(lines, "- If the remote workflow supports it, open a pull/merge request for the change.")
		}
	}
	return strings.Join(lines, "\n")
}

func buildTaskSection(req Request) (string, error) {
	switch req.InputMode {
	case InputModePlainTask:
		instruction := strings.TrimSpace(req.Instruction)
		if instruction == "" {
			return "", apperrors.Validation("instruction must be non-empty for input_mode=plain_task")
		}
		return "Task request:\n" + instruction, nil
	case InputModeGithubIssue:
		if req.GithubIssue == nil {
			return "", apperrors.Validation("github_issue record required for input_mode=github_issue")
		}
		return buildGithubIssueSection(*req.GithubIssue), nil
	default:
		return "", apperrors.Validation("unknown input_mode: %q. available: %s, %s", req.InputMode, InputModePlainTask, InputModeGithubIssue)
	}
}

func buildGithubIssueSection(issue GithubIssue) string {
	var lines []string
	if issue.URL != "" {
		lines = append(lines, "Issue URL: "+issue.URL)
	}
	if issue.Number != 0 {
		lines = append(lines, fmt.Sprintf("Issue number: %d", issue.Number))
	}
	if issue.Title != "" {
		lines = append(lines, "Issue title: "+issue.Title)
	}
	if issue.Body != "" {
		lines = append(lines, "Issue body:\n"+issue.Body)
	}
	lines = append(lines,
		"Implement the change described by this issue.",
		"Reference the issue number in the commit message if one is available.",
	)
	return "Task request (from issue):\n" + strings.Join(lines, "\n")
}

// substitute replaces every {{ name }} occurrence (optional inner
// whitespace) using context; a placeholder with no matching key fails fast.
func substitute(template string, context map[string]string) (string, error) {
	var missing string
	result := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value, ok := context[name]
		if !ok {
			missing = name
			return match
		}
		return value
	})
	if missing != "" {
		return "", apperrors.Validation("unknown template variable: %q", missing)
	}
	return result, nil
}

var blankRunRe = regexp.MustCompile(`\n{2,}`)

// normalizeOutput trims trailing whitespace per line, collapses runs of
// blank lines to one, strips leading/trailing blank lines, and terminates
// with exactly one newline.
func normalizeOutput(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	collapsed := blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.Trim(collapsed, "\n") + "\n"
}
