package prompt

import (
	"os/exec"
	"strings"
)

// gitProbe reports the working directory's git state. A non-zero exit from
// the underlying git invocation is treated as "feature absent", never as an
// error — probes must never fail the build.
type gitProbe struct {
	workingDir string
}

func (p gitProbe) isWorktree() bool {
	return p.run("rev-parse", "--is-inside-work-tree") == "true"
}

func (p gitProbe) hasRemote() bool {
	return p.run("remote") != ""
}

func (p gitProbe) firstRemoteURL() string {
	remotes := p.run("remote")
	if remotes == "" {
		return ""
	}
	first := strings.SplitN(remotes, "\n", 2)[0]
	return p.run("remote", "get-url", strings.TrimSpace(first))
}

func (p gitProbe) suggestsPullRequestWorkflow() bool {
	url := p.firstRemoteURL()
	return strings.Contains(url, "github.com") || strings.Contains(url, "gitlab.com")
}

func (p gitProbe) run(args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = p.workingDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
