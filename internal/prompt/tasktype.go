package prompt

import (
	"strings"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
)

// TaskType is the closed set of supported task kinds; currently a single
// member, left as a named type (not a bare string) so the enum can grow
// without touching every call site.
type TaskType string

// FeatureImplementation is the only currently-supported task type.
const FeatureImplementation TaskType = "feature_implementation"

var taskTypes = []TaskType{FeatureImplementation}

// NormalizeTaskType lowercases and trims value, then validates it against
// the closed enum.
func NormalizeTaskType(value string) (TaskType, error) {
	normalized := TaskType(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range taskTypes {
		if t == normalized {
			return normalized, nil
		}
	}
	return "", apperrors.Validation("unknown task_type: %q. available: %s", value, strings.Join(TaskTypeChoices(), ", "))
}

// TaskTypeChoices lists the valid task_type values, for CLI flag validation
// and error messages.
func TaskTypeChoices() []string {
	choices := make([]string, len(taskTypes))
	for i, t := range taskTypes {
		choices[i] = string(t)
	}
	return choices
}
