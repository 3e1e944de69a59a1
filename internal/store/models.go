package store

// Status is the lifecycle status shared by Task and Execution.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Task is an enqueued unit of work.
type Task struct {
	ID         string
	Kind       string
	Payload    string
	Status     Status
	CreatedAt  string
	UpdatedAt  string
	QueuedAt   string
	StartedAt  *string
	FinishedAt *string
}

// Execution is one attempt by one agent against one task.
type Execution struct {
	ID         string
	TaskID     string
	AgentName  string
	Status     Status
	ProcessID  *int64
	ExitCode   *int64
	CreatedAt  string
	StartedAt  *string
	FinishedAt *string
}

// ExecutionEvent is one classified line of subprocess output.
type ExecutionEvent struct {
	ID             int64
	ExecutionID    string
	SequenceNumber int64
	Source         string
	EventType      string
	Payload        string
	CreatedAt      string
}

// ExecutionHistory pairs an execution with its ordered events.
type ExecutionHistory struct {
	Execution Execution
	Events    []ExecutionEvent
}

// TaskHistory pairs a task with the ordered history of its executions.
type TaskHistory struct {
	Task       Task
	Executions []ExecutionHistory
}
