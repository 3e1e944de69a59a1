// Package service implements the orchestrator's single-threaded dispatch
// loop: poll the queue, build the prompt, invoke the runner, finalize task
// status, with a cooperative-stop idiom (a done channel) and zap-based
// logging and OTel tracing throughout.
package service

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
	"github.com/mx-claw/agent-fleet/internal/common/logger"
	"github.com/mx-claw/agent-fleet/internal/prompt"
	"github.com/mx-claw/agent-fleet/internal/queue"
	"github.com/mx-claw/agent-fleet/internal/runner"
	"github.com/mx-claw/agent-fleet/internal/store"
	"github.com/mx-claw/agent-fleet/internal/tracing"
)

// taskPayload is the JSON shape of tasks.payload.
type taskPayload struct {
	WorkingDir  string              `json:"working_dir"`
	TaskType    string              `json:"task_type"`
	InputMode   string              `json:"input_mode"`
	Instruction string              `json:"instruction"`
	GithubIssue *githubIssuePayload `json:"github_issue"`
}

type githubIssuePayload struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Number int    `json:"number"`
}

// Service runs the single-worker dispatch loop.
type Service struct {
	store        *store.Store
	queue        *queue.Queue
	runner       *runner.Runner
	pollInterval time.Duration
	logger       *logger.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Service.
func New(s *store.Store, q *queue.Queue, r *runner.Runner, pollInterval time.Duration, log *logger.Logger) *Service {
	return &Service{
		store:        s,
		queue:        q,
		runner:       r,
		pollInterval: pollInterval,
		logger:       log.WithFields(zap.String("component", "orchestrator")),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run loops until Stop is called: dequeue, dispatch, repeat; an empty
// queue sleeps for the poll interval (interruptible by Stop) before
// retrying. Returns once the loop has fully exited.
func (s *Service) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		task, ok, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.logger.Error("dequeue failed", zap.Error(err))
			if s.sleepOrStop() {
				return
			}
			continue
		}
		if !ok {
			if s.sleepOrStop() {
				return
			}
			continue
		}

		s.dispatch(ctx, task)
	}
}

// Stop requests the loop exit at its next wake point. It does not cancel
// an in-flight dispatch.
func (s *Service) Stop() {
	close(s.stop)
}

// Done is closed once Run has fully exited, for callers that want to wait
// for in-flight work to finish after calling Stop.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) sleepOrStop() bool {
	timer := time.NewTimer(s.pollInterval)
	defer timer.Stop()
	select {
	case <-s.stop:
		return true
	case <-timer.C:
		return false
	}
}

// dispatch runs one task to completion: create an execution, build the
// prompt, invoke the runner, and finalize task status. Any orchestrator-side
// failure (bad payload, missing working_dir, prompt-build error, runner
// start failure) is captured as a single system/orchestrator_error event
// rather than propagated.
func (s *Service) dispatch(ctx context.Context, task store.Task) {
	ctx, span := tracing.StartDispatch(ctx, task.ID)
	defer span.End()

	log := s.logger.WithTaskID(task.ID)
	execution, err := s.store.CreateExecution(ctx, task.ID, task.Kind)
	if err != nil {
		log.Error("failed to create execution", zap.Error(err))
		return
	}
	log = log.WithExecutionID(execution.ID)

	exitCode, runErr := s.runTask(ctx, task, execution)
	if runErr != nil {
		log.Error("orchestrator-side dispatch failure", zap.Error(runErr))
		if _, err := s.store.AppendExecutionEvent(ctx, execution.ID, 1, "system", "orchestrator_error", runErr.Error()); err != nil {
			log.Error("failed to append orchestrator_error event", zap.Error(err))
		}
		if _, err := s.store.MarkExecutionFailed(ctx, execution.ID, nil); err != nil {
			log.Error("failed to mark execution failed", zap.Error(err))
		}
		if _, err := s.store.MarkTaskFailed(ctx, task.ID); err != nil {
			log.Error("failed to mark task failed", zap.Error(err))
		}
		return
	}

	if exitCode == 0 {
		if _, err := s.store.MarkTaskSucceeded(ctx, task.ID); err != nil {
			log.Error("failed to mark task succeeded", zap.Error(err))
		}
	} else {
		if _, err := s.store.MarkTaskFailed(ctx, task.ID); err != nil {
			log.Error("failed to mark task failed", zap.Error(err))
		}
	}
}

// runTask parses the payload, builds the prompt, and invokes the runner.
// A non-nil error here means no execution-level finalization has
// happened yet; the caller is responsible for the orchestrator_error path.
func (s *Service) runTask(ctx context.Context, task store.Task, execution store.Execution) (int, error) {
	var payload taskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return 0, apperrors.Validation("malformed task payload: %v", err)
	}

	info, err := os.Stat(payload.WorkingDir)
	if err != nil || !info.IsDir() {
		return 0, apperrors.Validation("working_dir does not exist: %s", payload.WorkingDir)
	}

	taskType, err := prompt.NormalizeTaskType(payload.TaskType)
	if err != nil {
		return 0, err
	}

	req := prompt.Request{
		TaskType:    taskType,
		InputMode:   payload.InputMode,
		Instruction: payload.Instruction,
		WorkingDir:  payload.WorkingDir,
	}
	if payload.GithubIssue != nil {
		req.GithubIssue = &prompt.GithubIssue{
			URL:    payload.GithubIssue.URL,
			Title:  payload.GithubIssue.Title,
			Body:   payload.GithubIssue.Body,
			Number: payload.GithubIssue.Number,
		}
	}

	builtPrompt, err := prompt.Build(req)
	if err != nil {
		return 0, err
	}

	result, err := s.runner.Run(ctx, execution.ID, payload.WorkingDir, builtPrompt)
	if err != nil {
		return 0, err
	}
	return result.ExitCode, nil
}
