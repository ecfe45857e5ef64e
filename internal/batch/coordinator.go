// Package batch coordinates concurrent worker executions for one
// conversation. Executions launched while a batch is open join it; the
// aggregate of all results is dispatched exactly once, when the last
// execution finishes.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rfenwick/bluejay/internal/worker"
)

// WorkerRunner abstracts the worker runtime for testability. The real
// implementation is *worker.Runtime.
type WorkerRunner interface {
	Execute(ctx context.Context, w *worker.Worker, instructions string) *worker.ExecutionResult
}

// CompleteFunc receives the formatted aggregate payload once per
// batch. It is read by the LLM, not by end users, so the format is
// deliberately plain.
type CompleteFunc func(aggregate string)

// batchState tracks one in-flight batch. At most one exists at a time;
// a new batch starts only after the previous one drained and its
// aggregate was dispatched.
type batchState struct {
	id        string
	createdAt time.Time
	pending   int
	results   []*worker.ExecutionResult
}

// pendingExecution tracks one registered execution keyed by request id.
type pendingExecution struct {
	requestID    string
	workerName   string
	instructions string
	batchID      string
	createdAt    time.Time
}

// Coordinator owns the in-flight worker executions for a conversation
// loop. All state mutations are serialized by mu; executions
// themselves run concurrently.
type Coordinator struct {
	logger     *slog.Logger
	roster     *worker.Roster
	runner     WorkerRunner
	timeout    time.Duration
	onComplete CompleteFunc

	mu      sync.Mutex
	current *batchState
	pending map[string]*pendingExecution
}

// NewCoordinator creates a batch coordinator. The onComplete callback
// is required — there is no event-emitter fallback.
func NewCoordinator(logger *slog.Logger, roster *worker.Roster, runner WorkerRunner, timeout time.Duration, onComplete CompleteFunc) *Coordinator {
	if onComplete == nil {
		panic("batch: onComplete callback is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Coordinator{
		logger:     logger,
		roster:     roster,
		runner:     runner,
		timeout:    timeout,
		onComplete: onComplete,
		pending:    make(map[string]*pendingExecution),
	}
}

// PendingCount returns the number of in-flight executions.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ExecuteWorker runs the named worker with the given instructions and
// blocks until that execution finishes, fails, or times out. The
// execution is registered in the current batch (creating one if
// needed); when the batch drains, the aggregate is dispatched via the
// completion callback before this call returns its own result.
//
// An empty requestID is replaced with a fresh one.
func (c *Coordinator) ExecuteWorker(ctx context.Context, workerName, instructions, requestID string) *worker.ExecutionResult {
	if requestID == "" {
		requestID = NewRequestID()
	}

	c.mu.Lock()
	if c.current == nil {
		c.current = &batchState{
			id:        uuid.New().String(),
			createdAt: time.Now(),
		}
		c.logger.Debug("batch created", "batch_id", c.current.id)
	}
	batch := c.current
	batch.pending++
	c.pending[requestID] = &pendingExecution{
		requestID:    requestID,
		workerName:   workerName,
		instructions: instructions,
		batchID:      batch.id,
		createdAt:    time.Now(),
	}
	c.mu.Unlock()

	c.logger.Info("worker execution registered",
		"batch_id", batch.id,
		"request_id", requestID,
		"worker", workerName,
	)

	w, _ := c.roster.GetOrCreate(workerName)

	// Race the runtime against the timeout. On timeout the in-flight
	// runtime is not aborted — it completes in the background and its
	// result is discarded (the channel is buffered).
	resultCh := make(chan *worker.ExecutionResult, 1)
	go func() {
		resultCh <- c.runner.Execute(ctx, w, instructions)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var result *worker.ExecutionResult
	select {
	case result = <-resultCh:
	case <-timer.C:
		seconds := int(c.timeout / time.Second)
		c.logger.Warn("worker execution timed out",
			"batch_id", batch.id,
			"request_id", requestID,
			"worker", workerName,
			"timeout_seconds", seconds,
		)
		result = &worker.ExecutionResult{
			WorkerName:   workerName,
			OK:           false,
			ResponseText: fmt.Sprintf("Execution timed out after %d seconds", seconds),
			ErrorText:    "timeout",
		}
	}

	c.settle(batch, requestID, result)
	return result
}

// settle removes the pending record, appends the result, and — when
// this was the last pending execution — snapshots the batch, clears
// it so subsequent delegations start fresh, and dispatches the
// aggregate exactly once.
func (c *Coordinator) settle(batch *batchState, requestID string, result *worker.ExecutionResult) {
	c.mu.Lock()
	delete(c.pending, requestID)
	batch.results = append(batch.results, result)
	batch.pending--
	done := batch.pending == 0

	var aggregate string
	if done {
		aggregate = formatAggregate(batch.results)
		c.current = nil
	}
	c.mu.Unlock()

	c.logger.Info("worker execution settled",
		"batch_id", batch.id,
		"request_id", requestID,
		"worker", result.WorkerName,
		"ok", result.OK,
		"batch_done", done,
	)

	if done {
		c.logger.Info("batch completed",
			"batch_id", batch.id,
			"results", len(batch.results),
			"elapsed", time.Since(batch.createdAt).Round(time.Millisecond),
		)
		c.onComplete(aggregate)
	}
}

// formatAggregate renders results as one block per result, separated
// by a blank line, in completion order.
func formatAggregate(results []*worker.ExecutionResult) string {
	var parts []string
	for _, r := range results {
		status := "SUCCESS"
		if !r.OK {
			status = "FAILED"
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "[%s] %s", status, r.WorkerName)
		if len(r.ToolsUsed) > 0 {
			fmt.Fprintf(&sb, " (tools: %s)", strings.Join(r.ToolsUsed, ", "))
		}
		text := r.ResponseText
		if text == "" {
			text = r.ErrorText
		}
		fmt.Fprintf(&sb, ": %s", text)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n\n")
}

// NewRequestID returns a short request identifier for delegation
// correlation (e.g. "req_018f4c72").
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "req_" + uuid.New().String()[:8]
	}
	return "req_" + id.String()[:8]
}
