// Package worker implements named execution workers: task-specialized
// LLM loops with persistent per-worker memory.
package worker

import (
	"sync"

	"github.com/rfenwick/bluejay/internal/worklog"
)

// Worker is a named execution agent. The name is user-meaningful
// (e.g. "Reminder Worker", "Weather Lookup") and is the reuse key:
// delegations to the same name share one Worker and its history.
type Worker struct {
	Name string

	mu      sync.Mutex
	history []worklog.Entry
}

// Append adds an entry to the worker's in-memory history. History is
// append-only; entries are never mutated.
func (w *Worker) Append(e worklog.Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, e)
}

// Recent returns a copy of the most recent n history entries in
// chronological order.
func (w *Worker) Recent(n int) []worklog.Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	start := len(w.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]worklog.Entry, len(w.history)-start)
	copy(out, w.history[start:])
	return out
}

// HistoryLen returns the number of in-memory history entries.
func (w *Worker) HistoryLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.history)
}

// ExecutionResult is the outcome of one delegated task execution.
type ExecutionResult struct {
	WorkerName   string   `json:"worker_name"`
	OK           bool     `json:"ok"`
	ResponseText string   `json:"response_text"`
	ToolsUsed    []string `json:"tools_used,omitempty"`
	Iterations   int      `json:"iterations"`
	ErrorText    string   `json:"error_text,omitempty"`
}
