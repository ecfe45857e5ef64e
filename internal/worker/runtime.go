package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rfenwick/bluejay/internal/llm"
	"github.com/rfenwick/bluejay/internal/prompts"
	"github.com/rfenwick/bluejay/internal/tools"
	"github.com/rfenwick/bluejay/internal/worklog"
)

// historyWindow is how many recent history entries are rendered into
// the worker system prompt.
const historyWindow = 20

// historySnippetLen bounds the rendered content of one history entry.
const historySnippetLen = 200

// Runtime runs one bounded tool-use loop per delegated task.
type Runtime struct {
	logger        *slog.Logger
	llm           llm.Client
	registry      *tools.Registry
	store         *worklog.Store
	maxIterations int
}

// NewRuntime creates a worker runtime. The store may be nil in tests;
// persistence is then skipped.
func NewRuntime(logger *slog.Logger, llmClient llm.Client, registry *tools.Registry, store *worklog.Store, maxIterations int) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIterations <= 0 {
		maxIterations = 8
	}
	return &Runtime{
		logger:        logger,
		llm:           llmClient,
		registry:      registry,
		store:         store,
		maxIterations: maxIterations,
	}
}

// Execute runs the delegated task to completion or budget exhaustion.
// Failures are captured in the result rather than returned: the batch
// coordinator treats every completion uniformly.
func (r *Runtime) Execute(ctx context.Context, w *Worker, instructions string) *ExecutionResult {
	log := r.logger.With("worker", w.Name)

	log.Info("worker execution started",
		"instructions_len", len(instructions),
		"history_entries", w.HistoryLen(),
	)

	r.record(log, w, worklog.Entry{
		Type:    worklog.EntryRequest,
		Content: instructions,
	}, true)

	system := r.buildSystemPrompt(w)
	messages := []llm.Message{llm.UserText(instructions)}

	var toolsUsed []string
	startTime := time.Now()

	for i := 0; i < r.maxIterations; i++ {
		resp, err := r.llm.Complete(ctx, &llm.Request{
			System:   system,
			Messages: messages,
			Tools:    r.toolDefs(),
		})
		if err != nil {
			log.Error("worker llm call failed", "iter", i, "error", err)
			r.record(log, w, worklog.Entry{
				Type:    worklog.EntryResponse,
				Content: "Execution failed: " + err.Error(),
			}, true)
			return &ExecutionResult{
				WorkerName: w.Name,
				OK:         false,
				ToolsUsed:  toolsUsed,
				Iterations: i + 1,
				ErrorText:  err.Error(),
			}
		}

		toolUses := resp.ToolUses()

		log.Info("worker llm response",
			"iter", i,
			"tool_calls", len(toolUses),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		// No tool-use blocks — the final response.
		if len(toolUses) == 0 {
			text := resp.Text()
			r.record(log, w, worklog.Entry{
				Type:    worklog.EntryResponse,
				Content: text,
			}, true)

			log.Info("worker execution completed",
				"iterations", i+1,
				"tools_used", len(toolsUsed),
				"elapsed", time.Since(startTime).Round(time.Millisecond),
			)
			return &ExecutionResult{
				WorkerName:   w.Name,
				OK:           true,
				ResponseText: text,
				ToolsUsed:    toolsUsed,
				Iterations:   i + 1,
			}
		}

		// Execute tool calls in block order.
		messages = append(messages, llm.Message{Role: "assistant", Blocks: resp.Blocks})

		var resultBlocks []llm.Block
		for _, tu := range toolUses {
			argsJSON := "{}"
			if tu.Input != nil {
				if data, err := json.Marshal(tu.Input); err == nil {
					argsJSON = string(data)
				}
			}

			log.Info("worker tool exec", "iter", i, "tool", tu.Name)

			result, err := r.registry.Execute(ctx, tu.Name, argsJSON)
			toolsUsed = append(toolsUsed, tu.Name)
			if err != nil {
				var denied *tools.ErrPermissionDenied
				switch {
				case errors.As(err, &denied):
					log.Warn("worker tool permission denied",
						"tool", tu.Name,
						"required", denied.Required.String(),
					)
				default:
					log.Error("worker tool exec failed", "tool", tu.Name, "error", err)
				}
				result = "Error: " + err.Error()
			}

			r.record(log, w, worklog.Entry{
				Type:    worklog.EntryAction,
				Content: fmt.Sprintf("Tool: %s, Args: %s, Result: %s", tu.Name, argsJSON, snippet(result, historySnippetLen)),
				Metadata: map[string]string{
					"tool_name": tu.Name,
					"arguments": argsJSON,
				},
			}, true)

			// Tool responses are transient — kept in memory for the
			// prompt window but not persisted.
			r.record(log, w, worklog.Entry{
				Type:    worklog.EntryToolResponse,
				Content: snippet(result, historySnippetLen),
			}, false)

			resultBlocks = append(resultBlocks, llm.ToolResultBlock(tu.ID, result))
		}

		messages = append(messages, llm.Message{Role: "user", Blocks: resultBlocks})
	}

	// Budget exhausted.
	log.Warn("worker max iterations reached", "max_iterations", r.maxIterations)
	r.record(log, w, worklog.Entry{
		Type:    worklog.EntryResponse,
		Content: "Execution stopped: max iterations reached",
	}, true)

	return &ExecutionResult{
		WorkerName: w.Name,
		OK:         false,
		ToolsUsed:  toolsUsed,
		Iterations: r.maxIterations,
		ErrorText:  "max iterations reached",
	}
}

// record appends an entry to the worker's in-memory history and, when
// persist is set, to the log store. Persistence failures are logged
// and do not interrupt execution.
func (r *Runtime) record(log *slog.Logger, w *Worker, e worklog.Entry, persist bool) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	w.Append(e)
	if persist && r.store != nil {
		if err := r.store.SaveEntry(w.Name, &e); err != nil {
			log.Warn("failed to persist history entry",
				"entry_type", e.Type,
				"error", err,
			)
		}
	}
}

// buildSystemPrompt concatenates the fixed base prompt with a compact
// rendering of the worker's recent history.
func (r *Runtime) buildSystemPrompt(w *Worker) string {
	var sb strings.Builder
	sb.WriteString(prompts.WorkerSystemPromptBase)
	sb.WriteString("\n\nYou are the worker named ")
	sb.WriteString(fmt.Sprintf("%q.", w.Name))

	recent := w.Recent(historyWindow)
	if len(recent) > 0 {
		sb.WriteString("\n\nYour recent history (oldest first):\n")
		for _, e := range recent {
			fmt.Fprintf(&sb, "- [%s] (%s) %s\n",
				strings.ToUpper(e.Type),
				e.CreatedAt.Format(time.RFC3339),
				snippet(e.Content, historySnippetLen),
			)
		}
	}
	return sb.String()
}

func (r *Runtime) toolDefs() []llm.ToolDef {
	defs := r.registry.List()
	out := make([]llm.ToolDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

// snippet shortens s to maxLen bytes, adding "..." if truncated.
func snippet(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
