// Package orchestrator implements the user-facing interaction loop:
// bounded LLM iterations over the interaction tools, producing sends,
// reactions, and delegations.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rfenwick/bluejay/internal/batch"
	"github.com/rfenwick/bluejay/internal/llm"
	"github.com/rfenwick/bluejay/internal/msgfmt"
	"github.com/rfenwick/bluejay/internal/prompts"
	"github.com/rfenwick/bluejay/internal/tools"
	"github.com/rfenwick/bluejay/internal/transport"
	"github.com/rfenwick/bluejay/internal/worker"
)

// Trigger kinds.
const (
	TriggerUser         = "user"
	TriggerWorkerResult = "worker_result"
)

// HistoryEntry is one rolling-history message for the structured
// prompt.
type HistoryEntry struct {
	Role    string // user or assistant
	Content string
}

// Trigger is one orchestrator invocation: an inbound user message or a
// completed worker batch.
type Trigger struct {
	Kind    string
	ChatID  string
	Payload string
	History []HistoryEntry

	// Tapback suppresses pre-emptive acknowledgments for this
	// trigger.
	Tapback bool
	// Acked records that an acknowledgment was already sent (by the
	// gating layer) before the loop started.
	Acked bool
	// LastInboundID is the reaction target for the react tool.
	LastInboundID string
}

// Result is the outcome of one orchestrator loop.
type Result struct {
	OK         bool
	Error      string
	Iterations int
	SentTexts  int
	Delegated  int
}

// Delegator abstracts the batch coordinator.
type Delegator interface {
	ExecuteWorker(ctx context.Context, workerName, instructions, requestID string) *worker.ExecutionResult
	PendingCount() int
}

// OutboundRecorder is notified of every outbound text so the gating
// layer's echo cache stays current.
type OutboundRecorder interface {
	RecordOutbound(chatID, text string)
}

// ackTexts are cycled through for pre-emptive acknowledgments.
var ackTexts = []string{
	"On it, one sec",
	"Looking into it…",
	"Let me check",
	"Give me a moment",
}

var ackIndex int

// AckText returns the next short acknowledgment text.
func AckText() string {
	text := ackTexts[ackIndex%len(ackTexts)]
	ackIndex++
	return text
}

// Loop runs interaction iterations for one trigger at a time. A single
// Loop serves all conversations; the gating layer serializes calls per
// chat id.
type Loop struct {
	logger        *slog.Logger
	llm           llm.Client
	sender        transport.Sender
	recorder      OutboundRecorder
	maxIterations int
}

// NewLoop creates an orchestrator loop.
func NewLoop(logger *slog.Logger, llmClient llm.Client, sender transport.Sender, recorder OutboundRecorder, maxIterations int) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if maxIterations <= 0 {
		maxIterations = 8
	}
	return &Loop{
		logger:        logger,
		llm:           llmClient,
		sender:        sender,
		recorder:      recorder,
		maxIterations: maxIterations,
	}
}

// Run executes one bounded interaction loop for the trigger.
// Delegations go to the trigger conversation's coordinator. Side
// effects already performed are not rolled back on failure.
func (l *Loop) Run(ctx context.Context, trig *Trigger, delegator Delegator) *Result {
	log := l.logger.With("chat", trig.ChatID, "trigger", trig.Kind)
	startTime := time.Now()

	acked := trig.Acked
	result := &Result{}

	messages := []llm.Message{llm.UserText(buildPrompt(trig, delegator.PendingCount()))}

	for i := 0; i < l.maxIterations; i++ {
		result.Iterations = i + 1

		req := &llm.Request{
			System:   prompts.InteractionSystemPrompt,
			Messages: messages,
			Tools:    interactionToolDefs(),
		}
		// Only the first call carries the chat id; the caller uses it
		// to start typing exactly once.
		if i == 0 {
			req.ChatID = trig.ChatID
		}

		log.Info("llm call", "iter", i, "msgs", len(messages))

		resp, err := l.llm.Complete(ctx, req)
		if err != nil {
			log.Error("llm call failed", "iter", i, "error", err)
			result.Error = err.Error()
			return result
		}

		log.Info("llm response",
			"iter", i,
			"stop_reason", resp.StopReason,
			"blocks", len(resp.Blocks),
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		// A server-side search is slow enough to deserve an
		// acknowledgment if one hasn't gone out yet.
		if resp.HasServerToolUse() && !acked && !trig.Tapback {
			l.sendAck(ctx, log, trig.ChatID)
			acked = true
		}

		toolUses := resp.ToolUses()

		// Terminal condition: no client-side tool use. Flush any text
		// to the user and return.
		if len(toolUses) == 0 {
			if text := resp.Text(); text != "" {
				l.sendText(ctx, log, trig.ChatID, text)
				result.SentTexts++
			}
			log.Info("orchestrator loop completed",
				"iterations", result.Iterations,
				"sent", result.SentTexts,
				"delegated", result.Delegated,
				"elapsed", time.Since(startTime).Round(time.Millisecond),
			)
			result.OK = true
			return result
		}

		// Execute interaction tools in block order.
		messages = append(messages, llm.Message{Role: "assistant", Blocks: resp.Blocks})

		var resultBlocks []llm.Block
		for _, tu := range toolUses {
			var toolResult string
			switch tu.Name {
			case "send_to_user":
				toolResult = l.handleSendToUser(ctx, log, trig.ChatID, tu.Input)
				result.SentTexts++
			case "send_to_worker":
				if !acked && !trig.Tapback {
					l.sendAck(ctx, log, trig.ChatID)
					acked = true
				}
				toolResult = l.handleSendToWorker(log, delegator, trig.ChatID, tu.Input)
				result.Delegated++
			case "wait":
				reason, _ := tu.Input["reason"].(string)
				log.Info("model chose to wait", "reason", reason)
				toolResult = "Waiting: " + reason
			case "react":
				toolResult = l.handleReact(ctx, log, trig, tu.Input)
			default:
				log.Warn("unknown interaction tool", "tool", tu.Name)
				toolResult = fmt.Sprintf("Error: unknown tool %q", tu.Name)
			}
			resultBlocks = append(resultBlocks, llm.ToolResultBlock(tu.ID, toolResult))
		}

		messages = append(messages, llm.Message{Role: "user", Blocks: resultBlocks})
	}

	log.Warn("orchestrator max iterations reached", "max_iterations", l.maxIterations)
	result.Error = "max iterations reached"
	return result
}

// handleSendToUser formats and sends one outbound message, splitting
// it into bubbles.
func (l *Loop) handleSendToUser(ctx context.Context, log *slog.Logger, chatID string, input map[string]any) string {
	message, _ := input["message"].(string)
	if message == "" {
		return "Error: message is required"
	}
	l.sendText(ctx, log, chatID, message)
	return "Message sent."
}

// sendText renders, splits, and sends text, recording each bubble in
// the echo cache.
func (l *Loop) sendText(ctx context.Context, log *slog.Logger, chatID, text string) {
	for _, bubble := range msgfmt.SplitBubbles(msgfmt.Render(text)) {
		if err := l.sender.SendText(ctx, chatID, bubble); err != nil {
			log.Error("send failed", "error", err)
			continue
		}
		if l.recorder != nil {
			l.recorder.RecordOutbound(chatID, bubble)
		}
	}
}

// handleSendToWorker enqueues a delegation. Fire-and-forget: the
// execution runs concurrently and its batch aggregate arrives later as
// a worker_result trigger on the same conversation.
func (l *Loop) handleSendToWorker(log *slog.Logger, delegator Delegator, chatID string, input map[string]any) string {
	workerName, _ := input["worker_name"].(string)
	instructions, _ := input["instructions"].(string)
	if workerName == "" || instructions == "" {
		return "Error: worker_name and instructions are required"
	}

	requestID := batch.NewRequestID()
	log.Info("delegating to worker",
		"worker", workerName,
		"request_id", requestID,
	)

	go func() {
		// Detached from the trigger's lifecycle: the worker outlives
		// this orchestrator loop. The conversation id rides along so
		// tools (reminders, email) know which chat they serve.
		ctx := tools.WithConversationID(context.Background(), chatID)
		delegator.ExecuteWorker(ctx, workerName, instructions, requestID)
	}()

	return fmt.Sprintf("Delegated to %s (request %s). The result will arrive as a new agent message.", workerName, requestID)
}

// handleReact sends a tapback reaction targeting the most recent
// inbound message.
func (l *Loop) handleReact(ctx context.Context, log *slog.Logger, trig *Trigger, input map[string]any) string {
	kind, _ := input["reaction"].(string)
	if !transport.ValidReaction(kind) {
		return fmt.Sprintf("Error: unknown reaction %q", kind)
	}
	if trig.LastInboundID == "" {
		return "Error: no recent message to react to"
	}
	if err := l.sender.SendReaction(ctx, trig.ChatID, trig.LastInboundID, transport.ReactionKind(kind)); err != nil {
		log.Error("reaction send failed", "error", err)
		return "Error: " + err.Error()
	}
	log.Info("reaction sent", "reaction", kind, "target", trig.LastInboundID)
	return "Reaction sent."
}

func (l *Loop) sendAck(ctx context.Context, log *slog.Logger, chatID string) {
	text := AckText()
	if err := l.sender.SendText(ctx, chatID, text); err != nil {
		log.Warn("acknowledgment send failed", "error", err)
		return
	}
	if l.recorder != nil {
		l.recorder.RecordOutbound(chatID, text)
	}
	log.Debug("acknowledgment sent")
}

// interactionToolDefs returns the tool surface exposed to the model.
func interactionToolDefs() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        "send_to_user",
			Description: "Send a text message to the user. Split into multiple bubbles with \"||\".",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The message text to send",
					},
				},
				"required": []string{"message"},
			},
		},
		{
			Name:        "send_to_worker",
			Description: "Delegate a task to a named worker. The worker runs concurrently; its result arrives later as an agent message.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"worker_name": map[string]any{
						"type":        "string",
						"description": "Stable, task-descriptive worker name (e.g. \"Weather Lookup\")",
					},
					"instructions": map[string]any{
						"type":        "string",
						"description": "What the worker should do",
					},
				},
				"required": []string{"worker_name", "instructions"},
			},
		},
		{
			Name:        "wait",
			Description: "Do nothing. Use when the message needs no response.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Why no action is needed",
					},
				},
				"required": []string{"reason"},
			},
		},
		{
			Name:        "react",
			Description: "Apply a tapback reaction to the user's most recent message.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reaction": map[string]any{
						"type": "string",
						"enum": []string{"love", "like", "dislike", "laugh", "emphasize", "question"},
					},
				},
				"required": []string{"reaction"},
			},
		},
	}
}
