package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rfenwick/bluejay/internal/config"
	"github.com/rfenwick/bluejay/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	// webSearchToolType is the server-side search tool identifier.
	// The provider executes it; its invocation is visible in the
	// response as a server_tool_use block.
	webSearchToolType = "web_search_20250305"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey           string
	model            string
	maxTokens        int
	enableWebSearch  bool
	webSearchMaxUses int
	httpClient       *http.Client
	logger           *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client from config.
func NewAnthropicClient(cfg config.LLMConfig, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// LLM responses can take significant time before sending headers
	// (thinking, long prompts, server-side search). Use a generous
	// response header timeout and no global client timeout; rely on
	// ctx deadlines for cancellation.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey:           cfg.APIKey,
		model:            cfg.Model,
		maxTokens:        cfg.ResponseMaxTokens,
		enableWebSearch:  cfg.EnableWebSearch,
		webSearchMaxUses: cfg.WebSearchMaxUses,
		logger:           logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []map[string]any   `json:"tools,omitempty"`
	Metadata  *anthropicMetadata `json:"metadata,omitempty"`
}

type anthropicMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"` // string for tool_result; opaque for server tool results
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	apiReq := anthropicRequest{
		Model:     c.model,
		Messages:  convertMessages(req.Messages),
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     c.convertTools(req.Tools),
	}
	if req.ChatID != "" {
		apiReq.Metadata = &anthropicMetadata{UserID: req.ChatID}
	}

	jsonData, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", c.model,
		"messages", len(apiReq.Messages),
		"tools", len(apiReq.Tools),
		"system_len", len(req.System),
	)
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	return c.decodeResponse(ctx, resp.Body)
}

// Ping checks if the Anthropic API is reachable by sending a minimal
// single-token request.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	req := anthropicRequest{
		Model:     c.model,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", httpResp.StatusCode)
	}
	return nil
}

func (c *AnthropicClient) decodeResponse(ctx context.Context, body io.Reader) (*Response, error) {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &Response{
		Model:        resp.Model,
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Blocks = append(result.Blocks, Block{Type: BlockText, Text: block.Text})
		case "tool_use":
			input, ok := block.Input.(map[string]any)
			if !ok {
				input = map[string]any{}
			}
			result.Blocks = append(result.Blocks, Block{
				Type:  BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		case "server_tool_use":
			result.Blocks = append(result.Blocks, Block{
				Type: BlockServerToolUse,
				ID:   block.ID,
				Name: block.Name,
			})
			// web_search_tool_result blocks are provider-internal;
			// their content surfaces in subsequent text blocks.
		}
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"blocks", len(result.Blocks),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Text())

	return result, nil
}

// convertMessages converts internal messages to Anthropic wire format.
func convertMessages(messages []Message) []anthropicMessage {
	result := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		// Single text block collapses to a plain string.
		if len(msg.Blocks) == 1 && msg.Blocks[0].Type == BlockText {
			result = append(result, anthropicMessage{Role: msg.Role, Content: msg.Blocks[0].Text})
			continue
		}

		var blocks []anthropicContent
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockText:
				blocks = append(blocks, anthropicContent{Type: "text", Text: b.Text})
			case BlockToolUse:
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				})
			case BlockServerToolUse:
				// Server tool invocations are never echoed back;
				// the provider tracks them internally.
			case BlockToolResult:
				blocks = append(blocks, anthropicContent{
					Type:      "tool_result",
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
				})
			}
		}
		result = append(result, anthropicMessage{Role: msg.Role, Content: blocks})
	}
	return result
}

// convertTools converts tool definitions to Anthropic wire format and
// appends the server-side web_search tool when enabled.
func (c *AnthropicClient) convertTools(tools []ToolDef) []map[string]any {
	var result []map[string]any
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schema,
		})
	}

	if c.enableWebSearch {
		result = append(result, map[string]any{
			"type":     webSearchToolType,
			"name":     "web_search",
			"max_uses": c.webSearchMaxUses,
		})
	}

	return result
}
