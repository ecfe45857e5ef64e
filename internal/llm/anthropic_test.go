package llm

import (
	"testing"

	"github.com/rfenwick/bluejay/internal/config"
)

func TestConvertMessagesCollapsesSingleText(t *testing.T) {
	msgs := convertMessages([]Message{UserText("hello")})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	content, ok := msgs[0].Content.(string)
	if !ok || content != "hello" {
		t.Errorf("content = %#v, want plain string %q", msgs[0].Content, "hello")
	}
}

func TestConvertMessagesToolBlocks(t *testing.T) {
	msgs := convertMessages([]Message{
		{
			Role: "assistant",
			Blocks: []Block{
				TextBlock("checking"),
				{Type: BlockToolUse, ID: "toolu_1", Name: "send_to_user", Input: map[string]any{"message": "hi"}},
			},
		},
		{
			Role:   "user",
			Blocks: []Block{ToolResultBlock("toolu_1", "Sent.")},
		},
	})

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	blocks, ok := msgs[0].Content.([]anthropicContent)
	if !ok {
		t.Fatalf("assistant content is %T, want []anthropicContent", msgs[0].Content)
	}
	if len(blocks) != 2 || blocks[1].Type != "tool_use" || blocks[1].ID != "toolu_1" {
		t.Errorf("unexpected assistant blocks: %+v", blocks)
	}

	results, ok := msgs[1].Content.([]anthropicContent)
	if !ok || len(results) != 1 {
		t.Fatalf("tool result content = %#v", msgs[1].Content)
	}
	if results[0].Type != "tool_result" || results[0].ToolUseID != "toolu_1" {
		t.Errorf("unexpected tool result block: %+v", results[0])
	}
}

func TestConvertMessagesDropsServerToolUse(t *testing.T) {
	msgs := convertMessages([]Message{
		{
			Role: "assistant",
			Blocks: []Block{
				{Type: BlockServerToolUse, Name: "web_search"},
				TextBlock("result summary"),
			},
		},
	})

	blocks, ok := msgs[0].Content.([]anthropicContent)
	if !ok {
		t.Fatalf("content is %T", msgs[0].Content)
	}
	for _, b := range blocks {
		if b.Type == "server_tool_use" {
			t.Error("server_tool_use block must not be echoed back to the provider")
		}
	}
}

func TestConvertToolsAppendsWebSearch(t *testing.T) {
	c := NewAnthropicClient(config.LLMConfig{
		APIKey:           "k",
		Model:            "claude-sonnet-4-20250514",
		EnableWebSearch:  true,
		WebSearchMaxUses: 5,
	}, nil)

	tools := c.convertTools([]ToolDef{{Name: "wait"}})
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	last := tools[1]
	if last["type"] != webSearchToolType || last["name"] != "web_search" {
		t.Errorf("unexpected server tool: %+v", last)
	}
	if last["max_uses"] != 5 {
		t.Errorf("max_uses = %v, want 5", last["max_uses"])
	}
}

func TestConvertToolsWithoutWebSearch(t *testing.T) {
	c := NewAnthropicClient(config.LLMConfig{APIKey: "k", Model: "m"}, nil)
	tools := c.convertTools([]ToolDef{{Name: "wait"}})
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0]["input_schema"] == nil {
		t.Error("nil schema should default to an empty object schema")
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := &Response{Blocks: []Block{
		TextBlock("a"),
		{Type: BlockServerToolUse, Name: "web_search"},
		{Type: BlockToolUse, ID: "t1", Name: "wait"},
		TextBlock("b"),
	}}

	if got := resp.Text(); got != "a\nb" {
		t.Errorf("Text() = %q, want %q", got, "a\nb")
	}
	if !resp.HasServerToolUse() {
		t.Error("HasServerToolUse() = false, want true")
	}
	uses := resp.ToolUses()
	if len(uses) != 1 || uses[0].Name != "wait" {
		t.Errorf("ToolUses() = %+v", uses)
	}
}
