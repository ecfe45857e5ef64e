package orchestrator

import (
	"strings"
	"testing"
)

func TestEscapeRoundTrip(t *testing.T) {
	inputs := []string{
		"plain text",
		"a < b && b > c",
		"<script>alert('&')</script>",
		"&amp; already escaped",
	}
	for _, in := range inputs {
		if got := UnescapeText(EscapeText(in)); got != in {
			t.Errorf("round trip of %q = %q", in, got)
		}
	}
}

func TestBuildPromptSections(t *testing.T) {
	trig := &Trigger{
		Kind:    TriggerUser,
		Payload: "What's the weather?",
		History: []HistoryEntry{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hey!"},
		},
	}

	prompt := buildPrompt(trig, 2)

	if !strings.Contains(prompt, "<conversation_history>") {
		t.Error("missing conversation_history section")
	}
	if !strings.Contains(prompt, "<user_message>hi</user_message>") {
		t.Error("missing user history entry")
	}
	if !strings.Contains(prompt, "<assistant_message>hey!</assistant_message>") {
		t.Error("missing assistant history entry")
	}
	if !strings.Contains(prompt, "<active_agents>2 worker(s) currently running</active_agents>") {
		t.Error("missing active_agents section")
	}
	if !strings.Contains(prompt, "<new_user_message>What's the weather?</new_user_message>") {
		t.Error("missing trigger payload")
	}

	// Sections appear in order.
	hIdx := strings.Index(prompt, "<conversation_history>")
	aIdx := strings.Index(prompt, "<active_agents>")
	mIdx := strings.Index(prompt, "<new_user_message>")
	if !(hIdx < aIdx && aIdx < mIdx) {
		t.Errorf("sections out of order:\n%s", prompt)
	}
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	trig := &Trigger{Kind: TriggerUser, Payload: "hello"}
	prompt := buildPrompt(trig, 0)

	if strings.Contains(prompt, "conversation_history") {
		t.Error("empty history rendered")
	}
	if strings.Contains(prompt, "active_agents") {
		t.Error("zero active agents rendered")
	}
}

func TestBuildPromptWorkerResultTag(t *testing.T) {
	trig := &Trigger{Kind: TriggerWorkerResult, Payload: "[SUCCESS] Weather Lookup: 72°F"}
	prompt := buildPrompt(trig, 0)

	if !strings.Contains(prompt, "<new_agent_message>") {
		t.Errorf("worker_result trigger not tagged as agent message:\n%s", prompt)
	}
}

func TestBuildPromptEscapesHistory(t *testing.T) {
	trig := &Trigger{
		Kind:    TriggerUser,
		Payload: "2 < 3",
		History: []HistoryEntry{{Role: "user", Content: "a & b <ok>"}},
	}
	prompt := buildPrompt(trig, 0)

	if !strings.Contains(prompt, "a &amp; b &lt;ok&gt;") {
		t.Errorf("history not escaped:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2 &lt; 3") {
		t.Errorf("payload not escaped:\n%s", prompt)
	}
}

func TestBuildPromptWindowsHistory(t *testing.T) {
	var history []HistoryEntry
	for i := 0; i < 15; i++ {
		history = append(history, HistoryEntry{Role: "user", Content: string(rune('a' + i))})
	}
	trig := &Trigger{Kind: TriggerUser, Payload: "x", History: history}
	prompt := buildPrompt(trig, 0)

	if strings.Contains(prompt, "<user_message>a</user_message>") {
		t.Error("oldest entry should be outside the 10-entry window")
	}
	if !strings.Contains(prompt, "<user_message>o</user_message>") {
		t.Error("newest entry missing")
	}
	if got := strings.Count(prompt, "<user_message>"); got != 10 {
		t.Errorf("rendered %d history entries, want 10", got)
	}
}
