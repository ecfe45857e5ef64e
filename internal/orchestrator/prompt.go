package orchestrator

import (
	"fmt"
	"strings"
)

// historyWindow bounds how many conversation entries are rendered into
// the structured prompt.
const historyWindow = 10

// xmlEscaper escapes the three characters that would break the tagged
// prompt sections. Deliberately not encoding/xml: the contract is
// exactly &, <, > and nothing else, so the escape round-trips.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// xmlUnescaper reverses xmlEscaper.
var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
)

// EscapeText escapes &, <, > for embedding in a tagged prompt section.
func EscapeText(s string) string {
	return xmlEscaper.Replace(s)
}

// UnescapeText reverses EscapeText.
func UnescapeText(s string) string {
	return xmlUnescaper.Replace(s)
}

// buildPrompt assembles the first-iteration user message: tagged
// sections for conversation history, active delegations, and the
// trigger payload, in that order. Empty sections are omitted.
func buildPrompt(trig *Trigger, activeAgents int) string {
	var sb strings.Builder

	history := trig.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		sb.WriteString("<conversation_history>\n")
		for _, entry := range history {
			tag := "user_message"
			if entry.Role == "assistant" {
				tag = "assistant_message"
			}
			fmt.Fprintf(&sb, "<%s>%s</%s>\n", tag, EscapeText(entry.Content), tag)
		}
		sb.WriteString("</conversation_history>\n\n")
	}

	if activeAgents > 0 {
		fmt.Fprintf(&sb, "<active_agents>%d worker(s) currently running</active_agents>\n\n", activeAgents)
	}

	tag := "new_user_message"
	if trig.Kind == TriggerWorkerResult {
		tag = "new_agent_message"
	}
	fmt.Fprintf(&sb, "<%s>%s</%s>", tag, EscapeText(trig.Payload), tag)

	return sb.String()
}
