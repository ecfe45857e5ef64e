package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rfenwick/bluejay/internal/tools"
)

// RegisterTools adds the email tools to a registry.
func RegisterTools(r *tools.Registry, client Lister, mailbox string) {
	r.Register(&tools.Tool{
		Name:        "list_recent_email",
		Description: "List the most recent email messages in the inbox with sender, subject, and a short excerpt.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "How many messages to return (default 10, max 50)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			limit := 10
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}
			if limit > 50 {
				limit = 50
			}

			envelopes, err := client.ListMessages(ctx, mailbox, 0, limit)
			if err != nil {
				return "", fmt.Errorf("list messages: %w", err)
			}
			if len(envelopes) == 0 {
				return "No messages found.", nil
			}

			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d message(s), oldest first:\n", len(envelopes))
			for _, env := range envelopes {
				fmt.Fprintf(&sb, "- [%d] %s — %s (%s)\n",
					env.UID, env.From, env.Subject, env.Date.Format(time.RFC3339))
				if env.Snippet != "" {
					fmt.Fprintf(&sb, "  %s\n", firstLine(env.Snippet))
				}
			}
			return sb.String(), nil
		},
	})
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
