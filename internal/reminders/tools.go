package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rfenwick/bluejay/internal/tools"
)

// RegisterTools adds the reminder tools to a registry. Reminders are
// owned by the conversation carried in the execution context.
func RegisterTools(r *tools.Registry, sched *Scheduler) {
	r.Register(&tools.Tool{
		Name:        "schedule_reminder",
		Description: "Schedule a reminder message for the user. Supports one-shot times and repeating intervals.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Short label for the reminder",
				},
				"when": map[string]any{
					"type":        "string",
					"description": "When to fire: a duration (\"30m\"), \"in 2 hours\", a clock time (\"15:04\", \"3:04pm\"), or RFC3339",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "The reminder text to deliver",
				},
				"repeat": map[string]any{
					"type":        "string",
					"description": "Optional repeat interval (\"daily\", \"hourly\", \"weekly\", or a duration like \"2h\")",
				},
			},
			"required": []string{"name", "when", "message"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return handleSchedule(ctx, sched, args)
		},
	})

	r.Register(&tools.Tool{
		Name:        "list_reminders",
		Description: "List the active reminders for this conversation.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			return handleList(ctx, sched)
		},
	})

	r.Register(&tools.Tool{
		Name:        "cancel_reminder",
		Description: "Cancel a reminder by its ID or ID prefix.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reminder_id": map[string]any{
					"type":        "string",
					"description": "Reminder ID (or unique prefix) to cancel",
				},
			},
			"required": []string{"reminder_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return handleCancel(ctx, sched, args)
		},
	})
}

func handleSchedule(ctx context.Context, sched *Scheduler, args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	when, _ := args["when"].(string)
	message, _ := args["message"].(string)
	repeat, _ := args["repeat"].(string)

	schedule, err := parseWhen(when, repeat)
	if err != nil {
		return "", fmt.Errorf("invalid schedule: %w", err)
	}

	r := &Reminder{
		Name:      name,
		ChatID:    tools.ConversationIDFromContext(ctx),
		Message:   message,
		Schedule:  schedule,
		Enabled:   true,
		CreatedBy: "agent",
	}

	if err := sched.Create(r); err != nil {
		return "", err
	}

	next, _ := r.NextRun(time.Now())
	return fmt.Sprintf("Reminder %q scheduled (ID: %s). Next run: %s", name, r.ID, next.Format(time.RFC3339)), nil
}

func handleList(ctx context.Context, sched *Scheduler) (string, error) {
	chatID := tools.ConversationIDFromContext(ctx)
	list, err := sched.ListForChat(chatID)
	if err != nil {
		return "", err
	}

	if len(list) == 0 {
		return "No active reminders.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d reminder(s):\n", len(list))
	for _, r := range list {
		fmt.Fprintf(&sb, "- %s (%s): %s", r.Name, r.ID[:8], r.Message)
		if next, ok := r.NextRun(time.Now()); ok {
			fmt.Fprintf(&sb, ", next: %s", next.Format("2006-01-02 15:04"))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func handleCancel(ctx context.Context, sched *Scheduler, args map[string]any) (string, error) {
	id, _ := args["reminder_id"].(string)

	// Resolve by full ID or prefix within the conversation's reminders.
	chatID := tools.ConversationIDFromContext(ctx)
	list, err := sched.ListForChat(chatID)
	if err != nil {
		return "", fmt.Errorf("list reminders: %w", err)
	}
	var found *Reminder
	for _, r := range list {
		if r.ID == id || strings.HasPrefix(r.ID, id) {
			found = r
			break
		}
	}
	if found == nil {
		return "", fmt.Errorf("reminder not found: %s", id)
	}

	if err := sched.Cancel(found.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder %q cancelled.", found.Name), nil
}

// parseWhen converts a human-friendly time specification to a
// Schedule.
func parseWhen(when, repeat string) (Schedule, error) {
	now := time.Now()

	// Bare duration (e.g., "30m", "2h").
	if dur, err := time.ParseDuration(when); err == nil {
		if repeat != "" {
			repeatDur, err := parseRepeat(repeat)
			if err != nil {
				return Schedule{}, fmt.Errorf("invalid repeat: %w", err)
			}
			return Schedule{
				Kind:  ScheduleEvery,
				Every: &Duration{Duration: repeatDur},
			}, nil
		}
		at := now.Add(dur)
		return Schedule{Kind: ScheduleAt, At: &at}, nil
	}

	// "in X minutes/hours" format.
	if strings.HasPrefix(strings.ToLower(when), "in ") {
		durStr := strings.TrimPrefix(strings.ToLower(when), "in ")
		if dur, err := parseHumanDuration(durStr); err == nil {
			at := now.Add(dur)
			return Schedule{Kind: ScheduleAt, At: &at}, nil
		}
	}

	// RFC3339 timestamp.
	if t, err := time.Parse(time.RFC3339, when); err == nil {
		return Schedule{Kind: ScheduleAt, At: &t}, nil
	}

	// Common date/time formats.
	formats := []string{
		"2006-01-02 15:04",
		"2006-01-02T15:04",
		"15:04",
		"3:04pm",
		"3:04 pm",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, when); err == nil {
			// For time-only formats, use today's date.
			if format == "15:04" || format == "3:04pm" || format == "3:04 pm" {
				t = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
				// If the time has passed today, schedule for tomorrow.
				if t.Before(now) {
					t = t.Add(24 * time.Hour)
				}
			}
			return Schedule{Kind: ScheduleAt, At: &t}, nil
		}
	}

	return Schedule{}, fmt.Errorf("could not parse time: %s", when)
}

func parseRepeat(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "daily":
		return 24 * time.Hour, nil
	case "hourly":
		return time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

func parseHumanDuration(s string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) < 2 {
		return 0, fmt.Errorf("expected '<number> <unit>'")
	}

	var num int
	if _, err := fmt.Sscanf(parts[0], "%d", &num); err != nil {
		return 0, err
	}

	unit := strings.ToLower(parts[1])
	switch {
	case strings.HasPrefix(unit, "second"):
		return time.Duration(num) * time.Second, nil
	case strings.HasPrefix(unit, "minute"):
		return time.Duration(num) * time.Minute, nil
	case strings.HasPrefix(unit, "hour"):
		return time.Duration(num) * time.Hour, nil
	case strings.HasPrefix(unit, "day"):
		return time.Duration(num) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
