package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Lister is the client surface the poller needs; satisfied by *Client.
type Lister interface {
	ListMessages(ctx context.Context, mailbox string, sinceUID uint32, limit int) ([]Envelope, error)
}

// NotifyFunc receives a formatted description of new mail. The gate
// turns it into an agent trigger so the orchestrator can delegate
// email tasks.
type NotifyFunc func(payload string)

// Poller checks a mailbox for messages newer than a UID high-water
// mark. On the first poll the current highest UID is recorded silently
// so a fresh deployment does not flood the agent with the whole inbox.
type Poller struct {
	client   Lister
	logger   *slog.Logger
	mailbox  string
	interval time.Duration
	notify   NotifyFunc

	lastUID uint32
	primed  bool
}

// NewPoller creates an email poller.
func NewPoller(client Lister, mailbox string, interval time.Duration, notify NotifyFunc, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		client:   client,
		logger:   logger.With("component", "email-poller"),
		mailbox:  mailbox,
		interval: interval,
		notify:   notify,
	}
}

// Run polls on a ticker until ctx is cancelled. Poll errors are logged
// and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("email poller started",
		"mailbox", p.mailbox,
		"interval", p.interval,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Prime the high-water mark immediately rather than waiting a
	// full interval.
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs one check cycle.
func (p *Poller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if !p.primed {
		// First cycle: record the current highest UID without
		// reporting anything.
		envelopes, err := p.client.ListMessages(pollCtx, p.mailbox, 0, 1)
		if err != nil {
			p.logger.Warn("email poll failed (priming)", "error", err)
			return
		}
		if len(envelopes) > 0 {
			p.lastUID = envelopes[len(envelopes)-1].UID
		}
		p.primed = true
		p.logger.Debug("email high-water mark primed", "uid", p.lastUID)
		return
	}

	envelopes, err := p.client.ListMessages(pollCtx, p.mailbox, p.lastUID, 0)
	if err != nil {
		p.logger.Warn("email poll failed", "error", err)
		return
	}
	if len(envelopes) == 0 {
		return
	}

	p.lastUID = envelopes[len(envelopes)-1].UID
	p.logger.Info("new email detected", "count", len(envelopes))

	p.notify(FormatNewMail(envelopes))
}

// FormatNewMail renders envelopes as an agent-readable description.
func FormatNewMail(envelopes []Envelope) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New email received (%d message(s)):\n", len(envelopes))
	for _, env := range envelopes {
		fmt.Fprintf(&sb, "\nFrom: %s\nSubject: %s\nDate: %s\n",
			env.From, env.Subject, env.Date.Format(time.RFC3339))
		if env.Snippet != "" {
			fmt.Fprintf(&sb, "Excerpt: %s\n", env.Snippet)
		}
	}
	return sb.String()
}
