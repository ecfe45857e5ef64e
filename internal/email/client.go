// Package email provides the IMAP intake: new inbound mail becomes
// agent triggers, and workers can list recent messages.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
)

// snippetLen bounds the body excerpt carried in an Envelope.
const snippetLen = 500

// Envelope is a summarized inbound message.
type Envelope struct {
	UID     uint32
	From    string
	Subject string
	Date    time.Time
	Snippet string
}

// Client is a single-account IMAP client with mutex-serialized access
// and lazy reconnection. All public methods are goroutine-safe.
type Client struct {
	host     string // host:port
	username string
	password string
	logger   *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
}

// NewClient creates an IMAP client. host is "host" or "host:port"
// (default port 993, TLS).
func NewClient(host, username, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "993")
	}
	return &Client{
		host:     host,
		username: username,
		password: password,
		logger:   logger.With("component", "email"),
	}
}

// connectLocked establishes the connection. Caller must hold c.mu.
func (c *Client) connectLocked() error {
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}

	serverName, _, _ := net.SplitHostPort(c.host)
	opts := imapclient.Options{
		TLSConfig: &tls.Config{ServerName: serverName},
	}

	client, err := imapclient.DialTLS(c.host, &opts)
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", c.host, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", c.username, err)
	}

	c.client = client
	c.logger.Info("IMAP connected", "host", c.host, "user", c.username)
	return nil
}

// ensureConnected checks liveness via NOOP and reconnects if needed.
// Caller must hold c.mu.
func (c *Client) ensureConnected() error {
	if c.client != nil {
		if err := c.client.Noop().Wait(); err == nil {
			return nil
		}
		c.logger.Debug("IMAP connection stale, reconnecting")
	}
	return c.connectLocked()
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// ListMessages returns messages from the mailbox. When sinceUID is
// non-zero, only messages with UIDs strictly greater than it are
// returned (no limit); otherwise the most recent limit messages.
// Results are in ascending UID order.
func (c *Client) ListMessages(ctx context.Context, mailbox string, sinceUID uint32, limit int) ([]Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	if mailbox == "" {
		mailbox = "INBOX"
	}
	if limit <= 0 {
		limit = 10
	}

	if _, err := c.client.Select(mailbox, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	criteria := &imap.SearchCriteria{}
	if sinceUID > 0 {
		criteria.UID = []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(sinceUID + 1), Stop: 0}},
		}
	}

	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", mailbox, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if sinceUID == 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	return c.fetchEnvelopes(uidSet)
}

// fetchEnvelopes fetches envelope and body data for the given UIDs.
// Caller must hold c.mu and have a selected mailbox.
func (c *Client) fetchEnvelopes(uidSet imap.UIDSet) ([]Envelope, error) {
	fetchOpts := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		BodySection: []*imap.FetchItemBodySection{
			{Peek: true}, // Intake must not mark messages \Seen.
		},
	}

	fetchCmd := c.client.Fetch(uidSet, fetchOpts)

	var envelopes []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		env, err := parseMessageData(msg)
		if err != nil {
			c.logger.Debug("skipping message", "error", err)
			continue
		}
		envelopes = append(envelopes, env)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	return envelopes, nil
}

// parseMessageData extracts an Envelope from IMAP fetch response
// items, including a text snippet from the first inline text part.
func parseMessageData(msg *imapclient.FetchMessageData) (Envelope, error) {
	var env Envelope

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			env.UID = uint32(data.UID)
		case imapclient.FetchItemDataEnvelope:
			if data.Envelope != nil {
				env.Date = data.Envelope.Date
				env.Subject = data.Envelope.Subject
				if len(data.Envelope.From) > 0 {
					env.From = formatAddress(data.Envelope.From[0])
				}
			}
		case imapclient.FetchItemDataBodySection:
			env.Snippet = extractSnippet(data.Literal)
		}
	}

	if env.UID == 0 {
		return env, fmt.Errorf("message missing UID")
	}
	return env, nil
}

// extractSnippet reads the first inline text part of an RFC822 body
// and returns a bounded excerpt. The literal is always fully drained
// to keep the IMAP stream in sync.
func extractSnippet(literal io.Reader) string {
	defer io.Copy(io.Discard, literal)

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			return ""
		}
		if _, ok := part.Header.(*mail.InlineHeader); !ok {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, snippetLen))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(body))
	}
}

// formatAddress formats an IMAP address as "Name <user@host>" or just
// "user@host" when no name is set.
func formatAddress(addr imap.Address) string {
	email := addr.Addr()
	if addr.Name != "" {
		return fmt.Sprintf("%s <%s>", addr.Name, email)
	}
	return email
}
