package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rfenwick/bluejay/internal/httpkit"
)

// reconnectBase is the initial backoff after a socket failure.
// Backoff doubles per consecutive failure up to reconnectMax.
const (
	reconnectBase = time.Second
	reconnectMax  = time.Minute
)

// messageBuffer bounds the inbound event channel. The gate drains it
// promptly; the buffer absorbs reconnect bursts.
const messageBuffer = 64

// Client talks to the chat server: socket for inbound events, REST for
// outbound operations.
type Client struct {
	baseURL    string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
	messages   chan InboundMessage
}

// NewClient creates a chat server client. baseURL is the server's
// HTTP root (e.g. "http://localhost:1234").
func NewClient(baseURL, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		password:   password,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger:     logger.With("component", "transport"),
		messages:   make(chan InboundMessage, messageBuffer),
	}
}

// Messages returns the inbound event channel. It is closed when Run
// returns.
func (c *Client) Messages() <-chan InboundMessage {
	return c.messages
}

// Run maintains the socket connection until ctx is cancelled,
// reconnecting with exponential backoff. Inbound delivery is
// at-least-once; duplicates across reconnects are tolerated
// downstream.
func (c *Client) Run(ctx context.Context) {
	defer close(c.messages)

	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("socket connection lost",
			"error", err,
			"retry_in", backoff,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// socketEvent is the wire envelope for socket pushes.
type socketEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// wireMessage is the chat server's message representation.
type wireMessage struct {
	GUID          string `json:"guid"`
	ChatGUID      string `json:"chatGuid"`
	IsFromMe      bool   `json:"isFromMe"`
	Text          string `json:"text"`
	DateCreated   int64  `json:"dateCreated"` // unix millis
	HandleAddress string `json:"handleAddress,omitempty"`
	ReplyToGUID   string `json:"replyToGuid,omitempty"`
}

func (c *Client) connectAndRead(ctx context.Context) error {
	wsURL, err := c.socketURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	defer conn.Close()

	c.logger.Info("socket connected", "url", c.baseURL)

	// Close the connection when ctx is cancelled so the blocked read
	// returns promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var event socketEvent
		if err := conn.ReadJSON(&event); err != nil {
			return fmt.Errorf("read socket: %w", err)
		}

		if event.Type != "new-message" {
			c.logger.Debug("ignoring socket event", "type", event.Type)
			continue
		}

		var wm wireMessage
		if err := json.Unmarshal(event.Data, &wm); err != nil {
			c.logger.Warn("malformed message event", "error", err)
			continue
		}

		msg := InboundMessage{
			ID:            wm.GUID,
			ChatID:        wm.ChatGUID,
			SenderIsSelf:  wm.IsFromMe,
			Text:          wm.Text,
			Timestamp:     time.UnixMilli(wm.DateCreated),
			SenderAddress: wm.HandleAddress,
			ReplyTargetID: wm.ReplyToGUID,
		}

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/v1/socket"
	q := u.Query()
	q.Set("password", c.password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendText sends a text message to a chat. A client-generated temp id
// makes the send idempotent on the server side.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	return c.post(ctx, "/api/v1/message/text", map[string]any{
		"chatGuid": chatID,
		"message":  text,
		"tempGuid": "temp-" + uuid.New().String(),
	})
}

// SendReaction applies a tapback reaction to a prior message.
func (c *Client) SendReaction(ctx context.Context, chatID, targetMsgID string, kind ReactionKind) error {
	return c.post(ctx, "/api/v1/message/react", map[string]any{
		"chatGuid":            chatID,
		"selectedMessageGuid": targetMsgID,
		"reaction":            string(kind),
	})
}

// StartTyping shows the typing indicator in a chat.
func (c *Client) StartTyping(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/chat/"+url.PathEscape(chatID)+"/typing", nil)
}

// StopTyping hides the typing indicator in a chat.
func (c *Client) StopTyping(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/chat/"+url.PathEscape(chatID)+"/typing", nil)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) error {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body map[string]any) error {
	endpoint := fmt.Sprintf("%s%s?password=%s", c.baseURL, path, url.QueryEscape(c.password))

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errBody)
	}
	return nil
}
