// Package gate is the top-level dispatcher: it converts raw transport
// events into orchestrator invocations, rejects events that must not
// trigger a response, and keeps the typing indicator balanced on every
// return path.
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rfenwick/bluejay/internal/orchestrator"
	"github.com/rfenwick/bluejay/internal/transport"
)

// handleTimeout bounds how long a single trigger may be processed.
const handleTimeout = 5 * time.Minute

// mailboxSize bounds the per-conversation trigger queue. Events beyond
// it are dropped with a warning; the rate limiter makes this rare.
const mailboxSize = 16

// echoKeep is how many recent outbound texts are remembered per
// conversation for echo suppression.
const echoKeep = 8

// dedupKeep is how many recent inbound message ids are remembered for
// duplicate-delivery suppression.
const dedupKeep = 32

// Runner abstracts the orchestrator loop for testability. The real
// implementation is *orchestrator.Loop.
type Runner interface {
	Run(ctx context.Context, trig *orchestrator.Trigger, delegator orchestrator.Delegator) *orchestrator.Result
}

// CoordinatorFactory builds the batch coordinator for one
// conversation. The onComplete callback must re-enter the gate with
// the batch aggregate.
type CoordinatorFactory func(onComplete func(aggregate string)) orchestrator.Delegator

// ContactResolver resolves a sender address (phone or email) to a
// display name. The gate uses it to annotate trigger payloads so the
// model can greet users by name.
type ContactResolver interface {
	ResolveAddress(address string) (name string, ok bool)
}

// Config holds the dependencies for a Gate.
type Config struct {
	Sender       transport.Sender
	Runner       Runner
	Coordinators CoordinatorFactory
	Logger       *slog.Logger
	Resolver     ContactResolver // nil disables name resolution

	EchoTTL     time.Duration // default 10s
	RateWindow  time.Duration // default 60s
	RateMax     int           // default 8
	HistoryKeep int           // default 20
}

// Gate serializes orchestrator invocations per conversation and owns
// the suppression caches.
type Gate struct {
	sender      transport.Sender
	runner      Runner
	factory     CoordinatorFactory
	logger      *slog.Logger
	resolver    ContactResolver
	echoTTL     time.Duration
	rateWindow  time.Duration
	rateMax     int
	historyKeep int

	mu     sync.Mutex
	convs  map[string]*conversation
	closed bool
	wg     sync.WaitGroup
}

// trigger is one unit of work for a conversation mailbox.
type trigger struct {
	kind    string // orchestrator.TriggerUser or TriggerWorkerResult
	msg     transport.InboundMessage
	payload string // for worker_result and injected agent triggers
}

// conversation holds per-chat state. All fields except the mailbox are
// owned by the conversation's mailbox goroutine or guarded by stateMu.
type conversation struct {
	chatID    string
	mailbox   chan trigger
	delegator orchestrator.Delegator

	stateMu         sync.Mutex
	history         []orchestrator.HistoryEntry
	echo            []echoEntry
	rateTimes       []time.Time
	seenIDs         []string
	lastInboundID   string
	lastInboundText string
}

// echoEntry is one remembered outbound text.
type echoEntry struct {
	normalized string
	sentAt     time.Time
}

// New creates a gating layer.
func New(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		sender:      cfg.Sender,
		runner:      cfg.Runner,
		factory:     cfg.Coordinators,
		logger:      logger,
		resolver:    cfg.Resolver,
		echoTTL:     cfg.EchoTTL,
		rateWindow:  cfg.RateWindow,
		rateMax:     cfg.RateMax,
		historyKeep: cfg.HistoryKeep,
		convs:       make(map[string]*conversation),
	}
	if g.echoTTL <= 0 {
		g.echoTTL = 10 * time.Second
	}
	if g.rateWindow <= 0 {
		g.rateWindow = time.Minute
	}
	if g.rateMax <= 0 {
		g.rateMax = 8
	}
	if g.historyKeep <= 0 {
		g.historyKeep = 20
	}
	return g
}

// OnInbound enqueues one transport event. Self-sent messages are
// dropped immediately; everything else is processed in FIFO order by
// the conversation's mailbox goroutine, which guarantees at most one
// orchestrator loop per chat id at a time.
func (g *Gate) OnInbound(msg transport.InboundMessage) {
	if msg.SenderIsSelf {
		g.logger.Debug("dropping self-sent message", "chat", msg.ChatID)
		return
	}
	if msg.ChatID == "" || msg.Text == "" {
		g.logger.Debug("dropping event without chat or text")
		return
	}

	g.enqueue(msg.ChatID, trigger{kind: orchestrator.TriggerUser, msg: msg})
}

// OnAgentEvent enqueues an agent-originated trigger (a worker batch
// aggregate or email intake) for the given chat.
func (g *Gate) OnAgentEvent(chatID, payload string) {
	g.enqueue(chatID, trigger{kind: orchestrator.TriggerWorkerResult, payload: payload})
}

// RecordOutbound remembers an outbound text for echo suppression and
// appends it to the conversation's rolling history. Called by the
// orchestrator after every send.
func (g *Gate) RecordOutbound(chatID, text string) {
	conv := g.conversation(chatID)
	if conv == nil {
		return
	}
	conv.stateMu.Lock()
	defer conv.stateMu.Unlock()

	conv.echo = append(conv.echo, echoEntry{normalized: normalizeText(text), sentAt: time.Now()})
	if len(conv.echo) > echoKeep {
		conv.echo = conv.echo[len(conv.echo)-echoKeep:]
	}

	conv.history = append(conv.history, orchestrator.HistoryEntry{Role: "assistant", Content: text})
	if len(conv.history) > g.historyKeep {
		conv.history = conv.history[len(conv.history)-g.historyKeep:]
	}
}

// Close stops all conversation goroutines and waits for in-flight
// triggers to finish.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	for _, conv := range g.convs {
		close(conv.mailbox)
	}
	g.mu.Unlock()

	g.wg.Wait()
}

// enqueue delivers a trigger to the conversation mailbox, creating the
// conversation on first reference.
func (g *Gate) enqueue(chatID string, t trigger) {
	conv := g.conversation(chatID)
	if conv == nil {
		return
	}

	select {
	case conv.mailbox <- t:
	default:
		g.logger.Warn("conversation mailbox full, dropping trigger",
			"chat", chatID,
			"kind", t.kind,
		)
	}
}

// conversation returns the state for chatID, creating it (and its
// mailbox goroutine and batch coordinator) on first reference. Returns
// nil after Close.
func (g *Gate) conversation(chatID string) *conversation {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	if conv, ok := g.convs[chatID]; ok {
		return conv
	}

	conv := &conversation{
		chatID:  chatID,
		mailbox: make(chan trigger, mailboxSize),
	}
	conv.delegator = g.factory(func(aggregate string) {
		g.OnAgentEvent(chatID, aggregate)
	})
	g.convs[chatID] = conv

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for t := range conv.mailbox {
			g.process(conv, t)
		}
	}()

	g.logger.Debug("conversation created", "chat", chatID)
	return conv
}

// process handles one trigger on the conversation's mailbox goroutine.
func (g *Gate) process(conv *conversation, t trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch t.kind {
	case orchestrator.TriggerUser:
		g.processInbound(ctx, conv, t.msg)
	default:
		g.processAgentEvent(ctx, conv, t.payload)
	}
}

// processInbound runs the full gating algorithm for one user message.
func (g *Gate) processInbound(ctx context.Context, conv *conversation, msg transport.InboundMessage) {
	log := g.logger.With("chat", conv.chatID)

	if g.suppress(conv, msg, log) {
		return
	}

	tapback := msg.IsTapback()

	conv.stateMu.Lock()
	conv.history = append(conv.history, orchestrator.HistoryEntry{Role: "user", Content: msg.Text})
	if len(conv.history) > g.historyKeep {
		conv.history = conv.history[len(conv.history)-g.historyKeep:]
	}
	conv.lastInboundID = msg.ID
	conv.lastInboundText = msg.Text
	historySnapshot := make([]orchestrator.HistoryEntry, len(conv.history)-1)
	copy(historySnapshot, conv.history[:len(conv.history)-1])
	lastInboundID := conv.lastInboundID
	conv.stateMu.Unlock()

	// Pre-emptive acknowledgment for search-shaped questions. Never
	// for tapbacks.
	acked := false
	if !tapback && looksLikeSearchQuery(msg.Text) {
		text := orchestrator.AckText()
		if err := g.sender.SendText(ctx, conv.chatID, text); err != nil {
			log.Warn("pre-emptive acknowledgment failed", "error", err)
		} else {
			g.RecordOutbound(conv.chatID, text)
			acked = true
			log.Debug("pre-emptive acknowledgment sent")
		}
	}

	payload := msg.Text
	if g.resolver != nil && msg.SenderAddress != "" {
		if name, ok := g.resolver.ResolveAddress(msg.SenderAddress); ok {
			payload = "From " + name + ": " + msg.Text
		}
	}

	// Typing indicator: started here, stopped unconditionally on every
	// return path — including panics out of the orchestrator. The stop
	// uses a fresh background context so cleanup survives a timed-out
	// handler context.
	if err := g.sender.StartTyping(ctx, conv.chatID); err != nil {
		log.Debug("typing start failed", "error", err)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator panicked", "panic", r)
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if err := g.sender.StopTyping(stopCtx, conv.chatID); err != nil {
			log.Debug("typing stop failed", "error", err)
		}
	}()

	trig := &orchestrator.Trigger{
		Kind:          orchestrator.TriggerUser,
		ChatID:        conv.chatID,
		Payload:       payload,
		History:       historySnapshot,
		Tapback:       tapback,
		Acked:         acked,
		LastInboundID: lastInboundID,
	}

	res := g.runner.Run(ctx, trig, conv.delegator)
	if !res.OK {
		log.Warn("orchestrator loop failed",
			"error", res.Error,
			"iterations", res.Iterations,
		)
		return
	}

	log.Info("trigger processed",
		"iterations", res.Iterations,
		"sent", res.SentTexts,
		"delegated", res.Delegated,
	)
}

// processAgentEvent runs the orchestrator for a worker aggregate or an
// injected agent trigger. No suppression applies and the typing
// indicator is not used — it belongs to inbound user events.
func (g *Gate) processAgentEvent(ctx context.Context, conv *conversation, payload string) {
	log := g.logger.With("chat", conv.chatID)

	conv.stateMu.Lock()
	historySnapshot := make([]orchestrator.HistoryEntry, len(conv.history))
	copy(historySnapshot, conv.history)
	lastInboundID := conv.lastInboundID
	conv.stateMu.Unlock()

	trig := &orchestrator.Trigger{
		Kind:          orchestrator.TriggerWorkerResult,
		ChatID:        conv.chatID,
		Payload:       payload,
		History:       historySnapshot,
		Acked:         true, // the user was acknowledged when the work started
		LastInboundID: lastInboundID,
	}

	res := g.runner.Run(ctx, trig, conv.delegator)
	if !res.OK {
		log.Warn("orchestrator loop failed (agent event)",
			"error", res.Error,
			"iterations", res.Iterations,
		)
		return
	}

	log.Info("agent event processed",
		"iterations", res.Iterations,
		"sent", res.SentTexts,
		"delegated", res.Delegated,
	)
}

// suppress applies echo, duplicate, and rate-limit checks. Returns
// true when the event must be dropped.
func (g *Gate) suppress(conv *conversation, msg transport.InboundMessage, log *slog.Logger) bool {
	now := time.Now()

	conv.stateMu.Lock()
	defer conv.stateMu.Unlock()

	// Echo suppression: the transport echoes just-sent outbound
	// messages back as inbound events.
	normalized := normalizeText(msg.Text)
	for _, e := range conv.echo {
		if now.Sub(e.sentAt) <= g.echoTTL && e.normalized == normalized {
			log.Debug("echo suppressed", "text_len", len(msg.Text))
			return true
		}
	}

	// Duplicate delivery suppression by message id.
	if msg.ID != "" {
		for _, id := range conv.seenIDs {
			if id == msg.ID {
				log.Debug("duplicate message suppressed", "id", msg.ID)
				return true
			}
		}
		conv.seenIDs = append(conv.seenIDs, msg.ID)
		if len(conv.seenIDs) > dedupKeep {
			conv.seenIDs = conv.seenIDs[len(conv.seenIDs)-dedupKeep:]
		}
	}

	// Sliding-window rate limit: defends against self-reinforcing
	// reply loops.
	cutoff := now.Add(-g.rateWindow)
	valid := conv.rateTimes[:0]
	for _, ts := range conv.rateTimes {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	conv.rateTimes = valid
	if len(conv.rateTimes) >= g.rateMax {
		log.Warn("rate limit exceeded, dropping message",
			"window", g.rateWindow,
			"max", g.rateMax,
		)
		return true
	}
	conv.rateTimes = append(conv.rateTimes, now)

	return false
}
