// Command bluejay runs the conversational assistant: it bridges a
// chat server to an LLM through the gating layer, interaction
// orchestrator, and worker batch machinery.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rfenwick/bluejay/internal/batch"
	"github.com/rfenwick/bluejay/internal/config"
	"github.com/rfenwick/bluejay/internal/contacts"
	"github.com/rfenwick/bluejay/internal/email"
	"github.com/rfenwick/bluejay/internal/gate"
	"github.com/rfenwick/bluejay/internal/llm"
	"github.com/rfenwick/bluejay/internal/orchestrator"
	"github.com/rfenwick/bluejay/internal/reminders"
	"github.com/rfenwick/bluejay/internal/tools"
	"github.com/rfenwick/bluejay/internal/transport"
	"github.com/rfenwick/bluejay/internal/worker"
	"github.com/rfenwick/bluejay/internal/worklog"
)

// pruneInterval controls how often worker history is trimmed to the
// configured per-worker cap. Pruning runs off the hot path.
const pruneInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	path, err := config.FindConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", path, err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("bluejay starting", "config", path)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// gateRecorder forwards outbound records to the gate. It exists to
// break the construction cycle: the orchestrator loop needs the
// recorder before the gate (which needs the loop) can be built.
type gateRecorder struct {
	g *gate.Gate
}

func (r *gateRecorder) RecordOutbound(chatID, text string) {
	if r.g != nil {
		r.g.RecordOutbound(chatID, text)
	}
}

// reminderNotifier delivers fired reminders via the transport and
// keeps the gate's echo cache current so the delivery is not
// re-processed as an inbound event.
type reminderNotifier struct {
	sender transport.Sender
	g      *gate.Gate
}

func (n *reminderNotifier) Notify(ctx context.Context, chatID, message string) error {
	if err := n.sender.SendText(ctx, chatID, message); err != nil {
		return err
	}
	if n.g != nil {
		n.g.RecordOutbound(chatID, message)
	}
	return nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Persistence.
	worklogStore, err := worklog.NewStore(filepath.Join(cfg.DataDir, "worklog.db"))
	if err != nil {
		return fmt.Errorf("open worklog store: %w", err)
	}
	defer worklogStore.Close()

	reminderStore, err := reminders.NewStore(filepath.Join(cfg.DataDir, "reminders.db"))
	if err != nil {
		return fmt.Errorf("open reminder store: %w", err)
	}
	defer reminderStore.Close()

	// External clients.
	llmClient := llm.NewAnthropicClient(cfg.LLM, logger)
	if err := llmClient.Ping(ctx); err != nil {
		logger.Warn("LLM provider unreachable at startup", "error", err)
	}

	transportClient := transport.NewClient(cfg.Transport.URL, cfg.Transport.Password, logger)

	// Tool registry for workers.
	registry := tools.NewRegistry()

	notifier := &reminderNotifier{sender: transportClient}
	reminderSched := reminders.NewScheduler(logger, reminderStore, notifier)
	reminders.RegisterTools(registry, reminderSched)

	var emailClient *email.Client
	if cfg.Email.Configured() {
		emailClient = email.NewClient(cfg.Email.Host, cfg.Email.Username, cfg.Email.Password, logger)
		defer emailClient.Close()
		email.RegisterTools(registry, emailClient, cfg.Email.Mailbox)
	}

	// Worker machinery.
	roster := worker.NewRoster(logger, worklogStore)
	runtime := worker.NewRuntime(logger, llmClient, registry, worklogStore, cfg.Orchestrator.MaxToolIterations)

	// Orchestrator and gate. The recorder forwarder breaks the
	// loop↔gate construction cycle.
	recorder := &gateRecorder{}
	loop := orchestrator.NewLoop(logger, llmClient, transportClient, recorder, cfg.Orchestrator.MaxToolIterations)

	batchTimeout := time.Duration(cfg.Batch.TimeoutSeconds) * time.Second
	factory := func(onComplete func(string)) orchestrator.Delegator {
		return batch.NewCoordinator(logger, roster, runtime, batchTimeout, onComplete)
	}

	gateCfg := gate.Config{
		Sender:       transportClient,
		Runner:       loop,
		Coordinators: factory,
		Logger:       logger,
		EchoTTL:      time.Duration(cfg.Gating.EchoTTLSeconds) * time.Second,
		RateWindow:   time.Duration(cfg.Gating.RateWindowSeconds) * time.Second,
		RateMax:      cfg.Gating.RateMax,
		HistoryKeep:  cfg.Gating.HistoryKeep,
	}

	if cfg.Contacts.VCardPath != "" {
		book, err := contacts.Load(cfg.Contacts.VCardPath, logger)
		if err != nil {
			logger.Warn("contacts unavailable", "path", cfg.Contacts.VCardPath, "error", err)
		} else {
			gateCfg.Resolver = book
		}
	}

	g := gate.New(gateCfg)
	defer g.Close()
	recorder.g = g
	notifier.g = g

	if err := reminderSched.Start(); err != nil {
		return fmt.Errorf("start reminder scheduler: %w", err)
	}
	defer reminderSched.Stop()

	// Email intake feeds the gate as agent triggers.
	if emailClient != nil {
		if cfg.Email.NotifyChat == "" {
			logger.Warn("email intake disabled: email.notify_chat not set")
		} else {
			notifyChat := cfg.Email.NotifyChat
			poller := email.NewPoller(
				emailClient,
				cfg.Email.Mailbox,
				time.Duration(cfg.Email.PollIntervalSec)*time.Second,
				func(payload string) { g.OnAgentEvent(notifyChat, payload) },
				logger,
			)
			go poller.Run(ctx)
		}
	}

	// Periodic history pruning.
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := worklogStore.Prune(cfg.Batch.MaxEntriesPerWorker); err != nil {
					logger.Warn("worklog prune failed", "error", err)
				}
			}
		}
	}()

	// Transport event loop.
	go transportClient.Run(ctx)

	logger.Info("bluejay ready",
		"model", cfg.LLM.Model,
		"max_tool_iterations", cfg.Orchestrator.MaxToolIterations,
		"batch_timeout", batchTimeout,
	)

	for msg := range transportClient.Messages() {
		g.OnInbound(msg)
	}

	logger.Info("bluejay shutting down")
	return nil
}
