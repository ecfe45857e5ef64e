package gate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rfenwick/bluejay/internal/orchestrator"
	"github.com/rfenwick/bluejay/internal/transport"
	"github.com/rfenwick/bluejay/internal/worker"
)

// fakeSender records transport calls.
type fakeSender struct {
	mu           sync.Mutex
	texts        []string
	typingStarts int
	typingStops  int
}

func (f *fakeSender) SendText(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendReaction(context.Context, string, string, transport.ReactionKind) error {
	return nil
}

func (f *fakeSender) StartTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingStarts++
	return nil
}

func (f *fakeSender) StopTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingStops++
	return nil
}

func (f *fakeSender) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typingStarts, f.typingStops
}

func (f *fakeSender) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

// fakeRunner records triggers and signals each run.
type fakeRunner struct {
	mu       sync.Mutex
	triggers []*orchestrator.Trigger
	inFlight int
	maxSeen  int
	ran      chan struct{}
	result   *orchestrator.Result
	delay    time.Duration
	panicOn  bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		ran:    make(chan struct{}, 64),
		result: &orchestrator.Result{OK: true, Iterations: 1},
	}
}

func (f *fakeRunner) Run(_ context.Context, trig *orchestrator.Trigger, _ orchestrator.Delegator) *orchestrator.Result {
	f.mu.Lock()
	f.triggers = append(f.triggers, trig)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	delay := f.delay
	doPanic := f.panicOn
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	f.ran <- struct{}{}

	if doPanic {
		panic("scripted panic")
	}
	return f.result
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func (f *fakeRunner) trigger(i int) *orchestrator.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers[i]
}

// nullDelegator satisfies orchestrator.Delegator for factory stubs.
type nullDelegator struct{}

func (nullDelegator) ExecuteWorker(context.Context, string, string, string) *worker.ExecutionResult {
	return nil
}
func (nullDelegator) PendingCount() int { return 0 }

// gateHelper builds a Gate wired to fakes. The returned callbacks map
// holds each conversation's batch-complete callback for tests that
// simulate batch completion.
func gateHelper(t *testing.T, opts ...func(*Config)) (*Gate, *fakeSender, *fakeRunner, *sync.Map) {
	t.Helper()
	sender := &fakeSender{}
	runner := newFakeRunner()
	callbacks := &sync.Map{}
	var nextKey int
	var keyMu sync.Mutex

	cfg := Config{
		Sender: sender,
		Runner: runner,
		Coordinators: func(onComplete func(string)) orchestrator.Delegator {
			keyMu.Lock()
			key := nextKey
			nextKey++
			keyMu.Unlock()
			callbacks.Store(key, onComplete)
			return nullDelegator{}
		},
	}
	for _, o := range opts {
		o(&cfg)
	}

	g := New(cfg)
	t.Cleanup(g.Close)
	return g, sender, runner, callbacks
}

func inbound(id, chatID, text string) transport.InboundMessage {
	return transport.InboundMessage{
		ID:        id,
		ChatID:    chatID,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func awaitRuns(t *testing.T, runner *fakeRunner, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-runner.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for run %d of %d", i+1, n)
		}
	}
}

func TestSelfMessageDropped(t *testing.T) {
	g, _, runner, _ := gateHelper(t)

	msg := inbound("m1", "C", "hello")
	msg.SenderIsSelf = true
	g.OnInbound(msg)

	time.Sleep(50 * time.Millisecond)
	if runner.runCount() != 0 {
		t.Errorf("orchestrator ran %d times for a self message, want 0", runner.runCount())
	}
}

func TestEchoSuppressed(t *testing.T) {
	g, sender, runner, _ := gateHelper(t)

	g.RecordOutbound("C", "done, 3pm tmrw")
	g.OnInbound(inbound("m1", "C", "done, 3pm tmrw"))

	time.Sleep(50 * time.Millisecond)
	if runner.runCount() != 0 {
		t.Errorf("orchestrator ran for an echoed message")
	}
	starts, _ := sender.counts()
	if starts != 0 {
		t.Errorf("typing started for an echoed message")
	}
}

func TestEchoMatchIsNormalized(t *testing.T) {
	g, _, runner, _ := gateHelper(t)

	g.RecordOutbound("C", "Done,  3pm   tmrw")
	g.OnInbound(inbound("m1", "C", "  done, 3pm tmrw "))

	time.Sleep(50 * time.Millisecond)
	if runner.runCount() != 0 {
		t.Error("normalized echo not suppressed")
	}
}

func TestEchoExpiresAfterTTL(t *testing.T) {
	g, _, runner, _ := gateHelper(t, func(c *Config) {
		c.EchoTTL = 20 * time.Millisecond
	})

	g.RecordOutbound("C", "stale echo")
	time.Sleep(40 * time.Millisecond)
	g.OnInbound(inbound("m1", "C", "stale echo"))

	awaitRuns(t, runner, 1)
}

func TestDuplicateMessageIDSuppressed(t *testing.T) {
	g, _, runner, _ := gateHelper(t)

	g.OnInbound(inbound("m1", "C", "hello there"))
	g.OnInbound(inbound("m1", "C", "hello there"))

	awaitRuns(t, runner, 1)
	time.Sleep(50 * time.Millisecond)
	if runner.runCount() != 1 {
		t.Errorf("orchestrator ran %d times for duplicate delivery, want 1", runner.runCount())
	}
}

func TestRateLimit(t *testing.T) {
	g, _, runner, _ := gateHelper(t, func(c *Config) {
		c.RateMax = 3
	})

	for i := 0; i < 6; i++ {
		g.OnInbound(inbound("m"+string(rune('0'+i)), "C", "message number "+string(rune('0'+i))))
	}

	awaitRuns(t, runner, 3)
	time.Sleep(50 * time.Millisecond)
	if runner.runCount() != 3 {
		t.Errorf("orchestrator ran %d times, want 3 (rate max)", runner.runCount())
	}
}

func TestTypingBalancedOnSuccess(t *testing.T) {
	g, sender, runner, _ := gateHelper(t)

	g.OnInbound(inbound("m1", "C", "hello"))
	awaitRuns(t, runner, 1)

	// The stop happens in a defer after the run signal; give it a beat.
	time.Sleep(50 * time.Millisecond)
	starts, stops := sender.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("typing starts/stops = %d/%d, want 1/1", starts, stops)
	}
}

func TestTypingBalancedOnFailure(t *testing.T) {
	g, sender, runner, _ := gateHelper(t)
	runner.result = &orchestrator.Result{OK: false, Error: "max iterations reached", Iterations: 8}

	g.OnInbound(inbound("m1", "C", "hello"))
	awaitRuns(t, runner, 1)

	time.Sleep(50 * time.Millisecond)
	starts, stops := sender.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("typing starts/stops = %d/%d, want 1/1", starts, stops)
	}
}

func TestTypingBalancedOnPanic(t *testing.T) {
	g, sender, runner, _ := gateHelper(t)
	runner.panicOn = true

	g.OnInbound(inbound("m1", "C", "hello"))
	awaitRuns(t, runner, 1)

	time.Sleep(50 * time.Millisecond)
	starts, stops := sender.counts()
	if starts != 1 || stops != 1 {
		t.Errorf("typing starts/stops = %d/%d, want 1/1", starts, stops)
	}
}

func TestTapbackDispatchedWithoutAck(t *testing.T) {
	g, sender, runner, _ := gateHelper(t)

	g.OnInbound(inbound("m1", "C", "Liked “reminder set for 3pm”"))
	awaitRuns(t, runner, 1)

	trig := runner.trigger(0)
	if !trig.Tapback {
		t.Error("Tapback = false for tapback text")
	}
	if trig.Acked {
		t.Error("Acked = true for tapback — pre-emptive ack must not fire")
	}
	// No acknowledgment text was sent.
	for _, text := range sender.sentTexts() {
		t.Errorf("unexpected outbound text %q for tapback", text)
	}
}

func TestSearchQueryGetsAck(t *testing.T) {
	g, sender, runner, _ := gateHelper(t)

	g.OnInbound(inbound("m1", "C", "What's the weather?"))
	awaitRuns(t, runner, 1)

	trig := runner.trigger(0)
	if !trig.Acked {
		t.Error("Acked = false for search-shaped question")
	}
	if texts := sender.sentTexts(); len(texts) != 1 {
		t.Errorf("sent = %v, want one acknowledgment", texts)
	}
}

func TestPerConversationSerialization(t *testing.T) {
	g, _, runner, _ := gateHelper(t)
	runner.delay = 30 * time.Millisecond

	for i := 0; i < 4; i++ {
		g.OnInbound(inbound("m"+string(rune('0'+i)), "C", "unique message "+string(rune('0'+i))))
	}
	awaitRuns(t, runner, 4)

	runner.mu.Lock()
	maxSeen := runner.maxSeen
	runner.mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("max concurrent runs for one chat = %d, want 1", maxSeen)
	}
}

func TestCrossConversationParallelism(t *testing.T) {
	g, _, runner, _ := gateHelper(t)
	runner.delay = 60 * time.Millisecond

	g.OnInbound(inbound("m1", "A", "hello from A"))
	g.OnInbound(inbound("m2", "B", "hello from B"))
	awaitRuns(t, runner, 2)

	runner.mu.Lock()
	maxSeen := runner.maxSeen
	runner.mu.Unlock()
	if maxSeen < 2 {
		t.Errorf("max concurrent runs across chats = %d, want 2", maxSeen)
	}
}

func TestBatchCompletionReentersAsWorkerResult(t *testing.T) {
	g, _, runner, callbacks := gateHelper(t)

	g.OnInbound(inbound("m1", "C", "do a thing"))
	awaitRuns(t, runner, 1)

	// Fire the conversation's batch-complete callback.
	var cb func(string)
	callbacks.Range(func(_, v any) bool {
		cb = v.(func(string))
		return false
	})
	if cb == nil {
		t.Fatal("no coordinator created for conversation")
	}
	cb("[SUCCESS] Weather Lookup: 72°F and sunny")

	awaitRuns(t, runner, 1)
	trig := runner.trigger(1)
	if trig.Kind != orchestrator.TriggerWorkerResult {
		t.Errorf("trigger kind = %q, want worker_result", trig.Kind)
	}
	if !strings.Contains(trig.Payload, "[SUCCESS] Weather Lookup") {
		t.Errorf("payload = %q", trig.Payload)
	}
}

func TestHistorySnapshotExcludesCurrentMessage(t *testing.T) {
	g, _, runner, _ := gateHelper(t)

	g.OnInbound(inbound("m1", "C", "first message"))
	awaitRuns(t, runner, 1)
	g.OnInbound(inbound("m2", "C", "second message"))
	awaitRuns(t, runner, 1)

	first := runner.trigger(0)
	if len(first.History) != 0 {
		t.Errorf("first trigger history = %v, want empty", first.History)
	}
	second := runner.trigger(1)
	if len(second.History) != 1 || second.History[0].Content != "first message" {
		t.Errorf("second trigger history = %v", second.History)
	}
}

func TestLastInboundIDPropagates(t *testing.T) {
	g, _, runner, _ := gateHelper(t)

	g.OnInbound(inbound("msg-42", "C", "react to this"))
	awaitRuns(t, runner, 1)

	if got := runner.trigger(0).LastInboundID; got != "msg-42" {
		t.Errorf("LastInboundID = %q, want msg-42", got)
	}
}
