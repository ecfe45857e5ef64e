package email

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeLister serves scripted envelopes.
type fakeLister struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (f *fakeLister) ListMessages(_ context.Context, _ string, sinceUID uint32, limit int) ([]Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Envelope
	for _, env := range f.envelopes {
		if sinceUID > 0 && env.UID <= sinceUID {
			continue
		}
		out = append(out, env)
	}
	if sinceUID == 0 && limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeLister) add(env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, env)
}

func TestPollerPrimesSilently(t *testing.T) {
	lister := &fakeLister{}
	lister.add(Envelope{UID: 5, From: "old@example.com", Subject: "old mail"})

	var notified []string
	var mu sync.Mutex
	p := NewPoller(lister, "INBOX", time.Hour, func(payload string) {
		mu.Lock()
		notified = append(notified, payload)
		mu.Unlock()
	}, nil)

	p.poll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 0 {
		t.Errorf("first poll notified %v, want silence", notified)
	}
	if p.lastUID != 5 {
		t.Errorf("lastUID = %d, want 5", p.lastUID)
	}
}

func TestPollerReportsNewMail(t *testing.T) {
	lister := &fakeLister{}
	lister.add(Envelope{UID: 5, From: "old@example.com", Subject: "old mail"})

	var notified []string
	var mu sync.Mutex
	p := NewPoller(lister, "INBOX", time.Hour, func(payload string) {
		mu.Lock()
		notified = append(notified, payload)
		mu.Unlock()
	}, nil)

	p.poll(context.Background()) // prime
	lister.add(Envelope{UID: 6, From: "boss@example.com", Subject: "urgent task", Snippet: "please handle this"})
	p.poll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 {
		t.Fatalf("notified %d times, want 1", len(notified))
	}
	if !strings.Contains(notified[0], "urgent task") || !strings.Contains(notified[0], "boss@example.com") {
		t.Errorf("payload = %q", notified[0])
	}
	if p.lastUID != 6 {
		t.Errorf("lastUID = %d, want 6", p.lastUID)
	}
}

func TestPollerNoRepeatReports(t *testing.T) {
	lister := &fakeLister{}

	var count int
	var mu sync.Mutex
	p := NewPoller(lister, "INBOX", time.Hour, func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	p.poll(context.Background()) // prime (empty mailbox)
	lister.add(Envelope{UID: 1, From: "a@example.com", Subject: "one"})
	p.poll(context.Background())
	p.poll(context.Background()) // nothing new

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("notified %d times, want 1", count)
	}
}

func TestFormatNewMail(t *testing.T) {
	out := FormatNewMail([]Envelope{
		{UID: 1, From: "a@example.com", Subject: "hello", Date: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)},
	})
	if !strings.Contains(out, "a@example.com") || !strings.Contains(out, "hello") {
		t.Errorf("FormatNewMail = %q", out)
	}
}
