package reminders

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers a fired reminder's message to its conversation.
type Notifier interface {
	Notify(ctx context.Context, chatID, message string) error
}

// Scheduler manages reminder timers and delivery.
type Scheduler struct {
	logger   *slog.Logger
	store    *Store
	notifier Notifier

	mu      sync.Mutex
	timers  map[string]*time.Timer // reminder ID -> timer
	running bool
	wg      sync.WaitGroup
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(logger *slog.Logger, store *Store, notifier Notifier) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:   logger,
		store:    store,
		notifier: notifier,
		timers:   make(map[string]*time.Timer),
	}
}

// Start loads enabled reminders and arms their timers.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	reminders, err := s.store.List(true)
	if err != nil {
		return err
	}

	for _, r := range reminders {
		s.arm(r)
	}

	s.logger.Info("reminder scheduler started", "reminders", len(reminders))
	return nil
}

// Stop halts the scheduler and cancels all timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

// Create persists a new reminder and arms its timer.
func (s *Scheduler) Create(r *Reminder) error {
	if err := s.store.Create(r); err != nil {
		return err
	}
	if r.Enabled {
		s.arm(r)
	}
	s.logger.Info("reminder created",
		"id", r.ID,
		"name", r.Name,
		"chat", r.ChatID,
	)
	return nil
}

// Cancel stops a reminder's timer and deletes the reminder from the
// store.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.logger.Info("reminder cancelled", "id", id)
	return nil
}

// ListForChat returns the enabled reminders owned by a conversation.
func (s *Scheduler) ListForChat(chatID string) ([]*Reminder, error) {
	return s.store.ListForChat(chatID)
}

// arm schedules the next firing of a reminder. No-op when the
// schedule has no future run (a one-shot that already fired).
func (s *Scheduler) arm(r *Reminder) {
	next, ok := r.NextRun(time.Now())
	if !ok {
		return
	}

	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if old, ok := s.timers[r.ID]; ok {
		old.Stop()
	}

	id := r.ID
	s.timers[r.ID] = time.AfterFunc(delay, func() {
		s.fire(id, next)
	})

	s.logger.Debug("reminder armed",
		"id", r.ID,
		"name", r.Name,
		"next", next.Format(time.RFC3339),
	)
}

// fire delivers a reminder and re-arms recurring schedules.
func (s *Scheduler) fire(id string, scheduledAt time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	r, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("fired reminder not found", "id", id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	delivery := &Delivery{
		ReminderID:  id,
		ScheduledAt: scheduledAt,
		DeliveredAt: &now,
		Status:      StatusDelivered,
	}

	if err := s.notifier.Notify(ctx, r.ChatID, r.Message); err != nil {
		s.logger.Error("reminder delivery failed",
			"id", id,
			"chat", r.ChatID,
			"error", err,
		)
		delivery.Status = StatusFailed
		delivery.Result = err.Error()
	} else {
		s.logger.Info("reminder delivered",
			"id", id,
			"name", r.Name,
			"chat", r.ChatID,
		)
	}

	if err := s.store.RecordDelivery(delivery); err != nil {
		s.logger.Warn("failed to record delivery", "id", id, "error", err)
	}

	switch r.Schedule.Kind {
	case ScheduleEvery:
		s.arm(r)
	case ScheduleAt:
		// One-shot: disable so it doesn't re-arm on restart.
		r.Enabled = false
		if err := s.store.Update(r); err != nil {
			s.logger.Warn("failed to disable one-shot reminder", "id", id, "error", err)
		}
	}
}
