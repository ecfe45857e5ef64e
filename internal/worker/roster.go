package worker

import (
	"log/slog"
	"sync"

	"github.com/rfenwick/bluejay/internal/worklog"
)

// hydrateLimit bounds how many persisted entries are loaded into a
// freshly created worker.
const hydrateLimit = 50

// Roster is the process-wide map of workers by name. Workers are
// created lazily on first reference and live for the process lifetime.
type Roster struct {
	logger *slog.Logger
	store  *worklog.Store

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewRoster creates a roster backed by the given history store. The
// store may be nil in tests; hydration is then skipped.
func NewRoster(logger *slog.Logger, store *worklog.Store) *Roster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Roster{
		logger:  logger,
		store:   store,
		workers: make(map[string]*Worker),
	}
}

// GetOrCreate returns the worker for name, creating and hydrating it
// from the store on first lookup. The second return value reports
// whether the worker was newly created. Atomic: concurrent calls for
// the same name return the same instance.
func (r *Roster) GetOrCreate(name string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[name]; ok {
		return w, false
	}

	w := &Worker{Name: name}
	if r.store != nil {
		entries, err := r.store.LoadHistory(name, hydrateLimit)
		if err != nil {
			r.logger.Warn("worker history hydration failed",
				"worker", name,
				"error", err,
			)
		} else {
			w.history = entries
		}
	}

	r.workers[name] = w
	r.logger.Debug("worker created",
		"worker", name,
		"hydrated_entries", len(w.history),
	)
	return w, true
}

// Names returns the names of all in-memory workers.
func (r *Roster) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}
