package worker

import (
	"testing"

	"github.com/rfenwick/bluejay/internal/worklog"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	r := NewRoster(nil, nil)

	w1, isNew := r.GetOrCreate("Weather Lookup")
	if !isNew {
		t.Error("first GetOrCreate returned is_new = false")
	}
	w2, isNew := r.GetOrCreate("Weather Lookup")
	if isNew {
		t.Error("second GetOrCreate returned is_new = true")
	}
	if w1 != w2 {
		t.Error("GetOrCreate returned different instances for the same name")
	}
}

func TestGetOrCreateIsCaseSensitive(t *testing.T) {
	r := NewRoster(nil, nil)

	w1, _ := r.GetOrCreate("weather lookup")
	w2, _ := r.GetOrCreate("Weather Lookup")
	if w1 == w2 {
		t.Error("worker names must be case-sensitive reuse keys")
	}
}

func TestGetOrCreateHydratesFromStore(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveEntry("Reminder Worker", &worklog.Entry{
		Type:    worklog.EntryResponse,
		Content: "reminder set for 3pm",
	}); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	r := NewRoster(nil, store)
	w, isNew := r.GetOrCreate("Reminder Worker")
	if !isNew {
		t.Error("is_new = false for first lookup")
	}
	if w.HistoryLen() != 1 {
		t.Errorf("hydrated history = %d entries, want 1", w.HistoryLen())
	}
	recent := w.Recent(10)
	if recent[0].Content != "reminder set for 3pm" {
		t.Errorf("hydrated content = %q", recent[0].Content)
	}
}
