package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"livenotify/internal/model"
)

// TrackingStore persists the tracking table between runs.
type TrackingStore interface {
	LoadTracking(ctx context.Context) ([]model.TrackingEntry, error)
	SaveTracking(ctx context.Context, entries []model.TrackingEntry) error
}

// Tracker is the in-memory table of videos under active monitoring.
// It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]*model.TrackingEntry
	maxChecks int
}

// NewTracker creates an empty Tracker. maxChecks bounds the archive
// confirmation polls of an ended entry.
func NewTracker(maxChecks int) *Tracker {
	if maxChecks <= 0 {
		maxChecks = 4
	}
	return &Tracker{
		entries:   make(map[string]*model.TrackingEntry),
		maxChecks: maxChecks,
	}
}

// Activate tracks id as a scheduled or live video. An ended entry is not
// moved back to active.
func (t *Tracker) Activate(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		if e.Status == model.TrackingEnded {
			return
		}
		e.Status = model.TrackingActive
		return
	}
	t.entries[id] = &model.TrackingEntry{VideoID: id, Status: model.TrackingActive}
}

// MarkEnded flips id to ended, creating the entry if needed. The archive
// check budget restarts only when the entry was not already ended.
func (t *Tracker) MarkEnded(id string, endedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &model.TrackingEntry{VideoID: id}
		t.entries[id] = e
	}
	if e.Status != model.TrackingEnded {
		e.ArchiveCheckCount = 0
	}
	e.Status = model.TrackingEnded
	if !endedAt.IsZero() {
		v := endedAt
		e.EndedAt = &v
	}
}

// RecordArchiveCheck counts one unconfirmed archive poll for an ended entry.
// Once the budget is spent the entry is dropped and exhausted is true.
func (t *Tracker) RecordArchiveCheck(id string) (count int, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.Status != model.TrackingEnded {
		return 0, false
	}
	e.ArchiveCheckCount++
	if e.ArchiveCheckCount >= t.maxChecks {
		delete(t.entries, id)
		return e.ArchiveCheckCount, true
	}
	return e.ArchiveCheckCount, false
}

// Touch records a poll of id at now.
func (t *Tracker) Touch(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok {
		v := now
		e.LastPollTime = &v
	}
}

// Remove stops tracking id.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Get returns a copy of the entry for id.
func (t *Tracker) Get(id string) (model.TrackingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return model.TrackingEntry{}, false
	}
	return *e, true
}

// Snapshot returns copies of all entries ordered by video ID.
func (t *Tracker) Snapshot() []model.TrackingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.TrackingEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out
}

// Len returns the number of tracked videos.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Load replaces the table with the persisted entries.
func (t *Tracker) Load(ctx context.Context, store TrackingStore) error {
	entries, err := store.LoadTracking(ctx)
	if err != nil {
		return fmt.Errorf("load tracking: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*model.TrackingEntry, len(entries))
	for i := range entries {
		e := entries[i]
		t.entries[e.VideoID] = &e
	}
	return nil
}

// Save writes the table to store.
func (t *Tracker) Save(ctx context.Context, store TrackingStore) error {
	if err := store.SaveTracking(ctx, t.Snapshot()); err != nil {
		return fmt.Errorf("save tracking: %w", err)
	}
	return nil
}
