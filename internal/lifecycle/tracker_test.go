package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"livenotify/internal/model"
)

type memTracking struct {
	saved   []model.TrackingEntry
	loadErr error
}

func (m *memTracking) LoadTracking(ctx context.Context) ([]model.TrackingEntry, error) {
	return m.saved, m.loadErr
}

func (m *memTracking) SaveTracking(ctx context.Context, entries []model.TrackingEntry) error {
	m.saved = entries
	return nil
}

func TestTrackerActivateKeepsEnded(t *testing.T) {
	tr := NewTracker(4)
	tr.Activate("v")
	tr.MarkEnded("v", t0)
	tr.Activate("v")

	e, ok := tr.Get("v")
	if !ok || e.Status != model.TrackingEnded {
		t.Fatalf("entry = %+v (%v), want ended", e, ok)
	}
}

func TestTrackerMarkEndedResetsBudgetOnce(t *testing.T) {
	tr := NewTracker(4)
	tr.MarkEnded("v", t0)
	tr.RecordArchiveCheck("v")
	tr.RecordArchiveCheck("v")
	tr.MarkEnded("v", t0)

	e, _ := tr.Get("v")
	if e.ArchiveCheckCount != 2 {
		t.Errorf("count = %d, want 2", e.ArchiveCheckCount)
	}
}

func TestTrackerRecordArchiveCheck(t *testing.T) {
	tr := NewTracker(2)
	tr.Activate("active")
	if n, ex := tr.RecordArchiveCheck("active"); n != 0 || ex {
		t.Errorf("active entry check = (%d, %v), want (0, false)", n, ex)
	}

	tr.MarkEnded("v", t0)
	if n, ex := tr.RecordArchiveCheck("v"); n != 1 || ex {
		t.Errorf("first check = (%d, %v), want (1, false)", n, ex)
	}
	if n, ex := tr.RecordArchiveCheck("v"); n != 2 || !ex {
		t.Errorf("second check = (%d, %v), want (2, true)", n, ex)
	}
	if _, ok := tr.Get("v"); ok {
		t.Error("exhausted entry should be dropped")
	}
}

func TestTrackerSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := &memTracking{}

	tr := NewTracker(4)
	tr.Activate("b")
	tr.MarkEnded("a", t0)
	polled := t0.Add(time.Minute)
	tr.Touch("b", polled)
	tr.Touch("missing", polled)
	if err := tr.Save(ctx, store); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := NewTracker(4)
	if err := restored.Load(ctx, store); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []model.TrackingEntry{
		{VideoID: "a", Status: model.TrackingEnded, EndedAt: &t0},
		{VideoID: "b", Status: model.TrackingActive, LastPollTime: &polled},
	}
	if diff := cmp.Diff(want, restored.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerLoadError(t *testing.T) {
	tr := NewTracker(4)
	tr.Activate("keep")
	boom := errors.New("boom")
	if err := tr.Load(context.Background(), &memTracking{loadErr: boom}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if tr.Len() != 1 {
		t.Errorf("failed load should keep table, len = %d", tr.Len())
	}
}
