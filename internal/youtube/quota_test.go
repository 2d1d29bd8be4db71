package youtube

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"livenotify/internal/model"
)

func TestQuotaReserveIsAtomic(t *testing.T) {
	q := NewQuota(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.Reserve(1) == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 100 {
		t.Errorf("granted = %d, want 100", granted)
	}
	if diff := cmp.Diff(model.QuotaState{UsedUnits: 100, DailyLimit: 100}, q.State()); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestQuotaStickyFlag(t *testing.T) {
	q := NewQuota(10)
	q.MarkExceeded()

	if err := q.Reserve(1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("reserve err = %v, want ErrQuotaExceeded", err)
	}
	q.ResetDaily()
	if !q.Exceeded() {
		t.Fatal("daily reset must not clear the sticky flag")
	}
	q.Reset()
	if q.Exceeded() {
		t.Fatal("explicit reset must clear the sticky flag")
	}
	if err := q.Reserve(1); err != nil {
		t.Fatalf("reserve after reset: %v", err)
	}
}

func TestQuotaReleaseNeverNegative(t *testing.T) {
	q := NewQuota(10)
	q.Release(5)
	if got := q.State().UsedUnits; got != 0 {
		t.Errorf("used = %d, want 0", got)
	}
	if got := (model.QuotaState{UsedUnits: 12, DailyLimit: 10}).Remaining(); got != 0 {
		t.Errorf("remaining = %d, want 0", got)
	}
}

func TestCacheEvictsLazily(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put(model.Metadata{VideoID: "a", Title: "A"})
	if md, ok := c.Get("a"); !ok || md.Title != "A" {
		t.Fatalf("Get = (%+v, %v), want hit", md, ok)
	}

	now = now.Add(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("entry expired too early")
	}

	now = now.Add(time.Second)
	if c.Len() != 1 {
		t.Fatalf("stale entry evicted before lookup")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0 after lazy eviction", c.Len())
	}
}

func TestNewDailyReset(t *testing.T) {
	q := NewQuota(10)
	_ = q.Reserve(4)
	loc, err := time.LoadLocation("UTC")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	c, err := NewDailyReset(q, loc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new daily reset: %v", err)
	}
	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	from := time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC)
	want := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	if got := entries[0].Schedule.Next(from); !got.Equal(want) {
		t.Errorf("next run = %v, want %v", got, want)
	}

	entries[0].Job.Run()
	if got := q.State().UsedUnits; got != 0 {
		t.Errorf("used after reset job = %d, want 0", got)
	}
}
