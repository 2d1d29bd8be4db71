package youtube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"livenotify/internal/model"
)

type mockTransport struct {
	mu       sync.Mutex
	calls    int
	requests []string
	handle   func(call int, ids []string) (*http.Response, error)
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	ids := strings.Split(req.URL.Query().Get("id"), ",")
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.requests = append(m.requests, req.URL.Query().Get("id"))
	m.mu.Unlock()
	return m.handle(call, ids)
}

func (m *mockTransport) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func itemsBody(ids []string) string {
	var parts []string
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`{
			"id": %q,
			"snippet": {"channelId": "UC1", "title": "Title %s", "publishedAt": "2026-03-01T09:00:00Z", "liveBroadcastContent": "live"},
			"liveStreamingDetails": {"scheduledStartTime": "2026-03-01T20:00:00Z", "actualStartTime": "2026-03-01T20:05:00Z"}
		}`, id, id))
	}
	return `{"items": [` + strings.Join(parts, ",") + `]}`
}

func okHandler(_ int, ids []string) (*http.Response, error) {
	return jsonResponse(http.StatusOK, itemsBody(ids)), nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func newTestClient(t *testing.T, tr *mockTransport, opts Options) (*Client, *sleepRecorder) {
	t.Helper()
	if opts.Spacing == 0 {
		opts.Spacing = time.Nanosecond
	}
	c := New(tr, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestFetchParsesAndCaches(t *testing.T) {
	tr := &mockTransport{handle: okHandler}
	c, _ := newTestClient(t, tr, Options{MaxRetries: 3})

	md, err := c.Fetch(context.Background(), "abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	start := time.Date(2026, 3, 1, 20, 5, 0, 0, time.UTC)
	sched := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	want := model.Metadata{
		VideoID:          "abc",
		ChannelID:        "UC1",
		Title:            "Title abc",
		PublishedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		BroadcastContent: "live",
		Live:             &model.LiveDetails{ScheduledStart: &sched, ActualStart: &start},
	}
	if diff := cmp.Diff(want, md); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.Fetch(context.Background(), "abc"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if got := tr.callCount(); got != 1 {
		t.Errorf("network calls = %d, want 1 (second fetch served from cache)", got)
	}
	if got := c.QuotaState().UsedUnits; got != 1 {
		t.Errorf("used units = %d, want 1", got)
	}
}

func TestFetchCacheExpires(t *testing.T) {
	tr := &mockTransport{handle: okHandler}
	c, _ := newTestClient(t, tr, Options{CacheTTL: time.Hour})

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.cache.now = func() time.Time { return now }

	if _, err := c.Fetch(context.Background(), "abc"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	now = now.Add(time.Hour)
	if _, err := c.Fetch(context.Background(), "abc"); err != nil {
		t.Fatalf("fetch after ttl: %v", err)
	}
	if got := tr.callCount(); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
}

func TestFetchNotFound(t *testing.T) {
	tr := &mockTransport{handle: func(int, []string) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"items": []}`), nil
	}}
	c, _ := newTestClient(t, tr, Options{})

	_, err := c.Fetch(context.Background(), "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQuotaExceededIsSticky(t *testing.T) {
	tr := &mockTransport{handle: func(call int, ids []string) (*http.Response, error) {
		if call == 1 {
			return jsonResponse(http.StatusForbidden,
				`{"error": {"code": 403, "message": "quota", "errors": [{"reason": "quotaExceeded"}]}}`), nil
		}
		return okHandler(call, ids)
	}}
	c, _ := newTestClient(t, tr, Options{MaxRetries: 3})
	ctx := context.Background()

	if _, err := c.Fetch(ctx, "first"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("first fetch err = %v, want ErrQuotaExceeded", err)
	}

	for i := 0; i < 100; i++ {
		_, err := c.Fetch(ctx, fmt.Sprintf("v%d", i))
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("fetch %d err = %v, want ErrQuotaExceeded", i, err)
		}
	}
	if got := tr.callCount(); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
	if !c.QuotaState().Exceeded {
		t.Error("expected quota state to report exceeded")
	}

	c.ResetQuota()
	if _, err := c.Fetch(ctx, "after-reset"); err != nil {
		t.Fatalf("fetch after reset: %v", err)
	}
	if got := tr.callCount(); got != 2 {
		t.Errorf("network calls after reset = %d, want 2", got)
	}
}

func TestRateLimitHonoursRetryAfter(t *testing.T) {
	tr := &mockTransport{handle: func(call int, ids []string) (*http.Response, error) {
		if call == 1 {
			resp := jsonResponse(http.StatusTooManyRequests, `{}`)
			resp.Header.Set("Retry-After", "7")
			return resp, nil
		}
		return okHandler(call, ids)
	}}
	c, slept := newTestClient(t, tr, Options{MaxRetries: 3})

	if _, err := c.Fetch(context.Background(), "abc"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{7 * time.Second}, slept.delays); diff != "" {
		t.Errorf("sleep delays mismatch (-want +got):\n%s", diff)
	}
}

func TestServerErrorsBackOffExponentially(t *testing.T) {
	tr := &mockTransport{handle: func(int, []string) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{}`), nil
	}}
	c, slept := newTestClient(t, tr, Options{MaxRetries: 3})

	_, err := c.Fetch(context.Background(), "abc")
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if got := tr.callCount(); got != 4 {
		t.Errorf("network calls = %d, want 4", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if diff := cmp.Diff(want, slept.delays); diff != "" {
		t.Errorf("sleep delays mismatch (-want +got):\n%s", diff)
	}
	if c.QuotaState().Exceeded {
		t.Error("transient errors must not set the sticky flag")
	}
}

func TestNetworkErrorsReleaseQuota(t *testing.T) {
	tr := &mockTransport{handle: func(call int, ids []string) (*http.Response, error) {
		if call <= 2 {
			return nil, io.ErrUnexpectedEOF
		}
		return okHandler(call, ids)
	}}
	c, slept := newTestClient(t, tr, Options{MaxRetries: 3})

	if _, err := c.Fetch(context.Background(), "abc"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, 2 * time.Second}, slept.delays); diff != "" {
		t.Errorf("sleep delays mismatch (-want +got):\n%s", diff)
	}
	if got := c.QuotaState().UsedUnits; got != 1 {
		t.Errorf("used units = %d, want 1", got)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	tr := &mockTransport{handle: func(int, []string) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"error": {"message": "bad id"}}`), nil
	}}
	c, slept := newTestClient(t, tr, Options{MaxRetries: 3})

	_, err := c.Fetch(context.Background(), "abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want APIError 400", err)
	}
	if tr.callCount() != 1 || len(slept.delays) != 0 {
		t.Errorf("calls = %d, sleeps = %d; want 1, 0", tr.callCount(), len(slept.delays))
	}
}

func TestCancelDuringBackoffStopsPromptly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &mockTransport{handle: func(int, []string) (*http.Response, error) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		resp := jsonResponse(http.StatusTooManyRequests, `{}`)
		resp.Header.Set("Retry-After", "3600")
		return resp, nil
	}}
	c, _ := newTestClient(t, tr, Options{MaxRetries: 3})
	c.sleep = sleepCtx

	start := time.Now()
	_, err := c.Fetch(ctx, "abc")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("fetch returned after %v, want prompt return", elapsed)
	}
	time.Sleep(20 * time.Millisecond)
	if got := tr.callCount(); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
}

func TestCancelDuringSpacingWaitReleasesQuota(t *testing.T) {
	tr := &mockTransport{handle: okHandler}
	c, _ := newTestClient(t, tr, Options{Spacing: time.Hour})

	if _, err := c.Fetch(context.Background(), "a"); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Fetch(ctx, "b")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := tr.callCount(); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
	if got := c.QuotaState().UsedUnits; got != 1 {
		t.Errorf("used units = %d, want 1", got)
	}
}

func TestFetchBatchPartitionsHitsAndMisses(t *testing.T) {
	tr := &mockTransport{handle: okHandler}
	c, _ := newTestClient(t, tr, Options{BatchSize: 50, Concurrency: 2})
	ctx := context.Background()

	c.cache.Put(model.Metadata{VideoID: "cached-1"})
	c.cache.Put(model.Metadata{VideoID: "cached-2"})

	ids := []string{"cached-1", "cached-2"}
	for i := 0; i < 120; i++ {
		ids = append(ids, fmt.Sprintf("v%03d", i))
	}
	ids = append(ids, "v000")

	got, err := c.FetchBatch(ctx, ids)
	if err != nil {
		t.Fatalf("fetch batch: %v", err)
	}
	if len(got) != 122 {
		t.Errorf("results = %d, want 122", len(got))
	}
	if calls := tr.callCount(); calls != 3 {
		t.Errorf("network calls = %d, want 3", calls)
	}
	for _, req := range tr.requests {
		if strings.Contains(req, "cached-") {
			t.Errorf("cache hit sent to provider: %s", req)
		}
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	tr := &mockTransport{handle: okHandler}
	c, _ := newTestClient(t, tr, Options{})
	ctx := context.Background()

	c.cache.Put(model.Metadata{VideoID: "abc", Title: "stale"})
	got, err := c.Refresh(ctx, []string{"abc"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got["abc"].Title != "Title abc" {
		t.Errorf("title = %q, want fresh value", got["abc"].Title)
	}
	if md, _ := c.cache.Get("abc"); md.Title != "Title abc" {
		t.Errorf("cache not updated by refresh: %q", md.Title)
	}
}

func TestDailyBudgetIsNotSticky(t *testing.T) {
	tr := &mockTransport{handle: okHandler}
	c, _ := newTestClient(t, tr, Options{DailyLimit: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := c.Fetch(ctx, id); err != nil {
			t.Fatalf("fetch %s: %v", id, err)
		}
	}
	if _, err := c.Fetch(ctx, "c"); !errors.Is(err, ErrDailyBudget) {
		t.Fatalf("err = %v, want ErrDailyBudget", err)
	}
	if c.QuotaState().Exceeded {
		t.Error("daily budget must not set the sticky flag")
	}

	c.Quota().ResetDaily()
	if _, err := c.Fetch(ctx, "c"); err != nil {
		t.Fatalf("fetch after daily reset: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: 0},
		{name: "seconds", value: "30", want: 30 * time.Second},
		{name: "negative", value: "-5", want: 0},
		{name: "http date", value: "Sun, 01 Mar 2026 12:00:10 GMT", want: 10 * time.Second},
		{name: "date in past", value: "Sun, 01 Mar 2026 11:00:00 GMT", want: 0},
		{name: "garbage", value: "soon", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, parseRetryAfter(tt.value, now)); diff != "" {
				t.Errorf("parseRetryAfter(%q) mismatch (-want +got):\n%s", tt.value, diff)
			}
		})
	}
}
