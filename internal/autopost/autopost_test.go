package autopost

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"livenotify/internal/model"
	"livenotify/internal/storage"
)

type mockDispatcher struct {
	err   error
	posts []model.TransitionKind
}

func (m *mockDispatcher) Post(ctx context.Context, rec model.VideoRecord, kind model.TransitionKind) error {
	m.posts = append(m.posts, kind)
	return m.err
}

func newTestStore(t *testing.T, recs ...model.VideoRecord) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for i := range recs {
		if err := s.UpsertVideo(context.Background(), &recs[i]); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	return s
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		mode    string
		want    Policy
		wantErr bool
	}{
		{mode: "off", want: PostOff},
		{mode: "ALL", want: PostAll},
		{mode: " schedule ", want: PostSchedule},
		{mode: "live", want: PostLive},
		{mode: "archive", want: PostArchive},
		{mode: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.mode)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) err = %v, wantErr %v", tt.mode, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestShouldNotify(t *testing.T) {
	kinds := []model.TransitionKind{
		model.TransitionLiveStarted,
		model.TransitionLiveEnded,
		model.TransitionArchiveAvailable,
	}
	tests := []struct {
		name   string
		policy Policy
		want   []bool
	}{
		{name: "off", policy: PostOff, want: []bool{false, false, false}},
		{name: "all false booleans", policy: FromBooleans(false, false, false), want: []bool{false, false, false}},
		{name: "all", policy: PostAll, want: []bool{true, true, true}},
		{name: "schedule", policy: PostSchedule, want: []bool{true, false, false}},
		{name: "live", policy: PostLive, want: []bool{true, true, false}},
		{name: "archive", policy: PostArchive, want: []bool{false, false, true}},
		{name: "schedule and archive booleans", policy: FromBooleans(true, false, true), want: []bool{true, false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []bool
			for _, k := range kinds {
				got = append(got, tt.policy.ShouldNotify(k))
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ShouldNotify mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPolicyString(t *testing.T) {
	if got := PostOff.String(); got != "off" {
		t.Errorf("PostOff = %q", got)
	}
	if got := FromBooleans(true, false, true).String(); got != "schedule+archive" {
		t.Errorf("schedule+archive = %q", got)
	}
}

func TestGateHandle(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ev := model.TransitionEvent{VideoID: "v", Kind: model.TransitionLiveStarted}

	tests := []struct {
		name         string
		policy       Policy
		notified     bool
		dispatchErr  error
		want         Outcome
		wantPosts    int
		wantNotified bool
	}{
		{name: "posts and marks", policy: PostAll, want: OutcomeNotified, wantPosts: 1, wantNotified: true},
		{name: "policy off", policy: PostOff, want: OutcomeSkipped},
		{name: "already notified", policy: PostAll, notified: true, want: OutcomeAlready, wantNotified: true},
		{name: "dispatch failure keeps flag", policy: PostAll, dispatchErr: errors.New("rejected"), want: OutcomeFailed, wantPosts: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, model.VideoRecord{VideoID: "v", Category: model.CategoryLive, Notified: tt.notified})
			d := &mockDispatcher{err: tt.dispatchErr}
			g := NewGate(tt.policy, s, d, log)

			got, err := g.Handle(ctx, ev)
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			if len(d.posts) != tt.wantPosts {
				t.Errorf("posts = %d, want %d", len(d.posts), tt.wantPosts)
			}
			rec, err := s.GetVideo(ctx, "v")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if rec.Notified != tt.wantNotified {
				t.Errorf("notified = %v, want %v", rec.Notified, tt.wantNotified)
			}
		})
	}
}

func TestGateHandleMissingRecord(t *testing.T) {
	s := newTestStore(t)
	g := NewGate(PostAll, s, &mockDispatcher{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := g.Handle(context.Background(), model.TransitionEvent{VideoID: "gone", Kind: model.TransitionLiveEnded})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want storage.ErrNotFound", err)
	}
}
