// Package lifecycle registers classified videos, detects lifecycle
// transitions and keeps the tracking table in step with them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"livenotify/internal/model"
	"livenotify/internal/storage"
	"livenotify/internal/telemetry"
)

// Store is the subset of storage.Storage used by the machine.
type Store interface {
	GetVideo(ctx context.Context, videoID string) (*model.VideoRecord, error)
	InsertVideo(ctx context.Context, rec *model.VideoRecord, dedup bool) error
	UpsertVideo(ctx context.Context, rec *model.VideoRecord) error
}

// RegisterResult describes what Register did with a classification.
type RegisterResult struct {
	Record model.VideoRecord
	// Created is set when the record did not exist before.
	Created bool
	// Ambiguous is set when the classification was Unknown and ignored.
	Ambiguous bool
	// Duplicate is set when the store rejected a new plain video as a
	// content duplicate of an existing record.
	Duplicate bool
	// Ignored is set when the classification would move the record
	// backward along the lifecycle.
	Ignored bool
	// Untracked is set when the archive confirmation budget ran out.
	Untracked bool
	// Event is the recognized transition, if any.
	Event *model.TransitionEvent
}

// DetectTransition reports the transition kind for from → to, if any.
func DetectTransition(from, to model.Category) (model.TransitionKind, bool) {
	switch {
	case (from == model.CategoryVideo || from == model.CategorySchedule) && to == model.CategoryLive:
		return model.TransitionLiveStarted, true
	case from == model.CategoryLive && (to == model.CategoryCompleted || to == model.CategoryArchive):
		return model.TransitionLiveEnded, true
	case from == model.CategoryCompleted && to == model.CategoryArchive:
		return model.TransitionArchiveAvailable, true
	}
	return "", false
}

// Machine applies classifications to stored records. Callers serialize
// calls per video ID.
type Machine struct {
	store   Store
	tracker *Tracker
	log     *slog.Logger
	now     func() time.Time

	transitions metric.Int64Counter
}

// NewMachine creates a Machine over store and tracker.
func NewMachine(store Store, tracker *Tracker, log *slog.Logger) *Machine {
	counter, _ := telemetry.Meter("livenotify/lifecycle").Int64Counter("livenotify.transitions",
		metric.WithDescription("Recognized lifecycle transitions by kind"))
	return &Machine{
		store:       store,
		tracker:     tracker,
		log:         log,
		now:         time.Now,
		transitions: counter,
	}
}

// Tracker returns the tracking table the machine maintains.
func (m *Machine) Tracker() *Tracker {
	return m.tracker
}

// Register records a fresh classification. A new video is stored as-is; an
// existing one is compared against its stored category and, on a
// recognized transition, updated with notified reset to false.
func (m *Machine) Register(ctx context.Context, res model.ClassificationResult) (RegisterResult, error) {
	if res.Category == model.CategoryUnknown {
		m.log.Warn("ambiguous classification, skipping", "video_id", res.VideoID)
		return RegisterResult{Ambiguous: true}, nil
	}

	rec, err := m.store.GetVideo(ctx, res.VideoID)
	if errors.Is(err, storage.ErrNotFound) {
		return m.create(ctx, res)
	}
	if err != nil {
		return RegisterResult{}, fmt.Errorf("get video %s: %w", res.VideoID, err)
	}
	return m.advance(ctx, *rec, res)
}

func (m *Machine) create(ctx context.Context, res model.ClassificationResult) (RegisterResult, error) {
	rec := model.VideoRecord{
		VideoID:            res.VideoID,
		ChannelID:          res.ChannelID,
		Title:              res.Title,
		Category:           res.Category,
		RepresentativeTime: res.RepresentativeTime,
		IsPremiere:         res.IsPremiere,
	}
	// Live-relevant snapshots of one creator legitimately share titles.
	dedup := !rec.Category.LiveRelevant()
	err := m.store.InsertVideo(ctx, &rec, dedup)
	if errors.Is(err, storage.ErrDuplicate) {
		m.log.Debug("duplicate video content, not registered", "video_id", rec.VideoID, "title", rec.Title)
		return RegisterResult{Record: rec, Duplicate: true}, nil
	}
	if err != nil {
		return RegisterResult{}, fmt.Errorf("insert video %s: %w", rec.VideoID, err)
	}

	m.log.Info("video registered", "video_id", rec.VideoID, "category", rec.Category)
	m.track(rec)
	return RegisterResult{Record: rec, Created: true}, nil
}

func (m *Machine) advance(ctx context.Context, rec model.VideoRecord, res model.ClassificationResult) (RegisterResult, error) {
	old := rec.Category
	next := effectiveCategory(old, res.Category)

	if next == old {
		return m.refresh(ctx, rec, res)
	}
	if next.Rank() <= old.Rank() {
		m.log.Warn("classification does not advance, ignoring",
			"video_id", rec.VideoID, "from", old, "to", next)
		out := RegisterResult{Record: rec, Ignored: true}
		// A scheduled stream now reported as a plain upload will not go live.
		if old == model.CategorySchedule && next == model.CategoryVideo {
			if _, ok := m.tracker.Get(rec.VideoID); ok {
				m.tracker.Remove(rec.VideoID)
				out.Untracked = true
			}
		}
		return out, nil
	}

	now := m.now()
	rec.Category = next
	rec.RepresentativeTime = representativeTime(old, next, rec.RepresentativeTime, res, now)
	rec.IsPremiere = rec.IsPremiere || res.IsPremiere
	if res.Title != "" {
		rec.Title = res.Title
	}

	kind, recognized := DetectTransition(old, next)
	if recognized {
		rec.Notified = false
	}
	if err := m.store.UpsertVideo(ctx, &rec); err != nil {
		return RegisterResult{}, fmt.Errorf("update video %s: %w", rec.VideoID, err)
	}
	m.track(rec)

	out := RegisterResult{Record: rec}
	if !recognized {
		m.log.Info("category changed without transition", "video_id", rec.VideoID, "from", old, "to", next)
		return out, nil
	}

	m.log.Info("transition detected", "video_id", rec.VideoID, "kind", kind, "from", old, "to", next)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	out.Event = &model.TransitionEvent{
		VideoID:    rec.VideoID,
		Kind:       kind,
		From:       old,
		To:         next,
		DetectedAt: now,
	}
	return out, nil
}

// refresh handles a classification that keeps the stored category.
func (m *Machine) refresh(ctx context.Context, rec model.VideoRecord, res model.ClassificationResult) (RegisterResult, error) {
	out := RegisterResult{Record: rec}

	changed := (!res.RepresentativeTime.IsZero() && !res.RepresentativeTime.Equal(rec.RepresentativeTime) &&
		rec.Category != model.CategoryArchive) ||
		(res.Title != "" && res.Title != rec.Title)
	if changed {
		if rec.Category != model.CategoryArchive {
			rec.RepresentativeTime = res.RepresentativeTime
		}
		if res.Title != "" {
			rec.Title = res.Title
		}
		if err := m.store.UpsertVideo(ctx, &rec); err != nil {
			return RegisterResult{}, fmt.Errorf("update video %s: %w", rec.VideoID, err)
		}
		out.Record = rec
	}

	if rec.Category == model.CategoryCompleted {
		if e, ok := m.tracker.Get(rec.VideoID); ok && e.Status == model.TrackingEnded {
			count, exhausted := m.tracker.RecordArchiveCheck(rec.VideoID)
			if exhausted {
				m.log.Info("archive not confirmed within check budget, untracking",
					"video_id", rec.VideoID, "checks", count)
				out.Untracked = true
			}
			return out, nil
		}
	}
	if rec.Category == model.CategorySchedule || rec.Category == model.CategoryLive {
		m.tracker.Activate(rec.VideoID)
	}
	return out, nil
}

func (m *Machine) track(rec model.VideoRecord) {
	switch rec.Category {
	case model.CategorySchedule, model.CategoryLive:
		m.tracker.Activate(rec.VideoID)
	case model.CategoryCompleted:
		m.tracker.MarkEnded(rec.VideoID, rec.RepresentativeTime)
	default:
		m.tracker.Remove(rec.VideoID)
	}
}

// effectiveCategory turns a plain-video reclassification of a broadcast
// that already went live into an archive confirmation.
func effectiveCategory(old, classified model.Category) model.Category {
	if classified == model.CategoryVideo && (old == model.CategoryLive || old == model.CategoryCompleted) {
		return model.CategoryArchive
	}
	return classified
}

func representativeTime(old, next model.Category, prev time.Time, res model.ClassificationResult, now time.Time) time.Time {
	if next != model.CategoryArchive {
		return res.RepresentativeTime
	}
	// The demoted payload carries no end time; keep the one already known.
	if old == model.CategoryCompleted && !prev.IsZero() {
		return prev
	}
	return now
}
