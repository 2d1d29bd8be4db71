package autopost

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"livenotify/internal/model"
	"livenotify/internal/telemetry"
)

// Dispatcher delivers a notification for a record and transition kind.
// A nil error is the success acknowledgment.
type Dispatcher interface {
	Post(ctx context.Context, rec model.VideoRecord, kind model.TransitionKind) error
}

// Store is the subset of storage.Storage used by the gate.
type Store interface {
	GetVideo(ctx context.Context, videoID string) (*model.VideoRecord, error)
	MarkNotified(ctx context.Context, videoID string) error
}

// Outcome is what Handle did with an event.
type Outcome string

// Outcomes.
const (
	OutcomeSkipped    Outcome = "skipped"
	OutcomeNotified   Outcome = "notified"
	OutcomeAlready    Outcome = "already_notified"
	OutcomeFailed     Outcome = "failed"
	OutcomeMarkFailed Outcome = "mark_failed"
)

// Gate is the single place that decides whether a transition is posted.
type Gate struct {
	policy     Policy
	store      Store
	dispatcher Dispatcher
	log        *slog.Logger

	dispatches metric.Int64Counter
}

// NewGate creates a Gate.
func NewGate(policy Policy, store Store, dispatcher Dispatcher, log *slog.Logger) *Gate {
	counter, _ := telemetry.Meter("livenotify/autopost").Int64Counter("livenotify.dispatch",
		metric.WithDescription("Notification dispatch attempts by kind and result"))
	return &Gate{
		policy:     policy,
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		dispatches: counter,
	}
}

// Policy returns the resolved policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// ShouldNotify reports whether kind is announced under the gate's policy.
func (g *Gate) ShouldNotify(kind model.TransitionKind) bool {
	return g.policy.ShouldNotify(kind)
}

// Handle evaluates ev and dispatches when the policy allows it. The record
// is marked notified only after the dispatcher acknowledged the post. A
// failed dispatch is logged and not retried.
func (g *Gate) Handle(ctx context.Context, ev model.TransitionEvent) (Outcome, error) {
	if !g.policy.ShouldNotify(ev.Kind) {
		g.log.Debug("transition not posted under policy", "video_id", ev.VideoID, "kind", ev.Kind, "policy", g.policy)
		return OutcomeSkipped, nil
	}

	rec, err := g.store.GetVideo(ctx, ev.VideoID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("get video %s: %w", ev.VideoID, err)
	}
	if rec.Notified {
		return OutcomeAlready, nil
	}

	if err := g.dispatcher.Post(ctx, *rec, ev.Kind); err != nil {
		g.log.Error("dispatch failed", "video_id", ev.VideoID, "kind", ev.Kind, "error", err)
		g.count(ctx, ev.Kind, OutcomeFailed)
		return OutcomeFailed, nil
	}

	if err := g.store.MarkNotified(ctx, ev.VideoID); err != nil {
		g.count(ctx, ev.Kind, OutcomeMarkFailed)
		return OutcomeMarkFailed, fmt.Errorf("mark notified %s: %w", ev.VideoID, err)
	}
	g.log.Info("notification dispatched", "video_id", ev.VideoID, "kind", ev.Kind)
	g.count(ctx, ev.Kind, OutcomeNotified)
	return OutcomeNotified, nil
}

func (g *Gate) count(ctx context.Context, kind model.TransitionKind, out Outcome) {
	g.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("result", string(out)),
	))
}
