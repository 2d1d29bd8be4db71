// Package scheduler runs the background poll loop: it plans each cycle,
// refreshes tracked videos and feeds the results through classification,
// lifecycle registration and the auto-poster gate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"livenotify/internal/autopost"
	"livenotify/internal/classifier"
	"livenotify/internal/lifecycle"
	"livenotify/internal/model"
	"livenotify/internal/poller"
	"livenotify/internal/storage"
	"livenotify/internal/youtube"
)

// Fetcher is the metadata client used by the scheduler.
type Fetcher interface {
	FetchBatch(ctx context.Context, ids []string) (map[string]model.Metadata, error)
	Refresh(ctx context.Context, ids []string) (map[string]model.Metadata, error)
}

// Notifier receives recognized transitions.
type Notifier interface {
	Handle(ctx context.Context, ev model.TransitionEvent) (autopost.Outcome, error)
}

// Store is the subset of storage.Storage used by the scheduler.
type Store interface {
	GetVideo(ctx context.Context, videoID string) (*model.VideoRecord, error)
	ListVideosByCategory(ctx context.Context, cat model.Category) ([]model.VideoRecord, error)
	lifecycle.TrackingStore
}

// Status is a snapshot of the loop for the operator surface.
type Status struct {
	Phase      poller.Phase
	Active     int
	Ended      int
	LastCycle  time.Time
	LastPolled int
	NextCycle  time.Time
}

// Scheduler owns the poll loop.
type Scheduler struct {
	store   Store
	fetcher Fetcher
	machine *lifecycle.Machine
	gate    Notifier
	poller  *poller.Poller
	log     *slog.Logger
	workers int
	now     func() time.Time

	wake  chan struct{}
	locks keyedMutex

	mu      sync.Mutex
	status  Status
	dropped map[string]struct{}
}

// New creates a Scheduler. workers bounds the concurrent per-video
// processing within a cycle.
func New(store Store, fetcher Fetcher, machine *lifecycle.Machine, gate Notifier, p *poller.Poller, workers int, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		store:   store,
		fetcher: fetcher,
		machine: machine,
		gate:    gate,
		poller:  p,
		log:     log,
		workers: workers,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		locks:   keyedMutex{locks: make(map[string]*keyLock)},
		dropped: make(map[string]struct{}),
	}
}

// Wake makes a waiting loop start its next cycle now.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status returns the latest loop snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run loads persisted tracking and runs cycles until ctx is cancelled.
// Cycle failures are logged; Run only returns on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.machine.Tracker().Load(ctx, s.store); err != nil {
		s.log.Error("restore tracking", "error", err)
	}
	if err := s.seed(ctx); err != nil {
		s.log.Error("seed tracking", "error", err)
	}

	for {
		plan := s.RunCycle(ctx)
		if ctx.Err() != nil {
			s.save(context.WithoutCancel(ctx))
			return nil
		}

		timer := time.NewTimer(plan.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.save(context.WithoutCancel(ctx))
			return nil
		case <-s.wake:
			timer.Stop()
			s.log.Debug("woken before next cycle")
		case <-timer.C:
		}
	}
}

// RunCycle performs one scheduling cycle and returns the plan for the next
// wait. A dormant cycle re-reads the store for scheduled and live records
// and makes no API calls when none need tracking.
func (s *Scheduler) RunCycle(ctx context.Context) poller.Plan {
	plan := s.poller.Plan(s.machine.Tracker().Snapshot(), s.now())
	if plan.Dormant() {
		if err := s.seed(ctx); err != nil {
			s.log.Error("cycle aborted", "error", err)
			return s.finish(0)
		}
		plan = s.poller.Plan(s.machine.Tracker().Snapshot(), s.now())
	}
	if plan.Dormant() {
		s.log.Debug("nothing tracked, dormant")
		return s.finish(0)
	}

	s.log.Debug("poll cycle", "phase", plan.Phase, "videos", len(plan.IDs))
	got, err := s.fetcher.Refresh(ctx, plan.IDs)
	if err != nil {
		if errors.Is(err, youtube.ErrQuotaExceeded) || errors.Is(err, youtube.ErrDailyBudget) {
			s.log.Warn("quota unavailable, skipping fetches", "error", err)
		} else {
			s.log.Error("refresh tracked videos", "error", err)
		}
	}
	if err == nil {
		s.dropVanished(plan.IDs, got)
	}

	s.process(ctx, got)
	s.save(ctx)
	return s.finish(len(got))
}

// Submit fetches and registers ids not seen before. It returns the number
// of new videos registered.
func (s *Scheduler) Submit(ctx context.Context, ids []string) (int, error) {
	var fresh []string
	for _, id := range ids {
		_, err := s.store.GetVideo(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			fresh = append(fresh, id)
		case err != nil:
			return 0, fmt.Errorf("lookup %s: %w", id, err)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	got, err := s.fetcher.FetchBatch(ctx, fresh)
	created, relevant := 0, false
	for _, md := range got {
		out, ok := s.handle(ctx, md)
		if ok && out.Created {
			created++
			relevant = relevant || out.Record.Category.LiveRelevant()
		}
	}
	if created > 0 {
		s.save(ctx)
	}
	if relevant {
		s.Wake()
	}
	return created, err
}

// Track refreshes one video regardless of whether it is known and wakes
// the loop. The video's lock is held from fetch to registration.
func (s *Scheduler) Track(ctx context.Context, id string) (lifecycle.RegisterResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	got, err := s.fetcher.Refresh(ctx, []string{id})
	if err != nil {
		return lifecycle.RegisterResult{}, err
	}
	md, ok := got[id]
	if !ok {
		return lifecycle.RegisterResult{}, fmt.Errorf("%w: %s", youtube.ErrNotFound, id)
	}
	out, ok := s.apply(ctx, md)
	if !ok {
		return out, fmt.Errorf("register %s failed", id)
	}
	s.save(ctx)
	s.Wake()
	return out, nil
}

// seed tracks scheduled and live records the table does not know yet,
// except those dropped since the provider last returned them.
func (s *Scheduler) seed(ctx context.Context) error {
	tracker := s.machine.Tracker()
	for _, cat := range []model.Category{model.CategorySchedule, model.CategoryLive} {
		recs, err := s.store.ListVideosByCategory(ctx, cat)
		if err != nil {
			return fmt.Errorf("list %s videos: %w", cat, err)
		}
		for _, rec := range recs {
			if s.isDropped(rec.VideoID) {
				continue
			}
			if _, ok := tracker.Get(rec.VideoID); !ok {
				tracker.Activate(rec.VideoID)
				s.log.Debug("tracking stored video", "video_id", rec.VideoID, "category", cat)
			}
		}
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, got map[string]model.Metadata) {
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, md := range got {
		g.Go(func() error {
			s.handle(ctx, md)
			return nil
		})
	}
	_ = g.Wait()
}

// handle runs one payload through classify, register and gate. Calls for
// the same video are serialized.
func (s *Scheduler) handle(ctx context.Context, md model.Metadata) (lifecycle.RegisterResult, bool) {
	unlock := s.locks.Lock(md.VideoID)
	defer unlock()
	return s.apply(ctx, md)
}

// apply is handle without locking.
func (s *Scheduler) apply(ctx context.Context, md model.Metadata) (lifecycle.RegisterResult, bool) {
	s.machine.Tracker().Touch(md.VideoID, s.now())
	res := classifier.Classify(md)
	out, err := s.machine.Register(ctx, res)
	if err != nil {
		s.log.Error("register video", "video_id", md.VideoID, "error", err)
		return out, false
	}
	s.setDropped(md.VideoID, out.Untracked && out.Record.Category.LiveRelevant())
	if out.Event != nil {
		if _, err := s.gate.Handle(ctx, *out.Event); err != nil {
			s.log.Error("auto-post", "video_id", md.VideoID, "kind", out.Event.Kind, "error", err)
		}
	}
	return out, true
}

// dropVanished untracks videos the provider no longer returns.
func (s *Scheduler) dropVanished(ids []string, got map[string]model.Metadata) {
	for _, id := range ids {
		if _, ok := got[id]; !ok {
			s.log.Warn("video missing from provider, untracking", "video_id", id)
			s.machine.Tracker().Remove(id)
			s.setDropped(id, true)
		}
	}
}

func (s *Scheduler) setDropped(id string, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dropped {
		s.dropped[id] = struct{}{}
	} else {
		delete(s.dropped, id)
	}
}

func (s *Scheduler) isDropped(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dropped[id]
	return ok
}

func (s *Scheduler) save(ctx context.Context) {
	if err := s.machine.Tracker().Save(ctx, s.store); err != nil {
		s.log.Error("persist tracking", "error", err)
	}
}

func (s *Scheduler) finish(polled int) poller.Plan {
	now := s.now()
	entries := s.machine.Tracker().Snapshot()
	plan := s.poller.Plan(entries, now)

	st := Status{
		Phase:      plan.Phase,
		LastCycle:  now,
		LastPolled: polled,
		NextCycle:  now.Add(plan.Interval),
	}
	for _, e := range entries {
		if e.Status == model.TrackingEnded {
			st.Ended++
		} else {
			st.Active++
		}
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	return plan
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
