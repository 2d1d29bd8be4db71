// Package poller decides which tracked videos to poll and how long to wait
// before the next cycle.
package poller

import (
	"sort"
	"time"

	"livenotify/internal/model"
)

// Phase is the polling regime derived from the tracking table.
type Phase string

const (
	// PhaseActive means at least one scheduled or live video is tracked.
	PhaseActive Phase = "active"
	// PhaseCompleted means only ended videos await archive confirmation.
	PhaseCompleted Phase = "completed"
	// PhaseDormant means nothing is tracked and polling is skipped.
	PhaseDormant Phase = "dormant"
)

// Default intervals.
const (
	DefaultActiveInterval = 15 * time.Minute
	DefaultCompletedMin   = 30 * time.Minute
	DefaultCompletedMax   = 3 * time.Hour
	DefaultArchiveMinAge  = time.Hour
)

// Config holds the interval bounds of the poller.
type Config struct {
	// ActiveInterval is the cadence while anything is scheduled or live.
	// It is also the dormant re-check cadence.
	ActiveInterval time.Duration
	// CompletedMin and CompletedMax bound the completed-backoff interval.
	CompletedMin time.Duration
	CompletedMax time.Duration
	// ArchiveMinAge is the age unit of the completed-backoff thresholds.
	ArchiveMinAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = DefaultActiveInterval
	}
	if c.CompletedMin <= 0 {
		c.CompletedMin = DefaultCompletedMin
	}
	if c.CompletedMax <= 0 {
		c.CompletedMax = DefaultCompletedMax
	}
	if c.CompletedMax < c.CompletedMin {
		c.CompletedMax = c.CompletedMin
	}
	if c.ArchiveMinAge <= 0 {
		c.ArchiveMinAge = DefaultArchiveMinAge
	}
	return c
}

// Plan is the outcome of one scheduling decision.
type Plan struct {
	Phase Phase
	// IDs are the videos to poll this cycle, sorted. Empty when dormant.
	IDs []string
	// Interval is the wait before the next cycle. When dormant it is the
	// re-check cadence and no poll happens.
	Interval time.Duration
}

// Dormant reports whether the plan skips polling.
func (p Plan) Dormant() bool {
	return p.Phase == PhaseDormant
}

// Poller computes plans from tracking entries. It is stateless.
type Poller struct {
	cfg Config
}

// New creates a Poller.
func New(cfg Config) *Poller {
	return &Poller{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Plan evaluates entries at now.
func (p *Poller) Plan(entries []model.TrackingEntry, now time.Time) Plan {
	phase := PhaseOf(entries)
	return Plan{
		Phase:    phase,
		IDs:      p.selectIDs(phase, entries),
		Interval: p.interval(phase, entries, now),
	}
}

// SelectPollSet returns the IDs to poll this cycle.
func (p *Poller) SelectPollSet(entries []model.TrackingEntry) []string {
	return p.selectIDs(PhaseOf(entries), entries)
}

// NextInterval returns the wait before the next cycle and whether the
// engine is dormant.
func (p *Poller) NextInterval(entries []model.TrackingEntry, now time.Time) (time.Duration, bool) {
	phase := PhaseOf(entries)
	return p.interval(phase, entries, now), phase == PhaseDormant
}

// PhaseOf classifies the tracking table into a phase.
func PhaseOf(entries []model.TrackingEntry) Phase {
	phase := PhaseDormant
	for _, e := range entries {
		switch e.Status {
		case model.TrackingActive:
			return PhaseActive
		case model.TrackingEnded:
			phase = PhaseCompleted
		}
	}
	return phase
}

func (p *Poller) selectIDs(phase Phase, entries []model.TrackingEntry) []string {
	var ids []string
	for _, e := range entries {
		switch phase {
		case PhaseActive:
			ids = append(ids, e.VideoID)
		case PhaseCompleted:
			if e.Status == model.TrackingEnded {
				ids = append(ids, e.VideoID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func (p *Poller) interval(phase Phase, entries []model.TrackingEntry, now time.Time) time.Duration {
	if phase != PhaseCompleted {
		return p.cfg.ActiveInterval
	}
	return p.backoff(oldestEndedAge(entries, now))
}

// backoff maps the age of the longest-unconfirmed ended entry onto staged
// intervals between CompletedMin and CompletedMax.
func (p *Poller) backoff(age time.Duration) time.Duration {
	lo, hi, unit := p.cfg.CompletedMin, p.cfg.CompletedMax, p.cfg.ArchiveMinAge
	var d time.Duration
	switch {
	case age < unit:
		d = lo
	case age < 2*unit:
		d = lo + lo/2
	case age < 4*unit:
		d = lo + (hi-lo)/2
	default:
		d = hi
	}
	return min(d, hi)
}

// oldestEndedAge returns the age of the earliest-ended entry. Entries
// without an end time count as just ended.
func oldestEndedAge(entries []model.TrackingEntry, now time.Time) time.Duration {
	var age time.Duration
	for _, e := range entries {
		if e.Status != model.TrackingEnded || e.EndedAt == nil {
			continue
		}
		if a := now.Sub(*e.EndedAt); a > age {
			age = a
		}
	}
	return age
}
