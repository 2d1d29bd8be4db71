package youtube

import (
	"sync"

	"livenotify/internal/model"
)

// Quota guards the process-wide API budget. All methods are safe for
// concurrent use.
type Quota struct {
	mu       sync.Mutex
	used     int
	limit    int
	exceeded bool
}

// NewQuota creates a Quota with the given daily unit limit.
func NewQuota(dailyLimit int) *Quota {
	return &Quota{limit: dailyLimit}
}

// Reserve checks the sticky flag and the daily budget and, if both allow,
// charges cost units in the same critical section.
func (q *Quota) Reserve(cost int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.exceeded {
		return ErrQuotaExceeded
	}
	if q.used+cost > q.limit {
		return ErrDailyBudget
	}
	q.used += cost
	return nil
}

// Release refunds units charged for a request the provider never saw.
func (q *Quota) Release(cost int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used -= cost
	if q.used < 0 {
		q.used = 0
	}
}

// MarkExceeded sets the sticky exhaustion flag.
func (q *Quota) MarkExceeded() {
	q.mu.Lock()
	q.exceeded = true
	q.mu.Unlock()
}

// Exceeded reports whether the sticky flag is set.
func (q *Quota) Exceeded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.exceeded
}

// ResetDaily zeroes the used unit counter. The sticky flag is left alone.
func (q *Quota) ResetDaily() {
	q.mu.Lock()
	q.used = 0
	q.mu.Unlock()
}

// Reset clears the sticky flag and the usage counter. It is the only way
// to recover from a provider rejection without restarting.
func (q *Quota) Reset() {
	q.mu.Lock()
	q.used = 0
	q.exceeded = false
	q.mu.Unlock()
}

// State returns a snapshot of the counters.
func (q *Quota) State() model.QuotaState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.QuotaState{UsedUnits: q.used, DailyLimit: q.limit, Exceeded: q.exceeded}
}
