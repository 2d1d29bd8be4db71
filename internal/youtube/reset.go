package youtube

import (
	"fmt"
	"log/slog"
	"time"

	cron "github.com/robfig/cron/v3"
)

// DailyResetSpec fires at local midnight.
const DailyResetSpec = "0 0 * * *"

// NewDailyReset returns a stopped cron scheduler that zeroes the used unit
// counter of q at midnight in loc. The sticky exhaustion flag survives it.
func NewDailyReset(q *Quota, loc *time.Location, log *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(DailyResetSpec, func() {
		before := q.State()
		q.ResetDaily()
		log.Info("daily quota usage reset", "used_units", before.UsedUnits, "exceeded", before.Exceeded)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule daily reset: %w", err)
	}
	return c, nil
}
