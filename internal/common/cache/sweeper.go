package cache

import (
	"github.com/robfig/cron/v3"

	"playshelf/internal/common/logging"
)

// Sweepable is a cache that can drop its expired entries in bulk
type Sweepable interface {
	Sweep() int
}

// StartSweeper runs Sweep on every target per the cron schedule, e.g.
// "@every 1m". The returned cron must be stopped by the caller.
func StartSweeper(schedule string, logger logging.Logger, targets ...Sweepable) (*cron.Cron, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed := 0
		for _, t := range targets {
			removed += t.Sweep()
		}
		if removed > 0 {
			logger.Debug("Swept expired cache entries", logging.Int("removed", removed))
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}
