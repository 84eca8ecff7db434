package form

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// StartJanitor periodically closes idle forms so abandoned drafts do not
// keep previews on disk. The returned func stops the schedule and waits for
// a running sweep to finish.
func (r *Registry) StartJanitor(schedule string, maxIdle time.Duration) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n := r.ExpireIdle(maxIdle); n > 0 {
			log.Info().Int("closed", n).Dur("max_idle", maxIdle).Msg("idle forms expired")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
