// Package stats periodically reports engine-level gauges.
package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Collector struct {
	interval time.Duration
	active   func() int
}

// New builds a collector around a live-session counter.
func New(interval time.Duration, active func() int) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{interval: interval, active: active}
}

// Run logs the active session count until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().Str("module", "stats").Int("active_sessions", c.active()).Msg("active session count")
		}
	}
}
