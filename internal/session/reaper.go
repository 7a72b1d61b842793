package session

import (
	"context"
	"time"
)

func NewReaper(r *Registry, interval, maxIdle time.Duration) *Reaper {
	return &Reaper{
		registry: r,
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// Reaper periodically closes idle sessions, rolling back whatever
// transactions they left open.
type Reaper struct {
	registry *Registry
	interval time.Duration
	maxIdle  time.Duration
}

func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.DoWork(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Reaper) DoWork(ctx context.Context) {
	closed := r.registry.CloseIdle(ctx, r.maxIdle)
	if closed > 0 {
		r.registry.log.Infof("closed %d idle sessions", closed)
	}
}
