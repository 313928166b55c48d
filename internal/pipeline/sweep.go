package pipeline

import (
	"context"
	"time"

	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// Sweeper deletes hitchhiker requests whose travel date has passed. Disabled
// by default; a policy knob, not core behavior. Driver rides never expire.
type Sweeper struct {
	store    *rides.Store
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper with the configured interval.
func NewSweeper(store *rides.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{store: store, interval: interval, now: time.Now}
}

// Run sweeps periodically until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, prefix := range []string{config.PrefixLive, config.PrefixSandbox} {
				if n := s.SweepOnce(ctx, prefix); n > 0 {
					logger.InfoContext(ctx, "stale requests swept",
						zap.String("prefix", prefix), zap.Int("removed", n))
				}
			}
		}
	}
}

// SweepOnce removes stale requests under one prefix and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context, prefix string) int {
	today := s.now().In(rides.Location()).Format(rides.DateLayout)

	hikers, err := s.store.ScanHitchhikers(ctx, prefix)
	if err != nil {
		logger.ErrorContext(ctx, "stale sweep scan failed",
			zap.String("prefix", prefix), zap.Error(err))
		return 0
	}

	removed := 0
	for _, h := range hikers {
		if !s.stale(h.Request, today) {
			continue
		}
		if err := s.store.RemoveRecord(ctx, prefix, h.Phone, h.Request.RequestID, rides.RoleHitchhiker); err != nil {
			logger.WarnContext(ctx, "stale request removal failed",
				zap.String("phone", h.Phone),
				zap.String("id", h.Request.RequestID),
				zap.Error(err),
			)
			continue
		}
		removed++
	}
	return removed
}

// stale reports whether the request's date (or window end) is strictly past.
func (s *Sweeper) stale(req rides.HitchhikerRequest, today string) bool {
	if req.TravelDate == "" {
		return false
	}
	return req.TravelDate < today
}
