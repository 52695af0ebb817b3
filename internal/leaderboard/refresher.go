package leaderboard

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viurl/verification-engine/internal/model"
)

// RefreshAll recomputes every period and metric pair concurrently.
func (a *Aggregator) RefreshAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, period := range model.Periods {
		for _, metric := range model.Metrics {
			period, metric := period, metric
			g.Go(func() error {
				return a.Refresh(gctx, period, metric)
			})
		}
	}
	return g.Wait()
}

// RunRefresher warms the cache immediately and then every interval until ctx
// is done. Failures are logged and retried on the next tick.
func (a *Aggregator) RunRefresher(ctx context.Context, interval time.Duration) {
	log := zap.L().With(zap.String("component", "leaderboard.refresher"))
	if interval <= 0 {
		return
	}

	refresh := func() {
		start := time.Now()
		if err := a.RefreshAll(ctx); err != nil {
			if ctx.Err() == nil {
				log.Warn("leaderboard refresh failed", zap.Error(err))
			}
			return
		}
		log.Debug("leaderboard refreshed", zap.Duration("elapsed", time.Since(start)))
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
