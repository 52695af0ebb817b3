// Package leaderboard ranks users by tokens earned or trust score over a
// rolling period.
package leaderboard

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/viurl/verification-engine/internal/apperr"
	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/resilience"
	"github.com/viurl/verification-engine/internal/store"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Source produces ranked (user, value) pairs ordered by value descending and
// user id ascending. store.Store satisfies it.
type Source interface {
	RankTokensEarned(ctx context.Context, since time.Time, limit int) ([]store.Ranked, error)
	RankBalances(ctx context.Context, limit int) ([]store.Ranked, error)
	RankTrustScores(ctx context.Context, limit int) ([]store.Ranked, error)
}

// Aggregator serves leaderboards, caching each period and metric pair.
type Aggregator struct {
	source       Source
	cache        *Cache
	group        singleflight.Group
	defaultLimit int
	maxLimit     int
	retry        resilience.RetryConfig
	now          func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache replaces the default cache.
func WithCache(c *Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithLimits sets the default and maximum page size.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(a *Aggregator) {
		if maxLimit > 0 {
			a.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			a.defaultLimit = min(defaultLimit, a.maxLimit)
		}
	}
}

// WithRetry sets the retry policy for ranking queries.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *Aggregator) { a.retry = cfg }
}

// WithClock overrides the clock used to place period windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator over src.
func NewAggregator(src Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:       src,
		cache:        NewCache(64, 30*time.Second),
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		retry:        resilience.DefaultRetryConfig(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetLeaderboard returns up to limit entries ranked by metric over period.
// A non-positive limit uses the default; larger limits are capped.
func (a *Aggregator) GetLeaderboard(ctx context.Context, period model.Period, metric model.Metric, limit int) ([]model.LeaderboardEntry, error) {
	if !period.Valid() {
		return nil, apperr.ErrInvalidPeriod.Withf("unknown period %q", string(period))
	}
	if !metric.Valid() {
		return nil, apperr.ErrInvalidMetric.Withf("unknown metric %q", string(metric))
	}
	limit = a.clampLimit(limit)

	board := a.cache.Get(period, metric)
	if board == nil {
		var err error
		if board, err = a.load(ctx, period, metric); err != nil {
			return nil, err
		}
	}

	if len(board) > limit {
		board = board[:limit]
	}
	out := make([]model.LeaderboardEntry, len(board))
	copy(out, board)
	return out, nil
}

// Refresh recomputes one board and stores it in the cache.
func (a *Aggregator) Refresh(ctx context.Context, period model.Period, metric model.Metric) error {
	board, err := a.compute(ctx, period, metric)
	if err != nil {
		return err
	}
	a.cache.Put(period, metric, board)
	return nil
}

// CacheStats reports cache effectiveness.
func (a *Aggregator) CacheStats() CacheStats {
	return a.cache.Stats()
}

func (a *Aggregator) clampLimit(limit int) int {
	if limit <= 0 {
		return a.defaultLimit
	}
	return min(limit, a.maxLimit)
}

// load computes a board once for all concurrent callers of the same key.
func (a *Aggregator) load(ctx context.Context, period model.Period, metric model.Metric) ([]model.LeaderboardEntry, error) {
	v, err, _ := a.group.Do(cacheKey(period, metric), func() (any, error) {
		board, err := a.compute(ctx, period, metric)
		if err != nil {
			return nil, err
		}
		a.cache.Put(period, metric, board)
		return board, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.LeaderboardEntry), nil
}

func (a *Aggregator) compute(ctx context.Context, period model.Period, metric model.Metric) ([]model.LeaderboardEntry, error) {
	var ranked []store.Ranked
	err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		var err error
		switch {
		case metric == model.MetricTrustScore:
			ranked, err = a.source.RankTrustScores(ctx, a.maxLimit)
		case period == model.PeriodAllTime:
			ranked, err = a.source.RankBalances(ctx, a.maxLimit)
		default:
			since := a.now().UTC().Add(-period.Window())
			ranked, err = a.source.RankTokensEarned(ctx, since, a.maxLimit)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rank(ranked), nil
}

// rank assigns sequential 1-based ranks in source order.
func rank(ranked []store.Ranked) []model.LeaderboardEntry {
	board := make([]model.LeaderboardEntry, len(ranked))
	for i, r := range ranked {
		board[i] = model.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      r.UserID,
			MetricValue: r.Value,
		}
	}
	return board
}
