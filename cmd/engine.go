package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/viurl/verification-engine/internal/config"
	"github.com/viurl/verification-engine/internal/engagement"
	"github.com/viurl/verification-engine/internal/leaderboard"
	"github.com/viurl/verification-engine/internal/ledger"
	"github.com/viurl/verification-engine/internal/resilience"
	"github.com/viurl/verification-engine/internal/store"
	"github.com/viurl/verification-engine/internal/verification"
)

// engine bundles the wired components for one process.
type engine struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	Workflow    *verification.Workflow
	Tracker     *engagement.Tracker
	Leaderboard *leaderboard.Aggregator
}

func (e *engine) Close() error {
	if e.Store == nil {
		return nil
	}
	return e.Store.Close()
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "viurl.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func retryConfig(c *config.Config) resilience.RetryConfig {
	return resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)
}

// buildEngine wires every component on top of st.
func buildEngine(st store.Store, c *config.Config) *engine {
	rc := retryConfig(c)
	l := ledger.New(st, ledger.WithRetry(rc))

	settings := verification.DefaultSettings()
	v := c.Verification
	if v.Threshold > 0 {
		settings.Threshold = v.Threshold
	}
	settings.AccurateTrustDelta = v.AccurateTrustDelta
	settings.InaccurateTrustDelta = v.InaccurateTrustDelta
	settings.AuthorRewardTrue = v.AuthorRewardTrue
	settings.AuthorRewardPartial = v.AuthorRewardPartial

	lb := c.Leaderboard
	cache := leaderboard.NewCache(lb.CacheEntries, time.Duration(lb.CacheTTLSecs)*time.Second)

	return &engine{
		Store:    st,
		Ledger:   l,
		Workflow: verification.NewWorkflow(st, l, verification.WithSettings(settings), verification.WithRetry(rc)),
		Tracker:  engagement.NewTracker(st, l, engagement.WithBaseAward(c.Daily.BaseAward), engagement.WithRetry(rc)),
		Leaderboard: leaderboard.NewAggregator(st,
			leaderboard.WithCache(cache),
			leaderboard.WithLimits(lb.DefaultLimit, lb.MaxLimit),
			leaderboard.WithRetry(rc),
		),
	}
}

// openEngine validates the config, opens the store, migrates it and wires
// the components.
func openEngine(ctx context.Context, c *config.Config, mode string) (*engine, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return buildEngine(st, c), nil
}
