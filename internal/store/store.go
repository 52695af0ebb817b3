// Package store persists accounts, posts, verdicts, ledger entries and daily
// claims. Postgres is the production backend; SQLite serves local runs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/viurl/verification-engine/internal/db"
	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/resilience"
)

var (
	// ErrNotFound is returned when a user or post row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert hits a primary key or unique
	// constraint: a second verdict for the same (post, verifier), a second
	// claim for the same (user, day), or an existing user/post id.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrNegativeBalance is returned when a balance change would go below zero.
	ErrNegativeBalance = errors.New("store: negative balance")
)

// Ranked is one (user, value) pair produced by a ranking query, already
// ordered by value descending then user id ascending.
type Ranked struct {
	UserID string
	Value  int64
}

// Store is the persistence contract for the engine.
type Store interface {
	// InTx runs fn in a single transaction. Any error from fn rolls back every
	// write fn made. Transient failures come back as resilience.TransientError.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	CreateUser(ctx context.Context, u model.User) error
	CreatePost(ctx context.Context, p model.Post) error

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error)
	ListClaims(ctx context.Context, userID string, limit int) ([]model.DailyClaim, error)

	// RankTokensEarned sums positive token deltas recorded at or after since.
	RankTokensEarned(ctx context.Context, since time.Time, limit int) ([]Ranked, error)
	RankBalances(ctx context.Context, limit int) ([]Ranked, error)
	RankTrustScores(ctx context.Context, limit int) ([]Ranked, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Tx is the set of operations available inside InTx. Reads of users and posts
// lock the row until the transaction ends. Balance, trust and counter changes
// are applied as increments in SQL so concurrent writers never lose updates.
type Tx interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	UpdatePost(ctx context.Context, p model.Post) error

	HasVerdict(ctx context.Context, postID, verifierID string) (bool, error)
	InsertVerdict(ctx context.Context, v model.Verdict) error
	ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error)
	MarkSettled(ctx context.Context, postID string, verifierIDs []string) error

	// AddTokens returns the new balance, or ErrNegativeBalance without writing.
	AddTokens(ctx context.Context, userID string, delta int64) (int64, error)
	// AddTrust returns the new score clamped to [0,100].
	AddTrust(ctx context.Context, userID string, delta int) (int, error)
	SetBadge(ctx context.Context, userID string, badge model.Badge) error
	AddVerificationCounts(ctx context.Context, userID string, total, accurate int) error
	InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error

	InsertClaim(ctx context.Context, c model.DailyClaim) error
	UpdateStreak(ctx context.Context, userID string, streak int, claimDate time.Time) error
}

// IsRetryable reports whether err is a storage failure that a fresh
// transaction may not hit again.
func IsRetryable(err error) bool {
	return db.IsRetryable(err) || isSQLiteBusy(err) || resilience.IsTransient(err)
}

// RunInTx runs fn in a transaction on s, retrying the whole transaction when
// it fails for a transient reason.
func RunInTx(ctx context.Context, s Store, cfg resilience.RetryConfig, operation string, fn func(ctx context.Context, tx Tx) error) error {
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(operation)
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return s.InTx(ctx, func(tx Tx) error {
			return fn(ctx, tx)
		})
	})
}

// markTransient tags retryable failures so resilience.Do retries them.
func markTransient(err error) error {
	if err != nil && IsRetryable(err) {
		return resilience.NewTransientError(err)
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
