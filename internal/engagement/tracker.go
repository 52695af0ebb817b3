// Package engagement awards the once-per-day login bonus and tracks streaks.
package engagement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/apperr"
	"github.com/viurl/verification-engine/internal/ledger"
	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/resilience"
	"github.com/viurl/verification-engine/internal/store"
)

// DefaultBaseAward is the bonus paid for any claim before streak tiers.
const DefaultBaseAward int64 = 5

// streakTiers are checked highest first; only the first match applies.
var streakTiers = []struct {
	minStreak int
	bonus     int64
}{
	{30, 10},
	{14, 5},
	{7, 3},
	{3, 1},
}

// StreakBonus returns the tier bonus for a streak length.
func StreakBonus(streak int) int64 {
	for _, tier := range streakTiers {
		if streak >= tier.minStreak {
			return tier.bonus
		}
	}
	return 0
}

// NextStreak returns the streak after a claim on today. A claim the day after
// the last one extends the streak; any gap starts over at 1.
func NextStreak(lastClaim *time.Time, current int, today time.Time) int {
	if lastClaim == nil {
		return 1
	}
	if model.DateOf(*lastClaim).AddDate(0, 0, 1).Equal(model.DateOf(today)) {
		return current + 1
	}
	return 1
}

// ClaimResult is the outcome of a successful daily claim.
type ClaimResult struct {
	AmountAwarded int64     `json:"amount_awarded"`
	NewStreak     int       `json:"new_streak"`
	NewBalance    int64     `json:"new_balance"`
	ClaimDate     time.Time `json:"claim_date"`
}

// Tracker records daily claims.
type Tracker struct {
	store     store.Store
	ledger    *ledger.Ledger
	baseAward int64
	retry     resilience.RetryConfig
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBaseAward overrides the base daily award.
func WithBaseAward(amount int64) Option {
	return func(t *Tracker) {
		if amount > 0 {
			t.baseAward = amount
		}
	}
}

// WithRetry sets the transaction retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(t *Tracker) { t.retry = cfg }
}

// NewTracker creates a Tracker that credits through l.
func NewTracker(st store.Store, l *ledger.Ledger, opts ...Option) *Tracker {
	t := &Tracker{
		store:     st,
		ledger:    l,
		baseAward: DefaultBaseAward,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClaimDailyBonus awards the daily bonus for the UTC day containing now.
// A second claim on the same day fails with ErrAlreadyClaimedToday and
// changes nothing.
func (t *Tracker) ClaimDailyBonus(ctx context.Context, userID string, now time.Time) (*ClaimResult, error) {
	var result *ClaimResult
	err := store.RunInTx(ctx, t.store, t.retry, "engagement.claim", func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = t.claim(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("engagement: daily bonus claimed",
		zap.String("user_id", userID),
		zap.Int("streak", result.NewStreak),
		zap.Int64("amount", result.AmountAwarded),
	)
	return result, nil
}

func (t *Tracker) claim(ctx context.Context, tx store.Tx, userID string, now time.Time) (*ClaimResult, error) {
	u, err := tx.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrUserNotFound.Withf("user %s not found", userID)
	}
	if err != nil {
		return nil, err
	}

	today := model.DateOf(now)
	if u.LastDailyClaimDate != nil && !model.DateOf(*u.LastDailyClaimDate).Before(today) {
		return nil, apperr.ErrAlreadyClaimedToday
	}

	streak := NextStreak(u.LastDailyClaimDate, u.LoginStreak, today)
	amount := t.baseAward + StreakBonus(streak)

	err = tx.InsertClaim(ctx, model.DailyClaim{
		UserID:        userID,
		ClaimDate:     today,
		AmountAwarded: amount,
		StreakAtClaim: streak,
		CreatedAt:     now.UTC(),
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.ErrAlreadyClaimedToday
	}
	if err != nil {
		return nil, err
	}

	balance, err := t.ledger.CreditTx(ctx, tx, userID, amount, ledger.ReasonDailyBonus)
	if err != nil {
		return nil, err
	}
	if err := tx.UpdateStreak(ctx, userID, streak, today); err != nil {
		return nil, err
	}

	return &ClaimResult{
		AmountAwarded: amount,
		NewStreak:     streak,
		NewBalance:    balance,
		ClaimDate:     today,
	}, nil
}

// History returns the user's most recent claims, newest first.
func (t *Tracker) History(ctx context.Context, userID string, limit int) ([]model.DailyClaim, error) {
	if _, err := t.ledger.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	var claims []model.DailyClaim
	err := resilience.Do(ctx, t.retry, func(ctx context.Context) error {
		var err error
		claims, err = t.store.ListClaims(ctx, userID, limit)
		return err
	})
	return claims, err
}
