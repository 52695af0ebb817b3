// Package ledger owns user token balances and trust scores. Every change is
// applied as an increment under a row lock and appended to the audit log.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/apperr"
	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/resilience"
	"github.com/viurl/verification-engine/internal/store"
)

// Audit reasons written by the engine.
const (
	ReasonVerificationReward = "verification_reward"
	ReasonVerificationSettle = "verification_settlement"
	ReasonAuthorReward       = "author_reward"
	ReasonAuthorTrust        = "author_status_change"
	ReasonDailyBonus         = "daily_bonus"
)

// Ledger applies balance and trust changes.
type Ledger struct {
	store store.Store
	retry resilience.RetryConfig
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRetry sets the retry policy for standalone operations.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(l *Ledger) { l.retry = cfg }
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger on st.
func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: st,
		retry: resilience.DefaultRetryConfig(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenAccount registers a user with a zero balance and the default trust score.
func (l *Ledger) OpenAccount(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperr.ErrInvalidID.Withf("user id is required")
	}
	u := model.NewUser(userID, l.now())
	err := resilience.Do(ctx, l.retry, func(ctx context.Context) error {
		return l.store.CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.ErrUserExists.Withf("user %s already exists", userID)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Debug("ledger: account opened", zap.String("user_id", userID))
	return &u, nil
}

// Credit adds a positive amount to the user's balance and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, invalidAmount(amount)
	}
	var balance int64
	err := store.RunInTx(ctx, l.store, l.retry, "ledger.credit", func(ctx context.Context, tx store.Tx) error {
		var err error
		balance, err = l.CreditTx(ctx, tx, userID, amount, reason)
		return err
	})
	return balance, err
}

// Debit removes a positive amount from the user's balance. A debit that would
// overdraw the account fails without writing anything.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, invalidAmount(amount)
	}
	var balance int64
	err := store.RunInTx(ctx, l.store, l.retry, "ledger.debit", func(ctx context.Context, tx store.Tx) error {
		var err error
		balance, err = l.DebitTx(ctx, tx, userID, amount, reason)
		return err
	})
	return balance, err
}

// AdjustTrustScore applies delta to the user's trust score, clamped to
// [0,100], and recomputes the badge. It returns the new score.
func (l *Ledger) AdjustTrustScore(ctx context.Context, userID string, delta int, reason string) (int, error) {
	var score int
	err := store.RunInTx(ctx, l.store, l.retry, "ledger.adjust_trust", func(ctx context.Context, tx store.Tx) error {
		var err error
		score, err = l.AdjustTrustScoreTx(ctx, tx, userID, delta, reason)
		return err
	})
	return score, err
}

// CreditTx is Credit inside the caller's transaction.
func (l *Ledger) CreditTx(ctx context.Context, tx store.Tx, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, invalidAmount(amount)
	}
	return l.applyTokens(ctx, tx, userID, amount, reason)
}

// DebitTx is Debit inside the caller's transaction.
func (l *Ledger) DebitTx(ctx context.Context, tx store.Tx, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, invalidAmount(amount)
	}
	return l.applyTokens(ctx, tx, userID, -amount, reason)
}

// AdjustTrustScoreTx is AdjustTrustScore inside the caller's transaction.
func (l *Ledger) AdjustTrustScoreTx(ctx context.Context, tx store.Tx, userID string, delta int, reason string) (int, error) {
	ch, err := l.ChangeTrustTx(ctx, tx, userID, delta, reason)
	return ch.Score, err
}

// TrustChange is the outcome of a trust adjustment. Applied is the delta
// actually recorded after clamping.
type TrustChange struct {
	Score   int
	Applied int
}

// ChangeTrustTx applies delta like AdjustTrustScoreTx and also reports how
// much of it survived clamping.
func (l *Ledger) ChangeTrustTx(ctx context.Context, tx store.Tx, userID string, delta int, reason string) (TrustChange, error) {
	u, err := lockUser(ctx, tx, userID)
	if err != nil {
		return TrustChange{}, err
	}

	score, err := tx.AddTrust(ctx, userID, delta)
	if err != nil {
		return TrustChange{}, mapNotFound(err, userID)
	}
	if badge := model.BadgeFor(score); badge != u.Badge {
		if err := tx.SetBadge(ctx, userID, badge); err != nil {
			return TrustChange{}, err
		}
	}

	applied := score - u.TrustScore
	if applied != 0 {
		if err := tx.InsertLedgerEntry(ctx, model.LedgerEntry{
			ID:         uuid.NewString(),
			UserID:     userID,
			TrustDelta: applied,
			Reason:     reason,
			CreatedAt:  l.now().UTC(),
		}); err != nil {
			return TrustChange{}, err
		}
	}
	return TrustChange{Score: score, Applied: applied}, nil
}

func (l *Ledger) applyTokens(ctx context.Context, tx store.Tx, userID string, delta int64, reason string) (int64, error) {
	if _, err := lockUser(ctx, tx, userID); err != nil {
		return 0, err
	}

	balance, err := tx.AddTokens(ctx, userID, delta)
	if errors.Is(err, store.ErrNegativeBalance) {
		zap.L().Error("ledger: balance would go negative",
			zap.String("user_id", userID),
			zap.Int64("delta", delta),
			zap.String("reason", reason),
		)
		return 0, apperr.ErrNegativeBalance.Withf("debit of %d would overdraw %s", -delta, userID)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.InsertLedgerEntry(ctx, model.LedgerEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		TokenDelta: delta,
		Reason:     reason,
		CreatedAt:  l.now().UTC(),
	}); err != nil {
		return 0, err
	}
	return balance, nil
}

// GetAccount returns the full account snapshot.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*model.User, error) {
	var u *model.User
	err := resilience.Do(ctx, l.retry, func(ctx context.Context) error {
		var err error
		u, err = l.store.GetUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, mapNotFound(err, userID)
	}
	return u, nil
}

// GetBalance returns the user's current token balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	u, err := l.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.TokenBalance, nil
}

// GetTrustScore returns the user's current trust score.
func (l *Ledger) GetTrustScore(ctx context.Context, userID string) (int, error) {
	u, err := l.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.TrustScore, nil
}

// History returns the user's most recent audit entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	if _, err := l.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	var entries []model.LedgerEntry
	err := resilience.Do(ctx, l.retry, func(ctx context.Context) error {
		var err error
		entries, err = l.store.ListLedgerEntries(ctx, userID, limit)
		return err
	})
	return entries, err
}

func lockUser(ctx context.Context, tx store.Tx, userID string) (*model.User, error) {
	u, err := tx.GetUser(ctx, userID)
	if err != nil {
		return nil, mapNotFound(err, userID)
	}
	return u, nil
}

func mapNotFound(err error, userID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrUserNotFound.Withf("user %s not found", userID)
	}
	return err
}

func invalidAmount(amount int64) error {
	return apperr.ErrInvalidAmount.Withf("amount must be positive, got %d", amount)
}
