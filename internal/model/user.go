package model

import "time"

const (
	// DefaultTrustScore is assigned at registration.
	DefaultTrustScore = 50
	// MinTrustScore and MaxTrustScore bound every stored trust score.
	MinTrustScore = 0
	MaxTrustScore = 100
)

// Badge is the verification tier shown next to a user, derived from trust score.
type Badge string

const (
	BadgeNone     Badge = "none"
	BadgeBronze   Badge = "bronze"
	BadgeSilver   Badge = "silver"
	BadgeGold     Badge = "gold"
	BadgePlatinum Badge = "platinum"
)

// BadgeFor maps a trust score to its badge tier.
func BadgeFor(score int) Badge {
	switch {
	case score >= 95:
		return BadgePlatinum
	case score >= 75:
		return BadgeGold
	case score >= 50:
		return BadgeSilver
	case score >= 25:
		return BadgeBronze
	default:
		return BadgeNone
	}
}

// ClampTrustScore bounds score to [MinTrustScore, MaxTrustScore].
func ClampTrustScore(score int) int {
	return max(MinTrustScore, min(MaxTrustScore, score))
}

// User is the subset of an account the engine reads and writes.
type User struct {
	ID                    string     `json:"id"`
	TokenBalance          int64      `json:"token_balance"`
	TrustScore            int        `json:"trust_score"`
	Badge                 Badge      `json:"verification_badge"`
	LoginStreak           int        `json:"login_streak"`
	LastDailyClaimDate    *time.Time `json:"last_daily_claim_date,omitempty"`
	TotalVerifications    int        `json:"total_verifications"`
	AccurateVerifications int        `json:"accurate_verifications"`
	CreatedAt             time.Time  `json:"created_at"`
}

// NewUser returns a freshly registered user with default balances.
func NewUser(id string, now time.Time) User {
	return User{
		ID:         id,
		TrustScore: DefaultTrustScore,
		Badge:      BadgeFor(DefaultTrustScore),
		CreatedAt:  now.UTC(),
	}
}

// LedgerEntry is one audited change to a user's balance or trust score.
type LedgerEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TokenDelta int64     `json:"token_delta"`
	TrustDelta int       `json:"trust_delta"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyClaim records one daily-bonus award. At most one exists per user per UTC day.
type DailyClaim struct {
	UserID        string    `json:"user_id"`
	ClaimDate     time.Time `json:"claim_date"`
	AmountAwarded int64     `json:"amount_awarded"`
	StreakAtClaim int       `json:"streak_at_claim"`
	CreatedAt     time.Time `json:"created_at"`
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
