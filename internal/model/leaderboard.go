package model

import "time"

// Period selects the window a leaderboard aggregates over.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "allTime"
)

// Periods lists every supported period.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime}

// Window returns the rolling window length, or 0 for allTime and unknown periods.
func (p Period) Window() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	return p == PeriodAllTime || p.Window() > 0
}

// Metric selects what a leaderboard ranks by.
type Metric string

const (
	MetricTokensEarned Metric = "tokensEarned"
	MetricTrustScore   Metric = "trustScore"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricTokensEarned, MetricTrustScore}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m == MetricTokensEarned || m == MetricTrustScore
}

// LeaderboardEntry is one ranked row. Rank is 1-based.
type LeaderboardEntry struct {
	Rank        int    `json:"rank" yaml:"rank"`
	UserID      string `json:"user_id" yaml:"user_id"`
	MetricValue int64  `json:"metric_value" yaml:"metric_value"`
}
