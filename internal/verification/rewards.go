package verification

import (
	"github.com/viurl/verification-engine/internal/apperr"
	"github.com/viurl/verification-engine/internal/model"
)

// TokenReward is the V-TKN amount credited to a verifier at submission.
// Harder verdicts pay more.
func TokenReward(v model.VerdictKind) (int64, error) {
	switch v {
	case model.VerdictTrue:
		return 5, nil
	case model.VerdictFalse:
		return 10, nil
	case model.VerdictMisleading:
		return 15, nil
	case model.VerdictPartiallyTrue:
		return 12, nil
	}
	return 0, apperr.ErrInvalidVerdict.Withf("unknown verdict %q", string(v))
}

// AuthorTrustDelta is the trust change an author holds while their post sits
// at status. Moving between statuses applies the difference.
func AuthorTrustDelta(status model.Status) int {
	switch status {
	case model.StatusVerifiedTrue:
		return 5
	case model.StatusPartiallyTrue:
		return 1
	case model.StatusMisleading:
		return -5
	case model.StatusVerifiedFalse:
		return -10
	}
	return 0
}

// Settings tunes threshold and settlement amounts.
type Settings struct {
	Threshold            int
	AccurateTrustDelta   int
	InaccurateTrustDelta int
	AuthorRewardTrue     int64
	AuthorRewardPartial  int64
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Threshold:            10,
		AccurateTrustDelta:   2,
		InaccurateTrustDelta: -1,
		AuthorRewardTrue:     10,
		AuthorRewardPartial:  3,
	}
}

// authorReward is paid once, when a post first reaches a terminal status.
func (s Settings) authorReward(status model.Status) int64 {
	switch status {
	case model.StatusVerifiedTrue:
		return s.AuthorRewardTrue
	case model.StatusPartiallyTrue:
		return s.AuthorRewardPartial
	}
	return 0
}
