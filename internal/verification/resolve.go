// Package verification records verifier verdicts on posts, resolves the
// aggregate status and settles the token and trust consequences.
package verification

import (
	"math"

	"github.com/viurl/verification-engine/internal/model"
)

// Resolve derives the aggregate status of a post from its verdicts. Fewer than
// threshold verdicts keep the post pending; at or above it a strict majority
// decides, and anything else is disputed.
func Resolve(verdicts []model.VerdictKind, threshold int) model.Status {
	n := len(verdicts)
	if n == 0 {
		return model.StatusUnverified
	}
	if n < max(threshold, 1) {
		return model.StatusPending
	}

	counts := tally(verdicts)
	for _, kind := range model.VerdictKinds {
		if counts[kind]*2 > n {
			return model.StatusFor(kind)
		}
	}
	return model.StatusDisputed
}

// ConsensusScore is the percentage of verdicts agreeing with status. For a
// disputed post it is the share of the largest bloc; unverified and pending
// posts score 0.
func ConsensusScore(status model.Status, verdicts []model.VerdictKind) float64 {
	n := len(verdicts)
	if n == 0 || !status.Resolved() {
		return 0
	}

	counts := tally(verdicts)
	var agreeing int
	if status == model.StatusDisputed {
		for _, c := range counts {
			agreeing = max(agreeing, c)
		}
	} else {
		for kind, c := range counts {
			if status.Matches(kind) {
				agreeing += c
			}
		}
	}
	return math.Round(float64(agreeing)*10000/float64(n)) / 100
}

func tally(verdicts []model.VerdictKind) map[model.VerdictKind]int {
	counts := make(map[model.VerdictKind]int, len(model.VerdictKinds))
	for _, v := range verdicts {
		counts[v]++
	}
	return counts
}

func kindsOf(verdicts []model.Verdict) []model.VerdictKind {
	kinds := make([]model.VerdictKind, len(verdicts))
	for i, v := range verdicts {
		kinds[i] = v.Verdict
	}
	return kinds
}
