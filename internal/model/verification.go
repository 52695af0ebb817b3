package model

import "time"

// VerdictKind is one verifier's assessment of a post.
type VerdictKind string

const (
	VerdictTrue          VerdictKind = "true"
	VerdictFalse         VerdictKind = "false"
	VerdictMisleading    VerdictKind = "misleading"
	VerdictPartiallyTrue VerdictKind = "partially_true"
)

// VerdictKinds lists every accepted verdict in a fixed order.
var VerdictKinds = []VerdictKind{VerdictTrue, VerdictFalse, VerdictMisleading, VerdictPartiallyTrue}

// Valid reports whether v is one of the accepted verdicts.
func (v VerdictKind) Valid() bool {
	switch v {
	case VerdictTrue, VerdictFalse, VerdictMisleading, VerdictPartiallyTrue:
		return true
	}
	return false
}

// Status is the post-level aggregate outcome.
type Status string

const (
	StatusUnverified    Status = "unverified"
	StatusPending       Status = "pending"
	StatusVerifiedTrue  Status = "verified_true"
	StatusVerifiedFalse Status = "verified_false"
	StatusPartiallyTrue Status = "partially_true"
	StatusMisleading    Status = "misleading"
	StatusDisputed      Status = "disputed"
)

// StatusFor returns the terminal status a majority of v resolves to.
func StatusFor(v VerdictKind) Status {
	switch v {
	case VerdictTrue:
		return StatusVerifiedTrue
	case VerdictFalse:
		return StatusVerifiedFalse
	case VerdictMisleading:
		return StatusMisleading
	case VerdictPartiallyTrue:
		return StatusPartiallyTrue
	}
	return StatusDisputed
}

// Terminal reports whether s is a consensus outcome (not pending, not disputed).
func (s Status) Terminal() bool {
	switch s {
	case StatusVerifiedTrue, StatusVerifiedFalse, StatusPartiallyTrue, StatusMisleading:
		return true
	}
	return false
}

// Resolved reports whether s has left the collecting phase.
func (s Status) Resolved() bool {
	return s.Terminal() || s == StatusDisputed
}

// Matches reports whether verdict v agrees with status s.
func (s Status) Matches(v VerdictKind) bool {
	return s.Terminal() && StatusFor(v) == s
}

// Post is the verification-relevant subset of a post.
type Post struct {
	ID                string `json:"id"`
	AuthorID          string `json:"author_id"`
	AggregateStatus   Status `json:"aggregate_status"`
	VerificationCount int    `json:"verification_count"`
	// AuthorTrustApplied is the clamped trust delta currently granted to the
	// author for this post's status.
	AuthorTrustApplied int        `json:"author_trust_applied"`
	SettledAt          *time.Time `json:"settled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Verdict is one verifier's recorded assessment of one post.
type Verdict struct {
	PostID      string      `json:"post_id"`
	VerifierID  string      `json:"verifier_id"`
	Verdict     VerdictKind `json:"verdict"`
	Sources     []string    `json:"sources"`
	Explanation string      `json:"explanation"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Settled     bool        `json:"settled"`
}

// VerificationStatus is the read model for a post's verification progress.
type VerificationStatus struct {
	PostID            string  `json:"post_id"`
	AggregateStatus   Status  `json:"aggregate_status"`
	VerificationCount int     `json:"verification_count"`
	ConsensusScore    float64 `json:"consensus_score"`
}
