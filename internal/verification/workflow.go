package verification

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/apperr"
	"github.com/viurl/verification-engine/internal/ledger"
	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/resilience"
	"github.com/viurl/verification-engine/internal/store"
)

// Submission is one verifier's verdict on one post.
type Submission struct {
	VerifierID  string            `json:"verifier_id"`
	PostID      string            `json:"post_id"`
	Verdict     model.VerdictKind `json:"verdict"`
	Sources     []string          `json:"sources"`
	Explanation string            `json:"explanation"`
}

// Receipt describes the outcome of an accepted submission.
type Receipt struct {
	AggregateStatus   model.Status `json:"aggregate_status"`
	VerificationCount int          `json:"verification_count"`
	TokensAwarded     int64        `json:"tokens_awarded"`
	VerifierBalance   int64        `json:"verifier_balance"`
}

// Workflow accepts verdicts and applies their consequences atomically.
type Workflow struct {
	store    store.Store
	ledger   *ledger.Ledger
	settings Settings
	retry    resilience.RetryConfig
	now      func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithSettings overrides the threshold and settlement amounts.
func WithSettings(s Settings) Option {
	return func(w *Workflow) { w.settings = s }
}

// WithRetry sets the transaction retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(w *Workflow) { w.retry = cfg }
}

// WithClock overrides the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow creates a Workflow that credits through l.
func NewWorkflow(st store.Store, l *ledger.Ledger, opts ...Option) *Workflow {
	w := &Workflow{
		store:    st,
		ledger:   l,
		settings: DefaultSettings(),
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreatePost registers a post so it can collect verdicts.
func (w *Workflow) CreatePost(ctx context.Context, postID, authorID string) (*model.Post, error) {
	if postID == "" || authorID == "" {
		return nil, apperr.ErrInvalidID.Withf("post id and author id are required")
	}
	p := model.Post{
		ID:              postID,
		AuthorID:        authorID,
		AggregateStatus: model.StatusUnverified,
		CreatedAt:       w.now().UTC(),
	}
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.store.CreatePost(ctx, p)
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, apperr.ErrPostExists.Withf("post %s already exists", postID)
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.ErrUserNotFound.Withf("author %s not found", authorID)
	case err != nil:
		return nil, err
	}
	return &p, nil
}

// SubmitVerdict records a verdict, credits the verifier, recomputes the
// aggregate status and settles any consequences, all in one transaction.
//
// Preconditions are checked in order: the post exists, the verifier is not
// its author, the verifier has not already submitted, the verdict is known,
// sources are valid, the explanation is long enough, and the verifier exists.
func (w *Workflow) SubmitVerdict(ctx context.Context, sub Submission) (*Receipt, error) {
	var receipt *Receipt
	err := store.RunInTx(ctx, w.store, w.retry, "verification.submit", func(ctx context.Context, tx store.Tx) error {
		var err error
		receipt, err = w.submit(ctx, tx, sub)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (w *Workflow) submit(ctx context.Context, tx store.Tx, sub Submission) (*Receipt, error) {
	post, err := tx.GetPost(ctx, sub.PostID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrPostNotFound.Withf("post %s not found", sub.PostID)
	}
	if err != nil {
		return nil, err
	}
	if post.AuthorID == sub.VerifierID {
		return nil, apperr.ErrSelfVerification
	}
	dup, err := tx.HasVerdict(ctx, sub.PostID, sub.VerifierID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, apperr.ErrDuplicateVerification
	}
	if err := validateVerdict(sub.Verdict); err != nil {
		return nil, err
	}
	sources, err := normalizeSources(sub.Sources)
	if err != nil {
		return nil, err
	}
	explanation, err := normalizeExplanation(sub.Explanation)
	if err != nil {
		return nil, err
	}

	prior, err := tx.ListVerdicts(ctx, sub.PostID)
	if err != nil {
		return nil, err
	}
	if err := lockUsers(ctx, tx, sub.VerifierID, post.AuthorID, prior); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	verdict := model.Verdict{
		PostID:      sub.PostID,
		VerifierID:  sub.VerifierID,
		Verdict:     sub.Verdict,
		Sources:     sources,
		Explanation: explanation,
		SubmittedAt: now,
	}
	if err := tx.InsertVerdict(ctx, verdict); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.ErrDuplicateVerification
		}
		return nil, err
	}

	reward, err := TokenReward(sub.Verdict)
	if err != nil {
		return nil, err
	}
	balance, err := w.ledger.CreditTx(ctx, tx, sub.VerifierID, reward, ledger.ReasonVerificationReward)
	if err != nil {
		return nil, err
	}
	if err := tx.AddVerificationCounts(ctx, sub.VerifierID, 1, 0); err != nil {
		return nil, err
	}

	verdicts := append(prior, verdict)
	oldStatus := post.AggregateStatus
	newStatus := Resolve(kindsOf(verdicts), w.settings.Threshold)

	if newStatus.Terminal() {
		if err := w.settleVerifiers(ctx, tx, sub.PostID, newStatus, verdicts); err != nil {
			return nil, err
		}
	}
	if err := w.settleAuthor(ctx, tx, post, oldStatus, newStatus, now); err != nil {
		return nil, err
	}

	post.AggregateStatus = newStatus
	post.VerificationCount = len(verdicts)
	if err := tx.UpdatePost(ctx, *post); err != nil {
		return nil, err
	}

	if newStatus != oldStatus {
		zap.L().Info("verification: status changed",
			zap.String("post_id", sub.PostID),
			zap.String("from", string(oldStatus)),
			zap.String("to", string(newStatus)),
			zap.Int("verification_count", len(verdicts)),
		)
	}

	return &Receipt{
		AggregateStatus:   newStatus,
		VerificationCount: len(verdicts),
		TokensAwarded:     reward,
		VerifierBalance:   balance,
	}, nil
}

// settleVerifiers applies accuracy outcomes to every verdict not yet settled.
func (w *Workflow) settleVerifiers(ctx context.Context, tx store.Tx, postID string, status model.Status, verdicts []model.Verdict) error {
	var settled []string
	for _, v := range verdicts {
		if v.Settled {
			continue
		}
		delta := w.settings.InaccurateTrustDelta
		if status.Matches(v.Verdict) {
			delta = w.settings.AccurateTrustDelta
			if err := tx.AddVerificationCounts(ctx, v.VerifierID, 0, 1); err != nil {
				return err
			}
		}
		if delta != 0 {
			if _, err := w.ledger.AdjustTrustScoreTx(ctx, tx, v.VerifierID, delta, ledger.ReasonVerificationSettle); err != nil {
				return err
			}
		}
		settled = append(settled, v.VerifierID)
	}
	return tx.MarkSettled(ctx, postID, settled)
}

// settleAuthor reverses the trust previously applied to the author for this
// post, applies the new status' delta, and pays the author reward the first
// time the post turns terminal. post.AuthorTrustApplied tracks the clamped
// amount so a reversal restores exactly what was granted.
func (w *Workflow) settleAuthor(ctx context.Context, tx store.Tx, post *model.Post, oldStatus, newStatus model.Status, now time.Time) error {
	if newStatus != oldStatus {
		if post.AuthorTrustApplied != 0 {
			if _, err := w.ledger.ChangeTrustTx(ctx, tx, post.AuthorID, -post.AuthorTrustApplied, ledger.ReasonAuthorTrust); err != nil {
				return err
			}
			post.AuthorTrustApplied = 0
		}
		if delta := AuthorTrustDelta(newStatus); delta != 0 {
			ch, err := w.ledger.ChangeTrustTx(ctx, tx, post.AuthorID, delta, ledger.ReasonAuthorTrust)
			if err != nil {
				return err
			}
			post.AuthorTrustApplied = ch.Applied
		}
	}

	if post.SettledAt != nil || !newStatus.Terminal() {
		return nil
	}
	post.SettledAt = &now
	if reward := w.settings.authorReward(newStatus); reward > 0 {
		if _, err := w.ledger.CreditTx(ctx, tx, post.AuthorID, reward, ledger.ReasonAuthorReward); err != nil {
			return err
		}
	}
	return nil
}

// lockUsers takes row locks on every user the submission may touch, in id
// order so concurrent submissions cannot deadlock.
func lockUsers(ctx context.Context, tx store.Tx, verifierID, authorID string, prior []model.Verdict) error {
	ids := map[string]struct{}{verifierID: {}, authorID: {}}
	for _, v := range prior {
		if !v.Settled {
			ids[v.VerifierID] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		if _, err := tx.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.ErrUserNotFound.Withf("user %s not found", id)
			}
			return err
		}
	}
	return nil
}

// GetVerificationStatus returns the post's aggregate status, verdict count
// and consensus score.
func (w *Workflow) GetVerificationStatus(ctx context.Context, postID string) (*model.VerificationStatus, error) {
	post, verdicts, err := w.load(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &model.VerificationStatus{
		PostID:            post.ID,
		AggregateStatus:   post.AggregateStatus,
		VerificationCount: post.VerificationCount,
		ConsensusScore:    ConsensusScore(post.AggregateStatus, kindsOf(verdicts)),
	}, nil
}

// ListVerdicts returns the post's verdicts in submission order.
func (w *Workflow) ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error) {
	_, verdicts, err := w.load(ctx, postID)
	return verdicts, err
}

func (w *Workflow) load(ctx context.Context, postID string) (*model.Post, []model.Verdict, error) {
	var post *model.Post
	var verdicts []model.Verdict
	err := resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		var err error
		if post, err = w.store.GetPost(ctx, postID); err != nil {
			return err
		}
		verdicts, err = w.store.ListVerdicts(ctx, postID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.ErrPostNotFound.Withf("post %s not found", postID)
	}
	if err != nil {
		return nil, nil, err
	}
	return post, verdicts, nil
}
