package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/viurl/verification-engine/internal/db"
	"github.com/viurl/verification-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&postgresTx{q: tx})
	})
	return markTransient(err)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, token_balance, trust_score, verification_badge, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.TokenBalance, u.TrustScore, string(u.Badge), u.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return eris.Wrapf(err, "postgres: insert user %s", u.ID)
}

func (s *PostgresStore) CreatePost(ctx context.Context, p model.Post) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO posts (id, author_id, aggregate_status, verification_count, created_at) VALUES ($1, $2, $3, 0, $4)`,
		p.ID, p.AuthorID, string(model.StatusUnverified), p.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	return eris.Wrapf(err, "postgres: insert post %s", p.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return pgGetUser(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return pgGetPost(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error) {
	return pgListVerdicts(ctx, s.pool, postID)
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, token_delta, trust_delta, reason, created_at FROM ledger_entries
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ledger entries")
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.TokenDelta, &e.TrustDelta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list ledger entries iterate")
}

func (s *PostgresStore) ListClaims(ctx context.Context, userID string, limit int) ([]model.DailyClaim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, claim_date, amount_awarded, streak_at_claim, created_at FROM daily_claims
		 WHERE user_id = $1 ORDER BY claim_date DESC LIMIT $2`,
		userID, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list claims")
	}
	defer rows.Close()

	var claims []model.DailyClaim
	for rows.Next() {
		var c model.DailyClaim
		if err := rows.Scan(&c.UserID, &c.ClaimDate, &c.AmountAwarded, &c.StreakAtClaim, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim")
		}
		claims = append(claims, c)
	}
	return claims, eris.Wrap(rows.Err(), "postgres: list claims iterate")
}

func (s *PostgresStore) RankTokensEarned(ctx context.Context, since time.Time, limit int) ([]Ranked, error) {
	return s.rank(ctx,
		`SELECT user_id, SUM(token_delta)::bigint AS earned FROM ledger_entries
		 WHERE token_delta > 0 AND created_at >= $1
		 GROUP BY user_id ORDER BY earned DESC, user_id COLLATE "C" ASC LIMIT $2`,
		since, clampLimit(limit),
	)
}

func (s *PostgresStore) RankBalances(ctx context.Context, limit int) ([]Ranked, error) {
	return s.rank(ctx,
		`SELECT id, token_balance FROM users ORDER BY token_balance DESC, id COLLATE "C" ASC LIMIT $1`,
		clampLimit(limit),
	)
}

func (s *PostgresStore) RankTrustScores(ctx context.Context, limit int) ([]Ranked, error) {
	return s.rank(ctx,
		`SELECT id, trust_score::bigint FROM users ORDER BY trust_score DESC, id COLLATE "C" ASC LIMIT $1`,
		clampLimit(limit),
	)
}

func (s *PostgresStore) rank(ctx context.Context, query string, args ...any) ([]Ranked, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rank")
	}
	defer rows.Close()

	var out []Ranked
	for rows.Next() {
		var r Ranked
		if err := rows.Scan(&r.UserID, &r.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rank")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: rank iterate")
}

// postgresTx implements Tx on a pgx transaction. Row reads take FOR UPDATE locks.
type postgresTx struct {
	q pgQueryer
}

func (t *postgresTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	return pgGetUser(ctx, t.q, id, true)
}

func (t *postgresTx) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return pgGetPost(ctx, t.q, id, true)
}

func (t *postgresTx) UpdatePost(ctx context.Context, p model.Post) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE posts SET aggregate_status = $1, verification_count = $2, author_trust_applied = $3, settled_at = $4 WHERE id = $5`,
		string(p.AggregateStatus), p.VerificationCount, p.AuthorTrustApplied, p.SettledAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update post %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) HasVerdict(ctx context.Context, postID, verifierID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM verdicts WHERE post_id = $1 AND verifier_id = $2)`,
		postID, verifierID,
	).Scan(&exists)
	return exists, eris.Wrap(err, "postgres: has verdict")
}

func (t *postgresTx) InsertVerdict(ctx context.Context, v model.Verdict) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO verdicts (post_id, verifier_id, verdict, sources, explanation, submitted_at, settled)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		v.PostID, v.VerifierID, string(v.Verdict), v.Sources, v.Explanation, v.SubmittedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return eris.Wrap(err, "postgres: insert verdict")
}

func (t *postgresTx) ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error) {
	return pgListVerdicts(ctx, t.q, postID)
}

func (t *postgresTx) MarkSettled(ctx context.Context, postID string, verifierIDs []string) error {
	if len(verifierIDs) == 0 {
		return nil
	}
	_, err := t.q.Exec(ctx,
		`UPDATE verdicts SET settled = TRUE WHERE post_id = $1 AND verifier_id = ANY($2)`,
		postID, verifierIDs,
	)
	return eris.Wrap(err, "postgres: mark settled")
}

func (t *postgresTx) AddTokens(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := t.q.QueryRow(ctx,
		`UPDATE users SET token_balance = token_balance + $1
		 WHERE id = $2 AND token_balance + $1 >= 0
		 RETURNING token_balance`,
		delta, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNegativeBalance
	}
	return balance, eris.Wrapf(err, "postgres: add tokens %s", userID)
}

func (t *postgresTx) AddTrust(ctx context.Context, userID string, delta int) (int, error) {
	var score int
	err := t.q.QueryRow(ctx,
		`UPDATE users SET trust_score = LEAST(100, GREATEST(0, trust_score + $1)) WHERE id = $2 RETURNING trust_score`,
		delta, userID,
	).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return score, eris.Wrapf(err, "postgres: add trust %s", userID)
}

func (t *postgresTx) SetBadge(ctx context.Context, userID string, badge model.Badge) error {
	_, err := t.q.Exec(ctx,
		`UPDATE users SET verification_badge = $1 WHERE id = $2`,
		string(badge), userID,
	)
	return eris.Wrapf(err, "postgres: set badge %s", userID)
}

func (t *postgresTx) AddVerificationCounts(ctx context.Context, userID string, total, accurate int) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET total_verifications = total_verifications + $1,
		 accurate_verifications = accurate_verifications + $2 WHERE id = $3`,
		total, accurate, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add verification counts %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, token_delta, trust_delta, reason, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.TokenDelta, e.TrustDelta, e.Reason, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert ledger entry")
}

func (t *postgresTx) InsertClaim(ctx context.Context, c model.DailyClaim) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO daily_claims (user_id, claim_date, amount_awarded, streak_at_claim, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.UserID, c.ClaimDate, c.AmountAwarded, c.StreakAtClaim, c.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return eris.Wrap(err, "postgres: insert claim")
}

func (t *postgresTx) UpdateStreak(ctx context.Context, userID string, streak int, claimDate time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE users SET login_streak = $1, last_daily_claim_date = $2 WHERE id = $3`,
		streak, claimDate, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update streak %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// pgQueryer is satisfied by db.Pool and pgx.Tx.
type pgQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	pgSelectUser = `SELECT id, token_balance, trust_score, verification_badge, login_streak, last_daily_claim_date,
		total_verifications, accurate_verifications, created_at FROM users WHERE id = $1`
	pgSelectPost = `SELECT id, author_id, aggregate_status, verification_count, author_trust_applied, settled_at, created_at
		FROM posts WHERE id = $1`
)

func pgGetUser(ctx context.Context, q pgQueryer, id string, lock bool) (*model.User, error) {
	query := pgSelectUser
	if lock {
		query += " FOR UPDATE"
	}

	var u model.User
	var badge string
	err := q.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.TokenBalance, &u.TrustScore, &badge, &u.LoginStreak, &u.LastDailyClaimDate,
		&u.TotalVerifications, &u.AccurateVerifications, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get user %s", id)
	}
	u.Badge = model.Badge(badge)
	return &u, nil
}

func pgGetPost(ctx context.Context, q pgQueryer, id string, lock bool) (*model.Post, error) {
	query := pgSelectPost
	if lock {
		query += " FOR UPDATE"
	}

	var p model.Post
	var status string
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.AuthorID, &status, &p.VerificationCount, &p.AuthorTrustApplied, &p.SettledAt, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get post %s", id)
	}
	p.AggregateStatus = model.Status(status)
	return &p, nil
}

func pgListVerdicts(ctx context.Context, q pgQueryer, postID string) ([]model.Verdict, error) {
	rows, err := q.Query(ctx,
		`SELECT post_id, verifier_id, verdict, sources, explanation, submitted_at, settled
		 FROM verdicts WHERE post_id = $1 ORDER BY submitted_at ASC, verifier_id ASC`,
		postID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verdicts")
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var v model.Verdict
		var kind string
		if err := rows.Scan(&v.PostID, &v.VerifierID, &kind, &v.Sources, &v.Explanation, &v.SubmittedAt, &v.Settled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan verdict")
		}
		v.Verdict = model.VerdictKind(kind)
		verdicts = append(verdicts, v)
	}
	return verdicts, eris.Wrap(rows.Err(), "postgres: list verdicts iterate")
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
