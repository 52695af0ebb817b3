package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/viurl/verification-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// SQLite has a single writer; one connection serializes transactions
	// instead of failing them with SQLITE_BUSY on lock upgrade.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id                     TEXT PRIMARY KEY,
	token_balance          INTEGER NOT NULL DEFAULT 0 CHECK (token_balance >= 0),
	trust_score            INTEGER NOT NULL DEFAULT 50 CHECK (trust_score BETWEEN 0 AND 100),
	verification_badge     TEXT NOT NULL DEFAULT 'silver',
	login_streak           INTEGER NOT NULL DEFAULT 0,
	last_daily_claim_date  TEXT,
	total_verifications    INTEGER NOT NULL DEFAULT 0,
	accurate_verifications INTEGER NOT NULL DEFAULT 0 CHECK (accurate_verifications <= total_verifications),
	created_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id                   TEXT PRIMARY KEY,
	author_id            TEXT NOT NULL REFERENCES users(id),
	aggregate_status     TEXT NOT NULL DEFAULT 'unverified',
	verification_count   INTEGER NOT NULL DEFAULT 0,
	author_trust_applied INTEGER NOT NULL DEFAULT 0,
	settled_at           TEXT,
	created_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verdicts (
	post_id      TEXT NOT NULL REFERENCES posts(id),
	verifier_id  TEXT NOT NULL REFERENCES users(id),
	verdict      TEXT NOT NULL CHECK (verdict IN ('true', 'false', 'misleading', 'partially_true')),
	sources      TEXT NOT NULL,
	explanation  TEXT NOT NULL,
	submitted_at TEXT NOT NULL,
	settled      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (post_id, verifier_id)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id),
	token_delta INTEGER NOT NULL DEFAULT 0,
	trust_delta INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_claims (
	user_id         TEXT NOT NULL REFERENCES users(id),
	claim_date      TEXT NOT NULL,
	amount_awarded  INTEGER NOT NULL,
	streak_at_claim INTEGER NOT NULL,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (user_id, claim_date)
);

CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_verifier ON verdicts(verifier_id);
CREATE INDEX IF NOT EXISTS idx_ledger_user_created ON ledger_entries(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at);
`

// Fixed-width UTC layouts keep stored timestamps ordered as text.
const (
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
	sqliteDateLayout = "2006-01-02"
)

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}

	// Databases created before posts tracked the author's applied trust.
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('posts') WHERE name = 'author_trust_applied'`,
	).Scan(&n)
	if err != nil {
		return eris.Wrap(err, "sqlite: inspect posts")
	}
	if n == 0 {
		if _, err := s.db.ExecContext(ctx,
			`ALTER TABLE posts ADD COLUMN author_trust_applied INTEGER NOT NULL DEFAULT 0`,
		); err != nil {
			return eris.Wrap(err, "sqlite: add posts.author_trust_applied")
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return markTransient(eris.Wrap(err, "sqlite: begin tx"))
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return markTransient(err)
	}
	return markTransient(eris.Wrap(tx.Commit(), "sqlite: commit tx"))
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, token_balance, trust_score, verification_badge, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.TokenBalance, u.TrustScore, string(u.Badge), formatTime(u.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return ErrDuplicate
	}
	return eris.Wrapf(err, "sqlite: insert user %s", u.ID)
}

func (s *SQLiteStore) CreatePost(ctx context.Context, p model.Post) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, aggregate_status, verification_count, created_at) VALUES (?, ?, ?, 0, ?)`,
		p.ID, p.AuthorID, string(model.StatusUnverified), formatTime(p.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return ErrDuplicate
	}
	if isSQLiteForeignKey(err) {
		return ErrNotFound
	}
	return eris.Wrapf(err, "sqlite: insert post %s", p.ID)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return sqliteGetUser(ctx, s.db, id)
}

func (s *SQLiteStore) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return sqliteGetPost(ctx, s.db, id)
}

func (s *SQLiteStore) ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error) {
	return sqliteListVerdicts(ctx, s.db, postID)
}

func (s *SQLiteStore) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, token_delta, trust_delta, reason, created_at FROM ledger_entries
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ledger entries")
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.TokenDelta, &e.TrustDelta, &e.Reason, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list ledger entries iterate")
}

func (s *SQLiteStore) ListClaims(ctx context.Context, userID string, limit int) ([]model.DailyClaim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, claim_date, amount_awarded, streak_at_claim, created_at FROM daily_claims
		 WHERE user_id = ? ORDER BY claim_date DESC LIMIT ?`,
		userID, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list claims")
	}
	defer rows.Close()

	var claims []model.DailyClaim
	for rows.Next() {
		var c model.DailyClaim
		var claimDate, createdAt string
		if err := rows.Scan(&c.UserID, &claimDate, &c.AmountAwarded, &c.StreakAtClaim, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claim")
		}
		if c.ClaimDate, err = parseDate(claimDate); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, eris.Wrap(rows.Err(), "sqlite: list claims iterate")
}

func (s *SQLiteStore) RankTokensEarned(ctx context.Context, since time.Time, limit int) ([]Ranked, error) {
	return s.rank(ctx,
		`SELECT user_id, SUM(token_delta) AS earned FROM ledger_entries
		 WHERE token_delta > 0 AND created_at >= ?
		 GROUP BY user_id ORDER BY earned DESC, user_id ASC LIMIT ?`,
		formatTime(since), clampLimit(limit),
	)
}

func (s *SQLiteStore) RankBalances(ctx context.Context, limit int) ([]Ranked, error) {
	return s.rank(ctx,
		`SELECT id, token_balance FROM users ORDER BY token_balance DESC, id ASC LIMIT ?`,
		clampLimit(limit),
	)
}

func (s *SQLiteStore) RankTrustScores(ctx context.Context, limit int) ([]Ranked, error) {
	return s.rank(ctx,
		`SELECT id, trust_score FROM users ORDER BY trust_score DESC, id ASC LIMIT ?`,
		clampLimit(limit),
	)
}

func (s *SQLiteStore) rank(ctx context.Context, query string, args ...any) ([]Ranked, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rank")
	}
	defer rows.Close()

	var out []Ranked
	for rows.Next() {
		var r Ranked
		if err := rows.Scan(&r.UserID, &r.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rank")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: rank iterate")
}

// sqliteTx implements Tx. SQLite locks the whole database for the writer, so
// plain reads are already serialized against other transactions.
type sqliteTx struct {
	q *sql.Tx
}

func (t *sqliteTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	return sqliteGetUser(ctx, t.q, id)
}

func (t *sqliteTx) GetPost(ctx context.Context, id string) (*model.Post, error) {
	return sqliteGetPost(ctx, t.q, id)
}

func (t *sqliteTx) UpdatePost(ctx context.Context, p model.Post) error {
	var settledAt any
	if p.SettledAt != nil {
		settledAt = formatTime(*p.SettledAt)
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE posts SET aggregate_status = ?, verification_count = ?, author_trust_applied = ?, settled_at = ? WHERE id = ?`,
		string(p.AggregateStatus), p.VerificationCount, p.AuthorTrustApplied, settledAt, p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update post %s", p.ID)
	}
	return checkRowsAffected(res)
}

func (t *sqliteTx) HasVerdict(ctx context.Context, postID, verifierID string) (bool, error) {
	var n int
	err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM verdicts WHERE post_id = ? AND verifier_id = ?`,
		postID, verifierID,
	).Scan(&n)
	return n > 0, eris.Wrap(err, "sqlite: has verdict")
}

func (t *sqliteTx) InsertVerdict(ctx context.Context, v model.Verdict) error {
	sources, err := json.Marshal(v.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO verdicts (post_id, verifier_id, verdict, sources, explanation, submitted_at, settled)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		v.PostID, v.VerifierID, string(v.Verdict), string(sources), v.Explanation, formatTime(v.SubmittedAt),
	)
	if isSQLiteUnique(err) {
		return ErrDuplicate
	}
	return eris.Wrap(err, "sqlite: insert verdict")
}

func (t *sqliteTx) ListVerdicts(ctx context.Context, postID string) ([]model.Verdict, error) {
	return sqliteListVerdicts(ctx, t.q, postID)
}

func (t *sqliteTx) MarkSettled(ctx context.Context, postID string, verifierIDs []string) error {
	if len(verifierIDs) == 0 {
		return nil
	}
	args := []any{postID}
	for _, id := range verifierIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(verifierIDs)), ",")
	_, err := t.q.ExecContext(ctx,
		`UPDATE verdicts SET settled = 1 WHERE post_id = ? AND verifier_id IN (`+placeholders+`)`,
		args...,
	)
	return eris.Wrap(err, "sqlite: mark settled")
}

func (t *sqliteTx) AddTokens(ctx context.Context, userID string, delta int64) (int64, error) {
	var balance int64
	err := t.q.QueryRowContext(ctx,
		`UPDATE users SET token_balance = token_balance + ?1
		 WHERE id = ?2 AND token_balance + ?1 >= 0
		 RETURNING token_balance`,
		delta, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNegativeBalance
	}
	return balance, eris.Wrapf(err, "sqlite: add tokens %s", userID)
}

func (t *sqliteTx) AddTrust(ctx context.Context, userID string, delta int) (int, error) {
	var score int
	err := t.q.QueryRowContext(ctx,
		`UPDATE users SET trust_score = MIN(100, MAX(0, trust_score + ?)) WHERE id = ? RETURNING trust_score`,
		delta, userID,
	).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return score, eris.Wrapf(err, "sqlite: add trust %s", userID)
}

func (t *sqliteTx) SetBadge(ctx context.Context, userID string, badge model.Badge) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE users SET verification_badge = ? WHERE id = ?`,
		string(badge), userID,
	)
	return eris.Wrapf(err, "sqlite: set badge %s", userID)
}

func (t *sqliteTx) AddVerificationCounts(ctx context.Context, userID string, total, accurate int) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE users SET total_verifications = total_verifications + ?,
		 accurate_verifications = accurate_verifications + ? WHERE id = ?`,
		total, accurate, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add verification counts %s", userID)
	}
	return checkRowsAffected(res)
}

func (t *sqliteTx) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, user_id, token_delta, trust_delta, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.TokenDelta, e.TrustDelta, e.Reason, formatTime(e.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert ledger entry")
}

func (t *sqliteTx) InsertClaim(ctx context.Context, c model.DailyClaim) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO daily_claims (user_id, claim_date, amount_awarded, streak_at_claim, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.UserID, c.ClaimDate.UTC().Format(sqliteDateLayout), c.AmountAwarded, c.StreakAtClaim, formatTime(c.CreatedAt),
	)
	if isSQLiteUnique(err) {
		return ErrDuplicate
	}
	return eris.Wrap(err, "sqlite: insert claim")
}

func (t *sqliteTx) UpdateStreak(ctx context.Context, userID string, streak int, claimDate time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE users SET login_streak = ?, last_daily_claim_date = ? WHERE id = ?`,
		streak, claimDate.UTC().Format(sqliteDateLayout), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update streak %s", userID)
	}
	return checkRowsAffected(res)
}

// helpers

// sqliteQueryer is satisfied by both *sql.DB and *sql.Tx.
type sqliteQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteGetUser(ctx context.Context, q sqliteQueryer, id string) (*model.User, error) {
	var u model.User
	var badge, createdAt string
	var lastClaim sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, token_balance, trust_score, verification_badge, login_streak, last_daily_claim_date,
		        total_verifications, accurate_verifications, created_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.TokenBalance, &u.TrustScore, &badge, &u.LoginStreak, &lastClaim,
		&u.TotalVerifications, &u.AccurateVerifications, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get user %s", id)
	}

	u.Badge = model.Badge(badge)
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if lastClaim.Valid {
		d, err := parseDate(lastClaim.String)
		if err != nil {
			return nil, err
		}
		u.LastDailyClaimDate = &d
	}
	return &u, nil
}

func sqliteGetPost(ctx context.Context, q sqliteQueryer, id string) (*model.Post, error) {
	var p model.Post
	var status, createdAt string
	var settledAt sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, author_id, aggregate_status, verification_count, author_trust_applied, settled_at, created_at FROM posts WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.AuthorID, &status, &p.VerificationCount, &p.AuthorTrustApplied, &settledAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get post %s", id)
	}

	p.AggregateStatus = model.Status(status)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if settledAt.Valid {
		t, err := parseTime(settledAt.String)
		if err != nil {
			return nil, err
		}
		p.SettledAt = &t
	}
	return &p, nil
}

func sqliteListVerdicts(ctx context.Context, q sqliteQueryer, postID string) ([]model.Verdict, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT post_id, verifier_id, verdict, sources, explanation, submitted_at, settled
		 FROM verdicts WHERE post_id = ? ORDER BY submitted_at ASC, rowid ASC`,
		postID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verdicts")
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var v model.Verdict
		var kind, sources, submittedAt string
		if err := rows.Scan(&v.PostID, &v.VerifierID, &kind, &sources, &v.Explanation, &submittedAt, &v.Settled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan verdict")
		}
		v.Verdict = model.VerdictKind(kind)
		if err := json.Unmarshal([]byte(sources), &v.Sources); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sources")
		}
		if v.SubmittedAt, err = parseTime(submittedAt); err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, eris.Wrap(rows.Err(), "sqlite: list verdicts iterate")
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(sqliteDateLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse date %q", s)
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

func isSQLiteUnique(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	}
	return false
}

func isSQLiteForeignKey(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
	}
	return false
}

func isSQLiteBusy(err error) bool {
	switch sqliteCode(err) & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
