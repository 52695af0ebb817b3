package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/engagement"
	"github.com/viurl/verification-engine/internal/leaderboard"
	"github.com/viurl/verification-engine/internal/ledger"
	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/store"
	"github.com/viurl/verification-engine/internal/verification"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var claimNow = time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)

const explanation = "Independent reporting and the primary source both confirm this."

type testServer struct {
	srv     *Server
	handler http.Handler
	store   *store.SQLiteStore
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	l := ledger.New(st)
	wf := verification.NewWorkflow(st, l, verification.WithSettings(verification.Settings{
		Threshold:            3,
		AccurateTrustDelta:   2,
		InaccurateTrustDelta: -1,
		AuthorRewardTrue:     10,
		AuthorRewardPartial:  3,
	}))
	tr := engagement.NewTracker(st, l)
	lb := leaderboard.NewAggregator(st, leaderboard.WithCache(leaderboard.NewCache(8, 0)))

	srv := NewServer(st, l, wf, tr, lb, opts)
	srv.now = func() time.Time { return claimNow }
	return &testServer{srv: srv, handler: srv.Handler(), store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (ts *testServer) seed(t *testing.T, users ...string) {
	t.Helper()
	for _, id := range users {
		rr := ts.do(t, http.MethodPost, "/users", map[string]string{"id": id})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
}

func verdictBody(verifier, verdict string) map[string]any {
	return map[string]any{
		"verifier_id": verifier,
		"verdict":     verdict,
		"sources":     []string{"https://example.com/report"},
		"explanation": explanation,
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rr)["status"])
}

func TestHealth_StoreDown(t *testing.T) {
	ts := newTestServer(t, Options{})
	require.NoError(t, ts.store.Close())

	rr := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCreateUser(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.do(t, http.MethodPost, "/users", map[string]string{"id": "alice"})
	require.Equal(t, http.StatusCreated, rr.Code)
	u := decodeBody[model.User](t, rr)
	assert.Equal(t, "alice", u.ID)
	assert.Equal(t, int64(0), u.TokenBalance)
	assert.Equal(t, model.DefaultTrustScore, u.TrustScore)

	rr = ts.do(t, http.MethodPost, "/users", map[string]string{"id": "alice"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "user_exists", decodeBody[errorBody](t, rr).Code)
}

func TestCreateUser_BadRequests(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.do(t, http.MethodPost, "/users", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decodeBody[errorBody](t, rr).Code)

	req := httptest.NewRequest(http.MethodPost, "/users", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	ts.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	assert.Contains(t, out.Body.String(), "invalid request body")
}

func TestGetAccount_NotFound(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.do(t, http.MethodGet, "/users/ghost/account", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "user_not_found", decodeBody[errorBody](t, rr).Code)
}

func TestCreatePost_UnknownAuthor(t *testing.T) {
	ts := newTestServer(t, Options{})

	rr := ts.do(t, http.MethodPost, "/posts", map[string]string{"id": "p1", "author_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "user_not_found", decodeBody[errorBody](t, rr).Code)
}

func TestVerificationFlow(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.seed(t, "author", "v1", "v2", "v3")

	rr := ts.do(t, http.MethodPost, "/posts", map[string]string{"id": "p1", "author_id": "author"})
	require.Equal(t, http.StatusCreated, rr.Code)

	for i, v := range []string{"v1", "v2", "v3"} {
		rr = ts.do(t, http.MethodPost, "/posts/p1/verdicts", verdictBody(v, "true"))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		resp := decodeBody[submitVerdictResponse](t, rr)
		assert.Equal(t, "accepted", resp.Status)
		assert.Equal(t, int64(5), resp.TokensAwarded)
		assert.Equal(t, i+1, resp.VerificationCount)
	}

	rr = ts.do(t, http.MethodGet, "/posts/p1/verification", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decodeBody[model.VerificationStatus](t, rr)
	assert.Equal(t, model.StatusVerifiedTrue, status.AggregateStatus)
	assert.Equal(t, 3, status.VerificationCount)
	assert.InDelta(t, 100.0, status.ConsensusScore, 0.001)

	rr = ts.do(t, http.MethodGet, "/posts/p1/verdicts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	verdicts := decodeBody[map[string][]model.Verdict](t, rr)["verdicts"]
	assert.Len(t, verdicts, 3)

	rr = ts.do(t, http.MethodGet, "/users/author/account", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	author := decodeBody[model.User](t, rr)
	assert.Equal(t, int64(10), author.TokenBalance)
	assert.Equal(t, 55, author.TrustScore)

	rr = ts.do(t, http.MethodGet, "/users/v1/ledger", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decodeBody[map[string][]model.LedgerEntry](t, rr)["entries"]
	assert.NotEmpty(t, entries)
}

func TestSubmitVerdict_Rejections(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.seed(t, "author", "v1")
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/posts", map[string]string{"id": "p1", "author_id": "author"}).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/posts/p1/verdicts", verdictBody("v1", "false")).Code)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown post", "/posts/nope/verdicts", verdictBody("v1", "true"), http.StatusNotFound, "post_not_found"},
		{"self verification", "/posts/p1/verdicts", verdictBody("author", "true"), http.StatusConflict, "self_verification_forbidden"},
		{"duplicate", "/posts/p1/verdicts", verdictBody("v1", "true"), http.StatusConflict, "duplicate_verification"},
		{"bad verdict", "/posts/p1/verdicts", verdictBody("v2", "maybe"), http.StatusBadRequest, "invalid_verdict"},
		{"unknown verifier", "/posts/p1/verdicts", verdictBody("ghost", "true"), http.StatusNotFound, "user_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, decodeBody[errorBody](t, rr).Code)
		})
	}
}

func TestDailyBonus(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.seed(t, "alice")

	rr := ts.do(t, http.MethodPost, "/users/alice/daily-bonus", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decodeBody[engagement.ClaimResult](t, rr)
	assert.Equal(t, int64(5), res.AmountAwarded)
	assert.Equal(t, 1, res.NewStreak)
	assert.Equal(t, int64(5), res.NewBalance)

	rr = ts.do(t, http.MethodPost, "/users/alice/daily-bonus", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "already_claimed_today", decodeBody[errorBody](t, rr).Code)

	ts.srv.now = func() time.Time { return claimNow.Add(24 * time.Hour) }
	rr = ts.do(t, http.MethodPost, "/users/alice/daily-bonus", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decodeBody[engagement.ClaimResult](t, rr).NewStreak)

	rr = ts.do(t, http.MethodGet, "/users/alice/daily-claims", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[map[string][]model.DailyClaim](t, rr)["claims"], 2)
}

func TestLeaderboard(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.seed(t, "alice", "bob", "carol")
	for _, id := range []string{"bob", "carol"} {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/users/"+id+"/daily-bonus", nil).Code)
	}

	rr := ts.do(t, http.MethodGet, "/leaderboard?period=allTime&metric=tokensEarned&limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Period  string                   `json:"period"`
		Metric  string                   `json:"metric"`
		Entries []model.LeaderboardEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "allTime", resp.Period)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, model.LeaderboardEntry{Rank: 1, UserID: "bob", MetricValue: 5}, resp.Entries[0])
	assert.Equal(t, model.LeaderboardEntry{Rank: 2, UserID: "carol", MetricValue: 5}, resp.Entries[1])

	rr = ts.do(t, http.MethodGet, "/leaderboard?metric=trustScore", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 3)
	assert.Equal(t, "alice", resp.Entries[0].UserID)
}

func TestLeaderboard_Invalid(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		query string
		code  string
	}{
		{"period=yearly", "invalid_period"},
		{"metric=followers", "invalid_metric"},
		{"limit=ten", "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := ts.do(t, http.MethodGet, "/leaderboard?"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.code, decodeBody[errorBody](t, rr).Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil).Code, fmt.Sprintf("request %d", i))
	}
	rr := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate_limited", decodeBody[errorBody](t, rr).Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Options{CORSOrigins: []string{"https://viurl.app"}})

	req := httptest.NewRequest(http.MethodOptions, "/leaderboard", nil)
	req.Header.Set("Origin", "https://viurl.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://viurl.app", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeaderAccepted(t *testing.T) {
	ts := newTestServer(t, Options{RequestTimeout: time.Second})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
