package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/model"
	"github.com/viurl/verification-engine/internal/verification"
)

const maxBodyBytes = 64 << 10

type createUserRequest struct {
	ID string `json:"id" validate:"required,max=128"`
}

type createPostRequest struct {
	ID       string `json:"id" validate:"required,max=128"`
	AuthorID string `json:"author_id" validate:"required,max=128"`
}

type submitVerdictRequest struct {
	VerifierID  string   `json:"verifier_id"`
	Verdict     string   `json:"verdict"`
	Sources     []string `json:"sources"`
	Explanation string   `json:"explanation"`
}

type submitVerdictResponse struct {
	Status            string       `json:"status"`
	AggregateStatus   model.Status `json:"aggregate_status"`
	VerificationCount int          `json:"verification_count"`
	TokensAwarded     int64        `json:"tokens_awarded"`
	VerifierBalance   int64        `json:"verifier_balance"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.ledger.OpenAccount(r.Context(), req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	u, err := s.ledger.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLedgerHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	entries, err := s.ledger.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
}

func (s *Server) handleClaimDailyBonus(w http.ResponseWriter, r *http.Request) {
	res, err := s.tracker.ClaimDailyBonus(r.Context(), chi.URLParam(r, "userID"), s.now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClaimHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	claims, err := s.tracker.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": nonNil(claims)})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.workflow.CreatePost(r.Context(), req.ID, req.AuthorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleSubmitVerdict(w http.ResponseWriter, r *http.Request) {
	var req submitVerdictRequest
	if !s.decode(w, r, &req) {
		return
	}
	receipt, err := s.workflow.SubmitVerdict(r.Context(), verification.Submission{
		VerifierID:  req.VerifierID,
		PostID:      chi.URLParam(r, "postID"),
		Verdict:     model.VerdictKind(req.Verdict),
		Sources:     req.Sources,
		Explanation: req.Explanation,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitVerdictResponse{
		Status:            "accepted",
		AggregateStatus:   receipt.AggregateStatus,
		VerificationCount: receipt.VerificationCount,
		TokensAwarded:     receipt.TokensAwarded,
		VerifierBalance:   receipt.VerifierBalance,
	})
}

func (s *Server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	verdicts, err := s.workflow.ListVerdicts(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verdicts": nonNil(verdicts)})
}

func (s *Server) handleVerificationStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.workflow.GetVerificationStatus(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	period := model.Period(q.Get("period"))
	if period == "" {
		period = model.PeriodAllTime
	}
	metric := model.Metric(q.Get("metric"))
	if metric == "" {
		metric = model.MetricTokensEarned
	}

	board, err := s.leaderboard.GetLeaderboard(r.Context(), period, metric, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":  period,
		"metric":  metric,
		"entries": nonNil(board),
	})
}

// decode reads a JSON body into v and runs struct validation. It writes the
// 400 response itself and reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeBadRequest(w, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "Error:"); i >= 0 {
		return strings.TrimSpace(msg[i+len("Error:"):])
	}
	return msg
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, key+" must be an integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
