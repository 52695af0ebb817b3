package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viurl/verification-engine/internal/apperr"
)

const cliExplanation = "Independent reporting and the primary source both confirm this."

func TestMigrateCommand(t *testing.T) {
	useSQLiteWorkspace(t)

	out, err := runCLI(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")

	// Idempotent.
	_, err = runCLI(t, "migrate")
	require.NoError(t, err)
}

func TestMigrateCommand_PostgresWithoutURL(t *testing.T) {
	dir := useSQLiteWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store:\n  driver: postgres\nlog:\n  level: error\n"), 0o644))

	_, err := runCLI(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestAccountCommands(t *testing.T) {
	useSQLiteWorkspace(t)

	out, err := runCLI(t, "account", "open", "alice")
	require.NoError(t, err)
	acct := parseYAML(t, out)
	assert.Equal(t, "alice", acct["user_id"])
	assert.Equal(t, 0, acct["token_balance"])
	assert.Equal(t, 50, acct["trust_score"])
	assert.Equal(t, "silver", acct["verification_badge"])

	_, err = runCLI(t, "account", "open", "alice")
	assert.ErrorIs(t, err, apperr.ErrUserExists)

	_, err = runCLI(t, "account", "show", "ghost")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestClaimCommand(t *testing.T) {
	useSQLiteWorkspace(t)
	_, err := runCLI(t, "account", "open", "alice")
	require.NoError(t, err)

	out, err := runCLI(t, "claim", "alice")
	require.NoError(t, err)
	res := parseYAML(t, out)
	assert.Equal(t, 5, res["amount_awarded"])
	assert.Equal(t, 1, res["new_streak"])
	assert.Equal(t, 5, res["new_balance"])

	_, err = runCLI(t, "claim", "alice")
	assert.ErrorIs(t, err, apperr.ErrAlreadyClaimedToday)

	out, err = runCLI(t, "account", "show", "alice", "--history", "5")
	require.NoError(t, err)
	acct := parseYAML(t, out)
	assert.Equal(t, 5, acct["token_balance"])
	history, ok := acct["history"].([]any)
	require.True(t, ok, out)
	require.Len(t, history, 1)
	assert.Equal(t, "daily_bonus", history[0].(map[string]any)["reason"])
}

func TestPostVerifyAndStatusCommands(t *testing.T) {
	useSQLiteWorkspace(t)
	for _, id := range []string{"author", "v1", "v2"} {
		_, err := runCLI(t, "account", "open", id)
		require.NoError(t, err)
	}

	_, err := runCLI(t, "post", "create", "p1", "--author", "author")
	require.NoError(t, err)

	for _, v := range []string{"v1", "v2"} {
		out, err := runCLI(t, "post", "verify", "p1",
			"--verifier", v,
			"--verdict", "misleading",
			"--source", "https://example.com/a",
			"--source", "https://example.com/b",
			"--explanation", cliExplanation,
		)
		require.NoError(t, err)
		receipt := parseYAML(t, out)
		assert.Equal(t, "accepted", receipt["status"])
		assert.Equal(t, 15, receipt["tokens_awarded"])
	}

	out, err := runCLI(t, "status", "p1", "--verdicts")
	require.NoError(t, err)
	status := parseYAML(t, out)
	assert.Equal(t, "misleading", status["aggregate_status"])
	assert.Equal(t, 2, status["verification_count"])
	verdicts, ok := status["verdicts"].([]any)
	require.True(t, ok, out)
	require.Len(t, verdicts, 2)
	first := verdicts[0].(map[string]any)
	assert.Len(t, first["sources"], 2)
	assert.Equal(t, true, first["settled"])

	_, err = runCLI(t, "post", "verify", "p1",
		"--verifier", "author",
		"--verdict", "true",
		"--source", "https://example.com/a",
		"--explanation", cliExplanation,
	)
	assert.ErrorIs(t, err, apperr.ErrSelfVerification)
}

func TestLeaderboardCommand(t *testing.T) {
	useSQLiteWorkspace(t)
	for _, id := range []string{"alice", "bob"} {
		_, err := runCLI(t, "account", "open", id)
		require.NoError(t, err)
	}
	_, err := runCLI(t, "claim", "bob")
	require.NoError(t, err)

	out, err := runCLI(t, "leaderboard", "--period", "daily", "--metric", "tokensEarned", "--limit", "1")
	require.NoError(t, err)
	board := parseYAML(t, out)
	entries, ok := board["entries"].([]any)
	require.True(t, ok, out)
	require.Len(t, entries, 1)
	top := entries[0].(map[string]any)
	assert.Equal(t, 1, top["rank"])
	assert.Equal(t, "bob", top["user_id"])
	assert.Equal(t, 5, top["metric_value"])

	_, err = runCLI(t, "leaderboard", "--period", "yearly")
	assert.ErrorIs(t, err, apperr.ErrInvalidPeriod)
}
