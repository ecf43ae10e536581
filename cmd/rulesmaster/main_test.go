package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("RULESMASTER_CONFIG", "")
	t.Setenv("APP_USER_ID", "")
	t.Setenv("CACHE_BACKEND", "sqlite")
	t.Setenv("CACHE_SQLITE_PATH", filepath.Join(dir, "cache.db"))
	t.Setenv("REMOTE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, userFlag, gameFlag, jsonOutput = "", "", "", false
	schemaStatus, schemaDown = false, false
	quizScore, quizTotal, quizID, quizTimeSpent, quizPassing = 0, 0, "", 0, 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_CompleteThenReadFromCache(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "progress", "complete", "setup", "-u", "u1", "-g", "clank")
	require.NoError(t, err)
	assert.Contains(t, out, "+50 XP")

	// The remote is in memory and gone; the answer comes from the cache.
	out, err = runCLI(t, "progress", "get", "-u", "u1", "-g", "clank", "--json")
	require.NoError(t, err)

	var p progress.UserProgress
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, []string{"setup"}, p.CompletedConcepts)
	assert.Equal(t, 50, p.TotalXP)
}

func TestCLI_PerfectQuizCompletesConcept(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "quiz", "submit", "turn-order", "--score", "4", "--total", "4", "-u", "u1", "-g", "clank")
	require.NoError(t, err)
	assert.Contains(t, out, "perfect=true")

	out, err = runCLI(t, "progress", "completions", "-u", "u1", "-g", "clank")
	require.NoError(t, err)
	assert.Contains(t, out, "turn-order")

	out, err = runCLI(t, "quiz", "stats", "turn-order", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "attempts: 1")
}

func TestCLI_RequiresUser(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "progress", "get", "-g", "clank")
	assert.ErrorContains(t, err, "no user")
}

func TestCLI_SchemaNeedsPostgres(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "migrate", "schema")
	assert.ErrorContains(t, err, "REMOTE_BACKEND=postgres")

	_, err = runCLI(t, "migrate", "schema", "--down")
	assert.ErrorContains(t, err, "REMOTE_BACKEND=postgres")
}

func TestCLI_ClearQuizHistory(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "quiz", "submit", "turn-order", "--score", "1", "--total", "4", "-u", "u1", "-g", "clank")
	require.NoError(t, err)

	out, err := runCLI(t, "quiz", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cached quiz history cleared")

	out, err = runCLI(t, "quiz", "stats", "turn-order", "-u", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "attempts: 0")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitRemoteUnavailable, exitCode(shared.Unavailable("remote", "FetchProgress", errors.New("timeout"))))
	assert.Equal(t, exitCacheFailure, exitCode(shared.WrapError("cache", "Get", shared.ErrCacheRead, "corrupt", nil)))
	assert.Equal(t, exitFailure, exitCode(errors.New("no user")))
}
