package main

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/agentdbg/internal/audit"
	"github.com/stupiduntilnot/agentdbg/internal/config"
	"github.com/stupiduntilnot/agentdbg/internal/db"
)

// isolate gives the test its own home and working directory and clears
// AGENTDBG_* variables inherited from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "AGENTDBG_") {
			t.Setenv(key, "")
		}
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func b64(s string) string {
	return "msgb64:" + base64.StdEncoding.EncodeToString([]byte(s))
}

func dummySession(t *testing.T, dbPath string, input ...string) {
	t.Helper()
	script := make([]string, len(input))
	for i, line := range input {
		script[i] = b64(line)
	}
	t.Setenv("AGENTDBG_PROVIDER", "dummy")
	t.Setenv("AGENTDBG_DEBUGGER", "dummy")
	t.Setenv("AGENTDBG_COMMANDER", "dummy")
	t.Setenv("AGENTDBG_DB_PATH", dbPath)
	t.Setenv("AGENTDBG_DUMMY_INPUT_SCRIPT", strings.Join(script, ","))
	t.Setenv("AGENTDBG_DUMMY_PROVIDER_SCRIPT", strings.Join([]string{
		b64("```gdb\nhelp break\n```"),
		b64("```gdb\nbreak main\n```"),
	}, ","))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func eventTypes(t *testing.T, database *sql.DB) []string {
	t.Helper()
	rows, err := database.Query(`SELECT event_type FROM events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var types []string
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		types = append(types, et)
	}
	require.NoError(t, rows.Err())
	return types
}

func historyCount(t *testing.T, database *sql.DB, sessionID string) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM history WHERE session_id = ?`, sessionID).Scan(&n))
	return n
}

func TestRun_AgentRequestRecordsCycle(t *testing.T) {
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "agentdbg.db")
	dummySession(t, dbPath, "agent set a breakpoint at main")

	_, err := execute(t, "./a.out")
	require.NoError(t, err)

	database, err := db.OpenDB(dbPath)
	require.NoError(t, err)
	defer database.Close()

	types := eventTypes(t, database)
	require.NotEmpty(t, types)
	assert.Equal(t, audit.EventSessionStarted, types[0])
	for _, want := range []string{
		audit.EventCycleStarted,
		audit.EventProbeExecuted,
		audit.EventCycleSucceeded,
		audit.EventCommandExecuted,
		audit.EventContextAppended,
	} {
		assert.Contains(t, types, want)
	}

	sessionID, err := db.LatestSessionID(database)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, 1, historyCount(t, database, sessionID))
}

func TestRun_ResumeLastReusesSessionID(t *testing.T) {
	isolate(t)
	dbPath := filepath.Join(t.TempDir(), "agentdbg.db")
	dummySession(t, dbPath, "agent set a breakpoint at main")

	_, err := execute(t)
	require.NoError(t, err)

	database, err := db.OpenDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	first, err := db.LatestSessionID(database)
	require.NoError(t, err)

	_, err = execute(t, "--resume", "last")
	require.NoError(t, err)

	second, err := db.LatestSessionID(database)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, historyCount(t, database, first))
}

func TestRun_ResumeWithoutSessions(t *testing.T) {
	isolate(t)
	dummySession(t, filepath.Join(t.TempDir(), "agentdbg.db"))

	_, err := execute(t, "--resume", "last")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no previous session")
}

func TestRun_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("AGENTDBG_PROVIDER", "dummy")

	_, err := execute(t, "--extract-mode", "xml")
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr), "expected config error, got %v", err)
	assert.Equal(t, "extract_mode", cfgErr.Field)
}

func TestRun_MissingModelID(t *testing.T) {
	isolate(t)

	_, err := execute(t)
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr), "expected config error, got %v", err)
	assert.Equal(t, "model_id", cfgErr.Field)
}

func TestConfigure_WritesSettingsFile(t *testing.T) {
	home := isolate(t)

	out, err := execute(t, "configure", "--api-key", "sk-secret-1234", "--model-id", "qwen2.5-coder")
	require.NoError(t, err)
	assert.Contains(t, out, "api_key   set (****1234)")
	assert.Contains(t, out, "base_url  not set")
	assert.NotContains(t, out, "sk-secret")

	path := filepath.Join(home, config.DefaultFileName)
	assert.Contains(t, out, "Configuration saved to "+path)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-1234", cfg.APIKey)
	assert.Equal(t, "qwen2.5-coder", cfg.ModelID)

	out, err = execute(t, "configure", "--base-url", "http://localhost:8080/v1")
	require.NoError(t, err)
	assert.Contains(t, out, "model_id  retained (qwen2.5-coder)")
	cfg, err = config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder", cfg.ModelID)
	assert.Equal(t, "http://localhost:8080/v1", cfg.BaseURL)
}

func TestConfigure_NothingToSave(t *testing.T) {
	isolate(t)

	_, err := execute(t, "configure")
	var cfgErr *config.Error
	require.True(t, errors.As(err, &cfgErr), "expected config error, got %v", err)
}

func TestConfigure_SettingsUsedByRun(t *testing.T) {
	isolate(t)
	_, err := execute(t, "configure", "--model-id", "from-file", "--provider", "dummy")
	require.NoError(t, err)

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	cfg, err := loadConfig(cmd, &rootOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ModelID)
	assert.Equal(t, "dummy", cfg.Provider)
}

func TestDisplayMasksSecrets(t *testing.T) {
	assert.Equal(t, "****", display("abc", true))
	assert.Equal(t, "****wxyz", display("abcdwxyz", true))
	assert.Equal(t, "plain", display("plain", false))
}
