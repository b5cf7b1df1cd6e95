package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("JIRA_DOMAIN", "acme.atlassian.net")
	t.Setenv("JIRA_HIERARCHY_FIELD", "customfield_10100")
	t.Setenv("JIRA_AGILE_BOARD_ID", "42")
	t.Setenv("JIRA_TIMEOUT", "10s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "acme.atlassian.net", cfg.JiraDomain)
	assert.Equal(t, "customfield_10100", cfg.HierarchyField)
	assert.Equal(t, 42, cfg.BoardID)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, "https://acme.atlassian.net", cfg.BaseURL())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
jira_domain: file.atlassian.net
hierarchy_field: customfield_10014
size_field: customfield_10200
label: Q3
concurrency: 3
cache_ttl: 2m
time_tracking:
  - key: support
    title: Support
    label: support-work
  - key: meetings
    title: Meetings
    label: meetings
`)
	t.Setenv("JIRA_LABEL", "Q4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file.atlassian.net", cfg.JiraDomain)
	assert.Equal(t, "customfield_10200", cfg.SizeField)
	assert.Equal(t, "Q4", cfg.Label, "env overrides file")
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	require.Len(t, cfg.TimeTracking, 2)
	assert.Equal(t, Category{Key: "support", Title: "Support", Label: "support-work"}, cfg.TimeTracking[0])
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "jira_domain: [unterminated"))
		require.Error(t, err)
	})

	t.Run("bad int env", func(t *testing.T) {
		t.Setenv("JIRA_DOMAIN", "acme.atlassian.net")
		t.Setenv("PORT", "eighty")
		_, err := Load("")
		require.ErrorContains(t, err, "parse PORT")
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.ErrorContains(t, err, "jira_domain is required")

	cfg.JiraDomain = "acme.atlassian.net"
	cfg.BatchSize = 250
	cfg.Concurrency = 0
	cfg.TimeTracking = []Category{{Title: "no key"}}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size must be between 1 and 100 (got 250)")
	assert.Contains(t, err.Error(), "concurrency must be >= 1 (got 0)")
	assert.Contains(t, err.Error(), "time_tracking[0]")

	cfg = Default()
	cfg.JiraDomain = "http://localhost:8080/"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL())
}
