package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hello-sally/jobwatch/internal/job"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Transcription.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Analysis.PollInterval)
	assert.Equal(t, 150, cfg.Transcription.MaxAttempts)
	assert.Equal(t, 150, cfg.Analysis.MaxAttempts)
	assert.Equal(t, []job.ReportStatus{job.ReportCompleted, job.ReportPublished, job.ReportDraft}, cfg.Analysis.TerminalStatuses)
	assert.Equal(t, "127.0.0.1:8090", cfg.Addr())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  auth_token: abc
  allowed_origins: ["http://localhost:5173"]
service:
  base_url: http://reports.internal:8000
  request_timeout: 4s
analysis:
  poll_interval: 500ms
  terminal_statuses: [completed, draft, published]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "abc", cfg.Server.AuthToken)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http://reports.internal:8000", cfg.Service.BaseURL)
	assert.Equal(t, 4*time.Second, cfg.Service.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Analysis.PollInterval)
	assert.Equal(t, 150, cfg.Analysis.MaxAttempts)
	assert.Len(t, cfg.Analysis.TerminalStatuses, 3)
	assert.Equal(t, 3*time.Second, cfg.Transcription.PollInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load(DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero interval", "transcription:\n  poll_interval: 0s\n", "transcription.poll_interval"},
		{"negative attempts", "analysis:\n  max_attempts: -1\n", "analysis.max_attempts"},
		{"empty base url", "service:\n  base_url: \"\"\n", "service.base_url is required"},
		{"relative base url", "service:\n  base_url: /api\n", "not an absolute URL"},
		{"bad terminal", "analysis:\n  terminal_statuses: [finished]\n", "unknown status"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"bad yaml", "server: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
