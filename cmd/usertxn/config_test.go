package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nikmy/usertxn/internal/backend"
	"github.com/nikmy/usertxn/pkg/environment"
)

const sampleConfig = `
Environment: prod
API:
  http:
    addr: ":9090"
    read_timeout: 5s
Backend:
  kind: redis
  redis:
    addr: "localhost:6379"
    prefix: "usertxn:"
Sessions:
  max_idle: 10m
  txn:
    default_timeout: 1m
    nesting: false
    grants:
      editor: [commit, rollback]
Events:
  brokers: ["localhost:9092"]
  topic: txn-events
  batch_timeout: 50ms
`

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	require.Equal(t, environment.Production, cfg.Environment)
	require.Equal(t, ":9090", cfg.API.HTTP.Addr)
	require.Equal(t, 5*time.Second, cfg.API.HTTP.ReadTimeout)
	require.Equal(t, backend.Redis, cfg.Backend.Kind)
	require.Equal(t, "usertxn:", cfg.Backend.Redis.Prefix)
	require.Equal(t, 10*time.Minute, cfg.Sessions.MaxIdle)
	require.Equal(t, defaultReapInterval, cfg.Sessions.ReapInterval)
	require.Equal(t, time.Minute, cfg.Sessions.Txn.DefaultTimeout)
	require.Equal(t, []string{"commit", "rollback"}, cfg.Sessions.Txn.Grants["editor"])

	require.True(t, cfg.Events.Enabled())
	require.Equal(t, "txn-events", cfg.Events.Topic)
	require.Equal(t, 50*time.Millisecond, cfg.Events.BatchTimeout)

	_, err = cfg.Sessions.Txn.Options()
	require.NoError(t, err)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig([]byte("Environment: dev\n"))
	require.NoError(t, err)

	require.Equal(t, environment.Development, cfg.Environment)
	require.Equal(t, defaultAddr, cfg.API.HTTP.Addr)
	require.Equal(t, defaultMaxIdle, cfg.Sessions.MaxIdle)
	require.Equal(t, backend.Kind(""), cfg.Backend.Kind)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	f, err := parseFlags([]string{"-config", path, "-env", "dev"})
	require.NoError(t, err)

	cfg, err := loadConfig(f)
	require.NoError(t, err)
	require.Equal(t, environment.Development, cfg.Environment)

	_, err = loadConfig(flags{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestParseConfig_RejectsBadDurations(t *testing.T) {
	type testcase struct {
		name string
		yaml string
	}

	tests := [...]testcase{
		{name: "negative reap interval", yaml: "Sessions:\n  reap_interval: -1s\n"},
		{name: "negative max idle", yaml: "Sessions:\n  max_idle: -5m\n"},
		{name: "negative txn timeout", yaml: "Sessions:\n  txn:\n    default_timeout: -1s\n"},
		{name: "negative read timeout", yaml: "API:\n  http:\n    read_timeout: -1s\n"},
		{name: "negative batch timeout", yaml: "Events:\n  batch_timeout: -10ms\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig([]byte(tt.yaml))
			require.Error(t, err)
		})
	}

	cfg, err := parseConfig([]byte("Sessions:\n  reap_interval: 5s\n"))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Sessions.ReapInterval)
}
