package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moneyage/internal/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moneyage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "fifo", cfg.Engine.Strategy)
	assert.Equal(t, "0 */5 * * * *", cfg.Schedule.AdvanceCron)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/moneyage/ledger.db
engine:
  strategy: LIFO
  deficit_policy: reject
health:
  health_threshold: 10
  warning_threshold: 20
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/moneyage/ledger.db", cfg.Database.Path)
	assert.Equal(t, "lifo", cfg.Engine.Strategy)
	assert.Equal(t, "reject", cfg.Engine.DeficitPolicy)
	assert.Equal(t, 10, cfg.Thresholds().Health)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address, "unset keys keep defaults")
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "database:\n  path: from-file.db\n")
	t.Setenv("MONEYAGE_DATABASE_PATH", "from-env.db")
	t.Setenv("MONEYAGE_ENGINE_STRATEGY", "proportional")
	t.Setenv("MONEYAGE_HEALTH_WARNING_THRESHOLD", "90")
	t.Setenv("MONEYAGE_SCHEDULE_SNAPSHOT_CRON", "@daily")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, "proportional", cfg.Engine.Strategy)
	assert.Equal(t, 90, cfg.Health.WarningThreshold)
	assert.Equal(t, "@daily", cfg.Schedule.SnapshotCron)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{
			name: "unknown strategy",
			yaml: "engine:\n  strategy: random\n",
			want: "engine.strategy",
		},
		{
			name: "unknown deficit policy",
			yaml: "engine:\n  deficit_policy: overdraft\n",
			want: "engine.deficit_policy",
		},
		{
			name: "warning below health",
			yaml: "health:\n  health_threshold: 30\n  warning_threshold: 10\n",
			want: "health.warning_threshold",
		},
		{
			name: "empty database path",
			yaml: "database:\n  path: \"\"\n",
			want: "database.path",
		},
		{
			name: "bad cron",
			yaml: "schedule:\n  advance_cron: every minute\n",
			want: "schedule.advance_cron",
		},
		{
			name: "bad env number",
			env:  map[string]string{"MONEYAGE_HEALTH_THRESHOLD": "soon"},
			want: "parse env",
		},
		{
			name: "malformed yaml",
			yaml: "engine: [",
			want: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	cfg.Engine.Strategy = "weighted_average"
	cfg.Engine.DeficitPolicy = "reject"
	cfg.Health = Health{HealthThreshold: 7, WarningThreshold: 14}

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	eng := engine.New(opts...)
	assert.Equal(t, engine.StrategyProportional, eng.Strategy().Name())
	assert.Equal(t, engine.DeficitReject, eng.DeficitPolicy())
	assert.Equal(t, 7, eng.Thresholds().Health)

	cfg.Engine.Strategy = "nope"
	_, err = cfg.EngineOptions()
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		cfg := Config{Log: Log{Level: level}}
		assert.Equal(t, want, cfg.LogLevel(), level)
	}
}
