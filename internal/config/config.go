// Package config loads moneyage settings.
//
// Sources, later wins:
//  1. built-in defaults
//  2. the YAML file (optional)
//  3. MONEYAGE_* environment variables
//
// The merged result is checked against an embedded CUE schema and the cron
// expressions are parsed before Load returns.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/roach88/moneyage/internal/engine"
	"github.com/roach88/moneyage/internal/ledger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MONEYAGE_"

//go:embed schema.cue
var schemaCUE string

// Config is the full application configuration.
type Config struct {
	Database Database `yaml:"database" json:"database" envPrefix:"DATABASE_"`
	Engine   Engine   `yaml:"engine"   json:"engine"   envPrefix:"ENGINE_"`
	Health   Health   `yaml:"health"   json:"health"   envPrefix:"HEALTH_"`
	Server   Server   `yaml:"server"   json:"server"   envPrefix:"SERVER_"`
	Schedule Schedule `yaml:"schedule" json:"schedule" envPrefix:"SCHEDULE_"`
	Log      Log      `yaml:"log"      json:"log"      envPrefix:"LOG_"`
}

type Database struct {
	Path string `yaml:"path" json:"path" env:"PATH"`
}

type Engine struct {
	Strategy      string `yaml:"strategy"       json:"strategy"       env:"STRATEGY"`
	DeficitPolicy string `yaml:"deficit_policy" json:"deficit_policy" env:"DEFICIT_POLICY"`
}

// Health holds the money-age day thresholds.
type Health struct {
	HealthThreshold  int `yaml:"health_threshold"  json:"health_threshold"  env:"THRESHOLD"`
	WarningThreshold int `yaml:"warning_threshold" json:"warning_threshold" env:"WARNING_THRESHOLD"`
}

type Server struct {
	Address string `yaml:"address" json:"address" env:"ADDRESS"`
}

// Schedule holds six-field (seconds first) cron expressions.
type Schedule struct {
	AdvanceCron  string `yaml:"advance_cron"  json:"advance_cron"  env:"ADVANCE_CRON"`
	SnapshotCron string `yaml:"snapshot_cron" json:"snapshot_cron" env:"SNAPSHOT_CRON"`
}

type Log struct {
	Level string `yaml:"level" json:"level" env:"LEVEL"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: Database{Path: "moneyage.db"},
		Engine:   Engine{Strategy: engine.StrategyFIFO, DeficitPolicy: string(engine.DeficitRecord)},
		Health: Health{
			HealthThreshold:  ledger.DefaultThresholds.Health,
			WarningThreshold: ledger.DefaultThresholds.Warning,
		},
		Server: Server{Address: "127.0.0.1:8080"},
		Schedule: Schedule{
			AdvanceCron:  "0 */5 * * * *",
			SnapshotCron: "0 5 0 * * *",
		},
		Log: Log{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path or a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Engine.Strategy = strings.ToLower(strings.TrimSpace(cfg.Engine.Strategy))
	cfg.Engine.DeficitPolicy = strings.ToLower(strings.TrimSpace(cfg.Engine.DeficitPolicy))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema and parses the cron specs.
func (c Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def.Unify(cctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.Join(cueMessages(err), "; "))
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.AdvanceCron); err != nil {
		return fmt.Errorf("invalid config: schedule.advance_cron: %w", err)
	}
	if _, err := parser.Parse(c.Schedule.SnapshotCron); err != nil {
		return fmt.Errorf("invalid config: schedule.snapshot_cron: %w", err)
	}
	return nil
}

func cueMessages(err error) []string {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		format, args := e.Msg()
		msgs = append(msgs, fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
	}
	return msgs
}

// EngineOptions converts the engine and health sections into engine options.
func (c Config) EngineOptions() ([]engine.Option, error) {
	strategy, err := engine.ParseStrategy(c.Engine.Strategy)
	if err != nil {
		return nil, err
	}
	policy, err := engine.ParseDeficitPolicy(c.Engine.DeficitPolicy)
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithStrategy(strategy),
		engine.WithDeficitPolicy(policy),
		engine.WithThresholds(c.Thresholds()),
	}, nil
}

// Thresholds returns the health thresholds.
func (c Config) Thresholds() ledger.Thresholds {
	return ledger.Thresholds{Health: c.Health.HealthThreshold, Warning: c.Health.WarningThreshold}
}

// LogLevel maps log.level to a slog level. Unknown levels map to info.
func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
