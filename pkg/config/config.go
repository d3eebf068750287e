// Package config loads trustchain settings: a YAML file, an optional
// profile overlay and TRUSTCHAIN_* environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/trustchain/pkg/artifacts"
	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/observability"
	"github.com/Mindburn-Labs/trustchain/pkg/regression"
)

const envPrefix = "TRUSTCHAIN_"

// Config is the full trustchain configuration.
type Config struct {
	Log           LogConfig            `yaml:"log"`
	Audit         AuditConfig          `yaml:"audit"`
	Artifacts     artifacts.Config     `yaml:"artifacts"`
	Replay        ReplayConfig         `yaml:"replay"`
	Telemetry     observability.Config `yaml:"telemetry"`
	Drift         DriftConfig          `yaml:"drift"`
	Misuse        MisuseConfig         `yaml:"misuse"`
	Certification CertificationConfig  `yaml:"certification"`
	Regression    RegressionConfig     `yaml:"regression"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AuditConfig selects the audit log. An empty backend disables auditing.
type AuditConfig struct {
	Backend audit.Backend `yaml:"backend"`
	Target  string        `yaml:"target"`
}

// ReplayConfig selects the normalized hash cache used by replay.
type ReplayConfig struct {
	Cache         string        `yaml:"cache"` // none, memory, redis
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

type DriftConfig struct {
	Impacts escalation.ImpactTable `yaml:"impacts"`
}

type MisuseConfig struct {
	SeverityImpacts escalation.ImpactTable `yaml:"severity_impacts"`
}

// CertificationConfig holds the certificate signing settings. The secret
// is normally supplied through TRUSTCHAIN_CERT_SECRET.
type CertificationConfig struct {
	Secret   string        `yaml:"secret"`
	TTL      time.Duration `yaml:"ttl"`
	Required bool          `yaml:"required"`
}

type RegressionConfig struct {
	DurationThreshold float64 `yaml:"duration_threshold"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "text"},
		Artifacts: artifacts.Config{Type: artifacts.StoreTypeFS, Dir: ".trustchain/artifacts"},
		Replay:    ReplayConfig{Cache: "memory", TTL: 10 * time.Minute},
		Telemetry: *observability.DefaultConfig(),
		Certification: CertificationConfig{
			TTL: 90 * 24 * time.Hour,
		},
		Regression: RegressionConfig{DurationThreshold: regression.DefaultDurationThreshold},
	}
}

// Load builds the configuration. path may be empty. When profile is set,
// "<dir of path>/profile_<profile>.yaml" is applied on top of the file.
func Load(path, profile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if profile != "" {
		if err := decodeFile(ProfilePath(path, profile), cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProfilePath returns the profile overlay path next to the base config.
func ProfilePath(base, profile string) string {
	return filepath.Join(filepath.Dir(base), "profile_"+strings.ToLower(profile)+".yaml")
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.IO(fmt.Errorf("config: read %s: %w", path, err), "CONFIG_READ")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fault.Wrap(fmt.Errorf("config: parse %s: %w", path, err), fault.KindUsage, "CONFIG_PARSE")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("AUDIT_TARGET", &c.Audit.Target)
	str("ARTIFACT_DIR", &c.Artifacts.Dir)
	str("ARTIFACT_BUCKET", &c.Artifacts.Bucket)
	str("ARTIFACT_REGION", &c.Artifacts.Region)
	str("ARTIFACT_ENDPOINT", &c.Artifacts.Endpoint)
	str("ARTIFACT_PREFIX", &c.Artifacts.Prefix)
	str("REPLAY_CACHE", &c.Replay.Cache)
	str("REDIS_ADDR", &c.Replay.RedisAddr)
	str("REDIS_PASSWORD", &c.Replay.RedisPassword)
	str("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("CERT_SECRET", &c.Certification.Secret)

	if v, ok := lookup(envPrefix + "AUDIT_BACKEND"); ok {
		c.Audit.Backend = audit.Backend(v)
	}
	if v, ok := lookup(envPrefix + "ARTIFACT_STORE"); ok {
		c.Artifacts.Type = artifacts.StoreType(v)
	}
	if v, ok := lookup(envPrefix + "TELEMETRY_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("TELEMETRY_ENABLED", err)
		}
		c.Telemetry.Enabled = b
	}
	if v, ok := lookup(envPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("REDIS_DB", err)
		}
		c.Replay.RedisDB = n
	}
	if v, ok := lookup(envPrefix + "REPLAY_CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("REPLAY_CACHE_TTL", err)
		}
		c.Replay.TTL = d
	}
	return nil
}

func envError(name string, err error) error {
	return fault.Wrap(fmt.Errorf("config: %s%s: %w", envPrefix, name, err), fault.KindUsage, "CONFIG_ENV")
}

// Validate rejects settings the rest of trustchain cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", f))
	}
	switch c.Audit.Backend {
	case "":
	case audit.BackendFile, audit.BackendSQLite, audit.BackendPostgres:
		if c.Audit.Target == "" {
			errs = append(errs, fmt.Errorf("audit.target is required for backend %q", c.Audit.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.backend %q is not file, sqlite or postgres", c.Audit.Backend))
	}
	switch c.Replay.Cache {
	case "none", "memory":
	case "redis":
		if c.Replay.RedisAddr == "" {
			errs = append(errs, errors.New("replay.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("replay.cache %q is not none, memory or redis", c.Replay.Cache))
	}
	if c.Replay.TTL < 0 {
		errs = append(errs, errors.New("replay.ttl must not be negative"))
	}
	if err := c.Drift.Impacts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("drift.impacts: %w", err))
	}
	if err := c.Misuse.SeverityImpacts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("misuse.severity_impacts: %w", err))
	}
	if c.Regression.DurationThreshold <= 0 {
		errs = append(errs, errors.New("regression.duration_threshold must be positive"))
	}
	if s := c.Telemetry.SampleRate; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate %v must be within 0..1", s))
	}
	if len(errs) > 0 {
		return fault.Wrap(fmt.Errorf("config: %w", errors.Join(errs...)), fault.KindUsage, "CONFIG_INVALID")
	}
	return nil
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// NewLogger returns a logger writing to w in the configured format.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
