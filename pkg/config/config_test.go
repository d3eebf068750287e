package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/artifacts"
	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Replay.Cache)
	assert.Equal(t, artifacts.StoreTypeFS, cfg.Artifacts.Type)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.20, cfg.Regression.DurationThreshold)
	assert.Empty(t, cfg.Audit.Backend)
}

func TestLoad_FileProfileAndEnv(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "trustchain.yaml", `
log:
  level: debug
  format: json
audit:
  backend: sqlite
  target: audit.db
replay:
  cache: memory
  ttl: 30s
drift:
  impacts:
    D-S: 5
misuse:
  severity_impacts:
    critical: 5
`)
	writeFile(t, dir, "profile_ci.yaml", `
audit:
  backend: file
  target: audit.jsonl
`)

	t.Setenv("TRUSTCHAIN_LOG_LEVEL", "warn")
	t.Setenv("TRUSTCHAIN_REPLAY_CACHE_TTL", "1m")
	t.Setenv("TRUSTCHAIN_CERT_SECRET", "0123456789abcdef")

	cfg, err := Load(base, "CI")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, audit.BackendFile, cfg.Audit.Backend)
	assert.Equal(t, "audit.jsonl", cfg.Audit.Target)
	assert.Equal(t, time.Minute, cfg.Replay.TTL)
	assert.Equal(t, 5, cfg.Drift.Impacts["D-S"])
	assert.Equal(t, 5, cfg.Misuse.SeverityImpacts["critical"])
	assert.Equal(t, "0123456789abcdef", cfg.Certification.Secret)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"), "")
	assert.True(t, fault.Is(err, fault.KindIO))

	unknown := writeFile(t, dir, "unknown.yaml", "colour: blue\n")
	_, err = Load(unknown, "")
	assert.True(t, fault.Is(err, fault.KindUsage))

	cases := map[string]string{
		"level":     "log:\n  level: loud\n",
		"backend":   "audit:\n  backend: etcd\n  target: x\n",
		"target":    "audit:\n  backend: sqlite\n",
		"redis":     "replay:\n  cache: redis\n",
		"impact":    "drift:\n  impacts:\n    D-S: 9\n",
		"threshold": "regression:\n  duration_threshold: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, dir, name+".yaml", body), "")
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.KindUsage))
			assert.Equal(t, "CONFIG_INVALID", fault.CodeOf(err))
		})
	}

	t.Setenv("TRUSTCHAIN_TELEMETRY_ENABLED", "maybe")
	_, err = Load("", "")
	assert.Equal(t, "CONFIG_ENV", fault.CodeOf(err))
}

func TestProfilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("etc", "profile_prod.yaml"), ProfilePath(filepath.Join("etc", "trustchain.yaml"), "Prod"))
	assert.Equal(t, "profile_dev.yaml", ProfilePath("", "dev"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	lvl, err := LogConfig{Level: "DEBUG"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)
}
