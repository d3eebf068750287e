package baseline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

func ptr(f float64) *float64 { return &f }

func fixedRegistry(t *testing.T) *Registry {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 2, 4, 9, 30, 0, 0, time.UTC) }
	return Open(t.TempDir()).WithClock(clock)
}

func TestRegisterAndLookup(t *testing.T) {
	r := fixedRegistry(t)
	th := Thresholds{
		Metrics:     map[string]Bound{"accuracy": {Min: ptr(0.9)}},
		Expressions: []string{"metrics.accuracy >= baseline.accuracy - 0.01"},
	}

	e, err := r.Register("1.0.0", "runs/one", th)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(e.RunDir))
	require.Equal(t, time.Date(2026, 2, 4, 9, 30, 0, 0, time.UTC), e.RegisteredAt)

	got, err := r.Lookup("1.0.0")
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestRegister_CreatesRegistryDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "baselines")
	r := Open(dir)

	_, err := r.Register("1.0.0", "run", Thresholds{})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "registry.json"))
	require.NoFileExists(t, filepath.Join(dir, "registry.json.lock"))

	got, err := r.Lookup("1.0.0")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", got.Version)
}

func TestRegister_WriteOnce(t *testing.T) {
	r := fixedRegistry(t)
	_, err := r.Register("1.0.0", "a", Thresholds{})
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(r.Dir(), RegistryFile))
	require.NoError(t, err)

	_, err = r.Register("1.0.0", "b", Thresholds{})
	require.ErrorIs(t, err, ErrVersionExists)

	after, err := os.ReadFile(filepath.Join(r.Dir(), RegistryFile))
	require.NoError(t, err)
	require.Equal(t, before, after)

	e, err := r.Lookup("1.0.0")
	require.NoError(t, err)
	require.Equal(t, "a", filepath.Base(e.RunDir))
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	r := fixedRegistry(t)
	for _, v := range []string{"v1.0.0", "1.0", "latest", ""} {
		_, err := r.Register(v, "run", Thresholds{})
		require.Error(t, err, v)
		require.Equal(t, fault.KindUsage, fault.KindOf(err))
	}

	_, err := r.Register("1.0.0", "run", Thresholds{Metrics: map[string]Bound{"x": {Min: ptr(2), Max: ptr(1)}}})
	require.Error(t, err)
}

func TestLookup_NotFound(t *testing.T) {
	r := fixedRegistry(t)
	_, err := r.Lookup("9.9.9")
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, fault.ExitBaselineNotFound, fault.ExitCode(err))
}

func TestListSortedBySemVer(t *testing.T) {
	r := fixedRegistry(t)
	for _, v := range []string{"1.10.0", "1.2.0", "0.9.1", "1.2.0-rc.1"} {
		_, err := r.Register(v, "run-"+v, Thresholds{})
		require.NoError(t, err)
	}
	list, err := r.List()
	require.NoError(t, err)

	var versions []string
	for _, e := range list {
		versions = append(versions, e.Version)
	}
	require.Equal(t, []string{"0.9.1", "1.2.0-rc.1", "1.2.0", "1.10.0"}, versions)

	latest, err := r.Latest()
	require.NoError(t, err)
	require.Equal(t, "1.10.0", latest.Version)
}

func TestResolve(t *testing.T) {
	r := fixedRegistry(t)
	for _, v := range []string{"1.0.0", "1.4.2", "2.0.0"} {
		_, err := r.Register(v, "run", Thresholds{})
		require.NoError(t, err)
	}

	e, err := r.Resolve("^1.0")
	require.NoError(t, err)
	require.Equal(t, "1.4.2", e.Version)

	e, err = r.Resolve("latest")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", e.Version)

	e, err = r.Resolve("1.0.0")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", e.Version)

	_, err = r.Resolve("^3")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatest_EmptyRegistry(t *testing.T) {
	_, err := fixedRegistry(t).Latest()
	require.ErrorIs(t, err, ErrNotFound)
}
