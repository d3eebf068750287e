// Package baseline keeps the write-once registry of reference runs that
// candidates are compared against.
//
// The registry is a single JSON file, <dir>/registry.json, mapping a SemVer
// version to its entry. Registering a version that already exists is
// rejected; nothing is ever overwritten or removed.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/fsx"
)

// RegistryFile is the registry's file name inside the baselines directory.
const RegistryFile = "registry.json"

var (
	ErrNotFound      = errors.New("baseline: version not found")
	ErrVersionExists = errors.New("baseline: version already registered")
)

// Bound limits one metric. Nil ends are open.
type Bound struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Thresholds are the acceptance criteria stored with a baseline.
// Expressions are CEL boolean expressions over `metrics` and `baseline`.
type Thresholds struct {
	Metrics     map[string]Bound `json:"metrics,omitempty"`
	Expressions []string         `json:"expressions,omitempty"`
}

// Entry is one registered baseline.
type Entry struct {
	Version      string     `json:"-"`
	RunDir       string     `json:"run_dir"`
	Thresholds   Thresholds `json:"thresholds"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// Registry reads and appends to registry.json. Every call reloads the file,
// so separate processes observe each other's registrations.
type Registry struct {
	dir    string
	clock  func() time.Time
	logger *slog.Logger
}

// Open returns the registry rooted at dir. The directory need not exist yet.
func Open(dir string) *Registry {
	return &Registry{
		dir:    dir,
		clock:  time.Now,
		logger: slog.Default().With("component", "baseline"),
	}
}

// WithClock overrides the registration clock.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Dir is the baselines directory.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) path() string { return filepath.Join(r.dir, RegistryFile) }

func (r *Registry) load() (map[string]Entry, error) {
	data, err := os.ReadFile(r.path())
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fault.IO(fmt.Errorf("baseline: read registry: %w", err), "REGISTRY_READ")
	}
	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fault.Structural(fmt.Errorf("baseline: decode registry: %w", err), "REGISTRY_MALFORMED")
	}
	for v, e := range entries {
		e.Version = v
		entries[v] = e
	}
	return entries, nil
}

// Register records a new baseline. The version must be strict SemVer and
// unused; the thresholds must be well formed.
func (r *Registry) Register(version, runDir string, th Thresholds) (Entry, error) {
	if _, err := semver.StrictNewVersion(version); err != nil {
		return Entry{}, fault.New(fault.KindUsage, "BASELINE_VERSION_INVALID", "baseline: version %q: %v", version, err)
	}
	if runDir == "" {
		return Entry{}, fault.New(fault.KindUsage, "BASELINE_RUN_DIR_MISSING", "baseline: run dir is required")
	}
	if err := th.Validate(); err != nil {
		return Entry{}, fault.Wrap(err, fault.KindUsage, "BASELINE_THRESHOLDS_INVALID")
	}
	absRun, err := filepath.Abs(runDir)
	if err != nil {
		return Entry{}, fault.IO(fmt.Errorf("baseline: %w", err), "BASELINE_RUN_DIR")
	}

	entry := Entry{
		Version:      version,
		RunDir:       absRun,
		Thresholds:   th,
		RegisteredAt: r.clock().UTC(),
	}

	err = fsx.WithLock(r.path(), func() error {
		entries, err := r.load()
		if err != nil {
			return err
		}
		if _, exists := entries[version]; exists {
			return fault.Wrap(fmt.Errorf("%w: %s", ErrVersionExists, version), fault.KindUsage, "BASELINE_VERSION_EXISTS")
		}
		entries[version] = entry
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fault.Structural(fmt.Errorf("baseline: encode registry: %w", err), "REGISTRY_ENCODE")
		}
		if err := fsx.WriteFileAtomic(r.path(), append(data, '\n'), 0o644); err != nil {
			return fault.IO(fmt.Errorf("baseline: write registry: %w", err), "REGISTRY_WRITE")
		}
		return nil
	})
	if err != nil {
		if fault.KindOf(err) == "" {
			err = fault.IO(err, "REGISTRY_LOCK")
		}
		return Entry{}, err
	}

	r.logger.Info("baseline registered", "version", version, "run_dir", absRun)
	return entry, nil
}

// Lookup returns the entry for an exact version.
func (r *Registry) Lookup(version string) (Entry, error) {
	entries, err := r.load()
	if err != nil {
		return Entry{}, err
	}
	e, ok := entries[version]
	if !ok {
		return Entry{}, fault.Wrap(fmt.Errorf("%w: %s", ErrNotFound, version), fault.KindBaselineNotFound, "BASELINE_NOT_FOUND")
	}
	return e, nil
}

// List returns every entry in ascending SemVer order.
func (r *Registry) List() ([]Entry, error) {
	entries, err := r.load()
	if err != nil {
		return nil, err
	}
	type keyed struct {
		v *semver.Version
		e Entry
	}
	out := make([]keyed, 0, len(entries))
	for v, e := range entries {
		sv, err := semver.StrictNewVersion(v)
		if err != nil {
			return nil, fault.Structural(fmt.Errorf("baseline: registry holds invalid version %q: %w", v, err), "REGISTRY_MALFORMED")
		}
		out = append(out, keyed{v: sv, e: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].v.LessThan(out[j].v) })

	list := make([]Entry, len(out))
	for i, k := range out {
		list[i] = k.e
	}
	return list, nil
}

// Latest returns the highest registered version.
func (r *Registry) Latest() (Entry, error) {
	list, err := r.List()
	if err != nil {
		return Entry{}, err
	}
	if len(list) == 0 {
		return Entry{}, fault.Wrap(fmt.Errorf("%w: registry is empty", ErrNotFound), fault.KindBaselineNotFound, "BASELINE_NOT_FOUND")
	}
	return list[len(list)-1], nil
}

// Resolve accepts an exact version, "latest", or a SemVer constraint such
// as "^1.2" and returns the highest matching entry.
func (r *Registry) Resolve(spec string) (Entry, error) {
	if spec == "" || spec == "latest" {
		return r.Latest()
	}
	if _, err := semver.StrictNewVersion(spec); err == nil {
		return r.Lookup(spec)
	}
	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return Entry{}, fault.New(fault.KindUsage, "BASELINE_VERSION_INVALID", "baseline: %q is neither a version nor a constraint: %v", spec, err)
	}
	list, err := r.List()
	if err != nil {
		return Entry{}, err
	}
	for i := len(list) - 1; i >= 0; i-- {
		v := semver.MustParse(list[i].Version)
		if constraint.Check(v) {
			return list[i], nil
		}
	}
	return Entry{}, fault.Wrap(fmt.Errorf("%w: no version satisfies %s", ErrNotFound, spec), fault.KindBaselineNotFound, "BASELINE_NOT_FOUND")
}

// Validate checks that every bound is ordered and every metric is named.
func (t Thresholds) Validate() error {
	for name, b := range t.Metrics {
		if name == "" {
			return fmt.Errorf("baseline: threshold with empty metric name")
		}
		if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
			return fmt.Errorf("baseline: threshold %s has min %v > max %v", name, *b.Min, *b.Max)
		}
	}
	for i, expr := range t.Expressions {
		if expr == "" {
			return fmt.Errorf("baseline: expression %d is empty", i)
		}
	}
	return nil
}
