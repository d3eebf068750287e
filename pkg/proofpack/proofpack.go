// Package proofpack reads and validates the ProofPack of one run directory:
// the artifact manifest, the Merkle tree over the artifact hashes and the
// forge (metrics) report.
//
// Layout:
//
//	<run>/manifest.json
//	<run>/merkle_tree.json
//	<run>/report.json
//	<run>/artifacts/...
//
// Reading never writes. Validation mismatches are data in a
// ValidationResult; only unreadable or malformed packs produce errors.
package proofpack

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/manifest"
	"github.com/Mindburn-Labs/trustchain/pkg/merkle"
)

// File names inside a run directory.
const (
	ManifestFile = "manifest.json"
	TreeFile     = "merkle_tree.json"
	ReportFile   = "report.json"
	ArtifactsDir = "artifacts"
)

// Report is the forge report emitted by the producing pipeline.
type Report struct {
	RunID       string             `json:"run_id"`
	Seed        string             `json:"seed"`
	Producer    string             `json:"producer,omitempty"`
	GeneratedAt string             `json:"generated_at,omitempty"`
	Certified   bool               `json:"certified"`
	Metrics     map[string]float64 `json:"metrics"`
}

// FileStat is the part of a file's metadata that any write would change.
type FileStat struct {
	ModTime time.Time `json:"mtime"`
	Size    int64     `json:"size"`
}

// FileStats maps slash-separated paths (relative to the run dir) to stats.
type FileStats map[string]FileStat

// Paths returns the recorded paths in sorted order.
func (s FileStats) Paths() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Data is the read-only snapshot of one run directory.
type Data struct {
	Dir           string
	Manifest      manifest.Manifest
	Tree          *merkle.Tree
	TreeLeafCount int // leaf_count as recorded in merkle_tree.json
	Report        Report
	FileStats     FileStats
}

// ArtifactPath returns the on-disk path of a manifest entry.
func (d *Data) ArtifactPath(entryPath string) string {
	return filepath.Join(d.Dir, ArtifactsDir, filepath.FromSlash(entryPath))
}

// Read loads the ProofPack under runDir. Missing files are I/O faults;
// undecodable or schema-invalid files are structural faults.
func Read(runDir string) (*Data, error) {
	info, err := os.Stat(runDir)
	if err != nil {
		return nil, fault.IO(fmt.Errorf("proofpack: run dir %s: %w", runDir, err), "RUN_DIR_UNREADABLE")
	}
	if !info.IsDir() {
		return nil, fault.Structural(fmt.Errorf("proofpack: %s is not a directory", runDir), "RUN_DIR_NOT_DIR")
	}

	stats, err := Snapshot(runDir)
	if err != nil {
		return nil, err
	}

	manifestRaw, err := readDocument(runDir, ManifestFile, "manifest.schema.json")
	if err != nil {
		return nil, err
	}
	var m manifest.Manifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, fault.Structural(fmt.Errorf("proofpack: decode %s: %w", ManifestFile, err), "MANIFEST_MALFORMED")
	}
	if m.Entries == nil {
		m.Entries = []manifest.ArtifactEntry{}
	}

	treeRaw, err := readDocument(runDir, TreeFile, "merkle_tree.schema.json")
	if err != nil {
		return nil, err
	}
	tree, err := merkle.Deserialize(treeRaw)
	if err != nil {
		return nil, fault.Structural(fmt.Errorf("proofpack: decode %s: %w", TreeFile, err), "TREE_MALFORMED")
	}
	recorded, err := merkle.DocumentLeafCount(treeRaw)
	if err != nil {
		return nil, fault.Structural(fmt.Errorf("proofpack: decode %s: %w", TreeFile, err), "TREE_MALFORMED")
	}

	reportRaw, err := readDocument(runDir, ReportFile, "report.schema.json")
	if err != nil {
		return nil, err
	}
	var report Report
	if err := json.Unmarshal(reportRaw, &report); err != nil {
		return nil, fault.Structural(fmt.Errorf("proofpack: decode %s: %w", ReportFile, err), "REPORT_MALFORMED")
	}

	return &Data{
		Dir:           runDir,
		Manifest:      m,
		Tree:          tree,
		TreeLeafCount: recorded,
		Report:        report,
		FileStats:     stats,
	}, nil
}

func readDocument(runDir, name, schemaName string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(runDir, name))
	if err != nil {
		return nil, fault.IO(fmt.Errorf("proofpack: read %s: %w", name, err), "READ_"+codeFor(name))
	}
	if err := validateDocument(schemaName, raw); err != nil {
		return nil, fault.Structural(fmt.Errorf("proofpack: %s: %w", name, err), codeFor(name)+"_MALFORMED")
	}
	return raw, nil
}

func codeFor(name string) string {
	switch name {
	case ManifestFile:
		return "MANIFEST"
	case TreeFile:
		return "TREE"
	default:
		return "REPORT"
	}
}

// Snapshot records mtime and size of every regular file under dir.
func Snapshot(dir string) (FileStats, error) {
	stats := FileStats{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		stats[filepath.ToSlash(rel)] = FileStat{ModTime: info.ModTime(), Size: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fault.IO(fmt.Errorf("proofpack: snapshot %s: %w", dir, err), "SNAPSHOT_FAILED")
	}
	return stats, nil
}

// ErrWriteDetected marks a snapshot mismatch after a read-only operation.
var ErrWriteDetected = errors.New("proofpack: run directory changed during a read-only operation")

// AssertUnchanged compares two snapshots pointwise. Any added, removed or
// modified file is reported as an invariant violation.
func AssertUnchanged(before, after FileStats) error {
	var diffs []string
	for _, p := range before.Paths() {
		a, ok := after[p]
		switch {
		case !ok:
			diffs = append(diffs, "removed "+p)
		case !a.ModTime.Equal(before[p].ModTime) || a.Size != before[p].Size:
			diffs = append(diffs, "modified "+p)
		}
	}
	for _, p := range after.Paths() {
		if _, ok := before[p]; !ok {
			diffs = append(diffs, "added "+p)
		}
	}
	if len(diffs) == 0 {
		return nil
	}
	return &fault.Invariant{Name: "proofpack_read_only", Detail: fmt.Sprintf("%v: %v", ErrWriteDetected, diffs)}
}

// VerifyReadOnly re-snapshots d.Dir and compares with the stats captured by Read.
func VerifyReadOnly(d *Data) error {
	now, err := Snapshot(d.Dir)
	if err != nil {
		return err
	}
	return AssertUnchanged(d.FileStats, now)
}
