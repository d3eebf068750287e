package proofpack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/merkle"
)

// CheckID names one of the four hash-trust checks.
type CheckID string

const (
	CheckManifestHash   CheckID = "manifest_hash"
	CheckMerkleRoot     CheckID = "merkle_root"
	CheckArtifactHashes CheckID = "artifact_hashes"
	CheckLeafCount      CheckID = "leaf_count"
)

// ArtifactCheck is the per-file outcome of the artifact_hashes check.
type ArtifactCheck struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Valid    bool   `json:"valid"`
	Reason   string `json:"reason,omitempty"`
}

// CheckResult is the outcome of one check. A false Valid is a finding, not
// an error.
type CheckResult struct {
	ID        CheckID         `json:"id"`
	Valid     bool            `json:"valid"`
	Reasons   []string        `json:"reasons,omitempty"`
	Artifacts []ArtifactCheck `json:"artifacts,omitempty"`
}

// ValidationResult aggregates the four checks. Valid only if all are.
type ValidationResult struct {
	Valid  bool          `json:"valid"`
	Checks []CheckResult `json:"checks"`
}

// Check returns the result for id.
func (r ValidationResult) Check(id CheckID) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.ID == id {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Reasons flattens the reasons of every failed check.
func (r ValidationResult) Reasons() []string {
	var out []string
	for _, c := range r.Checks {
		if c.Valid {
			continue
		}
		for _, reason := range c.Reasons {
			out = append(out, string(c.ID)+": "+reason)
		}
	}
	return out
}

// ValidateManifestHash recomputes the manifest hash from its entries.
func ValidateManifestHash(d *Data) CheckResult {
	res := CheckResult{ID: CheckManifestHash}
	got, err := d.Manifest.RecomputeHash()
	if err != nil {
		res.Reasons = []string{fmt.Sprintf("cannot canonicalize manifest: %v", err)}
		return res
	}
	if got != d.Manifest.Hash {
		res.Reasons = []string{fmt.Sprintf("manifest hash mismatch: recorded %s, computed %s", d.Manifest.Hash, got)}
		return res
	}
	res.Valid = true
	return res
}

// ValidateMerkleRoot rebuilds the tree from the manifest's artifact hashes
// and compares it with the recorded root.
func ValidateMerkleRoot(d *Data) CheckResult {
	res := CheckResult{ID: CheckMerkleRoot}
	if d.Tree == nil {
		res.Reasons = []string{"no merkle tree"}
		return res
	}
	rebuilt, err := d.Manifest.Tree()
	if err != nil {
		res.Reasons = []string{fmt.Sprintf("cannot build tree from manifest: %v", err)}
		return res
	}
	if rebuilt.RootHash != d.Tree.RootHash {
		res.Reasons = []string{fmt.Sprintf("merkle root mismatch: recorded %s, computed %s", d.Tree.RootHash, rebuilt.RootHash)}
		return res
	}
	res.Valid = true
	return res
}

// ValidateArtifactHashes rehashes every manifest entry from disk. Each entry
// is judged on its own; a missing, unreadable or non-regular file is a
// mismatch. Reads go through an os.Root so no entry resolves outside the
// artifacts directory.
func ValidateArtifactHashes(d *Data) CheckResult {
	res := CheckResult{ID: CheckArtifactHashes, Valid: true}
	root, rootErr := os.OpenRoot(filepath.Join(d.Dir, ArtifactsDir))
	if rootErr == nil {
		defer func() { _ = root.Close() }()
	}
	for _, e := range d.Manifest.Entries {
		ac := ArtifactCheck{Path: e.Path, Expected: e.SHA256}
		rel := filepath.FromSlash(e.Path)
		switch {
		case !filepath.IsLocal(rel):
			ac.Reason = "path escapes the artifacts directory"
		case rootErr != nil:
			ac.Reason = fmt.Sprintf("unreadable: %v", rootErr)
		default:
			data, reason := readRegular(root, rel)
			if reason != "" {
				ac.Reason = reason
				break
			}
			ac.Actual = canonicalize.HashBytes(data)
			switch {
			case ac.Actual != e.SHA256:
				ac.Reason = "hash mismatch"
			case int64(len(data)) != e.Size:
				ac.Reason = fmt.Sprintf("size mismatch: recorded %d, actual %d", e.Size, len(data))
			default:
				ac.Valid = true
			}
		}
		if !ac.Valid {
			res.Valid = false
			res.Reasons = append(res.Reasons, e.Path+": "+ac.Reason)
		}
		res.Artifacts = append(res.Artifacts, ac)
	}
	return res
}

// readRegular reads rel under root. Symlinks and other non-regular files
// are refused without being followed.
func readRegular(root *os.Root, rel string) ([]byte, string) {
	info, err := root.Lstat(rel)
	if err != nil {
		return nil, fmt.Sprintf("unreadable: %v", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "not a regular file"
	}
	f, err := root.Open(rel)
	if err != nil {
		return nil, fmt.Sprintf("unreadable: %v", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Sprintf("unreadable: %v", err)
	}
	return data, ""
}

// ValidateLeafCount checks that the tree carries one leaf per manifest entry.
// An empty manifest must be paired with the sentinel tree.
func ValidateLeafCount(d *Data) CheckResult {
	res := CheckResult{ID: CheckLeafCount}
	if d.Tree == nil {
		res.Reasons = []string{"no merkle tree"}
		return res
	}
	entries := len(d.Manifest.Entries)
	leaves := len(d.Tree.Leaves)

	if entries == 0 {
		if !d.Tree.IsEmptySentinel() {
			res.Reasons = []string{fmt.Sprintf("empty manifest requires the %s sentinel tree, found %d leaves", merkle.EmptyTreeLabel, leaves)}
			return res
		}
	} else if leaves != entries {
		res.Reasons = append(res.Reasons, fmt.Sprintf("leaf count %d != manifest entries %d", leaves, entries))
	}
	if d.TreeLeafCount != leaves {
		res.Reasons = append(res.Reasons, fmt.Sprintf("recorded leaf_count %d != leaves %d", d.TreeLeafCount, leaves))
	}
	res.Valid = len(res.Reasons) == 0
	return res
}

// Validate runs the four checks independently; none short-circuits another.
func Validate(d *Data) ValidationResult {
	checks := []CheckResult{
		ValidateManifestHash(d),
		ValidateMerkleRoot(d),
		ValidateArtifactHashes(d),
		ValidateLeafCount(d),
	}
	valid := true
	for _, c := range checks {
		valid = valid && c.Valid
	}
	return ValidationResult{Valid: valid, Checks: checks}
}

// ValidateProofPack reads and validates runDir. It is fail-closed: a pack
// that cannot be read is invalid and the typed error is returned alongside.
func ValidateProofPack(runDir string) (ValidationResult, error) {
	d, err := Read(runDir)
	if err != nil {
		return ValidationResult{Valid: false}, err
	}
	res := Validate(d)
	if err := VerifyReadOnly(d); err != nil {
		return ValidationResult{Valid: false, Checks: res.Checks}, err
	}
	return res, nil
}
