// Package manifest describes the artifacts of one run: an ordered list of
// {path, size, sha256} entries and a hash over their canonical form.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/merkle"
)

// ArtifactEntry identifies one file. Path is slash-separated and relative to
// the run's artifacts directory.
type ArtifactEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the per-run artifact list. Hash is ComputeHash(Entries).
type Manifest struct {
	Entries []ArtifactEntry `json:"entries"`
	Hash    string          `json:"hash"`
}

// hashedContent is the part of a manifest covered by its own hash.
type hashedContent struct {
	Entries []ArtifactEntry `json:"entries"`
}

// ComputeHash returns the SHA-256 of the RFC 8785 form of {"entries": entries}.
func ComputeHash(entries []ArtifactEntry) (string, error) {
	if entries == nil {
		entries = []ArtifactEntry{}
	}
	return canonicalize.CanonicalHash(hashedContent{Entries: entries})
}

// New returns a sealed manifest over a copy of entries, sorted by path.
func New(entries []ArtifactEntry) (Manifest, error) {
	sorted := make([]ArtifactEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Path == sorted[i-1].Path {
			return Manifest{}, fmt.Errorf("manifest: duplicate path %q", sorted[i].Path)
		}
	}
	h, err := ComputeHash(sorted)
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Entries: sorted, Hash: h}, nil
}

// Build hashes every regular file under dir and returns the sealed manifest.
// A missing dir yields an empty manifest.
func Build(dir string) (Manifest, error) {
	var entries []ArtifactEntry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, ArtifactEntry{
			Path:   filepath.ToSlash(rel),
			Size:   int64(len(data)),
			SHA256: canonicalize.HashBytes(data),
		})
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: walk %s: %w", dir, err)
	}
	return New(entries)
}

// Leaves returns the Merkle leaves for the manifest's artifact hashes.
func (m Manifest) Leaves() []merkle.Leaf {
	leaves := make([]merkle.Leaf, len(m.Entries))
	for i, e := range m.Entries {
		leaves[i] = merkle.Leaf{Hash: e.SHA256, Label: e.Path}
	}
	return leaves
}

// RecomputeHash hashes the manifest's current entries.
func (m Manifest) RecomputeHash() (string, error) {
	return ComputeHash(m.Entries)
}

// Tree builds the Merkle tree of the manifest's entries.
func (m Manifest) Tree() (*merkle.Tree, error) {
	return merkle.Build(m.Leaves())
}
