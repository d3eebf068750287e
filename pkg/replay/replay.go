// Package replay proves that two runs of the same input produced the same
// output: it walks two directory trees and compares every file by a hash
// taken after line-ending normalization.
package replay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// Difference is one path whose normalized content diverges. A side on which
// the file is absent has an empty hash.
type Difference struct {
	Path  string `json:"path"`
	HashA string `json:"hash_a"`
	HashB string `json:"hash_b"`
}

// ReplayResult holds the outcome of comparing two trees.
type ReplayResult struct {
	Identical   bool         `json:"identical"`
	Seed        string       `json:"seed,omitempty"`
	FilesA      int          `json:"files_a"`
	FilesB      int          `json:"files_b"`
	Differences []Difference `json:"differences"`
}

// Comparator compares directory trees. It holds configuration only.
type Comparator struct {
	seed   string
	cache  HashCache
	logger *slog.Logger
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithSeed records the replay seed in every result.
func WithSeed(seed string) Option {
	return func(c *Comparator) { c.seed = seed }
}

// WithCache lets the comparator skip rehashing unchanged files.
func WithCache(cache HashCache) Option {
	return func(c *Comparator) { c.cache = cache }
}

// NewComparator creates a comparator.
func NewComparator(opts ...Option) *Comparator {
	c := &Comparator{logger: slog.Default().With("component", "replay")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare walks dirA and dirB with a default comparator.
func Compare(ctx context.Context, dirA, dirB string) (*ReplayResult, error) {
	return NewComparator().Compare(ctx, dirA, dirB)
}

// Compare walks both trees to the union of their relative paths and records
// every file that is one-sided or whose normalized hash differs. The result
// is deterministic: differences are sorted by path.
func (c *Comparator) Compare(ctx context.Context, dirA, dirB string) (*ReplayResult, error) {
	filesA, err := listFiles(dirA)
	if err != nil {
		return nil, err
	}
	filesB, err := listFiles(dirB)
	if err != nil {
		return nil, err
	}

	union := make(map[string]struct{}, len(filesA)+len(filesB))
	for p := range filesA {
		union[p] = struct{}{}
	}
	for p := range filesB {
		union[p] = struct{}{}
	}
	paths := make([]string, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	res := &ReplayResult{
		Seed:        c.seed,
		FilesA:      len(filesA),
		FilesB:      len(filesB),
		Differences: []Difference{},
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ha, hb string
		if abs, ok := filesA[p]; ok {
			if ha, err = c.hashFile(ctx, abs); err != nil {
				return nil, err
			}
		}
		if abs, ok := filesB[p]; ok {
			if hb, err = c.hashFile(ctx, abs); err != nil {
				return nil, err
			}
		}
		if ha != hb {
			res.Differences = append(res.Differences, Difference{Path: p, HashA: ha, HashB: hb})
		}
	}
	res.Identical = len(res.Differences) == 0

	c.logger.Debug("replay compared",
		"dir_a", dirA, "dir_b", dirB,
		"files", len(paths), "differences", len(res.Differences))
	return res, nil
}

func (c *Comparator) hashFile(ctx context.Context, path string) (string, error) {
	if c.cache == nil {
		return NormalizedHash(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fault.IO(fmt.Errorf("replay: stat %s: %w", path, err), "REPLAY_READ")
	}
	key := cacheKey(path, info)
	if h, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("replay cache read failed", "error", err)
	} else if ok {
		return h, nil
	}
	h, err := NormalizedHash(path)
	if err != nil {
		return "", err
	}
	if err := c.cache.Put(ctx, key, h); err != nil {
		c.logger.Warn("replay cache write failed", "error", err)
	}
	return h, nil
}

func cacheKey(path string, info fs.FileInfo) string {
	return path + "|" + strconv.FormatInt(info.Size(), 10) + "|" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
}

// listFiles maps slash-separated relative paths to absolute paths for every
// regular file under root.
func listFiles(root string) (map[string]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fault.IO(fmt.Errorf("replay: %w", err), "REPLAY_READ")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fault.IO(fmt.Errorf("replay: %w", err), "REPLAY_DIR_MISSING")
	}
	if !info.IsDir() {
		return nil, fault.Structural(fmt.Errorf("replay: %s is not a directory", root), "REPLAY_NOT_DIR")
	}

	files := make(map[string]string)
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = path
		return nil
	})
	if err != nil {
		return nil, fault.IO(fmt.Errorf("replay: walk %s: %w", root, err), "REPLAY_READ")
	}
	return files, nil
}

// NormalizeLineEndings rewrites CRLF and lone CR as LF.
func NormalizeLineEndings(data []byte) []byte {
	if bytes.IndexByte(data, '\r') < 0 {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' {
			out = append(out, '\n')
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// NormalizedHash is the hex SHA-256 of the file at path after line-ending
// normalization.
func NormalizedHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fault.IO(fmt.Errorf("replay: read %s: %w", path, err), "REPLAY_READ")
	}
	sum := sha256.Sum256(NormalizeLineEndings(data))
	return hex.EncodeToString(sum[:]), nil
}
