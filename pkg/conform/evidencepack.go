package conform

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/fsx"
)

// Output file names written by WriteOutputs.
const (
	ReportJSONFile     = "ci_report.json"
	ReportMarkdownFile = "ci_report.md"
	BadgeFile          = "badge.json"
	IndexFile          = "00_INDEX.json"
)

// IndexEntry is one file referenced by 00_INDEX.json.
type IndexEntry struct {
	Path        string `json:"path"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// IndexManifest is the 00_INDEX.json structure: a digest of every output
// so a published report can be checked for tampering.
type IndexManifest struct {
	ReportID  string       `json:"report_id"`
	Verdict   Verdict      `json:"verdict"`
	CreatedAt time.Time    `json:"created_at"`
	Entries   []IndexEntry `json:"entries"`
}

// WriteOutputs writes the JSON report, the Markdown report, the badge and
// the index into dir. It returns the written paths, index last.
func WriteOutputs(dir string, ci *CIResult) ([]string, error) {
	reportJSON, err := RenderJSON(ci)
	if err != nil {
		return nil, err
	}
	badgeJSON, err := json.MarshalIndent(BadgeFor(ci.Result), "", "  ")
	if err != nil {
		return nil, fault.Structural(fmt.Errorf("conform: encode badge: %w", err), "BADGE_ENCODE")
	}

	files := []struct {
		name string
		data []byte
	}{
		{ReportJSONFile, reportJSON},
		{ReportMarkdownFile, []byte(RenderMarkdown(ci))},
		{BadgeFile, append(badgeJSON, '\n')},
	}

	index := IndexManifest{ReportID: ci.ReportID, Verdict: ci.Result.Verdict, CreatedAt: ci.GeneratedAt}
	paths := make([]string, 0, len(files)+1)
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := fsx.WriteFileAtomic(p, f.data, 0o644); err != nil {
			return nil, fault.IO(fmt.Errorf("conform: write %s: %w", f.name, err), "OUTPUT_WRITE")
		}
		index.Entries = append(index.Entries, IndexEntry{
			Path:        f.name,
			SHA256:      canonicalize.HashBytes(f.data),
			SizeBytes:   int64(len(f.data)),
			ContentType: inferContentType(f.name),
		})
		paths = append(paths, p)
	}

	indexJSON, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return nil, fault.Structural(fmt.Errorf("conform: encode index: %w", err), "INDEX_ENCODE")
	}
	indexPath := filepath.Join(dir, IndexFile)
	if err := fsx.WriteFileAtomic(indexPath, append(indexJSON, '\n'), 0o644); err != nil {
		return nil, fault.IO(fmt.Errorf("conform: write %s: %w", IndexFile, err), "OUTPUT_WRITE")
	}
	return append(paths, indexPath), nil
}

// VerifyIndex rehashes every file listed in dir/00_INDEX.json and returns
// the paths whose content no longer matches.
func VerifyIndex(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fault.IO(fmt.Errorf("conform: read index: %w", err), "INDEX_READ")
	}
	var index IndexManifest
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fault.Structural(fmt.Errorf("conform: decode index: %w", err), "INDEX_MALFORMED")
	}
	var mismatched []string
	for _, e := range index.Entries {
		content, err := os.ReadFile(filepath.Join(dir, e.Path))
		if err != nil || canonicalize.HashBytes(content) != e.SHA256 {
			mismatched = append(mismatched, e.Path)
		}
	}
	return mismatched, nil
}

func inferContentType(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
