package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
)

// ErrInvalidTimeRange is returned when Since is after Until.
var ErrInvalidTimeRange = errors.New("audit: since must be before until")

// ExportManifest describes an evidence pack.
type ExportManifest struct {
	GeneratedAt time.Time `json:"generated_at"`
	RecordCount int       `json:"record_count"`
	ChainHead   string    `json:"chain_head"`
	ChainValid  bool      `json:"chain_valid"`
	Kind        Kind      `json:"kind,omitempty"`
	Since       time.Time `json:"since,omitempty"`
	Until       time.Time `json:"until,omitempty"`
}

// Export builds a zip evidence pack of the records selected by f and
// returns it with the hex sha256 of the archive.
func Export(ctx context.Context, l Log, f Filter, now time.Time) ([]byte, string, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Since.After(f.Until) {
		return nil, "", ErrInvalidTimeRange
	}
	all, err := l.Read(ctx, Filter{})
	if err != nil {
		return nil, "", err
	}
	records := filterRecords(all, f)
	head, err := l.Head(ctx)
	if err != nil {
		return nil, "", err
	}

	recordsJSON, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal records: %w", err)
	}
	manifestJSON, err := json.MarshalIndent(ExportManifest{
		GeneratedAt: now.UTC(),
		RecordCount: len(records),
		ChainHead:   head,
		ChainValid:  VerifyChain(all) == nil,
		Kind:        f.Kind,
		Since:       f.Since,
		Until:       f.Until,
	}, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	files := []struct {
		name string
		data []byte
	}{
		{"records.json", recordsJSON},
		{"manifest.json", manifestJSON},
		{"README.txt", []byte(fmt.Sprintf("trustchain audit evidence pack\nGenerated at %s\nRecords: %d\n", now.UTC().Format(time.RFC3339), len(records)))},
	}
	for _, file := range files {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: file.name, Method: zip.Deflate, Modified: now.UTC()})
		if err != nil {
			return nil, "", fmt.Errorf("audit: zip %s: %w", file.name, err)
		}
		if _, err := fw.Write(file.data); err != nil {
			return nil, "", fmt.Errorf("audit: zip %s: %w", file.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("audit: close zip: %w", err)
	}
	return buf.Bytes(), canonicalize.HashBytes(buf.Bytes()), nil
}
