package proofpack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/fsx"
	"github.com/Mindburn-Labs/trustchain/pkg/manifest"
	"github.com/Mindburn-Labs/trustchain/pkg/merkle"
)

// Seal writes manifest.json, merkle_tree.json and report.json for the files
// already present under runDir/artifacts. It is the producer side of a
// ProofPack and the only writer in this package.
func Seal(runDir string, report Report) (*Data, error) {
	artifacts := filepath.Join(runDir, ArtifactsDir)
	if err := os.MkdirAll(artifacts, 0o750); err != nil {
		return nil, fault.IO(fmt.Errorf("proofpack: %w", err), "SEAL_WRITE")
	}
	m, err := manifest.Build(artifacts)
	if err != nil {
		return nil, fault.IO(err, "SEAL_MANIFEST")
	}
	tree, err := m.Tree()
	if err != nil {
		return nil, fault.Structural(err, "SEAL_TREE")
	}
	if report.Metrics == nil {
		report.Metrics = map[string]float64{}
	}

	manifestJSON, err := encodeJSON(m)
	if err != nil {
		return nil, err
	}
	treeJSON, err := merkle.Serialize(tree)
	if err != nil {
		return nil, fault.Structural(err, "SEAL_TREE")
	}
	reportJSON, err := encodeJSON(report)
	if err != nil {
		return nil, err
	}

	writes := []struct {
		name string
		data []byte
	}{
		{ManifestFile, manifestJSON},
		{TreeFile, treeJSON},
		{ReportFile, reportJSON},
	}
	for _, w := range writes {
		if err := fsx.WriteFileAtomic(filepath.Join(runDir, w.name), w.data, 0o644); err != nil {
			return nil, fault.IO(fmt.Errorf("proofpack: write %s: %w", w.name, err), "SEAL_WRITE")
		}
	}
	return Read(runDir)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fault.Structural(fmt.Errorf("proofpack: encode: %w", err), "ENCODE")
	}
	return buf.Bytes(), nil
}
