package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/merkle"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func TestBuild_SortedEntriesAndHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "bee")
	writeFile(t, dir, "a.txt", "ay")
	writeFile(t, dir, "nested/c.json", `{"c":1}`)

	m, err := Build(dir)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)
	require.Equal(t, "a.txt", m.Entries[0].Path)
	require.Equal(t, "b.txt", m.Entries[1].Path)
	require.Equal(t, "nested/c.json", m.Entries[2].Path)
	require.Equal(t, int64(3), m.Entries[1].Size)
	require.Equal(t, canonicalize.HashString("bee"), m.Entries[1].SHA256)

	recomputed, err := m.RecomputeHash()
	require.NoError(t, err)
	require.Equal(t, m.Hash, recomputed)
}

func TestBuild_MissingDirIsEmpty(t *testing.T) {
	m, err := Build(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, m.Entries)

	h, err := ComputeHash(nil)
	require.NoError(t, err)
	require.Equal(t, h, m.Hash)
}

func TestComputeHash_CoversEveryField(t *testing.T) {
	base := []ArtifactEntry{{Path: "a", Size: 1, SHA256: canonicalize.HashString("a")}}
	h0, err := ComputeHash(base)
	require.NoError(t, err)

	changed := []ArtifactEntry{{Path: "a", Size: 2, SHA256: base[0].SHA256}}
	h1, err := ComputeHash(changed)
	require.NoError(t, err)
	require.NotEqual(t, h0, h1)

	renamed := []ArtifactEntry{{Path: "b", Size: 1, SHA256: base[0].SHA256}}
	h2, err := ComputeHash(renamed)
	require.NoError(t, err)
	require.NotEqual(t, h0, h2)
}

func TestNew_RejectsDuplicatePaths(t *testing.T) {
	_, err := New([]ArtifactEntry{{Path: "x"}, {Path: "x"}})
	require.Error(t, err)
}

func TestTreeMatchesLeaves(t *testing.T) {
	m, err := New([]ArtifactEntry{
		{Path: "b", Size: 1, SHA256: canonicalize.HashString("b")},
		{Path: "a", Size: 1, SHA256: canonicalize.HashString("a")},
	})
	require.NoError(t, err)

	tree, err := m.Tree()
	require.NoError(t, err)
	require.True(t, merkle.Verify(m.Leaves(), tree.RootHash))
	require.Equal(t, merkle.H(canonicalize.HashString("a")+canonicalize.HashString("b")), tree.RootHash)
}
