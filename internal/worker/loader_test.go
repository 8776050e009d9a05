package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/convergence/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDecodeEvidence_Formats(t *testing.T) {
	array := `[{"source_id":"PMID-1","prong":"clinical","polarity":"supports","weight":2}]`
	items, err := DecodeEvidence([]byte(array))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.ProngClinical, items[0].Prong)

	lines := `{"source_id":"PMID-1","prong":"clinical","polarity":"supports","weight":2}
{"source_id":"PMID-2","prong":"perturbation","polarity":"contradicts","weight":1.5}
`
	items, err = DecodeEvidence([]byte(lines))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "PMID-2", items[1].SourceID)
	assert.Equal(t, model.PolarityContradicts, items[1].Polarity)

	items, err = DecodeEvidence([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = DecodeEvidence([]byte(`{"source_id": `))
	assert.Error(t, err)
}

func TestEvidenceLoader_LoadFiles(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "a.json", `[{"source_id":"PMID-1","prong":"observational","polarity":"supports","weight":3}]`)
	bad := writeFile(t, dir, "b.json", `[{`)
	missing := filepath.Join(dir, "missing.json")

	results := NewEvidenceLoader(2).LoadFiles(context.Background(), []string{good, bad, missing})
	require.Len(t, results, 3)

	assert.NoError(t, results[0].GetError())
	assert.Len(t, results[0].Items, 1)
	assert.Equal(t, good, results[0].Path)
	assert.Error(t, results[1].GetError())
	assert.Error(t, results[2].GetError())
}

func TestEvidenceLoader_Empty(t *testing.T) {
	results := NewEvidenceLoader(2).LoadFiles(context.Background(), nil)
	assert.Empty(t, results)
}

func TestEvidenceLoader_LoadListFile(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jsonl", `{"source_id":"PMID-1","prong":"clinical","polarity":"supports","weight":1}`)
	list := writeFile(t, dir, "list.txt", a+"\n# comment\n\n"+a+"\n")

	results, err := NewEvidenceLoader(1).LoadListFile(context.Background(), list)
	require.NoError(t, err)
	require.Len(t, results, 1, "duplicate paths are read once")

	_, err = NewEvidenceLoader(1).LoadListFile(context.Background(), filepath.Join(dir, "nope"))
	assert.Error(t, err)
}

func TestReadListFile(t *testing.T) {
	content := `evidence/2026-03-01.json
# comment
evidence/2026-03-02.jsonl
   
evidence/2026-03-03.json   `

	path := writeFile(t, t.TempDir(), "list.txt", content)

	paths, err := ReadListFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"evidence/2026-03-01.json",
		"evidence/2026-03-02.jsonl",
		"evidence/2026-03-03.json",
	}, paths)
}
