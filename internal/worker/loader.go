package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/convergence/internal/model"
)

// LoadJob reads one evidence file
type LoadJob struct {
	Path string
}

// Execute reads and decodes the file
func (j *LoadJob) Execute(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return &LoadResult{Path: j.Path, Error: err}
	}
	items, err := ReadEvidenceFile(j.Path)
	return &LoadResult{Path: j.Path, Items: items, Error: err}
}

// LoadResult holds the items decoded from one file
type LoadResult struct {
	Path  string
	Items []model.EvidenceItem
	Error error
}

// GetError returns the error from the load
func (r *LoadResult) GetError() error {
	return r.Error
}

// EvidenceLoader reads evidence files concurrently. Loading is read-only, so
// it runs in parallel; merging into the ledger stays serialized elsewhere.
type EvidenceLoader struct {
	concurrency int
}

// NewEvidenceLoader creates a new loader
func NewEvidenceLoader(concurrency int) *EvidenceLoader {
	return &EvidenceLoader{concurrency: concurrency}
}

// LoadFiles loads every path and returns one result per path, in input order
func (l *EvidenceLoader) LoadFiles(ctx context.Context, paths []string) []*LoadResult {
	if len(paths) == 0 {
		return []*LoadResult{}
	}

	pool := NewPool(ctx, l.concurrency)
	pool.Start()
	for _, path := range paths {
		pool.Submit(&LoadJob{Path: path})
	}
	results := pool.Wait()

	out := make([]*LoadResult, len(results))
	for i, result := range results {
		if lr, ok := result.(*LoadResult); ok {
			out[i] = lr
			continue
		}
		out[i] = &LoadResult{Path: paths[i], Error: fmt.Errorf("not loaded: %w", context.Cause(ctx))}
	}
	return out
}

// LoadListFile loads every path listed in listPath
func (l *EvidenceLoader) LoadListFile(ctx context.Context, listPath string) ([]*LoadResult, error) {
	paths, err := ReadListFile(listPath)
	if err != nil {
		return nil, fmt.Errorf("read list: %w", err)
	}
	return l.LoadFiles(ctx, paths), nil
}

// ReadEvidenceFile decodes a JSON array or JSON Lines file of evidence items
func ReadEvidenceFile(path string) ([]model.EvidenceItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeEvidence(data)
}

// DecodeEvidence accepts a JSON array, a single object, or JSON Lines
func DecodeEvidence(data []byte) ([]model.EvidenceItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var items []model.EvidenceItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode evidence array: %w", err)
		}
		return items, nil
	}

	var items []model.EvidenceItem
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for dec.More() {
		var item model.EvidenceItem
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("decode evidence item %d: %w", len(items)+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ReadListFile reads paths from a file (one per line), skipping blanks,
// comments and duplicates
func ReadListFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return paths, nil
}
