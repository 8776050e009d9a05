package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/convergence/internal/ledger"
	"github.com/ppiankov/convergence/internal/model"
)

const rule = "═══════════════════════════════════════════════════════════"

// Renderer writes the ledger views to disk and run summaries to out
type Renderer struct {
	out     io.Writer
	verbose bool
}

// NewRenderer creates a renderer. Summaries go to out, usually stderr.
func NewRenderer(out io.Writer, verbose bool) *Renderer {
	return &Renderer{out: out, verbose: verbose}
}

// RenderLedger writes the markdown view and the JSON registry. Empty paths
// are skipped. Each file is replaced atomically.
func (r *Renderer) RenderLedger(claims []*model.Claim, generatedAt time.Time, mdPath, jsonPath string) error {
	if mdPath != "" {
		md, err := ledger.RenderMarkdown(claims, generatedAt)
		if err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if err := WriteFileAtomic(mdPath, []byte(md), 0o644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
		if r.verbose {
			fmt.Fprintf(r.out, "✓ Wrote Markdown: %s\n", mdPath)
		}
	}

	if jsonPath != "" {
		data, err := ledger.RenderJSON(claims, generatedAt)
		if err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if err := WriteFileAtomic(jsonPath, data, 0o644); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		if r.verbose {
			fmt.Fprintf(r.out, "✓ Wrote JSON: %s\n", jsonPath)
		}
	}
	return nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never see a half-written ledger
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// RenderOutcomes prints one line per item outcome
func (r *Renderer) RenderOutcomes(report *model.BatchReport) {
	for _, o := range report.Outcomes {
		switch o.Kind {
		case model.OutcomeCreated, model.OutcomeUpdated:
			line := fmt.Sprintf("✓ %s → %s (%s", o.SourceID, o.ClaimID, o.Kind)
			if o.TierBefore != o.TierAfter && o.TierBefore != "" {
				line += fmt.Sprintf(", %s → %s", o.TierBefore, o.TierAfter)
			} else if o.TierAfter != "" {
				line += ", " + string(o.TierAfter)
			}
			if o.Contested {
				line += ", contested"
			}
			fmt.Fprintln(r.out, line+")")
		case model.OutcomeSkipped:
			fmt.Fprintf(r.out, "- %s skipped: %s\n", o.SourceID, o.Reason)
		case model.OutcomeFailed:
			fmt.Fprintf(r.out, "✗ %s: %s\n", o.SourceID, o.Reason)
		}
	}
}

// RenderSummary prints the batch summary box
func (r *Renderer) RenderSummary(report *model.BatchReport) {
	s := report.Summary
	title := "Batch Complete"
	if report.Aborted {
		title = "Batch Cancelled"
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, rule)
	fmt.Fprintf(r.out, "  %s\n", title)
	fmt.Fprintln(r.out, rule)
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "  Run:         %s\n", report.RunID)
	fmt.Fprintf(r.out, "  Items:       %d\n", s.Total)
	fmt.Fprintf(r.out, "  Created:     %d\n", s.Created)
	fmt.Fprintf(r.out, "  Updated:     %d\n", s.Updated)
	fmt.Fprintf(r.out, "  Skipped:     %d\n", s.Skipped)
	fmt.Fprintf(r.out, "  Failed:      %d\n", s.Failed)
	fmt.Fprintf(r.out, "  Promotions:  %d\n", s.Promotions)
	fmt.Fprintf(r.out, "  Demotions:   %d\n", s.Demotions)
	fmt.Fprintf(r.out, "  Contested:   %d\n", s.Contested)
	if d := report.FinishedAt.Sub(report.StartedAt); d > 0 {
		fmt.Fprintf(r.out, "  Duration:    %s\n", d.Round(time.Millisecond))
	}
	fmt.Fprintln(r.out)
}

// RenderRunSummary prints the ingestion half of a run: queries, papers and
// extraction counts
func (r *Renderer) RenderRunSummary(res *RunResult) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, rule)
	fmt.Fprintln(r.out, "  Ingestion")
	fmt.Fprintln(r.out, rule)
	fmt.Fprintln(r.out)
	fmt.Fprintf(r.out, "  Queries:     %d (%d failed)\n", len(res.Queries), res.FailedQueries())
	fmt.Fprintf(r.out, "  Papers:      %d\n", res.Papers)
	if res.Extraction != nil {
		claims, dropped := 0, 0
		for _, p := range res.Extraction.Papers {
			claims += p.Claims
			dropped += p.Dropped
		}
		fmt.Fprintf(r.out, "  Claims:      %d (%d dropped)\n", claims, dropped)
		fmt.Fprintf(r.out, "  Failed:      %d papers\n", res.Extraction.Failed())
	}
	for _, q := range res.Queries {
		if q.Err != nil {
			fmt.Fprintf(r.out, "  ✗ %s: %s\n", q.Domain, strings.TrimSpace(q.Err.Error()))
		}
	}
}
