package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/worker"
)

var (
	applyList     string
	applyTimeout  time.Duration
	applyNoRender bool
	applyJSON     bool
)

// applyCmd represents the apply command
var applyCmd = &cobra.Command{
	Use:   "apply [file...]",
	Short: "Apply evidence item files to the ledger",
	Long: `Apply reads evidence items from JSON array or JSON Lines files and folds
them into the ledger in input order:
- Files are read in parallel; items are applied one at a time
- Each item is matched to an existing claim or mints a new one
- Prong scores, tiers and contest status are updated and audited
- A failing item is reported and skipped; the batch continues

Example:
  convergence apply evidence.jsonl
  convergence apply --list files.txt
  convergence apply a.json b.json --json > report.json`,
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVar(&applyList, "list", "", "file listing evidence files, one per line")
	applyCmd.Flags().DurationVar(&applyTimeout, "timeout", 10*time.Minute, "total timeout for the batch")
	applyCmd.Flags().BoolVar(&applyNoRender, "no-render", false, "do not re-render the ledger views afterwards")
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "print the batch report as JSON on stdout")
}

func runApply(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && applyList == "" {
		return fmt.Errorf("no evidence files given (pass files or --list)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), applyTimeout)
	defer cancel()

	items, err := loadEvidence(ctx, args)
	if err != nil {
		return err
	}
	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "✓ Loaded %d evidence items\n", len(items))
	}

	return withApp(func(a *app) error {
		p, err := a.pipeline(false)
		if err != nil {
			return err
		}

		report, err := p.Apply(ctx, items)
		if err != nil {
			return err
		}

		if applyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
		} else {
			p.Renderer.RenderOutcomes(report)
		}
		p.Renderer.RenderSummary(report)

		if !applyNoRender {
			// rendering uses a fresh context so a timed-out batch still
			// publishes what it committed
			if err := p.Render(context.WithoutCancel(ctx)); err != nil {
				return err
			}
		}
		if report.Aborted {
			return fmt.Errorf("batch cancelled after %d of %d items: %w", report.Summary.Total, len(items), ctx.Err())
		}
		return nil
	})
}

// loadEvidence reads every file in parallel. Any unreadable file fails the
// command before the ledger is touched.
func loadEvidence(ctx context.Context, paths []string) ([]model.EvidenceItem, error) {
	if applyList != "" {
		listed, err := worker.ReadListFile(applyList)
		if err != nil {
			return nil, fmt.Errorf("read list %s: %w", applyList, err)
		}
		paths = append(paths, listed...)
	}

	loader := worker.NewEvidenceLoader(cfg.Concurrency.Workers)
	var items []model.EvidenceItem
	for _, res := range loader.LoadFiles(ctx, paths) {
		if res.Error != nil {
			return nil, fmt.Errorf("load %s: %w", res.Path, res.Error)
		}
		items = append(items, res.Items...)
	}
	return items, nil
}
