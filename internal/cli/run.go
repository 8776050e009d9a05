package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	runTimeout    time.Duration
	runMaxResults int
	runRelDate    int
	runNoRender   bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Search PubMed, extract claims and update the ledger",
	Long: `Run performs the daily update:
- Search PubMed with each domain's query (recent papers only)
- Extract structured claims from each abstract with the configured LLM
- Map claims to evidence items (prong from study design, weight from
  evidence strength) and apply them to the ledger
- Re-render the markdown view and JSON registry

Example:
  convergence run
  convergence run --max-results 50 --reldate 7
  CONVERGENCE_LLM_PROVIDER=gemini convergence run -v`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Minute, "overall run timeout")
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 0, "papers per domain query (default: pubmed.max_results)")
	runCmd.Flags().IntVar(&runRelDate, "reldate", -1, "search window in days, 0 for no window (default: pubmed.reldate)")
	runCmd.Flags().BoolVar(&runNoRender, "no-render", false, "do not re-render the ledger views afterwards")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runMaxResults > 0 {
		cfg.PubMed.MaxResults = runMaxResults
	}
	if runRelDate >= 0 {
		cfg.PubMed.RelDate = runRelDate
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Provider: %s %s\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Fprintf(os.Stderr, "Window:   %d days, %d papers per query\n", cfg.PubMed.RelDate, cfg.PubMed.MaxResults)
		fmt.Fprintf(os.Stderr, "Timeout:  %v\n\n", runTimeout)
	}

	return withApp(func(a *app) error {
		p, err := a.pipeline(true)
		if err != nil {
			return err
		}

		res, runErr := p.Run(ctx)
		if res != nil {
			p.Renderer.RenderRunSummary(res)
			if res.Report != nil {
				if cfg.Output.Verbose {
					p.Renderer.RenderOutcomes(res.Report)
				}
				p.Renderer.RenderSummary(res.Report)
			}
		}

		if !runNoRender && res != nil && res.Report != nil {
			if err := p.Render(context.WithoutCancel(ctx)); err != nil {
				return err
			}
		}
		if runErr != nil {
			return fmt.Errorf("run failed: %w", runErr)
		}
		return nil
	})
}
