package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convergence/internal/ledger"
)

var seedFrom string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the starter hypotheses",
	Long: `Seed creates the twelve starter hypotheses (HYP-0001..HYP-0012, two per
domain) with zero prong scores. Hypotheses that already exist are left alone,
so seeding twice is harmless.

With --from, hypotheses are imported from an existing ledger markdown file
instead: the embedded JSON registry block is preferred, the bullet format is
the fallback.

Example:
  convergence seed
  convergence seed --from hypothesis_ledger.md`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedFrom, "from", "", "import hypotheses from a ledger markdown file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	hypotheses := ledger.StarterHypotheses()
	source := "starter set"

	if seedFrom != "" {
		data, err := os.ReadFile(seedFrom)
		if err != nil {
			return fmt.Errorf("read %s: %w", seedFrom, err)
		}
		parsed, format, err := ledger.ParseRegistry(string(data))
		if err != nil {
			return fmt.Errorf("parse %s: %w", seedFrom, err)
		}
		hypotheses = parsed
		source = fmt.Sprintf("%s (%s)", seedFrom, format)
	}

	return withApp(func(a *app) error {
		res, err := a.engine.Seed(cmd.Context(), hypotheses)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Seeded from %s: %d created, %d already present\n",
			source, len(res.Created), len(res.Skipped))
		if a.cfg.Output.Verbose {
			for _, id := range res.Created {
				fmt.Fprintf(out, "  + %s\n", id)
			}
		}
		return nil
	})
}
