package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/store"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Render and inspect the hypothesis ledger",
}

var (
	renderMD   string
	renderJSON string
)

var ledgerRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the markdown view and JSON registry",
	Long: `Render writes the ledger markdown view (grouped by domain, with the JSON
registry embedded between markers) and the standalone JSON registry. Files
are replaced atomically.

Example:
  convergence ledger render
  convergence ledger render --md docs/ledger.md --json docs/ledger.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		md, js := cfg.Output.LedgerMarkdown, cfg.Output.LedgerJSON
		if cmd.Flags().Changed("md") {
			md = renderMD
		}
		if cmd.Flags().Changed("json") {
			js = renderJSON
		}
		return withApp(func(a *app) error {
			p, err := a.pipeline(false)
			if err != nil {
				return err
			}
			return p.RenderTo(cmd.Context(), md, js)
		})
	},
}

var showJSON bool

var ledgerShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			c, err := a.store.Get(cmd.Context(), strings.ToUpper(args[0]))
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err != nil {
				return err
			}
			if showJSON {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			printClaim(cmd.OutOrStdout(), c)
			return nil
		})
	},
}

var (
	listDomain string
	listStatus string
	listTier   string
)

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims",
	Long: `List claims ordered by domain, then id.

Example:
  convergence ledger list
  convergence ledger list --domain senescence --tier Emerging
  convergence ledger list --status Contested`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := store.Filter{
			Status: model.Status(listStatus),
			Tier:   model.Tier(listTier),
		}
		if listDomain != "" {
			d, ok := model.ParseDomain(listDomain)
			if !ok {
				return fmt.Errorf("unknown domain %q", listDomain)
			}
			f.Domain = d
		}

		return withApp(func(a *app) error {
			claims, err := a.store.List(cmd.Context(), f)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDOMAIN\t(O,P,C)\tSCORE\tTIER\tSTATUS\tTITLE")
			for _, c := range claims {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					c.ID, c.DomainPrimary, c.ProngScores, c.ConvergenceScore(),
					c.Tier, c.Status, truncate(c.Title, 60))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d claims\n", len(claims))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerRenderCmd, ledgerShowCmd, ledgerListCmd)

	ledgerRenderCmd.Flags().StringVar(&renderMD, "md", "", "markdown output path (default: output.ledger_markdown)")
	ledgerRenderCmd.Flags().StringVar(&renderJSON, "json", "", "JSON output path (default: output.ledger_json)")

	ledgerShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the claim as JSON")

	ledgerListCmd.Flags().StringVar(&listDomain, "domain", "", "filter by domain (primary or tag)")
	ledgerListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: Provisional, Contested, Deprecated")
	ledgerListCmd.Flags().StringVar(&listTier, "tier", "", "filter by tier: Provisional, Emerging, Evidence-Backed, Cornerstone")
}

func printClaim(w io.Writer, c *model.Claim) {
	fmt.Fprintf(w, "%s  %s\n\n", c.ID, c.Title)
	if c.Description != "" {
		fmt.Fprintf(w, "  %s\n\n", c.Description)
	}
	fmt.Fprintf(w, "  Domain:       %s\n", c.DomainPrimary)
	if len(c.DomainTags) > 1 {
		tags := make([]string, len(c.DomainTags))
		for i, d := range c.DomainTags {
			tags[i] = string(d)
		}
		fmt.Fprintf(w, "  Tags:         %s\n", strings.Join(tags, ", "))
	}
	fmt.Fprintf(w, "  Keywords:     %s\n", strings.Join(c.Keywords, ", "))
	for _, e := range c.ExpectedEffect {
		fmt.Fprintf(w, "  Expected:     %s %s\n", e.Target, e.Direction)
	}
	fmt.Fprintf(w, "  Prongs:       %s = %d\n", c.ProngScores, c.ConvergenceScore())
	fmt.Fprintf(w, "  Tier:         %s\n", c.Tier)
	fmt.Fprintf(w, "  Status:       %s\n", c.Status)
	fmt.Fprintf(w, "  Evidence for: %s\n", orNone(c.EvidenceFor))
	fmt.Fprintf(w, "  Against:      %s\n", orNone(c.EvidenceAgainst))
	fmt.Fprintf(w, "  Updated:      %s\n", c.LastUpdated.Format("2006-01-02 15:04 MST"))
}

func orNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
