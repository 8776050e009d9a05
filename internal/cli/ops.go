package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var contestCmd = &cobra.Command{
	Use:   "contest",
	Short: "Manage contested claims",
}

var clearNote string

var contestClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Clear a claim's contest after review",
	Long: `Clear returns a Contested claim to normal scoring. The tier is re-derived
from the current prong scores, which may promote the claim. The note is kept
in the audit log.

Example:
  convergence contest clear HYP-0007 --note "contradicting cohort retracted"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			c, err := a.engine.ClearContest(cmd.Context(), strings.ToUpper(args[0]), clearNote)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s cleared: %s, score %d, %s\n",
				c.ID, c.Status, c.ConvergenceScore(), c.Tier)
			return nil
		})
	},
}

var deprecateReason string

var deprecateCmd = &cobra.Command{
	Use:   "deprecate <id>",
	Short: "Deprecate a claim",
	Long: `Deprecate marks a claim after a retraction or failed replication. The claim
stays in the ledger and keeps absorbing evidence, but is never promoted again.

Example:
  convergence deprecate HYP-0004 --reason "primary study retracted"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			c, err := a.engine.Deprecate(cmd.Context(), strings.ToUpper(args[0]), deprecateReason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s deprecated (%s)\n", c.ID, c.Tier)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(contestCmd, deprecateCmd)
	contestCmd.AddCommand(contestClearCmd)

	contestClearCmd.Flags().StringVar(&clearNote, "note", "", "reason for clearing (required)")
	_ = contestClearCmd.MarkFlagRequired("note")

	deprecateCmd.Flags().StringVar(&deprecateReason, "reason", "", "reason for deprecation (required)")
	_ = deprecateCmd.MarkFlagRequired("reason")
}
