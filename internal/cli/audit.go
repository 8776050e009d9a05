package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convergence/internal/ledger"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/store"
)

var (
	auditClaim  string
	auditAction string
	auditSince  string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print the audit log as JSON",
	Long: `Audit prints audit log entries, oldest first, as a JSON array.

Example:
  convergence audit --claim HYP-0003
  convergence audit --action PROMOTE --since 2026-03-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := parseSince(auditSince)
		if err != nil {
			return err
		}
		f := store.AuditFilter{
			ClaimID: strings.ToUpper(auditClaim),
			Action:  model.Action(strings.ToUpper(auditAction)),
			Since:   since,
			Limit:   auditLimit,
		}
		return withApp(func(a *app) error {
			entries, err := a.store.Audit(cmd.Context(), f)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []model.AuditEntry{}
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		})
	},
}

var (
	rollupPeriod string
	rollupSince  string
	rollupJSON   bool
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Summarize ledger activity per day or week",
	Long: `Rollup counts audit entries per UTC day or ISO week: new claims, scoring
updates, promotions, demotions, contests, clears and deprecations. It reads
the audit log only.

Example:
  convergence rollup
  convergence rollup --period day --since 2026-03-01
  convergence rollup --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		period := model.Period(strings.ToLower(rollupPeriod))
		since, err := parseSince(rollupSince)
		if err != nil {
			return err
		}

		return withApp(func(a *app) error {
			rows, err := a.engine.Rollup(cmd.Context(), period, since)
			if err != nil {
				return err
			}
			if rollupJSON {
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tNEW\tSCORED\tPROMOTED\tDEMOTED\tCONTESTED\tCLEARED\tDEPRECATED")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
					ledger.PeriodLabel(r.Start, period),
					r.NewClaims, r.Scored, r.Promotions, r.Demotions,
					r.Contested, r.Cleared, r.Deprecated)
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(auditCmd, rollupCmd)

	auditCmd.Flags().StringVar(&auditClaim, "claim", "", "only entries for this claim id")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "only entries with this action (INIT, SCORE, PROMOTE, ...)")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "only entries at or after this date (YYYY-MM-DD) or duration ago (72h)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 0, "maximum number of entries (0 for all)")

	rollupCmd.Flags().StringVar(&rollupPeriod, "period", "week", "period: day or week")
	rollupCmd.Flags().StringVar(&rollupSince, "since", "", "only count entries at or after this date (YYYY-MM-DD) or duration ago (72h)")
	rollupCmd.Flags().BoolVar(&rollupJSON, "json", false, "print rows as JSON")
}

// parseSince accepts a date, an RFC 3339 timestamp or a duration back from now
func parseSince(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want YYYY-MM-DD, RFC 3339 or a duration", s)
}
