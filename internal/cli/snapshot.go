package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/convergence/internal/pipeline"
	"github.com/ppiankov/convergence/internal/store"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Export the whole ledger store to JSON",
	Long: `Dump writes every claim, applied evidence record, audit entry and the id
counter to a JSON snapshot. Use load to restore it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			snap, err := a.store.Dump(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("encode snapshot: %w", err)
			}
			if err := pipeline.WriteFileAtomic(args[0], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Dumped %d claims, %d audit entries to %s\n",
				len(snap.Claims), len(snap.Audit), args[0])
			return nil
		})
	},
}

var loadForce bool

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Replace the ledger store with a JSON snapshot",
	Long: `Load replaces the entire store content with a snapshot written by dump.
Existing claims and audit history are discarded, so --force is required
when the store is not empty.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		var snap store.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}

		return withApp(func(a *app) error {
			existing, err := a.store.List(cmd.Context(), store.Filter{})
			if err != nil {
				return err
			}
			if len(existing) > 0 && !loadForce {
				return fmt.Errorf("store %s holds %d claims; pass --force to replace them", a.cfg.Store.Path, len(existing))
			}
			if err := a.store.Load(cmd.Context(), &snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %d claims, %d audit entries from %s\n",
				len(snap.Claims), len(snap.Audit), args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd, loadCmd)
	loadCmd.Flags().BoolVar(&loadForce, "force", false, "replace a non-empty store")
}
