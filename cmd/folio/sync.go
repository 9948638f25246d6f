package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/folio-app/folio/internal/hydrate"
	"github.com/folio-app/folio/internal/schema"
	"github.com/folio-app/folio/internal/state"
	"github.com/folio-app/folio/internal/ui"
	"github.com/folio-app/folio/internal/workspace"
)

var syncCmd = &cobra.Command{
	Use:     "sync [kind...]",
	GroupID: "sync",
	Short:   "Load kinds from the workspace into the state database once",
	Long: `Reconcile the saved state with the current workspace contents.

This performs a one-shot sync:
  1. Restores the saved state of each kind
  2. Reads every item folder of the kind from the workspace
  3. Adds new items, updates changed ones and drops deleted ones
  4. Saves the result and records the sync

Unsaved drafts are kept. With no arguments every configured kind is synced.`,
	Run: func(cmd *cobra.Command, args []string) {
		svc := openWorkspace()
		if _, err := svc.Require(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Run 'folio workspace use <path>' first\n")
			os.Exit(1)
		}

		kinds := kindsFromArgs(args)

		db := openStateDB()
		defer db.Close()

		ctx := context.Background()
		h := hydrate.New(state.NewContainer(), schema.DirLoader{Logger: logs.Logger("schema")}, svc,
			hydrate.WithPersister(db),
			hydrate.WithLogger(logs.Logger("hydrate")),
		)
		if err := h.Restore(ctx, kinds); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to restore saved state: %v\n", err)
		}

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), svc.Current())
		start := time.Now()

		results, err := h.HydrateAll(ctx, kinds)
		for _, r := range results {
			fmt.Printf("   %-12s %d total (+%d ~%d -%d)\n", r.Kind, r.Total, r.Added, r.Updated, r.Removed)
		}
		if err != nil {
			if errors.Is(err, workspace.ErrNoWorkspace) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Sync incomplete: %v\n", ui.RenderWarn("⚠"), err)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
