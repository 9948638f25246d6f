package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/folio-app/folio/internal/hydrate"
	"github.com/folio-app/folio/internal/reconcile"
	"github.com/folio-app/folio/internal/schema"
	"github.com/folio-app/folio/internal/state"
	"github.com/folio-app/folio/internal/ui"
)

var newCmd = &cobra.Command{
	Use:     "new <kind> <title>",
	GroupID: "items",
	Short:   "Create an item and write it to the workspace",
	Long: `Create a new item of the given kind with a single block and save it
to the current workspace.

A running 'folio watch' picks the new folder up like any external edit.

Examples:
  folio new writings "Field notes"
  folio new posts "Launch" --content "We shipped."`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind := kindsFromArgs(args[:1])[0]
		title := args[1]
		content, _ := cmd.Flags().GetString("content")

		svc := openWorkspace()
		ws, err := svc.Require()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Run 'folio workspace use <path>' first\n")
			os.Exit(1)
		}

		db := openStateDB()
		defer db.Close()

		ctx := context.Background()
		container := state.NewContainer()
		h := hydrate.New(container, schema.DirLoader{Logger: logs.Logger("schema")}, svc,
			hydrate.WithPersister(db),
			hydrate.WithLogger(logs.Logger("hydrate")),
		)
		if err := h.Restore(ctx, []string{kind}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to restore saved state: %v\n", err)
		}

		draft := reconcile.New(kind).NewDraft(title)
		draft.Blocks[0].Content = content
		container.AddDraft(kind, draft)

		saved, err := h.Save(ctx, kind, draft.LocalID, schema.NewWriter(nil))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Created %s/%s\n", ui.RenderPass("✓"), kind, saved.OutputID)
		fmt.Printf("   Path: %s\n", filepath.Join(schema.KindDir(ws, kind), saved.OutputID))
	},
}

func init() {
	newCmd.Flags().StringP("content", "c", "", "Content of the first block")
	rootCmd.AddCommand(newCmd)
}
