package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/folio-app/folio/internal/statedb"
	"github.com/folio-app/folio/internal/ui"
	"github.com/folio-app/folio/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show workspace and saved state status",
	Long: `Display the current workspace and the saved state.

Shows:
  - Workspace path and version control
  - Config file and state database location
  - Number of items and drafts per kind
  - Last sync of each kind`,
	Run: func(cmd *cobra.Command, args []string) {
		svc := openWorkspace()

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📊"), ui.RenderHeader("Folio Status"))

		if ws := svc.Current(); ws != "" {
			fmt.Println(ui.RenderField("Workspace", ws))
			fmt.Println(ui.RenderField("VCS", workspace.DetectVCS(ws).Name()))
		} else {
			fmt.Println(ui.RenderField("Workspace", ui.RenderWarn("none selected")))
		}
		configPath := cfg.File
		if configPath == "" {
			configPath = ui.RenderMuted("(defaults)")
		}
		fmt.Println(ui.RenderField("Config", configPath))
		fmt.Println(ui.RenderField("State", cfg.StateDB))

		if _, err := os.Stat(cfg.StateDB); os.IsNotExist(err) {
			fmt.Printf("\n%s No saved state yet\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'folio sync' to create it\n\n")
			return
		}

		db := openStateDB()
		defer db.Close()

		ctx := context.Background()
		counts, err := db.Counts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting counts: %v\n", err)
			os.Exit(1)
		}
		byKind := make(map[string]statedb.KindCount, len(counts))
		for _, c := range counts {
			byKind[c.Kind] = c
		}

		fmt.Printf("\n%s\n", ui.RenderHeader("Kinds"))
		for _, kind := range cfg.Kinds {
			c := byKind[kind]
			line := fmt.Sprintf("%d items", c.Total)
			if c.Drafts > 0 {
				line += fmt.Sprintf(", %d drafts", c.Drafts)
			}

			rec, err := db.LastSync(ctx, kind)
			switch {
			case err != nil:
				line += " " + ui.RenderFail(fmt.Sprintf("(last sync unknown: %v)", err))
			case rec == nil:
				line += " " + ui.RenderMuted("(never synced)")
			default:
				line += " " + ui.RenderMuted(fmt.Sprintf("(synced %s ago)", time.Since(rec.SyncedAt).Round(time.Second)))
			}
			fmt.Println(ui.RenderField(kind, line))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
