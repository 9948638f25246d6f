package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/folio-app/folio/internal/statedb"
	"github.com/folio-app/folio/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list [kind]",
	GroupID: "items",
	Short:   "List saved items, most recently updated first",
	Long: `List items from the saved state.

--since accepts a date (2026-03-01) or a natural expression such as
"yesterday", "last monday" or "3 days ago".

Examples:
  folio list
  folio list writings --since yesterday
  folio list posts --limit 5`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filter := statedb.ListFilter{}
		if len(args) == 1 {
			filter.Kind = kindsFromArgs(args)[0]
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		sinceText, _ := cmd.Flags().GetString("since")
		since, err := parseSince(sinceText, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Since = since

		db := openStateDB()
		defer db.Close()

		items, err := db.List(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing items: %v\n", err)
			os.Exit(1)
		}

		if len(items) == 0 {
			fmt.Printf("%s No items found\n", ui.RenderWarn("⚠"))
			return
		}

		for _, it := range items {
			id := it.OutputID
			marker := " "
			if id == "" {
				id = it.LocalID
				marker = ui.RenderWarn("*")
			}
			fmt.Printf("%s %-10s %-36s %s %s\n",
				marker,
				it.Kind,
				id,
				it.Title,
				ui.RenderMuted(fmt.Sprintf("(%d blocks, %s)", it.Blocks, it.UpdatedAt.Local().Format("2006-01-02 15:04"))),
			)
		}
		fmt.Printf("\n%d items", len(items))
		if !filter.Since.IsZero() {
			fmt.Printf(" updated since %s", filter.Since.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("; %s marks unsaved drafts\n", ui.RenderWarn("*"))
	},
}

func init() {
	listCmd.Flags().String("since", "", "Only items updated after this time")
	listCmd.Flags().IntP("limit", "n", 0, "Maximum number of items (0 = all)")
	rootCmd.AddCommand(listCmd)
}
