package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/folio-app/folio/internal/ui"
	"github.com/folio-app/folio/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	GroupID: "workspace",
	Short:   "Select and inspect the current workspace",
	Long: `The workspace is the directory folio reads items from. The selection
is remembered across runs and a running 'folio watch' follows it.`,
}

var workspaceUseCmd = &cobra.Command{
	Use:   "use [path]",
	Short: "Make a directory the current workspace",
	Long: `Select the workspace directory.

Without a path, pick one of the recently used workspaces interactively.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc := openWorkspace()

		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			recent := svc.Recent()
			if len(recent) == 0 {
				fmt.Fprintf(os.Stderr, "Error: no recent workspaces; pass a path\n")
				os.Exit(1)
			}
			if !ui.IsTerminal(os.Stdin) {
				fmt.Fprintf(os.Stderr, "Error: path required when not running interactively\n")
				os.Exit(1)
			}

			form := huh.NewForm(huh.NewGroup(
				huh.NewSelect[string]().
					Title("Select a workspace").
					Options(huh.NewOptions(recent...)...).
					Value(&path),
			))
			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := svc.Select(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Workspace: %s\n", ui.RenderPass("✓"), svc.Current())
	},
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current and recent workspaces",
	Run: func(cmd *cobra.Command, args []string) {
		svc := openWorkspace()

		current := svc.Current()
		if current == "" {
			fmt.Printf("%s No workspace selected\n", ui.RenderWarn("⚠"))
		} else {
			vcs := workspace.DetectVCS(current)
			fmt.Println(ui.RenderField("Current", current))
			fmt.Println(ui.RenderField("VCS", vcs.Name()))
			if vcs.Root != "" && vcs.Root != current {
				fmt.Println(ui.RenderField("Repository", vcs.Root))
			}
		}

		recent := svc.Recent()
		if len(recent) > 0 {
			fmt.Printf("\n%s\n", ui.RenderHeader("Recent"))
			for _, p := range recent {
				if p == current {
					fmt.Printf("  %s %s\n", ui.RenderAccent("●"), p)
					continue
				}
				fmt.Printf("    %s\n", ui.RenderMuted(p))
			}
		}
	},
}

var workspaceCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Deselect the current workspace",
	Run: func(cmd *cobra.Command, args []string) {
		svc := openWorkspace()
		if err := svc.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Workspace closed\n", ui.RenderPass("✓"))
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceUseCmd)
	workspaceCmd.AddCommand(workspaceShowCmd)
	workspaceCmd.AddCommand(workspaceCloseCmd)
	rootCmd.AddCommand(workspaceCmd)
}
