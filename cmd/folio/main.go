// Command folio keeps an in-memory view of a folder-based workspace in
// sync with what is on disk.
package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/folio-app/folio/internal/config"
	"github.com/folio-app/folio/internal/logging"
	"github.com/folio-app/folio/internal/statedb"
	"github.com/folio-app/folio/internal/workspace"
)

var (
	configFile string
	v          *viper.Viper
	cfg        *config.Config
	logs       *logging.Factory
)

// flagKeys maps command-line flags to config keys. Flags only override
// the config when set.
var flagKeys = map[string]string{
	"log-file":       "log.file",
	"state-db":       "state_db",
	"dashboard-port": "dashboard.port",
	"poll":           "watch.use_polling",
	"debounce":       "watch.debounce_ms",
}

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Keep a workspace of items in sync with disk",
	Long: `folio watches a workspace directory of items and keeps a local view
of them in sync with external edits.

Each kind of item (writings, posts, ...) lives in its own subdirectory of
the workspace, one folder per item with a meta.toml and one .md file per
block.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		v = config.New(configFile)
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
			}
		}

		var err error
		cfg, err = config.Load(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logs, err = logging.New(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "items", Title: "Items:"},
		&cobra.Group{ID: "workspace", Title: "Workspace:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/folio/folio.toml)")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().String("state-db", "", "Path to the state database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openWorkspace() *workspace.Service {
	svc, err := workspace.NewService(cfg.WorkspaceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading workspace selection: %v\n", err)
		os.Exit(1)
	}
	return svc
}

func openStateDB() *statedb.DB {
	db, err := statedb.Open(cfg.StateDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening state database: %v\n", err)
		os.Exit(1)
	}
	return db
}

// kindsFromArgs returns the kinds named in args, or every configured kind
// when args is empty. Unknown kinds are fatal.
func kindsFromArgs(args []string) []string {
	if len(args) == 0 {
		return cfg.Kinds
	}
	for _, k := range args {
		if !slices.Contains(cfg.Kinds, k) {
			fmt.Fprintf(os.Stderr, "Error: unknown kind %q (configured: %v)\n", k, cfg.Kinds)
			os.Exit(1)
		}
	}
	return args
}
