package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scionsync/scion/internal/config"
	"github.com/scionsync/scion/internal/vault"
)

var statusCmd = &cobra.Command{
	Use:   "status [vault]",
	Short: "Print registry diagnostics, opening a vault if one is named",
	Long: `Opens the configured VAULT_PATH registry and prints its
introspection.Introspectable state. If a vault name is given, it is
opened too and its head commit and tracked file count are included.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		registry := vault.NewRegistry(cfg.VaultPath, logger)
		defer registry.Close()

		out := map[string]any{"registry": registry.State()}

		if len(args) == 1 {
			v, err := registry.Get(args[0])
			if err != nil {
				return err
			}
			head, _, err := v.Content.Head()
			if err != nil {
				return err
			}
			tracked, err := v.Content.ListTracked()
			if err != nil {
				return err
			}
			out["vault"] = map[string]any{
				"name":          v.Name,
				"head_commit":   head,
				"tracked_files": len(tracked),
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
