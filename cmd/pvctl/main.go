package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/domain"
)

var version = "1.0.0"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s - %v\n", domain.ErrorCode(err), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pvctl",
		Short: "Phenotype annotation and variant record tooling",
		Long: `pvctl builds the HPO index, annotates clinical text, imports
heterogeneous variant tables and queries or exports the harmonized records.

Without --config it uses the standalone layout under PV_DATA_DIR
(default ~/.phenovariant).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Configuration file (default: standalone PV_* settings)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	// Add subcommands
	rootCmd.AddCommand(
		newVersionCmd(),
		newIndexCmd(),
		newAnnotateCmd(),
		newImportCmd(),
		newQueryCmd(),
		newExportCmd(),
		newValidateCmd(),
		newSetupCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput(cmd) {
				writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "pvctl version %s\n", version)
			}
		},
	}
}

// loadConfig reads the file named by --config, or the standalone
// environment settings when none is given. Logs always go to stderr so
// stdout stays parseable.
func loadConfig(cmd *cobra.Command) (*domain.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *domain.Config
	if path != "" {
		manager, err := config.NewManager(path)
		if err != nil {
			return nil, err
		}
		if err := manager.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		cfg = manager.GetConfig()
	} else {
		lite := config.LoadLiteConfig()
		if err := lite.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		cfg = lite.Config()
	}
	cfg.Logging.Output = "stderr"
	return cfg, nil
}

// openApp wires the application. With bootstrap set the ontology index and
// the stored records are loaded as well.
func openApp(cmd *cobra.Command, bootstrap bool) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ctx := commandContext(cmd)
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if bootstrap {
		if err := a.Bootstrap(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func jsonOutput(cmd *cobra.Command) bool {
	jsonOut, _ := cmd.Flags().GetBool("json")
	return jsonOut
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
