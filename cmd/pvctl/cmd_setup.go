package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/setup"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
	}

	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Add or replace the server entry in the client configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := setup.Options{}
			opts.ConfigPath, _ = cmd.Flags().GetString("client-config")
			opts.BinaryPath, _ = cmd.Flags().GetString("binary")
			opts.DataDir, _ = cmd.Flags().GetString("data-dir")
			opts.OBOPath, _ = cmd.Flags().GetString("obo")

			path, err := setup.Register(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, map[string]string{"status": "registered", "config_path": path})
			}
			fmt.Fprintf(out, "Registered %s in %s\n", setup.ServerName, path)
			fmt.Fprintln(out, "Restart the client to pick up the change.")
			return nil
		},
	}
	clientCmd.Flags().String("client-config", "", "Client configuration file (default: platform location)")
	clientCmd.Flags().String("binary", "", "Path to the "+setup.BinaryName+" binary (default: search PATH)")
	clientCmd.Flags().String("data-dir", "", "Data directory passed to the server")
	clientCmd.Flags().String("obo", "", "HPO snapshot passed to the server")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check the client registration and the data it points at",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("client-config")
			if path == "" {
				var err error
				if path, err = setup.DefaultClientConfigPath(); err != nil {
					return err
				}
			}
			status, err := setup.GetStatus(path, config.DefaultLiteConfig().DataDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, status)
			}
			fmt.Fprintf(out, "Config:     %s\n", status.ConfigPath)
			fmt.Fprintf(out, "Registered: %t\n", status.Registered)
			if status.Registered {
				fmt.Fprintf(out, "Command:    %s\n", status.Command)
				fmt.Fprintf(out, "Data dir:   %s\n", status.DataDir)
			}
			for _, issue := range status.Issues {
				fmt.Fprintf(out, "  issue: %s\n", issue)
			}
			return nil
		},
	}
	statusCmd.Flags().String("client-config", "", "Client configuration file (default: platform location)")

	cmd.AddCommand(clientCmd, statusCmd)
	return cmd
}
