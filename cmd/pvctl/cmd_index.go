package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build and inspect the ontology index",
	}
	cmd.AddCommand(
		newIndexBuildCmd(),
		newIndexInfoCmd(),
		newIndexConceptCmd(),
	)
	return cmd
}

func newIndexBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Parse an OBO snapshot and store its index artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			path, _ := cmd.Flags().GetString("obo")
			if path == "" {
				path = a.Config.Ontology.OBOPath
			}
			summary, err := a.Indexes.LoadOBOFile(commandContext(cmd), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, summary)
			}
			fmt.Fprintf(out, "Built index %s with %d concepts\n", summary.Version, summary.Concepts)
			for _, w := range summary.Warnings {
				fmt.Fprintf(out, "  warning: %s\n", w)
			}
			if a.Artifacts == nil {
				fmt.Fprintln(out, "No artifact store configured, index was not saved")
			}
			return nil
		},
	}
	cmd.Flags().String("obo", "", "OBO snapshot to parse (default: configured ontology path)")
	return cmd
}

func newIndexInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the active index and record set",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			info := a.IndexInfo()
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, info)
			}
			if !info.Loaded {
				fmt.Fprintln(out, "No index loaded")
				return nil
			}
			fmt.Fprintf(out, "Index:    %s\n", info.Version)
			fmt.Fprintf(out, "Concepts: %d\n", info.Concepts)
			fmt.Fprintf(out, "Records:  %d (set version %d)\n", info.RecordCount, info.SetVersion)
			return nil
		},
	}
}

func newIndexConceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "concept <id>",
		Short: "Look up a concept by primary or alternate identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Concept(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, view)
			}
			fmt.Fprintf(out, "%s %s\n", view.ID, view.Label)
			if len(view.Synonyms) > 0 {
				fmt.Fprintf(out, "  synonyms: %s\n", strings.Join(view.Synonyms, "; "))
			}
			if len(view.Parents) > 0 {
				fmt.Fprintf(out, "  parents:  %s\n", strings.Join(view.Parents, ", "))
			}
			if view.Obsolete {
				fmt.Fprintf(out, "  obsolete, replaced by %s\n", view.ReplacedBy)
			}
			return nil
		},
	}
}
