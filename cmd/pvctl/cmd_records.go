package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/export"
	"github.com/phenovariant-server/internal/service"
)

func newAnnotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotate [text]",
		Short: "Recognize HPO concepts in clinical text",
		Long: `Annotate a text given as argument or read from --file ("-" for stdin).
With --records the free-text notes of every stored record are annotated
and the recognized concepts are added to the record phenotypes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, _ := cmd.Flags().GetBool("records")
			file, _ := cmd.Flags().GetString("file")

			var text string
			switch {
			case records:
			case len(args) == 1:
				text = args[0]
			case file != "":
				data, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				text = string(data)
			default:
				return fmt.Errorf("provide text, --file or --records")
			}

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			if records {
				result, err := a.Annotator.AnnotateRecords(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(out, result)
				}
				fmt.Fprintf(out, "Scanned %d records, updated %d, added %d concepts\n",
					result.RecordsScanned, result.RecordsUpdated, result.ConceptsAdded)
				return nil
			}

			result, err := a.Annotator.Annotate(ctx, text)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(out, result)
			}
			for _, m := range result.Matches {
				fmt.Fprintf(out, "%d\t%d\t%s\t%s\t%s\t%s\n", m.Start, m.End, m.ConceptID, m.Label, m.Class, m.Text)
			}
			for _, u := range result.Unresolved {
				fmt.Fprintf(out, "%d\t%d\t%s\tunresolved (%s)\n", u.Start, u.End, u.ConceptID, u.Reason)
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "Read the text from a file, - for stdin")
	cmd.Flags().Bool("records", false, "Annotate the notes of stored records")
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Harmonize a CSV/TSV variant table into a storage location",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			mapping, _ := cmd.Flags().GetString("mapping")
			location, _ := cmd.Flags().GetString("location")
			if file == "" || mapping == "" || location == "" {
				return domain.NewValidationError("flags", "--file, --mapping and --location are required", nil)
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open batch: %w", err)
			}
			defer f.Close()
			batch, err := export.ReadBatch(f, filepath.Base(file), export.DelimiterFor(file))
			if err != nil {
				return err
			}

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			schema, err := a.Schema(mapping)
			if err != nil {
				return err
			}
			result, err := a.Importer.Import(commandContext(cmd), batch, schema, location)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, result)
			}
			fmt.Fprintf(out, "Imported %d rows as %d records (%d merged) into %s\n",
				result.Rows, result.Records, result.Merged, location)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "  warning: %+v\n", w)
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "Batch file (.tsv/.tab/.txt are tab separated, others comma)")
	cmd.Flags().String("mapping", "", "Schema mapping name from the mappings file")
	cmd.Flags().String("location", "", "Storage location receiving the records")
	return cmd
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter the record set with a two-tier filter expression",
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := readFilter(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.RunQuery(commandContext(cmd), expr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, result)
			}
			return export.Write(out, result.Records, export.FormatTSV)
		},
	}
	cmd.Flags().String("filter", "", "YAML or JSON filter expression file, - for stdin (default: match all)")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export matching records restricted to the exportable scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			format, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			strict, _ := cmd.Flags().GetBool("strict")
			output, _ := cmd.Flags().GetString("output")

			expr, err := readFilter(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var buf strings.Builder
			report, err := a.Export(commandContext(cmd), &buf, expr, format, strict)
			if err != nil {
				return err
			}

			if output == "" {
				if _, err := io.WriteString(cmd.OutOrStdout(), buf.String()); err != nil {
					return err
				}
			} else if err := os.WriteFile(output, []byte(buf.String()), 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}

			errOut := cmd.ErrOrStderr()
			if jsonOutput(cmd) {
				return writeJSON(errOut, report)
			}
			fmt.Fprintf(errOut, "Exported %d records, withheld %d out of scope\n", report.Written, len(report.Refused))
			return nil
		},
	}
	cmd.Flags().String("filter", "", "YAML or JSON filter expression file, - for stdin (default: match all)")
	cmd.Flags().String("format", string(export.FormatJSON), "Output format: json or tsv")
	cmd.Flags().Bool("strict", false, "Fail if any matching record is out of scope")
	cmd.Flags().String("output", "", "Write to this file instead of stdout")
	return cmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check variant descriptors with the external validator",
	}

	descriptorCmd := &cobra.Command{
		Use:   "descriptor <descriptor>",
		Short: "Validate one descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.Validator()
			if err != nil {
				return err
			}
			outcome, err := v.ValidateDescriptor(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, outcome)
			}
			fmt.Fprintf(out, "valid %s (gene %s)\n", outcome.Normalized, outcome.GeneSymbol)
			return nil
		},
	}

	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "Validate the descriptors of stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			location, _ := cmd.Flags().GetString("location")
			revalidate, _ := cmd.Flags().GetBool("revalidate")

			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.Validator()
			if err != nil {
				return err
			}
			report, err := v.ValidateRecords(commandContext(cmd), service.ValidateOptions{
				Location:   location,
				Revalidate: revalidate,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, report)
			}
			fmt.Fprintf(out, "Checked %d: %d valid, %d rejected, %d unavailable, %d skipped\n",
				report.Checked, report.Valid, report.Rejected, report.Unavailable, report.Skipped)
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  %s %s: %s\n", f.RecordID, f.State, f.Error)
			}
			return nil
		},
	}
	recordsCmd.Flags().String("location", "", "Only validate records of this storage location")
	recordsCmd.Flags().Bool("revalidate", false, "Also re-check records already validated")

	cmd.AddCommand(descriptorCmd, recordsCmd)
	return cmd
}

// readFilter decodes the --filter file. YAML is a superset of JSON so one
// decoder covers both. Without a file every record matches.
func readFilter(cmd *cobra.Command) (domain.FilterExpression, error) {
	var expr domain.FilterExpression
	path, _ := cmd.Flags().GetString("filter")
	if path == "" {
		return expr, nil
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return expr, err
	}
	if err := yaml.Unmarshal(data, &expr); err != nil {
		return expr, domain.NewValidationError("filter", err.Error(), path)
	}
	return expr, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
