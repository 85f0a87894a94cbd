package mcp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/internal/export"
	"github.com/phenovariant-server/internal/service"
)

// AnnotateTextParams defines parameters for the annotate_text tool
type AnnotateTextParams struct {
	Text string `json:"text" jsonschema:"free clinical text to scan for HPO concepts"`
}

// ImportRecordsParams defines parameters for the import_records tool
type ImportRecordsParams struct {
	Batch    domain.RawBatch       `json:"batch" jsonschema:"tabular rows keyed by source column name"`
	Mapping  string                `json:"mapping,omitempty" jsonschema:"name of a configured schema mapping"`
	Schema   *domain.SchemaMapping `json:"schema,omitempty" jsonschema:"inline schema mapping, used instead of mapping"`
	Location string                `json:"location" jsonschema:"storage location receiving the records"`
}

// QueryRecordsParams defines parameters for the query_records tool
type QueryRecordsParams struct {
	Filter domain.FilterExpression `json:"filter" jsonschema:"two-tier filter expression"`
}

// ExportRecordsParams defines parameters for the export_records tool
type ExportRecordsParams struct {
	Filter   domain.FilterExpression `json:"filter" jsonschema:"two-tier filter expression selecting the records"`
	Format   string                  `json:"format,omitempty" jsonschema:"json or tsv, default json"`
	Strict   bool                    `json:"strict,omitempty" jsonschema:"fail instead of withholding out-of-scope records"`
	FileName string                  `json:"file_name,omitempty" jsonschema:"write the report to this file in the export directory"`
}

// ExportRecordsResult is the outcome of export_records
type ExportRecordsResult struct {
	Format  string                 `json:"format"`
	Written int                    `json:"written"`
	Refused []export.RefusedRecord `json:"refused"`
	Path    string                 `json:"path,omitempty"`
	Content string                 `json:"content,omitempty"`
}

// ValidateDescriptorParams defines parameters for the validate_descriptor tool
type ValidateDescriptorParams struct {
	Descriptor string `json:"descriptor" jsonschema:"transcript-qualified HGVS descriptor, e.g. NM_007294.4:c.68_69del"`
}

// ValidateRecordsParams defines parameters for the validate_records tool
type ValidateRecordsParams struct {
	Location   string `json:"location,omitempty" jsonschema:"only validate records of this storage location"`
	Revalidate bool   `json:"revalidate,omitempty" jsonschema:"re-check records that already have a final state"`
}

// GeneParams defines parameters for the resolve_transcripts tool
type GeneParams struct {
	Gene string `json:"gene" jsonschema:"HGNC gene symbol"`
}

// ConceptParams defines parameters for the lookup_concept tool
type ConceptParams struct {
	ID string `json:"id" jsonschema:"HPO identifier such as HP:0001250"`
}

// ReloadIndexParams defines parameters for the reload_index tool
type ReloadIndexParams struct {
	Version string `json:"version,omitempty" jsonschema:"stored index version to activate instead of re-reading the ontology file"`
}

// EmptyParams is used by tools without arguments
type EmptyParams struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "annotate_text",
		Description: "Recognize HPO phenotype concepts in free text",
	}, s.handleAnnotateText)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "annotate_records",
		Description: "Recognize concepts in record notes and add them to the record phenotypes",
	}, s.handleAnnotateRecords)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "import_records",
		Description: "Harmonize a tabular batch into canonical variant records",
	}, s.handleImportRecords)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_records",
		Description: "Filter variant records with a two-tier filter expression",
	}, s.handleQueryRecords)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_records",
		Description: "Export matching records in the scopes this deployment may share",
	}, s.handleExportRecords)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "validate_descriptor",
		Description: "Check one HGVS descriptor with the nomenclature validator",
	}, s.handleValidateDescriptor)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "validate_records",
		Description: "Validate record descriptors and store the outcome on each record",
	}, s.handleValidateRecords)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resolve_transcripts",
		Description: "List the RefSeq transcripts selected for a gene",
	}, s.handleResolveTranscripts)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "lookup_concept",
		Description: "Look up an HPO concept and its ancestors",
	}, s.handleLookupConcept)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "index_info",
		Description: "Describe the active ontology index and record set",
	}, s.handleIndexInfo)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "reload_index",
		Description: "Rebuild the ontology index or activate a stored one",
	}, s.handleReloadIndex)

	s.logger.WithField("tool_count", 11).Debug("Registered MCP tools")
}

func (s *Server) handleAnnotateText(ctx context.Context, req *mcp.CallToolRequest, params AnnotateTextParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "annotate_text").Debug("Tool invoked")

	result, err := s.app.Annotator.Annotate(ctx, params.Text)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	labels := make([]string, 0, len(result.Matches))
	for _, m := range result.Matches {
		labels = append(labels, fmt.Sprintf("%s %s", m.ConceptID, m.Label))
	}
	text := fmt.Sprintf("Found %d concepts (%d unresolved)", len(result.Matches), len(result.Unresolved))
	if len(labels) > 0 {
		text += ": " + strings.Join(labels, "; ")
	}
	return textResult(text), result, nil
}

func (s *Server) handleAnnotateRecords(ctx context.Context, req *mcp.CallToolRequest, _ EmptyParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "annotate_records").Debug("Tool invoked")

	result, err := s.app.Annotator.AnnotateRecords(ctx)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("Annotated %d of %d records, %d concepts added",
		result.RecordsUpdated, result.RecordsScanned, result.ConceptsAdded)), result, nil
}

func (s *Server) handleImportRecords(ctx context.Context, req *mcp.CallToolRequest, params ImportRecordsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "import_records").Debug("Tool invoked")

	var schema domain.SchemaMapping
	switch {
	case params.Schema != nil:
		schema = *params.Schema
	case params.Mapping != "":
		m, err := s.app.Schema(params.Mapping)
		if err != nil {
			return s.createErrorResult(err), nil, nil
		}
		schema = m
	default:
		return s.createErrorResult(domain.NewValidationError("schema", "either mapping or schema is required", nil)), nil, nil
	}
	if params.Location == "" {
		return s.createErrorResult(domain.NewValidationError("location", "location is required", nil)), nil, nil
	}

	result, err := s.app.Importer.Import(ctx, params.Batch, schema, params.Location)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("Imported %d records from %d rows into %s (%d warnings)",
		result.Records, result.Rows, params.Location, len(result.Warnings))), result, nil
}

func (s *Server) handleQueryRecords(ctx context.Context, req *mcp.CallToolRequest, params QueryRecordsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "query_records").Debug("Tool invoked")

	result, err := s.app.RunQuery(ctx, params.Filter)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("%d records match", result.Count)), result, nil
}

func (s *Server) handleExportRecords(ctx context.Context, req *mcp.CallToolRequest, params ExportRecordsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "export_records").Debug("Tool invoked")

	if params.Format == "" {
		params.Format = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(params.Format)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	var buf bytes.Buffer
	report, err := s.app.Export(ctx, &buf, params.Filter, format, params.Strict)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}

	result := ExportRecordsResult{
		Format:  string(format),
		Written: report.Written,
		Refused: report.Refused,
	}
	if params.FileName == "" {
		result.Content = buf.String()
		return textResult(result.Content), result, nil
	}

	path, err := s.exportPath(params.FileName)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return s.createErrorResult(fmt.Errorf("failed to write export: %w", err)), nil, nil
	}
	result.Path = path
	return textResult(fmt.Sprintf("Exported %d records to %s (%d withheld)",
		result.Written, path, len(result.Refused))), result, nil
}

// exportPath confines export files to the export directory
func (s *Server) exportPath(name string) (string, error) {
	if s.exportDir == "" {
		return "", domain.NewValidationError("file_name", "no export directory configured", name)
	}
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base != name {
		return "", domain.NewValidationError("file_name", "must be a plain file name", name)
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	return filepath.Join(s.exportDir, base), nil
}

func (s *Server) handleValidateDescriptor(ctx context.Context, req *mcp.CallToolRequest, params ValidateDescriptorParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "validate_descriptor").Debug("Tool invoked")

	v, err := s.app.Validator()
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	outcome, err := v.ValidateDescriptor(ctx, params.Descriptor)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("%s is valid, normalized %s", params.Descriptor, outcome.Normalized)), outcome, nil
}

func (s *Server) handleValidateRecords(ctx context.Context, req *mcp.CallToolRequest, params ValidateRecordsParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "validate_records").Debug("Tool invoked")

	v, err := s.app.Validator()
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	report, err := v.ValidateRecords(ctx, service.ValidateOptions{Location: params.Location, Revalidate: params.Revalidate})
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("Checked %d records: %d valid, %d rejected, %d unavailable",
		report.Checked, report.Valid, report.Rejected, report.Unavailable)), report, nil
}

func (s *Server) handleResolveTranscripts(ctx context.Context, req *mcp.CallToolRequest, params GeneParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "resolve_transcripts").Debug("Tool invoked")

	v, err := s.app.Validator()
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	transcripts, err := v.ResolveTranscripts(ctx, params.Gene)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(strings.Join(transcripts, "\n")), map[string]interface{}{
		"gene":        params.Gene,
		"transcripts": transcripts,
	}, nil
}

func (s *Server) handleLookupConcept(ctx context.Context, req *mcp.CallToolRequest, params ConceptParams) (*mcp.CallToolResult, any, error) {
	view, err := s.app.Concept(params.ID)
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("%s %s", view.ID, view.Label)), view, nil
}

func (s *Server) handleIndexInfo(ctx context.Context, req *mcp.CallToolRequest, _ EmptyParams) (*mcp.CallToolResult, any, error) {
	info := s.app.IndexInfo()
	if !info.Loaded {
		return textResult("No ontology index loaded"), info, nil
	}
	return textResult(fmt.Sprintf("Index %s with %d concepts, %d records loaded",
		info.Version, info.Concepts, info.RecordCount)), info, nil
}

func (s *Server) handleReloadIndex(ctx context.Context, req *mcp.CallToolRequest, params ReloadIndexParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "reload_index").Info("Tool invoked")

	var (
		summary *service.IndexSummary
		err     error
	)
	switch {
	case params.Version != "":
		summary, err = s.app.Indexes.LoadArtifact(ctx, params.Version)
	case s.app.Config.Ontology.OBOPath != "":
		summary, err = s.app.Indexes.LoadOBOFile(ctx, s.app.Config.Ontology.OBOPath)
	default:
		err = domain.NewValidationError("version", "no ontology file configured", nil)
	}
	if err != nil {
		return s.createErrorResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("Loaded index %s from %s (%d concepts)",
		summary.Version, summary.Source, summary.Concepts)), summary, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(err error) *mcp.CallToolResult {
	code := domain.ErrorCode(err)
	if code == domain.ErrCodeInternalServer {
		s.logger.WithError(err).Error("Tool failed")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Error: %s - %v", code, err)},
		},
		IsError: true,
	}
}
