package mcp

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *domain.Config {
	return &domain.Config{
		Server:     domain.ServerConfig{ExportScopes: []string{"clinical"}},
		Ontology:   domain.OntologyConfig{OBOPath: "../../pkg/ontology/testdata/mini.obo", MaxWindow: 8},
		Harmonizer: domain.HarmonizerConfig{MaxParallelBatches: 2},
		Locations: []domain.StorageLocation{
			{Name: "internal", Scope: "clinical"},
			{Name: "research", Scope: "research"},
		},
	}
}

func labMapping() domain.SchemaMapping {
	return domain.SchemaMapping{
		Name: "lab",
		Fields: map[domain.CanonicalField]string{
			domain.FieldGeneSymbol: "Gene",
			domain.FieldDescriptor: "cDNA",
			domain.FieldPhenotypes: "HPO",
		},
	}
}

// connect wires a client session to a fresh server over in-memory transports
func connect(t *testing.T, opts ...ServerOption) (*mcp.ClientSession, *app.App) {
	t.Helper()
	ctx := context.Background()

	a, err := app.New(ctx, testConfig(),
		app.WithLogger(quietLogger()),
		app.WithRecordStore(nil, nil),
		app.WithMappings(config.Mappings{"lab": labMapping()}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Bootstrap(ctx))

	server := NewServer(a, opts...)
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session, a
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

// structured decodes the structured tool output into dst
func structured(t *testing.T, res *mcp.CallToolResult, dst interface{}) {
	t.Helper()
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dst))
}

func importCases(t *testing.T, session *mcp.ClientSession) {
	t.Helper()
	for _, location := range []string{"internal", "research"} {
		res := callTool(t, session, "import_records", map[string]interface{}{
			"mapping":  "lab",
			"location": location,
			"batch": map[string]interface{}{
				"source_id": "cases.csv",
				"rows": []map[string]string{
					{"Gene": "BRCA1", "cDNA": "c.68_69delAG", "HPO": "HP:0001629"},
					{"Gene": "TP53", "cDNA": "c.215C>G", "HPO": "HP:0001250"},
				},
			},
		})
		require.False(t, res.IsError, resultText(t, res))
	}
}

func TestListTools(t *testing.T) {
	session, _ := connect(t)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"annotate_text", "annotate_records", "import_records", "query_records", "export_records",
		"validate_descriptor", "validate_records", "resolve_transcripts",
		"lookup_concept", "index_info", "reload_index",
	}, names)
}

func TestAnnotateText(t *testing.T) {
	session, _ := connect(t)

	res := callTool(t, session, "annotate_text", map[string]interface{}{"text": "Recurrent seizures and an ASD"})
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "HP:0001250")

	var out struct {
		Matches []domain.ConceptMatch `json:"matches"`
	}
	structured(t, res, &out)
	require.Len(t, out.Matches, 2)
	assert.Equal(t, "HP:0001631", out.Matches[1].ConceptID)

	res = callTool(t, session, "annotate_text", map[string]interface{}{"text": "  "})
	require.False(t, res.IsError, resultText(t, res))
	out.Matches = nil
	structured(t, res, &out)
	assert.NotNil(t, out.Matches)
	assert.Empty(t, out.Matches)
}

func TestImportQueryExport(t *testing.T) {
	session, _ := connect(t)
	importCases(t, session)

	filter := map[string]interface{}{
		"tier1": map[string]interface{}{
			"predicates": []map[string]interface{}{{"field": "gene", "value": "BRCA1"}},
		},
		"tier2": map[string]interface{}{},
	}

	res := callTool(t, session, "query_records", map[string]interface{}{"filter": filter})
	require.False(t, res.IsError, resultText(t, res))
	var query app.QueryResult
	structured(t, res, &query)
	assert.Equal(t, 2, query.Count)

	res = callTool(t, session, "export_records", map[string]interface{}{"filter": filter, "format": "tsv"})
	require.False(t, res.IsError, resultText(t, res))
	var exported ExportRecordsResult
	structured(t, res, &exported)
	assert.Equal(t, 1, exported.Written)
	require.Len(t, exported.Refused, 1)
	assert.Equal(t, "research", exported.Refused[0].Location)
	assert.Len(t, strings.Split(strings.TrimSpace(exported.Content), "\n"), 2)

	res = callTool(t, session, "export_records", map[string]interface{}{"filter": filter, "strict": true})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), domain.ErrCodeScopeViolation)
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	session, _ := connect(t, WithExportDir(dir))
	importCases(t, session)

	filter := map[string]interface{}{"tier1": map[string]interface{}{}, "tier2": map[string]interface{}{}}
	res := callTool(t, session, "export_records", map[string]interface{}{"filter": filter, "file_name": "cases.json"})
	require.False(t, res.IsError, resultText(t, res))

	data, err := os.ReadFile(filepath.Join(dir, "cases.json"))
	require.NoError(t, err)
	var records []domain.VariantRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 2)

	res = callTool(t, session, "export_records", map[string]interface{}{"filter": filter, "file_name": "../escape.json"})
	assert.True(t, res.IsError)
}

func TestImportRequiresSchema(t *testing.T) {
	session, _ := connect(t)

	res := callTool(t, session, "import_records", map[string]interface{}{
		"location": "internal",
		"batch":    map[string]interface{}{"source_id": "x", "rows": []map[string]string{}},
	})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), domain.ErrCodeInvalidInput)
}

func TestValidationToolsWhenDisabled(t *testing.T) {
	session, _ := connect(t)

	res := callTool(t, session, "validate_descriptor", map[string]interface{}{"descriptor": "NM_007294.4:c.68_69del"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), domain.ErrCodeValidationUnavailable)
}

func TestIndexTools(t *testing.T) {
	session, _ := connect(t)

	res := callTool(t, session, "index_info", map[string]interface{}{})
	require.False(t, res.IsError)
	var info app.IndexInfo
	structured(t, res, &info)
	assert.True(t, info.Loaded)
	assert.Equal(t, "hp/releases/2024-01-16", info.Version)

	res = callTool(t, session, "lookup_concept", map[string]interface{}{"id": "HP:0006887"})
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, "HP:0001249 Intellectual disability", resultText(t, res))

	res = callTool(t, session, "reload_index", map[string]interface{}{})
	require.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "from obo")
}

func TestReadIndexResource(t *testing.T) {
	session, _ := connect(t)

	res, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: IndexResourceURI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Contains(t, res.Contents[0].Text, `"loaded":true`)
}
