package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/phenovariant-server/internal/app"
	"github.com/phenovariant-server/internal/config"
	"github.com/phenovariant-server/internal/domain"
)

// MockValidator is a mock implementation of domain.VariantValidator
type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, descriptor string) (*domain.ValidationOutcome, error) {
	args := m.Called(ctx, descriptor)
	outcome, _ := args.Get(0).(*domain.ValidationOutcome)
	return outcome, args.Error(1)
}

func (m *MockValidator) ResolveTranscripts(ctx context.Context, gene string) ([]string, error) {
	args := m.Called(ctx, gene)
	transcripts, _ := args.Get(0).([]string)
	return transcripts, args.Error(1)
}

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
		Logging: domain.LoggingConfig{Level: "error"},
	}
}

func labMapping() domain.SchemaMapping {
	return domain.SchemaMapping{
		Name: "lab",
		Fields: map[domain.CanonicalField]string{
			domain.FieldGeneSymbol: "Gene",
			domain.FieldDescriptor: "cDNA",
			domain.FieldTranscript: "Transcript",
			domain.FieldPhenotypes: "HPO",
			domain.FieldNotes:      "Notes",
		},
	}
}

func setupServer(t *testing.T, opts ...app.Option) (*Server, *app.App) {
	t.Helper()
	opts = append([]app.Option{
		app.WithLogger(quietLogger()),
		app.WithRecordStore(nil, nil),
		app.WithMappings(config.Mappings{"lab": labMapping()}),
	}, opts...)
	a, err := app.New(context.Background(), testConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NoError(t, a.Bootstrap(context.Background()))
	return NewServer(a), a
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.APIError {
	t.Helper()
	var apiErr domain.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func importCases(t *testing.T, s *Server) {
	t.Helper()
	for _, location := range []string{"internal", "research"} {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/records/import", map[string]interface{}{
			"mapping":  "lab",
			"location": location,
			"batch": domain.RawBatch{
				SourceID: "cases.csv",
				Rows: []domain.RawRow{
					{"Gene": "BRCA1", "cDNA": "c.68_69delAG", "Transcript": "NM_007294.4", "HPO": "HP:0001629"},
					{"Gene": "TP53", "cDNA": "c.215C>G", "HPO": "HP:0001250", "Notes": "short stature noted"},
				},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "hp/releases/2024-01-16", body["index_version"])
	assert.Equal(t, false, body["validator"])

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "phenovariant_index_concepts")
}

func TestAnnotate(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/annotate", map[string]string{
		"text": "Child with seizures and a VSD. Body height abnormality.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		IndexVersion string                `json:"index_version"`
		Matches      []domain.ConceptMatch `json:"matches"`
		Unresolved   []struct {
			ConceptID  string `json:"concept_id"`
			ReplacedBy string `json:"replaced_by"`
		} `json:"unresolved"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	ids := make([]string, 0, len(result.Matches))
	for _, m := range result.Matches {
		ids = append(ids, m.ConceptID)
	}
	assert.Contains(t, ids, "HP:0001250")
	assert.Contains(t, ids, "HP:0001629")
	require.Len(t, result.Unresolved, 1)
	assert.Equal(t, "HP:0004322", result.Unresolved[0].ReplacedBy)
}

func TestAnnotateRejectsMissingText(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/annotate", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, domain.ErrCodeInvalidInput, apiErr.Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), apiErr.RequestID)
}

func TestAnnotateEmptyTextIsEmptyResult(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/annotate", map[string]string{"text": ""})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Matches []json.RawMessage `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotNil(t, out.Matches)
	assert.Empty(t, out.Matches)
}

func TestConceptLookup(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/concepts/HP:0001630", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view app.ConceptView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "HP:0001631", view.ID)
	assert.Contains(t, view.Ancestors, "HP:0001627")

	rec = doJSON(t, s, http.MethodGet, "/api/v1/concepts/HP:9999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ErrCodeNotFound, decodeError(t, rec).Code)
}

func TestIndexInfoAndReload(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/index", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info app.IndexInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Loaded)
	assert.Positive(t, info.Concepts)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/index/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"source":"obo"`)

	// no artifact store configured
	rec = doJSON(t, s, http.MethodPost, "/api/v1/index/reload", map[string]string{"version": "hp/releases/2023-01-01"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportAndQuery(t *testing.T) {
	s, _ := setupServer(t)
	importCases(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/query", domain.FilterExpression{
		Tier1:             domain.FilterTier{Predicates: []domain.Predicate{{Field: domain.FilterPhenotype, Value: "HP:0001627"}}},
		Tier2:             domain.FilterTier{Predicates: []domain.Predicate{{Field: domain.FilterLocation, Value: "internal"}}},
		ExpandDescendants: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result app.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "BRCA1", result.Records[0].GeneSymbol)
	assert.Equal(t, "NM_007294.4", result.Records[0].Transcript)
}

func TestImportErrors(t *testing.T) {
	s, _ := setupServer(t)

	tests := []struct {
		name     string
		body     map[string]interface{}
		status   int
		wantCode string
	}{
		{
			name:     "no schema",
			body:     map[string]interface{}{"location": "internal", "batch": domain.RawBatch{}},
			status:   http.StatusBadRequest,
			wantCode: domain.ErrCodeInvalidInput,
		},
		{
			name:     "unknown mapping",
			body:     map[string]interface{}{"mapping": "other", "location": "internal", "batch": domain.RawBatch{}},
			status:   http.StatusNotFound,
			wantCode: domain.ErrCodeNotFound,
		},
		{
			name:     "unknown location",
			body:     map[string]interface{}{"mapping": "lab", "location": "elsewhere", "batch": domain.RawBatch{}},
			status:   http.StatusNotFound,
			wantCode: domain.ErrCodeNotFound,
		},
		{
			name: "inline schema without descriptor",
			body: map[string]interface{}{
				"location": "internal",
				"schema":   domain.SchemaMapping{Name: "bad", Fields: map[domain.CanonicalField]string{domain.FieldGeneSymbol: "Gene"}},
				"batch":    domain.RawBatch{},
			},
			status:   http.StatusUnprocessableEntity,
			wantCode: domain.ErrCodeSchemaValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/records/import", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestQueryRejectsInvalidFilter(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/query", domain.FilterExpression{
		Tier1: domain.FilterTier{Predicates: []domain.Predicate{{Field: "favourite_colour", Value: "red"}}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrCodeInvalidFilter, decodeError(t, rec).Code)
}

func TestExport(t *testing.T) {
	s, _ := setupServer(t)
	importCases(t, s)

	expr := domain.FilterExpression{
		Tier1: domain.FilterTier{Predicates: []domain.Predicate{{Field: domain.FilterGene, Value: "BRCA1"}}},
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/export?format=tsv", expr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/tab-separated-values"))
	assert.Equal(t, "1", rec.Header().Get("X-Export-Written"))
	assert.Equal(t, "1", rec.Header().Get("X-Export-Refused"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 2)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/export?strict=true", expr)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.ErrCodeScopeViolation, decodeError(t, rec).Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/export?format=xml", expr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationDisabled(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/validate", map[string]string{"descriptor": "NM_007294.4:c.68_69del"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.ErrCodeValidationUnavailable, decodeError(t, rec).Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/transcripts/BRCA1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestValidate(t *testing.T) {
	validator := new(MockValidator)
	validator.On("Validate", mock.Anything, "NM_007294.4:c.68_69del").
		Return(&domain.ValidationOutcome{Valid: true, Normalized: "NM_007294.4:c.68_69del", GeneSymbol: "BRCA1"}, nil)
	validator.On("Validate", mock.Anything, "NM_007294.4:c.68A>G").
		Return(nil, &domain.ValidationRejectedError{Descriptor: "NM_007294.4:c.68A>G", Messages: []string{"reference mismatch"}})
	validator.On("ResolveTranscripts", mock.Anything, "BRCA1").Return([]string{"NM_007294.4"}, nil)
	s, _ := setupServer(t, app.WithValidator(validator))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/validate", map[string]string{"descriptor": "NM_007294.4:c.68_69del"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/validate", map[string]string{"descriptor": "NM_007294.4:c.68A>G"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.ErrCodeValidationRejected, decodeError(t, rec).Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/transcripts/BRCA1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NM_007294.4")

	validator.AssertExpectations(t)
}

func TestValidateRecords(t *testing.T) {
	validator := new(MockValidator)
	validator.On("Validate", mock.Anything, "NM_007294.4:c.68_69delAG").
		Return(&domain.ValidationOutcome{Valid: true, Normalized: "NM_007294.4:c.68_69del", GeneSymbol: "BRCA1"}, nil)
	validator.On("Validate", mock.Anything, "c.215C>G").
		Return(nil, &domain.ValidationUnavailableError{Descriptor: "c.215C>G"})
	s, _ := setupServer(t, app.WithValidator(validator))
	importCases(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/records/validate", map[string]string{"location": "internal"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report struct {
		Checked     int `json:"checked"`
		Valid       int `json:"valid"`
		Unavailable int `json:"unavailable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Valid)
	assert.Equal(t, 1, report.Unavailable)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/query", domain.FilterExpression{
		Tier2: domain.FilterTier{Predicates: []domain.Predicate{{Field: domain.FilterValidation, Value: string(domain.VALIDATION_VALID)}}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestAnnotateRecords(t *testing.T) {
	s, a := setupServer(t)
	importCases(t, s)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/records/annotate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"records_updated":2`)

	for _, r := range a.Catalog.Records().ByLocation("internal") {
		if r.GeneSymbol == "TP53" {
			assert.Contains(t, r.PhenotypeIDs, "HP:0004322")
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := setupServer(t)

	rec := doJSON(t, s, http.MethodOptions, "/api/v1/query", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
