package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenovariant-server/internal/domain"
)

const sampleMappings = `
mappings:
  - name: lab-a
    fields:
      gene_symbol: Gene
      descriptor: cDNA
      phenotypes: HPO
    split_transcript: true
  - name: wide
    fields:
      gene_symbol: Gene
      descriptor: Nomenclature
      patient_id: Patient
    variant_column_pattern: '^Variant_(\d+)_(.+)$'
`

func TestParseSchemaMappings(t *testing.T) {
	mappings, err := ParseSchemaMappings([]byte(sampleMappings))
	require.NoError(t, err)

	assert.Equal(t, []string{"lab-a", "wide"}, mappings.Names())

	labA, err := mappings.Get("lab-a")
	require.NoError(t, err)
	assert.Equal(t, "Gene", labA.Fields[domain.FieldGeneSymbol])
	assert.Equal(t, "HPO", labA.Fields[domain.FieldPhenotypes])
	assert.True(t, labA.SplitTranscript)

	wide, err := mappings.Get("wide")
	require.NoError(t, err)
	assert.Equal(t, `^Variant_(\d+)_(.+)$`, wide.VariantColumnPattern)

	_, err = mappings.Get("lab-z")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseSchemaMappings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unnamed", "mappings:\n  - fields: {gene_symbol: G, descriptor: D}\n"},
		{"duplicate", "mappings:\n  - name: a\n    fields: {gene_symbol: G, descriptor: D}\n  - name: a\n    fields: {gene_symbol: G, descriptor: D}\n"},
		{"missing required", "mappings:\n  - name: a\n    fields: {gene_symbol: G}\n"},
		{"unknown field", "mappings:\n  - name: a\n    fields: {gene_symbol: G, descriptor: D, colour: C}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchemaMappings([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSchemaValidation)
		})
	}

	_, err := ParseSchemaMappings([]byte("mappings: [unterminated"))
	assert.Error(t, err)
}

func TestLoadSchemaMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMappings), 0644))

	mappings, err := LoadSchemaMappings(path)
	require.NoError(t, err)
	assert.Len(t, mappings, 2)

	_, err = LoadSchemaMappings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
