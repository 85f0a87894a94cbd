package domain

import (
	"fmt"
	"regexp"
	"sort"
)

// CanonicalField names a field of the canonical variant record
type CanonicalField string

const (
	FieldGeneSymbol  CanonicalField = "gene_symbol"
	FieldDescriptor  CanonicalField = "descriptor"
	FieldTranscript  CanonicalField = "transcript"
	FieldHGVSGenomic CanonicalField = "hgvs_genomic"
	FieldHGVSProtein CanonicalField = "hgvs_protein"
	FieldVariantType CanonicalField = "variant_type"
	FieldZygosity    CanonicalField = "zygosity"
	FieldInheritance CanonicalField = "inheritance"
	FieldPatientID   CanonicalField = "patient_id"
	FieldPhenotypes  CanonicalField = "phenotypes"
	FieldSolved      CanonicalField = "solved"
	FieldNotes       CanonicalField = "notes"
	FieldVarNumber   CanonicalField = "var_number"
	FieldVarCount    CanonicalField = "var_count"
)

var canonicalFields = map[CanonicalField]bool{
	FieldGeneSymbol: true, FieldDescriptor: true, FieldTranscript: true,
	FieldHGVSGenomic: true, FieldHGVSProtein: true, FieldVariantType: true,
	FieldZygosity: true, FieldInheritance: true, FieldPatientID: true,
	FieldPhenotypes: true, FieldSolved: true, FieldNotes: true,
	FieldVarNumber: true, FieldVarCount: true,
}

// IsValid checks if the canonical field is known
func (f CanonicalField) IsValid() bool {
	return canonicalFields[f]
}

// RequiredFields must be mapped for a batch to be harmonized
var RequiredFields = []CanonicalField{FieldGeneSymbol, FieldDescriptor}

// RawRow is one source row keyed by column name
type RawRow map[string]string

// RawBatch is a tabular import extract from a single source
type RawBatch struct {
	SourceID string   `json:"source_id"`
	Columns  []string `json:"columns,omitempty"`
	Rows     []RawRow `json:"rows"`
}

// SchemaMapping declares how a source's columns map onto canonical fields.
// Columns not named in Fields are kept as record extensions.
type SchemaMapping struct {
	Name   string                    `json:"name" yaml:"name"`
	Fields map[CanonicalField]string `json:"fields" yaml:"fields"`

	// VariantColumnPattern reshapes wide rows holding several variants per
	// patient. It must have two groups: the variant slot and the field
	// column name, e.g. `^Variant_(\d+)_(.+)$`.
	VariantColumnPattern string `json:"variant_column_pattern,omitempty" yaml:"variant_column_pattern,omitempty"`

	// SplitTranscript splits "NM_xxx:c.yyy" descriptors into transcript and
	// local descriptor when no transcript column is mapped.
	SplitTranscript bool `json:"split_transcript,omitempty" yaml:"split_transcript,omitempty"`

	// PhenotypeSeparators split the phenotype column; defaults to ";,|".
	PhenotypeSeparators string `json:"phenotype_separators,omitempty" yaml:"phenotype_separators,omitempty"`
}

// Validate checks the mapping eagerly, before any row is read
func (m *SchemaMapping) Validate() error {
	for _, f := range RequiredFields {
		if m.Fields[f] == "" {
			return &SchemaValidationError{Field: string(f), Reason: "has no source column mapped"}
		}
	}

	fields := make([]string, 0, len(m.Fields))
	for f := range m.Fields {
		fields = append(fields, string(f))
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !CanonicalField(f).IsValid() {
			return &SchemaValidationError{Field: f, Reason: "is not a canonical field"}
		}
	}

	if m.VariantColumnPattern != "" {
		re, err := regexp.Compile(m.VariantColumnPattern)
		if err != nil {
			return &SchemaValidationError{Field: "variant_column_pattern", Reason: fmt.Sprintf("does not compile: %v", err)}
		}
		if re.NumSubexp() != 2 {
			return &SchemaValidationError{Field: "variant_column_pattern", Reason: "must have exactly two groups (slot, field)"}
		}
	}
	return nil
}

// Column returns the source column mapped to a canonical field
func (m *SchemaMapping) Column(f CanonicalField) (string, bool) {
	col, ok := m.Fields[f]
	return col, ok && col != ""
}

// MappedColumns returns the set of source columns claimed by the mapping
func (m *SchemaMapping) MappedColumns() map[string]bool {
	cols := make(map[string]bool, len(m.Fields))
	for _, col := range m.Fields {
		if col != "" {
			cols[col] = true
		}
	}
	return cols
}
