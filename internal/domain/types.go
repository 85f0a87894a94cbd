// Package domain contains the core business entities for harmonizing genetic
// variant records from heterogeneous clinical sources and annotating them with
// phenotype concepts from the Human Phenotype Ontology (HPO).
//
// Reference: Köhler et al. (2021) The Human Phenotype Ontology in 2021.
// Nucleic Acids Res. 49(D1):D1207-D1217. doi: 10.1093/nar/gkaa1043
package domain

import (
	"errors"
	"strings"
)

// VariantType represents the structural class of a genetic variant.
type VariantType string

const (
	SNV         VariantType = "SNV"
	INDEL       VariantType = "INDEL"
	DELETION    VariantType = "DELETION"
	INSERTION   VariantType = "INSERTION"
	DUPLICATION VariantType = "DUPLICATION"
	DELINS      VariantType = "DELINS"
	CNV         VariantType = "CNV"
	UNKNOWN     VariantType = "UNKNOWN"
)

// SolvedStatus represents whether a case has a molecular diagnosis.
// Sources disagree on vocabulary, so harmonization maps them onto three states.
type SolvedStatus string

const (
	SOLVED         SolvedStatus = "SOLVED"
	UNSOLVED       SolvedStatus = "UNSOLVED"
	SOLVED_UNKNOWN SolvedStatus = "UNKNOWN"
)

// MatchClass represents how a recognized concept was matched in text.
type MatchClass string

const (
	MATCH_EXACT   MatchClass = "exact"
	MATCH_SYNONYM MatchClass = "synonym"
	MATCH_PARTIAL MatchClass = "partial"
)

// ValidationState represents the outcome of external nomenclature validation.
type ValidationState string

const (
	VALIDATION_VALID       ValidationState = "VALID"
	VALIDATION_REJECTED    ValidationState = "REJECTED"
	VALIDATION_UNAVAILABLE ValidationState = "UNAVAILABLE"
	VALIDATION_PENDING     ValidationState = "PENDING"
)

// Validation errors for enumerated values
var (
	ErrInvalidVariantType  = errors.New("invalid variant type")
	ErrInvalidSolvedStatus = errors.New("invalid solved status")
)

// IsValid validates the variant type.
func (vt VariantType) IsValid() bool {
	switch vt {
	case SNV, INDEL, DELETION, INSERTION, DUPLICATION, DELINS, CNV, UNKNOWN:
		return true
	default:
		return false
	}
}

// String returns the string representation of the variant type.
func (vt VariantType) String() string {
	return string(vt)
}

// IsValid validates the solved status.
func (s SolvedStatus) IsValid() bool {
	switch s {
	case SOLVED, UNSOLVED, SOLVED_UNKNOWN:
		return true
	default:
		return false
	}
}

// IsValid validates the validation state.
func (v ValidationState) IsValid() bool {
	switch v {
	case VALIDATION_VALID, VALIDATION_REJECTED, VALIDATION_UNAVAILABLE, VALIDATION_PENDING:
		return true
	default:
		return false
	}
}

// Retryable reports whether a record in this state should be sent to the
// validator again. Rejections are final for the descriptor as written.
func (v ValidationState) Retryable() bool {
	return v == VALIDATION_UNAVAILABLE || v == VALIDATION_PENDING
}

// variantTypeVocabulary maps source spellings onto canonical variant types.
var variantTypeVocabulary = map[string]VariantType{
	"snv":                   SNV,
	"snp":                   SNV,
	"substitution":          SNV,
	"missense":              SNV,
	"nonsense":              SNV,
	"point mutation":        SNV,
	"indel":                 INDEL,
	"frameshift":            INDEL,
	"del":                   DELETION,
	"deletion":              DELETION,
	"ins":                   INSERTION,
	"insertion":             INSERTION,
	"dup":                   DUPLICATION,
	"duplication":           DUPLICATION,
	"delins":                DELINS,
	"cnv":                   CNV,
	"copy number variant":   CNV,
	"copy number variation": CNV,
	"unknown":               UNKNOWN,
}

// ParseVariantType maps a free-form source value onto a canonical variant type.
func ParseVariantType(raw string) (VariantType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return UNKNOWN, nil
	}
	if vt, ok := variantTypeVocabulary[key]; ok {
		return vt, nil
	}
	if vt := VariantType(strings.ToUpper(key)); vt.IsValid() {
		return vt, nil
	}
	return UNKNOWN, ErrInvalidVariantType
}

// ParseSolvedStatus maps a free-form source value onto a solved status.
// Lab spreadsheets use "AUTO STATUS"/"Result" columns with
// values such as "Solved", "Positive", "Negative" and "VUS".
func ParseSolvedStatus(raw string) (SolvedStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "solved", "yes", "y", "true", "1", "positive", "diagnosed":
		return SOLVED, nil
	case "unsolved", "no", "n", "false", "0", "negative", "not solved":
		return UNSOLVED, nil
	case "", "unknown", "vus", "uncertain", "partially solved", "nan":
		return SOLVED_UNKNOWN, nil
	default:
		return SOLVED_UNKNOWN, ErrInvalidSolvedStatus
	}
}
