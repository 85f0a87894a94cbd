package hgvs

import (
	"regexp"
	"strings"

	"github.com/phenovariant-server/internal/domain"
)

var (
	// HGNC symbols: uppercase letters, digits, hyphens; C1orf-style symbols
	// are compared after uppercasing.
	geneSymbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9-]*(@)?$`)

	refSeqTranscriptPattern  = regexp.MustCompile(`^(NM_|NR_|XM_|XR_)\d+\.\d+$`)
	ensemblTranscriptPattern = regexp.MustCompile(`^ENST\d{11}\.\d+$`)
	lrgTranscriptPattern     = regexp.MustCompile(`^LRG_\d+t\d+$`)
)

// NormalizeGeneSymbol trims and uppercases a gene symbol. The normalized
// symbol is always returned; the error reports HGNC naming violations so
// callers can warn without dropping the value.
func NormalizeGeneSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return "", domain.NewValidationError("gene_symbol", "Gene symbol cannot be empty", raw)
	}

	if !geneSymbolPattern.MatchString(symbol) {
		return symbol, domain.NewValidationError("gene_symbol",
			"Gene symbol must follow HUGO nomenclature standards (letters, numbers, and hyphens only)",
			raw)
	}
	if strings.HasSuffix(symbol, "-") || strings.Contains(symbol, "--") {
		return symbol, domain.NewValidationError("gene_symbol",
			"Gene symbol cannot end with or repeat hyphens",
			raw)
	}
	if len(symbol) > 15 {
		return symbol, domain.NewValidationError("gene_symbol",
			"Gene symbol should not exceed 15 characters",
			raw)
	}
	return symbol, nil
}

// IsTranscriptID reports whether s is a versioned RefSeq, Ensembl or LRG
// transcript identifier.
func IsTranscriptID(s string) bool {
	s = strings.TrimSpace(s)
	return refSeqTranscriptPattern.MatchString(s) ||
		ensemblTranscriptPattern.MatchString(s) ||
		lrgTranscriptPattern.MatchString(s)
}

// ValidateTranscript validates transcript IDs from RefSeq, Ensembl or LRG
func ValidateTranscript(transcript string) error {
	if transcript == "" {
		return nil
	}
	if !IsTranscriptID(transcript) {
		return domain.NewValidationError("transcript",
			"Transcript ID must be a valid RefSeq (NM_/NR_/XM_/XR_), Ensembl (ENST) or LRG identifier",
			transcript)
	}
	return nil
}
