// Package hgvs parses HGVS-style variant descriptors into their
// substructure: reference sequence, coordinate system, affected positions
// and change kind. Parsing is syntactic only; reference sequence checks are
// left to the external validator.
package hgvs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phenovariant-server/internal/domain"
)

// Coordinate systems
const (
	CoordinateCoding     = "c"
	CoordinateGenomic    = "g"
	CoordinateNonCoding  = "n"
	CoordinateMito       = "m"
	CoordinateRNA        = "r"
	CoordinateProtein    = "p"
	CoordinateUnassigned = ""
)

// Change kinds
const (
	ChangeSubstitution = "substitution"
	ChangeDeletion     = "deletion"
	ChangeInsertion    = "insertion"
	ChangeDuplication  = "duplication"
	ChangeDelins       = "delins"
	ChangeInversion    = "inversion"
	ChangeFrameshift   = "frameshift"
	ChangeNonsense     = "nonsense"
	ChangeSynonymous   = "synonymous"
	ChangeUnknown      = "unknown"
)

var (
	// NM_007294.4(BRCA1):c.68_69del, chr17:g.43124027_43124028del, ENST00000357654.9:c.68A>G
	referencePattern = regexp.MustCompile(`^((?:[A-Z]{2}_\d+(?:\.\d+)?)|(?:chr[0-9XYM]{1,2})|(?:ENS[TGP]\d{11}(?:\.\d+)?)|(?:LRG_\d+(?:t\d+)?))(?:\(([A-Za-z0-9-]+)\))?:(.+)$`)

	bodyPattern = regexp.MustCompile(`^([cgmnrp])\.(.+)$`)

	positionExpr = `(?:[*\-]?\d+(?:[+\-]\d+)?|\?)`
	rangePrefix  = regexp.MustCompile(`^\(?(` + positionExpr + `)(?:_(` + positionExpr + `))?\)?`)

	substitutionPattern = regexp.MustCompile(`^([ACGTNacgtnu]+)>([ACGTNacgtnu]+)$`)
	delinsPattern       = regexp.MustCompile(`^del([ACGTNacgtn]*|\d*)ins([ACGTNacgtn]+|\d+)$`)
	deletionPattern     = regexp.MustCompile(`^del([ACGTNacgtn]*|\d*)$`)
	insertionPattern    = regexp.MustCompile(`^ins([ACGTNacgtn]+|\d+|\(\d+\))$`)
	duplicationPattern  = regexp.MustCompile(`^dup([ACGTNacgtn]*|\d*)$`)
	inversionPattern    = regexp.MustCompile(`^inv([ACGTNacgtn]*|\d*)$`)

	aminoAcid      = `(?:[A-Z][a-z]{2}|[A-Z*])`
	proteinPattern = regexp.MustCompile(`^(` + aminoAcid + `)(\d+)(?:_(` + aminoAcid + `)(\d+))?(.*)$`)
)

// aminoAcidCodes maps three-letter amino acid codes to one-letter codes.
var aminoAcidCodes = map[string]string{
	"Ala": "A", "Arg": "R", "Asn": "N", "Asp": "D", "Cys": "C",
	"Gln": "Q", "Glu": "E", "Gly": "G", "His": "H", "Ile": "I",
	"Leu": "L", "Lys": "K", "Met": "M", "Phe": "F", "Pro": "P",
	"Ser": "S", "Thr": "T", "Trp": "W", "Tyr": "Y", "Val": "V",
	"Sec": "U", "Pyl": "O", "Ter": "*",
}

// Descriptor is the parsed substructure of a variant descriptor.
type Descriptor struct {
	Raw        string `json:"raw"`
	Reference  string `json:"reference,omitempty"`
	Gene       string `json:"gene,omitempty"`
	Coordinate string `json:"coordinate"`
	Change     string `json:"change"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	RefAllele  string `json:"ref_allele,omitempty"`
	AltAllele  string `json:"alt_allele,omitempty"`
	Predicted  bool   `json:"predicted,omitempty"`
}

// Local returns the descriptor without its reference sequence prefix.
func (d *Descriptor) Local() string {
	if _, local, ok := SplitTranscript(d.Raw); ok {
		return local
	}
	return d.Raw
}

// Parse parses a descriptor such as "NM_007294.4:c.68_69delAG" or the bare
// "c.68_69delAG". Unknown change syntax is not an error; the change kind is
// reported as ChangeUnknown.
func Parse(raw string) (*Descriptor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.NewValidationError("descriptor", "Variant descriptor cannot be empty", raw)
	}

	d := &Descriptor{Raw: raw, Change: ChangeUnknown}
	body := raw
	if m := referencePattern.FindStringSubmatch(raw); m != nil {
		d.Reference = m[1]
		d.Gene = m[2]
		body = m[3]
	}

	m := bodyPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, domain.NewValidationError("descriptor", "Descriptor has no coordinate prefix (c., g., n., m., r. or p.)", raw)
	}
	d.Coordinate = m[1]
	change := m[2]

	if d.Coordinate == CoordinateProtein {
		parseProtein(d, change)
		return d, nil
	}
	if err := parseNucleotide(d, change); err != nil {
		return nil, fmt.Errorf("parsing descriptor %q: %w", raw, err)
	}
	return d, nil
}

func parseNucleotide(d *Descriptor, body string) error {
	loc := rangePrefix.FindStringSubmatch(body)
	if loc == nil {
		return domain.NewValidationError("descriptor", "Descriptor has no position", d.Raw)
	}
	d.Start = loc[1]
	d.End = loc[2]
	rest := body[len(loc[0]):]

	switch {
	case substitutionPattern.MatchString(rest):
		m := substitutionPattern.FindStringSubmatch(rest)
		d.Change = ChangeSubstitution
		d.RefAllele = strings.ToUpper(m[1])
		d.AltAllele = strings.ToUpper(m[2])
	case delinsPattern.MatchString(rest):
		m := delinsPattern.FindStringSubmatch(rest)
		d.Change = ChangeDelins
		d.RefAllele = strings.ToUpper(m[1])
		d.AltAllele = strings.ToUpper(m[2])
	case deletionPattern.MatchString(rest):
		d.Change = ChangeDeletion
		d.RefAllele = strings.ToUpper(deletionPattern.FindStringSubmatch(rest)[1])
	case insertionPattern.MatchString(rest):
		d.Change = ChangeInsertion
		d.AltAllele = strings.ToUpper(insertionPattern.FindStringSubmatch(rest)[1])
	case duplicationPattern.MatchString(rest):
		d.Change = ChangeDuplication
		d.RefAllele = strings.ToUpper(duplicationPattern.FindStringSubmatch(rest)[1])
	case inversionPattern.MatchString(rest):
		d.Change = ChangeInversion
	case strings.HasSuffix(rest, "fs") || strings.Contains(rest, "fs*"):
		d.Change = ChangeFrameshift
	}
	return nil
}

func parseProtein(d *Descriptor, body string) {
	if strings.HasPrefix(body, "(") && strings.HasSuffix(body, ")") {
		d.Predicted = true
		body = body[1 : len(body)-1]
	}
	if body == "=" || body == "0" || body == "?" {
		if body == "=" {
			d.Change = ChangeSynonymous
		}
		return
	}

	m := proteinPattern.FindStringSubmatch(body)
	if m == nil {
		return
	}
	d.RefAllele = oneLetter(m[1])
	d.Start = m[2]
	d.End = m[4]
	rest := m[5]

	switch {
	case strings.Contains(rest, "fs"):
		d.Change = ChangeFrameshift
	case strings.HasPrefix(rest, "delins"):
		d.Change = ChangeDelins
	case strings.HasPrefix(rest, "del"):
		d.Change = ChangeDeletion
	case strings.HasPrefix(rest, "ins"):
		d.Change = ChangeInsertion
	case strings.HasPrefix(rest, "dup"):
		d.Change = ChangeDuplication
	case rest == "=":
		d.Change = ChangeSynonymous
	case rest == "*" || rest == "Ter" || rest == "X":
		d.Change = ChangeNonsense
		d.AltAllele = "*"
	case rest != "":
		if alt := oneLetter(rest); alt != "" {
			d.Change = ChangeSubstitution
			d.AltAllele = alt
		}
	}
}

func oneLetter(code string) string {
	if len(code) == 1 {
		return code
	}
	return aminoAcidCodes[code]
}

// VariantType infers the canonical variant type from the change kind.
func (d *Descriptor) VariantType() domain.VariantType {
	switch d.Change {
	case ChangeSubstitution, ChangeNonsense, ChangeSynonymous:
		if len(d.RefAllele) > 1 || len(d.AltAllele) > 1 {
			return domain.DELINS
		}
		return domain.SNV
	case ChangeDeletion:
		return domain.DELETION
	case ChangeInsertion:
		return domain.INSERTION
	case ChangeDuplication:
		return domain.DUPLICATION
	case ChangeDelins:
		return domain.DELINS
	case ChangeFrameshift:
		return domain.INDEL
	default:
		return domain.UNKNOWN
	}
}

// SplitTranscript splits "NM_007294.4:c.68_69del" into its reference and
// local descriptor. ok is false when raw carries no recognizable reference.
func SplitTranscript(raw string) (reference, local string, ok bool) {
	m := referencePattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", raw, false
	}
	return m[1], m[3], true
}
