package domain

// FilterMode combines the predicates of one tier
type FilterMode string

const (
	MODE_AND FilterMode = "AND"
	MODE_OR  FilterMode = "OR"
)

// FilterOp is a predicate comparison operator
type FilterOp string

const (
	// OP_EQ compares case-insensitively. It is the default.
	OP_EQ FilterOp = "eq"
	// OP_CONTAINS matches a case-insensitive substring.
	OP_CONTAINS FilterOp = "contains"
	// OP_IN matches any of Values.
	OP_IN FilterOp = "in"
)

// Tier-1 (categorical) fields
const (
	FilterGene        = "gene"
	FilterPhenotype   = "phenotype"
	FilterVariantType = "variant_type"
	FilterSolved      = "solved"
)

// Tier-2 (variant-specific) fields
const (
	FilterDescriptor = "descriptor"
	FilterTranscript = "transcript"
	FilterCoordinate = "coordinate"
	FilterChange     = "change"
	FilterValidation = "validation"
	FilterLocation   = "location"
	FilterScope      = "scope"
	FilterSource     = "source"
)

// ValidationNone matches records that were never validated.
const ValidationNone = "NONE"

// Predicate is a single field comparison
type Predicate struct {
	Field  string   `json:"field" yaml:"field"`
	Op     FilterOp `json:"op,omitempty" yaml:"op,omitempty"`
	Value  string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	Negate bool     `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// FilterTier is a predicate set combined with one boolean mode. An empty
// tier matches every record.
type FilterTier struct {
	Mode       FilterMode  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Predicates []Predicate `json:"predicates,omitempty" yaml:"predicates,omitempty"`
}

// FilterExpression is a two-tier query; the tiers are AND-ed together
type FilterExpression struct {
	Tier1 FilterTier `json:"tier1" yaml:"tier1"`
	Tier2 FilterTier `json:"tier2" yaml:"tier2"`

	// ExpandDescendants makes a phenotype predicate also match records
	// annotated with any more specific concept.
	ExpandDescendants bool `json:"expand_descendants,omitempty" yaml:"expand_descendants,omitempty"`

	Limit  int `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset int `json:"offset,omitempty" yaml:"offset,omitempty"`
}
