package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/pkg/hgvs"
	"github.com/phenovariant-server/pkg/ontology"
)

// QueryEngine evaluates two-tier filter expressions over record sets. It
// never mutates the records it reads.
type QueryEngine struct {
	logger *logrus.Logger
}

// NewQueryEngine creates a new query engine
func NewQueryEngine(logger *logrus.Logger) *QueryEngine {
	return &QueryEngine{logger: logger}
}

// recordView wraps a record with its lazily parsed descriptor.
type recordView struct {
	rec    *domain.VariantRecord
	parsed *hgvs.Descriptor
	tried  bool
}

func (v *recordView) descriptor() *hgvs.Descriptor {
	if !v.tried {
		v.tried = true
		v.parsed, _ = hgvs.Parse(v.rec.Descriptor)
	}
	return v.parsed
}

type matcher func(v *recordView) bool

type compiledTier struct {
	mode  domain.FilterMode
	preds []matcher
}

func (t compiledTier) match(v *recordView) bool {
	if len(t.preds) == 0 {
		return true
	}
	if t.mode == domain.MODE_OR {
		for _, p := range t.preds {
			if p(v) {
				return true
			}
		}
		return false
	}
	for _, p := range t.preds {
		if !p(v) {
			return false
		}
	}
	return true
}

type compileContext struct {
	tier   int
	expand bool
	index  *ontology.Index
}

type fieldCompiler func(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error)

var tierFields = map[int]map[string]fieldCompiler{
	1: {
		domain.FilterGene:        textField(func(r *domain.VariantRecord) string { return r.GeneSymbol }),
		domain.FilterPhenotype:   compilePhenotype,
		domain.FilterVariantType: compileVariantType,
		domain.FilterSolved:      compileSolved,
	},
	2: {
		domain.FilterDescriptor: textField(func(r *domain.VariantRecord) string { return r.Descriptor }),
		domain.FilterTranscript: textField(func(r *domain.VariantRecord) string { return r.Transcript }),
		domain.FilterLocation:   textField(func(r *domain.VariantRecord) string { return r.Provenance.Location.Name }),
		domain.FilterScope:      textField(func(r *domain.VariantRecord) string { return r.Provenance.Location.Scope }),
		domain.FilterSource:     textField(func(r *domain.VariantRecord) string { return r.Provenance.SourceID }),
		domain.FilterCoordinate: compileCoordinate,
		domain.FilterChange:     compileChange,
		domain.FilterValidation: compileValidation,
	},
}

// Filter returns the records matching both tiers, in input order. Limit and
// Offset apply after filtering. The returned records share backing arrays
// with the input and must be treated as read-only.
func (q *QueryEngine) Filter(records []domain.VariantRecord, expr domain.FilterExpression, ix *ontology.Index) ([]domain.VariantRecord, error) {
	tier1, tier2, err := compileExpression(expr, ix)
	if err != nil {
		return nil, err
	}

	out := []domain.VariantRecord{}
	skipped := 0
	for i := range records {
		v := recordView{rec: &records[i]}
		if !tier1.match(&v) || !tier2.match(&v) {
			continue
		}
		if skipped < expr.Offset {
			skipped++
			continue
		}
		out = append(out, records[i])
		if expr.Limit > 0 && len(out) >= expr.Limit {
			break
		}
	}

	q.logger.WithFields(logrus.Fields{
		"records":  len(records),
		"matched":  len(out),
		"tier1":    len(expr.Tier1.Predicates),
		"tier2":    len(expr.Tier2.Predicates),
		"expanded": expr.ExpandDescendants,
	}).Debug("Filtered records")

	return out, nil
}

// Validate checks an expression without evaluating it.
func (q *QueryEngine) Validate(expr domain.FilterExpression, ix *ontology.Index) error {
	_, _, err := compileExpression(expr, ix)
	return err
}

func compileExpression(expr domain.FilterExpression, ix *ontology.Index) (compiledTier, compiledTier, error) {
	if expr.Limit < 0 || expr.Offset < 0 {
		return compiledTier{}, compiledTier{}, &domain.InvalidFilterExpressionError{Reason: "limit and offset must not be negative"}
	}
	tier1, err := compileTier(expr.Tier1, compileContext{tier: 1, expand: expr.ExpandDescendants, index: ix})
	if err != nil {
		return compiledTier{}, compiledTier{}, err
	}
	tier2, err := compileTier(expr.Tier2, compileContext{tier: 2, expand: expr.ExpandDescendants, index: ix})
	if err != nil {
		return compiledTier{}, compiledTier{}, err
	}
	return tier1, tier2, nil
}

func compileTier(t domain.FilterTier, cc compileContext) (compiledTier, error) {
	mode := domain.FilterMode(strings.ToUpper(strings.TrimSpace(string(t.Mode))))
	if mode == "" {
		mode = domain.MODE_AND
	}
	if mode != domain.MODE_AND && mode != domain.MODE_OR {
		return compiledTier{}, &domain.InvalidFilterExpressionError{Tier: cc.tier, Reason: fmt.Sprintf("unknown mode %q", t.Mode)}
	}
	if len(t.Predicates) == 0 && mode != domain.MODE_AND {
		return compiledTier{}, &domain.InvalidFilterExpressionError{Tier: cc.tier, Reason: "an empty tier only accepts the identity mode AND"}
	}

	compiled := compiledTier{mode: mode, preds: make([]matcher, 0, len(t.Predicates))}
	fields := tierFields[cc.tier]
	for _, p := range t.Predicates {
		field := strings.ToLower(strings.TrimSpace(p.Field))
		compile, ok := fields[field]
		if !ok {
			return compiledTier{}, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: "unknown field"}
		}
		op, values, err := predicateValues(p, cc.tier)
		if err != nil {
			return compiledTier{}, err
		}
		m, err := compile(p, op, values, cc)
		if err != nil {
			return compiledTier{}, err
		}
		if p.Negate {
			inner := m
			m = func(v *recordView) bool { return !inner(v) }
		}
		compiled.preds = append(compiled.preds, m)
	}
	return compiled, nil
}

func predicateValues(p domain.Predicate, tier int) (domain.FilterOp, []string, error) {
	op := domain.FilterOp(strings.ToLower(string(p.Op)))
	if op == "" {
		op = domain.OP_EQ
	}

	var values []string
	switch op {
	case domain.OP_EQ, domain.OP_CONTAINS:
		if v := strings.TrimSpace(p.Value); v != "" {
			values = []string{v}
		}
	case domain.OP_IN:
		for _, v := range append([]string{p.Value}, p.Values...) {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
	default:
		return "", nil, &domain.InvalidFilterExpressionError{Tier: tier, Field: p.Field, Reason: fmt.Sprintf("unknown operator %q", p.Op)}
	}
	if len(values) == 0 {
		return "", nil, &domain.InvalidFilterExpressionError{Tier: tier, Field: p.Field, Reason: fmt.Sprintf("operator %s needs a value", op)}
	}
	return op, values, nil
}

func requireOps(p domain.Predicate, op domain.FilterOp, tier int, allowed ...domain.FilterOp) error {
	for _, a := range allowed {
		if op == a {
			return nil
		}
	}
	return &domain.InvalidFilterExpressionError{Tier: tier, Field: p.Field, Reason: fmt.Sprintf("operator %s is not supported for this field", op)}
}

func matchText(op domain.FilterOp, values []string, actual string) bool {
	if op == domain.OP_CONTAINS {
		actual = strings.ToLower(actual)
		for _, v := range values {
			if strings.Contains(actual, strings.ToLower(v)) {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if strings.EqualFold(actual, v) {
			return true
		}
	}
	return false
}

func textField(get func(r *domain.VariantRecord) string) fieldCompiler {
	return func(_ domain.Predicate, op domain.FilterOp, values []string, _ compileContext) (matcher, error) {
		return func(v *recordView) bool { return matchText(op, values, get(v.rec)) }, nil
	}
}

func compilePhenotype(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error) {
	if err := requireOps(p, op, cc.tier, domain.OP_EQ, domain.OP_IN); err != nil {
		return nil, err
	}
	if cc.expand && cc.index == nil {
		return nil, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: "descendant expansion needs an ontology index"}
	}

	targets := make(map[string]bool)
	for _, v := range values {
		id := strings.ToUpper(v)
		if cc.index != nil {
			if primary, ok := cc.index.Resolve(id); ok {
				id = primary
			}
		}
		targets[id] = true
		if cc.expand {
			for _, d := range cc.index.Descendants(id) {
				targets[d] = true
			}
		}
	}
	return func(v *recordView) bool {
		for _, id := range v.rec.PhenotypeIDs {
			if targets[id] {
				return true
			}
			// Records may carry an alt id of a targeted concept.
			if cc.index != nil {
				if primary, ok := cc.index.Resolve(strings.ToUpper(id)); ok && targets[primary] {
					return true
				}
			}
		}
		return false
	}, nil
}

func compileVariantType(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error) {
	if err := requireOps(p, op, cc.tier, domain.OP_EQ, domain.OP_IN); err != nil {
		return nil, err
	}
	wanted := make(map[domain.VariantType]bool, len(values))
	for _, v := range values {
		vt, err := domain.ParseVariantType(v)
		if err != nil {
			return nil, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: fmt.Sprintf("unknown variant type %q", v)}
		}
		wanted[vt] = true
	}
	return func(v *recordView) bool { return wanted[v.rec.VariantType] }, nil
}

func compileSolved(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error) {
	if err := requireOps(p, op, cc.tier, domain.OP_EQ, domain.OP_IN); err != nil {
		return nil, err
	}
	wanted := make(map[domain.SolvedStatus]bool, len(values))
	for _, v := range values {
		status, err := domain.ParseSolvedStatus(v)
		if err != nil {
			return nil, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: fmt.Sprintf("unknown solved status %q", v)}
		}
		wanted[status] = true
	}
	return func(v *recordView) bool { return wanted[v.rec.Solved] }, nil
}

func compileCoordinate(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error) {
	if err := requireOps(p, op, cc.tier, domain.OP_EQ, domain.OP_IN); err != nil {
		return nil, err
	}
	for _, v := range values {
		switch strings.ToLower(strings.TrimSuffix(v, ".")) {
		case hgvs.CoordinateCoding, hgvs.CoordinateGenomic, hgvs.CoordinateNonCoding,
			hgvs.CoordinateMito, hgvs.CoordinateRNA, hgvs.CoordinateProtein:
		default:
			return nil, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: fmt.Sprintf("unknown coordinate system %q", v)}
		}
	}
	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSuffix(v, ".")
	}
	return func(v *recordView) bool {
		d := v.descriptor()
		return d != nil && matchText(domain.OP_EQ, trimmed, d.Coordinate)
	}, nil
}

var knownChanges = map[string]bool{
	hgvs.ChangeSubstitution: true, hgvs.ChangeDeletion: true, hgvs.ChangeInsertion: true,
	hgvs.ChangeDuplication: true, hgvs.ChangeDelins: true, hgvs.ChangeInversion: true,
	hgvs.ChangeFrameshift: true, hgvs.ChangeNonsense: true, hgvs.ChangeSynonymous: true,
	hgvs.ChangeUnknown: true,
}

func compileChange(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error) {
	if err := requireOps(p, op, cc.tier, domain.OP_EQ, domain.OP_IN); err != nil {
		return nil, err
	}
	for _, v := range values {
		if !knownChanges[strings.ToLower(v)] {
			return nil, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: fmt.Sprintf("unknown change kind %q", v)}
		}
	}
	return func(v *recordView) bool {
		change := hgvs.ChangeUnknown
		if d := v.descriptor(); d != nil {
			change = d.Change
		}
		return matchText(domain.OP_EQ, values, change)
	}, nil
}

func compileValidation(p domain.Predicate, op domain.FilterOp, values []string, cc compileContext) (matcher, error) {
	if err := requireOps(p, op, cc.tier, domain.OP_EQ, domain.OP_IN); err != nil {
		return nil, err
	}
	for _, v := range values {
		state := strings.ToUpper(v)
		if state != domain.ValidationNone && !domain.ValidationState(state).IsValid() {
			return nil, &domain.InvalidFilterExpressionError{Tier: cc.tier, Field: p.Field, Reason: fmt.Sprintf("unknown validation state %q", v)}
		}
	}
	return func(v *recordView) bool {
		state := domain.ValidationNone
		if v.rec.Validation != nil {
			state = string(v.rec.Validation.State)
		}
		return matchText(domain.OP_EQ, values, state)
	}, nil
}
