package service

import (
	"iter"
	"sort"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/pkg/ontology"
)

// RecognizeOptions controls concept recognition
type RecognizeOptions struct {
	MaxWindow       int  `json:"max_window,omitempty"`
	AllowPartial    bool `json:"allow_partial,omitempty"`
	IncludeObsolete bool `json:"include_obsolete,omitempty"`
	WithAncestors   bool `json:"with_ancestors,omitempty"`
}

// DefaultRecognizeOptions returns the options used when none are configured
func DefaultRecognizeOptions() RecognizeOptions {
	return RecognizeOptions{MaxWindow: ontology.DefaultMaxWindow}
}

// ConceptRecognizer finds ontology concepts in free text. It holds no state
// across calls; the index is passed to every call.
type ConceptRecognizer struct {
	opts RecognizeOptions
}

// NewConceptRecognizer creates a new concept recognizer
func NewConceptRecognizer(opts RecognizeOptions) *ConceptRecognizer {
	if opts.MaxWindow <= 0 {
		opts.MaxWindow = ontology.DefaultMaxWindow
	}
	return &ConceptRecognizer{opts: opts}
}

// Options returns the recognizer options
func (r *ConceptRecognizer) Options() RecognizeOptions {
	return r.opts
}

// WithOptions returns a recognizer with different options
func (r *ConceptRecognizer) WithOptions(opts RecognizeOptions) *ConceptRecognizer {
	return NewConceptRecognizer(opts)
}

// Scan yields non-overlapping matches in text order. Overlapping
// candidates are resolved longest span first, then label over synonym over
// partial, then leftmost. Candidates are grouped into runs of mutually
// overlapping windows, and each run is resolved and yielded as soon as the
// scan passes its end.
func (r *ConceptRecognizer) Scan(text string, ix *ontology.Index) iter.Seq[domain.ConceptMatch] {
	return func(yield func(domain.ConceptMatch) bool) {
		if ix == nil || text == "" {
			return
		}
		tokens := ontology.Tokenize(text)
		copts := ontology.CandidateOptions{
			MaxWindow:       r.opts.MaxWindow,
			IncludeObsolete: r.opts.IncludeObsolete,
			AllowPartial:    r.opts.AllowPartial,
		}

		var run []ontology.Candidate
		runEnd := 0
		flush := func() bool {
			for _, c := range resolveOverlaps(run) {
				if !yield(r.toMatch(text, tokens, c, ix)) {
					return false
				}
			}
			run = run[:0]
			return true
		}

		for i := range tokens {
			if len(run) > 0 && i >= runEnd {
				if !flush() {
					return
				}
			}
			for _, c := range ix.CandidatesAt(tokens, i, copts) {
				run = append(run, c)
				runEnd = max(runEnd, c.End)
			}
		}
		flush()
	}
}

// Recognize collects Scan into a slice. Empty text or text without any
// recognizable phrase yields an empty, non-nil slice.
func (r *ConceptRecognizer) Recognize(text string, ix *ontology.Index) []domain.ConceptMatch {
	matches := []domain.ConceptMatch{}
	for m := range r.Scan(text, ix) {
		matches = append(matches, m)
	}
	return matches
}

func (r *ConceptRecognizer) toMatch(text string, tokens []ontology.Token, c ontology.Candidate, ix *ontology.Index) domain.ConceptMatch {
	start := tokens[c.Start].Start
	end := tokens[c.End-1].End
	m := domain.ConceptMatch{
		Start:     start,
		End:       end,
		Text:      text[start:end],
		ConceptID: c.ConceptID,
		Class:     c.Class,
	}
	if concept, ok := ix.Concept(c.ConceptID); ok {
		m.Label = concept.Label
	}
	if r.opts.WithAncestors {
		m.Ancestors = ix.Ancestors(c.ConceptID)
	}
	return m
}

// resolveOverlaps picks a non-overlapping subset of a run of candidates and
// returns it ordered by position.
func resolveOverlaps(run []ontology.Candidate) []ontology.Candidate {
	if len(run) == 0 {
		return nil
	}
	ranked := make([]ontology.Candidate, len(run))
	copy(ranked, run)
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Len() != ranked[b].Len() {
			return ranked[a].Len() > ranked[b].Len()
		}
		if ca, cb := matchRank(ranked[a].Class), matchRank(ranked[b].Class); ca != cb {
			return ca < cb
		}
		return ranked[a].Start < ranked[b].Start
	})

	var picked []ontology.Candidate
	for _, c := range ranked {
		free := true
		for _, p := range picked {
			if c.Start < p.End && p.Start < c.End {
				free = false
				break
			}
		}
		if free {
			picked = append(picked, c)
		}
	}
	sort.Slice(picked, func(a, b int) bool { return picked[a].Start < picked[b].Start })
	return picked
}

func matchRank(c domain.MatchClass) int {
	switch c {
	case domain.MATCH_EXACT:
		return 0
	case domain.MATCH_SYNONYM:
		return 1
	default:
		return 2
	}
}
