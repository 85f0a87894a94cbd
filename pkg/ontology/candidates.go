package ontology

import "github.com/phenovariant-server/internal/domain"

// DefaultMaxWindow is the longest token window tried when none is given.
const DefaultMaxWindow = 6

// CandidateOptions controls which windows produce candidates.
type CandidateOptions struct {
	MaxWindow       int
	IncludeObsolete bool
	AllowPartial    bool
}

// Candidate is a concept hit over the token window [Start, End).
type Candidate struct {
	Start     int
	End       int
	ConceptID string
	Class     domain.MatchClass
}

// Len returns the window size in tokens.
func (c Candidate) Len() int { return c.End - c.Start }

// CandidatesAt returns at most one candidate per window length for windows
// starting at token i, shortest first. Extension stops at the first token
// that no label or synonym contains.
func (ix *Index) CandidatesAt(tokens []Token, i int, opts CandidateOptions) []Candidate {
	limit := opts.MaxWindow
	if limit <= 0 {
		limit = DefaultMaxWindow
	}
	limit = min(limit, ix.maxWords, len(tokens)-i)

	var out []Candidate
	words := make([]string, 0, limit)
	allStop := true
	for n := 1; n <= limit; n++ {
		tok := tokens[i+n-1].Text
		if _, known := ix.postings[tok]; !known {
			break
		}
		words = append(words, tok)
		allStop = allStop && IsStopword(tok)
		if allStop {
			continue
		}

		phrase := joinTokens(tokens[i : i+n])
		if t, ok := ix.eligible(ix.phrases[phrase], opts.IncludeObsolete); ok {
			out = append(out, Candidate{Start: i, End: i + n, ConceptID: ix.nodes[t.concept].ID, Class: t.class})
			continue
		}
		if opts.AllowPartial && n > 1 {
			if t, ok := ix.eligible(ix.bags[bagKey(words)], opts.IncludeObsolete); ok {
				out = append(out, Candidate{Start: i, End: i + n, ConceptID: ix.nodes[t.concept].ID, Class: domain.MATCH_PARTIAL})
			}
		}
	}
	return out
}

// Candidates returns every candidate over the token sequence ordered by
// start token then window length.
func (ix *Index) Candidates(tokens []Token, opts CandidateOptions) []Candidate {
	var out []Candidate
	for i := range tokens {
		out = append(out, ix.CandidatesAt(tokens, i, opts)...)
	}
	return out
}

func (ix *Index) eligible(entries []int, includeObsolete bool) (term, bool) {
	for _, e := range entries {
		t := ix.terms[e]
		if includeObsolete || !ix.nodes[t.concept].Obsolete {
			return t, true
		}
	}
	return term{}, false
}
