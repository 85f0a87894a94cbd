// Package ontology builds a read-only lookup index over a phenotype ontology
// snapshot: a normalized phrase map for labels and synonyms, a token
// inverted index for narrowing candidate spans, and memoized closure
// traversal over the is_a hierarchy.
package ontology

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/phenovariant-server/internal/domain"
)

// WarningKind classifies a non-fatal issue found while building an index.
type WarningKind string

const (
	WarningAmbiguousSynonym WarningKind = "ambiguous_synonym"
	WarningDanglingParent   WarningKind = "dangling_parent"
	WarningDuplicateAltID   WarningKind = "duplicate_alt_id"
)

// Warning is a non-fatal build issue.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	ConceptID string      `json:"concept_id"`
	Detail    string      `json:"detail"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %s", w.Kind, w.ConceptID, w.Detail)
}

// term is one matchable surface form of a concept.
type term struct {
	concept int
	class   domain.MatchClass
	words   []string
}

// Index is immutable after Build and safe for concurrent use.
type Index struct {
	version  string
	nodes    []Concept
	byID     map[string]int
	altIDs   map[string]string
	children [][]int
	parents  [][]int

	terms    []term
	phrases  map[string][]int
	bags     map[string][]int
	postings map[string][]int
	maxWords int

	warnings []Warning

	ancestors   sync.Map
	descendants sync.Map
}

// Build validates a snapshot and derives its index. Concepts missing an id
// or label fail with a MalformedSnapshotError, repeated ids with a
// DuplicateIdentifierError. Parents that name unknown concepts are dropped
// and reported through Warnings.
func Build(snap *Snapshot) (*Index, error) {
	if snap == nil {
		return nil, &domain.MalformedSnapshotError{Field: "snapshot", Reason: "is nil"}
	}

	ix := &Index{
		version:  snap.Version,
		nodes:    make([]Concept, 0, len(snap.Concepts)),
		byID:     make(map[string]int, len(snap.Concepts)),
		altIDs:   make(map[string]string),
		phrases:  make(map[string][]int),
		bags:     make(map[string][]int),
		postings: make(map[string][]int),
	}

	for pos, c := range snap.Concepts {
		if c.ID == "" {
			return nil, &domain.MalformedSnapshotError{Line: lineOf(c, pos), Field: "id", Reason: "is required"}
		}
		if c.Label == "" {
			return nil, &domain.MalformedSnapshotError{Line: lineOf(c, pos), TermID: c.ID, Field: "name", Reason: "is required"}
		}
		if _, dup := ix.byID[c.ID]; dup {
			return nil, &domain.DuplicateIdentifierError{ID: c.ID}
		}
		c.Synonyms = slices.Clone(c.Synonyms)
		c.Parents = slices.Clone(c.Parents)
		c.AltIDs = slices.Clone(c.AltIDs)
		ix.byID[c.ID] = len(ix.nodes)
		ix.nodes = append(ix.nodes, c)
	}

	ix.linkHierarchy()
	ix.indexAltIDs()
	ix.indexTerms()
	return ix, nil
}

func lineOf(c Concept, pos int) int {
	if c.Line > 0 {
		return c.Line
	}
	return pos + 1
}

func (ix *Index) linkHierarchy() {
	ix.parents = make([][]int, len(ix.nodes))
	ix.children = make([][]int, len(ix.nodes))
	for i := range ix.nodes {
		seen := make(map[int]bool, len(ix.nodes[i].Parents))
		kept := ix.nodes[i].Parents[:0]
		for _, pid := range ix.nodes[i].Parents {
			p, ok := ix.byID[pid]
			if !ok {
				ix.warnings = append(ix.warnings, Warning{
					Kind:      WarningDanglingParent,
					ConceptID: ix.nodes[i].ID,
					Detail:    fmt.Sprintf("parent %s is not in the snapshot", pid),
				})
				continue
			}
			if p == i || seen[p] {
				continue
			}
			seen[p] = true
			kept = append(kept, pid)
			ix.parents[i] = append(ix.parents[i], p)
			ix.children[p] = append(ix.children[p], i)
		}
		ix.nodes[i].Parents = kept
	}
}

func (ix *Index) indexAltIDs() {
	for i := range ix.nodes {
		for _, alt := range ix.nodes[i].AltIDs {
			if _, primary := ix.byID[alt]; primary {
				continue
			}
			if owner, taken := ix.altIDs[alt]; taken && owner != ix.nodes[i].ID {
				ix.warnings = append(ix.warnings, Warning{
					Kind:      WarningDuplicateAltID,
					ConceptID: ix.nodes[i].ID,
					Detail:    fmt.Sprintf("alt_id %s already belongs to %s", alt, owner),
				})
				continue
			}
			ix.altIDs[alt] = ix.nodes[i].ID
		}
	}
}

func (ix *Index) indexTerms() {
	for i := range ix.nodes {
		own := make(map[string]bool, 1+len(ix.nodes[i].Synonyms))
		ix.addTerm(i, ix.nodes[i].Label, domain.MATCH_EXACT, own)
		for _, syn := range ix.nodes[i].Synonyms {
			ix.addTerm(i, syn, domain.MATCH_SYNONYM, own)
		}
	}

	keys := make([]string, 0, len(ix.phrases))
	for phrase, entries := range ix.phrases {
		// Labels outrank synonyms; load order breaks remaining ties.
		sort.SliceStable(entries, func(a, b int) bool {
			return classRank(ix.terms[entries[a]].class) < classRank(ix.terms[entries[b]].class)
		})
		keys = append(keys, phrase)
	}
	sort.Strings(keys)
	for _, phrase := range keys {
		entries := ix.phrases[phrase]
		winner := ix.terms[entries[0]].concept
		for _, e := range entries[1:] {
			if loser := ix.terms[e].concept; loser != winner {
				ix.warnings = append(ix.warnings, Warning{
					Kind:      WarningAmbiguousSynonym,
					ConceptID: ix.nodes[loser].ID,
					Detail:    fmt.Sprintf("%q resolves to %s", phrase, ix.nodes[winner].ID),
				})
			}
		}
	}
}

func (ix *Index) addTerm(concept int, surface string, class domain.MatchClass, own map[string]bool) {
	phrase := Normalize(surface)
	if phrase == "" || own[phrase] {
		return
	}
	own[phrase] = true

	tokens := Tokenize(phrase)
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}

	id := len(ix.terms)
	ix.terms = append(ix.terms, term{concept: concept, class: class, words: words})
	ix.phrases[phrase] = append(ix.phrases[phrase], id)
	if len(words) > 1 {
		key := bagKey(words)
		ix.bags[key] = append(ix.bags[key], id)
	}
	for _, w := range uniqueWords(words) {
		ix.postings[w] = append(ix.postings[w], id)
	}
	if len(words) > ix.maxWords {
		ix.maxWords = len(words)
	}
}

func uniqueWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

func classRank(c domain.MatchClass) int {
	switch c {
	case domain.MATCH_EXACT:
		return 0
	case domain.MATCH_SYNONYM:
		return 1
	default:
		return 2
	}
}

// Version returns the snapshot identifier the index was built from.
func (ix *Index) Version() string { return ix.version }

// Len returns the number of concepts, obsolete ones included.
func (ix *Index) Len() int { return len(ix.nodes) }

// MaxTermWords returns the token length of the longest label or synonym.
func (ix *Index) MaxTermWords() int { return ix.maxWords }

// Warnings returns the non-fatal issues recorded during Build.
func (ix *Index) Warnings() []Warning { return slices.Clone(ix.warnings) }

// Concept returns the concept with the given primary id.
func (ix *Index) Concept(id string) (*Concept, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return nil, false
	}
	return &ix.nodes[i], true
}

// Resolve maps a primary or alternate id to its primary id.
func (ix *Index) Resolve(id string) (string, bool) {
	if _, ok := ix.byID[id]; ok {
		return id, true
	}
	primary, ok := ix.altIDs[id]
	return primary, ok
}

// All yields concepts in snapshot order.
func (ix *Index) All() iter.Seq[*Concept] {
	return func(yield func(*Concept) bool) {
		for i := range ix.nodes {
			if !yield(&ix.nodes[i]) {
				return
			}
		}
	}
}

// LookupExact resolves a normalized phrase to the concept whose label or
// synonym it is. Labels win over synonyms, then the first loaded concept.
func (ix *Index) LookupExact(normalized string) (*Concept, bool) {
	entries := ix.phrases[normalized]
	if len(entries) == 0 {
		return nil, false
	}
	return &ix.nodes[ix.terms[entries[0]].concept], true
}

// Ancestors returns the ids of every concept reachable through parent
// edges, excluding id itself, sorted.
func (ix *Index) Ancestors(id string) []string {
	return ix.closure(id, &ix.ancestors, ix.parents)
}

// Descendants returns the ids of every concept reachable through child
// edges, excluding id itself, sorted.
func (ix *Index) Descendants(id string) []string {
	return ix.closure(id, &ix.descendants, ix.children)
}

// IsA reports whether id equals ancestor or is one of its descendants.
func (ix *Index) IsA(id, ancestor string) bool {
	if id == ancestor {
		return true
	}
	_, found := slices.BinarySearch(ix.Ancestors(id), ancestor)
	return found
}

func (ix *Index) closure(id string, memo *sync.Map, edges [][]int) []string {
	if cached, ok := memo.Load(id); ok {
		return slices.Clone(cached.([]string))
	}
	start, ok := ix.byID[id]
	if !ok {
		return nil
	}

	visited := map[int]bool{start: true}
	queue := []int{start}
	var out []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range edges[n] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, ix.nodes[next].ID)
			queue = append(queue, next)
		}
	}
	sort.Strings(out)

	actual, _ := memo.LoadOrStore(id, out)
	return slices.Clone(actual.([]string))
}
