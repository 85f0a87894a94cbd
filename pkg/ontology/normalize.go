package ontology

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is a normalized word with its byte span in the source text.
type Token struct {
	Text  string
	Start int
	End   int
}

// stopwords never form a match on their own. HPO's root term is labelled
// "All", which would otherwise match nearly every note.
var stopwords = map[string]struct{}{
	"a": {}, "all": {}, "an": {}, "and": {}, "as": {}, "at": {}, "by": {},
	"for": {}, "in": {}, "is": {}, "no": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "to": {}, "was": {}, "with": {},
}

// IsStopword reports whether a normalized token is a stopword.
func IsStopword(tok string) bool {
	_, ok := stopwords[tok]
	return ok
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize splits text into lowercase runs of letters and digits, keeping
// the byte offsets of each run in the original text.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Text: strings.ToLower(text[start:i]), Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: strings.ToLower(text[start:]), Start: start, End: len(text)})
	}
	return tokens
}

// Normalize case-folds a phrase and replaces punctuation with single spaces,
// so "Heart-defect," and "heart defect" normalize to the same key.
func Normalize(phrase string) string {
	if phrase == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(phrase))
	pendingSpace := false
	for len(phrase) > 0 {
		r, size := utf8.DecodeRuneInString(phrase)
		phrase = phrase[size:]
		if !isWordRune(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// joinTokens builds the normalized phrase for a token window.
func joinTokens(tokens []Token) string {
	switch len(tokens) {
	case 0:
		return ""
	case 1:
		return tokens[0].Text
	}
	n := len(tokens) - 1
	for _, t := range tokens {
		n += len(t.Text)
	}
	var b strings.Builder
	b.Grow(n)
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// bagKey is an order-insensitive key over a token multiset.
func bagKey(words []string) string {
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
