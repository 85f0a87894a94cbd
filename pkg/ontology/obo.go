package ontology

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/phenovariant-server/internal/domain"
)

// Concept is a single ontology term.
type Concept struct {
	ID         string
	Label      string
	Synonyms   []string
	Parents    []string
	AltIDs     []string
	ReplacedBy string
	Definition string
	Obsolete   bool
	// Line is the 1-based line of the term's stanza header, 0 when the
	// concept did not come from a file.
	Line int
}

// Snapshot is a parsed, unvalidated ontology release.
type Snapshot struct {
	Version  string
	Concepts []Concept
}

// Synonym scopes kept by ParseOBO. BROAD synonyms name a wider notion than
// the term itself and would map text onto an overly specific concept.
var keptSynonymScopes = map[string]bool{
	"EXACT":   true,
	"RELATED": true,
	"NARROW":  true,
	"BROAD":   false,
}

const maxOBOLine = 1 << 20

// ParseOBO reads an OBO 1.2/1.4 flat file. Only [Term] stanzas are kept.
// The snapshot version comes from the data-version header, or a content
// hash when the header is absent.
func ParseOBO(r io.Reader) (*Snapshot, error) {
	hash := sha256.New()
	scanner := bufio.NewScanner(io.TeeReader(r, hash))
	scanner.Buffer(make([]byte, 0, 64*1024), maxOBOLine)

	snap := &Snapshot{}
	var current *Concept
	inTerm := false
	inHeader := true
	lineNo := 0

	flush := func() {
		if current != nil {
			snap.Concepts = append(snap.Concepts, *current)
			current = nil
		}
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			flush()
			inHeader = false
			inTerm = line == "[Term]"
			if inTerm {
				current = &Concept{Line: lineNo}
			}
			continue
		}

		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &domain.MalformedSnapshotError{
				Line:   lineNo,
				TermID: termID(current),
				Field:  "line",
				Reason: "is not a tag-value pair",
			}
		}
		tag = strings.TrimSpace(tag)
		value = strings.TrimSpace(value)

		if inHeader {
			if tag == "data-version" {
				snap.Version = value
			}
			continue
		}
		if !inTerm {
			continue
		}

		if err := applyTag(current, tag, value, lineNo); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ontology snapshot: %w", err)
	}
	flush()

	if snap.Version == "" {
		snap.Version = "sha256:" + hex.EncodeToString(hash.Sum(nil))[:12]
	}
	return snap, nil
}

func applyTag(c *Concept, tag, value string, lineNo int) error {
	switch tag {
	case "id":
		c.ID = value
	case "name":
		c.Label = value
	case "def":
		text, _, err := quoted(value)
		if err != nil {
			return &domain.MalformedSnapshotError{Line: lineNo, TermID: c.ID, Field: "def", Reason: err.Error()}
		}
		c.Definition = text
	case "synonym":
		text, rest, err := quoted(value)
		if err != nil {
			return &domain.MalformedSnapshotError{Line: lineNo, TermID: c.ID, Field: "synonym", Reason: err.Error()}
		}
		scope := "RELATED"
		if fields := strings.Fields(rest); len(fields) > 0 && !strings.HasPrefix(fields[0], "[") {
			scope = fields[0]
		}
		if keep, known := keptSynonymScopes[scope]; keep || !known {
			c.Synonyms = append(c.Synonyms, text)
		}
	case "is_a":
		if id := reference(value); id != "" {
			c.Parents = append(c.Parents, id)
		}
	case "alt_id":
		if id := reference(value); id != "" {
			c.AltIDs = append(c.AltIDs, id)
		}
	case "replaced_by":
		c.ReplacedBy = reference(value)
	case "is_obsolete":
		c.Obsolete = strings.EqualFold(value, "true")
	}
	return nil
}

// reference strips trailing "! label" comments and qualifiers from an ID
// valued tag.
func reference(value string) string {
	if i := strings.Index(value, "!"); i >= 0 {
		value = value[:i]
	}
	if i := strings.Index(value, "{"); i >= 0 {
		value = value[:i]
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// quoted reads a leading OBO quoted string, honoring backslash escapes,
// and returns the remainder of the value.
func quoted(value string) (string, string, error) {
	if !strings.HasPrefix(value, `"`) {
		return "", "", fmt.Errorf("expected quoted text")
	}
	var b strings.Builder
	for i := 1; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch == '\\' && i+1 < len(value):
			i++
			b.WriteByte(value[i])
		case ch == '"':
			return b.String(), strings.TrimSpace(value[i+1:]), nil
		default:
			b.WriteByte(ch)
		}
	}
	return "", "", fmt.Errorf("unterminated quoted text")
}

func termID(c *Concept) string {
	if c == nil {
		return ""
	}
	return c.ID
}
