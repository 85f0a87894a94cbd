// Package export writes canonical variant records as JSON or TSV reports
// and reads them back.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/phenovariant-server/internal/domain"
)

// Format is a report format
type Format string

const (
	FormatJSON Format = "json"
	FormatTSV  Format = "tsv"
)

// ParseFormat parses a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatTSV, "tab":
		return FormatTSV, nil
	default:
		return "", domain.NewValidationError("format", "unsupported export format", s)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatTSV {
		return "text/tab-separated-values; charset=utf-8"
	}
	return "application/json"
}

// ExtensionPrefix marks TSV columns holding record extensions.
const ExtensionPrefix = "ext:"

const setSeparator = ";"

// Header is the fixed leading TSV header.
var Header = []string{
	"id", "gene_symbol", "descriptor", "transcript", "hgvs_genomic", "hgvs_protein",
	"variant_type", "zygosity", "inheritance", "patient_id", "phenotype_ids", "solved",
	"notes", "source_id", "location", "scope", "harmonized_at",
	"validation_state", "validation_normalized", "validation_messages", "validation_checked_at",
}

// Write writes records in the given format. JSON output is an array of
// canonical records; TSV output has the fixed header followed by one
// ext: column per extension key, sorted.
func Write(w io.Writer, records []domain.VariantRecord, format Format) error {
	switch format {
	case FormatJSON:
		if records == nil {
			records = []domain.VariantRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to encode records: %w", err)
		}
		return nil
	case FormatTSV:
		return writeTSV(w, records)
	default:
		return domain.NewValidationError("format", "unsupported export format", string(format))
	}
}

// Read parses a report written by Write
func Read(r io.Reader, format Format) ([]domain.VariantRecord, error) {
	switch format {
	case FormatJSON:
		records := []domain.VariantRecord{}
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode records: %w", err)
		}
		return records, nil
	case FormatTSV:
		return readTSV(r)
	default:
		return nil, domain.NewValidationError("format", "unsupported export format", string(format))
	}
}

func extensionKeys(records []domain.VariantRecord) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, r := range records {
		for k := range r.Extensions {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeTSV(w io.Writer, records []domain.VariantRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	ext := extensionKeys(records)
	header := append([]string(nil), Header...)
	for _, k := range ext {
		header = append(header, ExtensionPrefix+k)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range records {
		r := &records[i]
		row := []string{
			r.ID, r.GeneSymbol, r.Descriptor, r.Transcript, r.HGVSGenomic, r.HGVSProtein,
			string(r.VariantType), r.Zygosity, r.Inheritance, r.PatientID,
			joinSet(r.PhenotypeIDs), string(r.Solved),
			r.Notes, r.Provenance.SourceID, r.Provenance.Location.Name, r.Provenance.Location.Scope,
			formatTime(r.HarmonizedAt),
			"", "", "", "",
		}
		if v := r.Validation; v != nil {
			row[17] = string(v.State)
			row[18] = v.Normalized
			row[19] = joinSet(v.Messages)
			row[20] = formatTime(v.CheckedAt)
		}
		for _, k := range ext {
			row = append(row, r.Extensions[k])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", r.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// joinSet joins set members with setSeparator. A separator or backslash
// inside a member is escaped with a backslash.
func joinSet(members []string) string {
	escaped := make([]string, len(members))
	for i, m := range members {
		m = strings.ReplaceAll(m, `\`, `\\`)
		escaped[i] = strings.ReplaceAll(m, setSeparator, `\`+setSeparator)
	}
	return strings.Join(escaped, setSeparator)
}

// splitSet reverses joinSet
func splitSet(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out []string
		b   strings.Builder
	)
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case s[i] == setSeparator[0]:
			out = append(out, b.String())
			b.Reset()
		default:
			b.WriteByte(s[i])
		}
	}
	return append(out, b.String())
}

func parseTime(col, s string, line int) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("line %d, column %s: %w", line, col, err)
	}
	return t, nil
}

func readTSV(r io.Reader) ([]domain.VariantRecord, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return []domain.VariantRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	known := make(map[string]bool, len(Header))
	for _, h := range Header {
		known[h] = true
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		if !known[h] && !strings.HasPrefix(h, ExtensionPrefix) {
			return nil, domain.NewValidationError("header", "unknown report column", h)
		}
		col[h] = i
	}
	for _, h := range []string{"gene_symbol", "descriptor"} {
		if _, ok := col[h]; !ok {
			return nil, domain.NewValidationError("header", "required report column missing", h)
		}
	}

	records := []domain.VariantRecord{}
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}

		rec := domain.VariantRecord{
			ID:           get("id"),
			GeneSymbol:   get("gene_symbol"),
			Descriptor:   get("descriptor"),
			Transcript:   get("transcript"),
			HGVSGenomic:  get("hgvs_genomic"),
			HGVSProtein:  get("hgvs_protein"),
			VariantType:  domain.VariantType(get("variant_type")),
			Zygosity:     get("zygosity"),
			Inheritance:  get("inheritance"),
			PatientID:    get("patient_id"),
			PhenotypeIDs: splitSet(get("phenotype_ids")),
			Solved:       domain.SolvedStatus(get("solved")),
			Notes:        get("notes"),
			Provenance: domain.Provenance{
				SourceID: get("source_id"),
				Location: domain.StorageLocation{Name: get("location"), Scope: get("scope")},
			},
		}
		if rec.HarmonizedAt, err = parseTime("harmonized_at", get("harmonized_at"), line); err != nil {
			return nil, err
		}
		if state := get("validation_state"); state != "" {
			v := &domain.ValidationStatus{
				State:      domain.ValidationState(state),
				Normalized: get("validation_normalized"),
				Messages:   splitSet(get("validation_messages")),
			}
			if v.CheckedAt, err = parseTime("validation_checked_at", get("validation_checked_at"), line); err != nil {
				return nil, err
			}
			rec.Validation = v
		}
		for name, i := range col {
			if !strings.HasPrefix(name, ExtensionPrefix) || i >= len(row) || row[i] == "" {
				continue
			}
			if rec.Extensions == nil {
				rec.Extensions = make(map[string]string)
			}
			rec.Extensions[strings.TrimPrefix(name, ExtensionPrefix)] = row[i]
		}
		if rec.ID == "" {
			rec.ID = rec.Key().ID()
		}
		records = append(records, rec)
	}
	return records, nil
}
