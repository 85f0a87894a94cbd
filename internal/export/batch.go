package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/phenovariant-server/internal/domain"
)

// ReadBatch reads a delimited source extract with a header row into a raw
// batch. Cells are trimmed; rows shorter than the header leave the missing
// columns empty.
func ReadBatch(r io.Reader, sourceID string, comma rune) (domain.RawBatch, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	batch := domain.RawBatch{SourceID: sourceID, Rows: []domain.RawRow{}}
	header, err := cr.Read()
	if err == io.EOF {
		return batch, nil
	}
	if err != nil {
		return batch, fmt.Errorf("failed to read header: %w", err)
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			return batch, domain.NewValidationError("header", fmt.Sprintf("column %d has no name", i+1), nil)
		}
		if seen[h] {
			return batch, domain.NewValidationError("header", "duplicate column", h)
		}
		seen[h] = true
		header[i] = h
	}
	batch.Columns = header

	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return batch, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		raw := make(domain.RawRow, len(header))
		for i, h := range header {
			if i < len(row) {
				raw[h] = strings.TrimSpace(row[i])
			} else {
				raw[h] = ""
			}
		}
		batch.Rows = append(batch.Rows, raw)
	}
	return batch, nil
}

// DelimiterFor picks the field delimiter from a file name: tab for .tsv and
// .tab files, comma otherwise.
func DelimiterFor(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab", ".txt":
		return '\t'
	default:
		return ','
	}
}
