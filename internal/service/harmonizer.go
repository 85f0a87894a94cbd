package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/pkg/hgvs"
)

// WideSlotColumn holds the variant slot number of a row reshaped from the
// wide layout.
const WideSlotColumn = "Variant_Number"

const defaultPhenotypeSeparators = ";,|"

var phenotypeIDPattern = regexp.MustCompile(`(?i)^HP[:_](\d{7})$`)

// HarmonizeResult holds the records and row-level warnings of one batch
type HarmonizeResult struct {
	Records  []domain.VariantRecord        `json:"records"`
	Warnings []domain.HarmonizationWarning `json:"warnings"`
	Rows     int                           `json:"rows"`
	Merged   int                           `json:"merged"`
}

// HarmonizeJob is one batch of a concurrent harmonization run
type HarmonizeJob struct {
	Batch    domain.RawBatch
	Schema   domain.SchemaMapping
	Location domain.StorageLocation
}

// Harmonizer maps heterogeneous source rows onto canonical variant records
type Harmonizer struct {
	logger      *logrus.Logger
	maxParallel int
	now         func() time.Time
}

// NewHarmonizer creates a new harmonizer
func NewHarmonizer(logger *logrus.Logger, maxParallel int) *Harmonizer {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Harmonizer{
		logger:      logger,
		maxParallel: maxParallel,
		now:         time.Now,
	}
}

// sourceRow is a row to map, with its 1-based position in the batch and the
// wide-layout slot it was reshaped from.
type sourceRow struct {
	Row    int
	Slot   string
	Values domain.RawRow
}

// Harmonize maps a batch onto canonical records for one storage location.
// The mapping is validated before any row is read. Bad rows are skipped and
// reported as warnings. The context is checked between rows; on
// cancellation the records harmonized so far are returned with the error.
func (h *Harmonizer) Harmonize(ctx context.Context, batch domain.RawBatch, schema domain.SchemaMapping, location domain.StorageLocation) (*HarmonizeResult, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema mapping %q: %w", schema.Name, err)
	}
	if location.Name == "" {
		return nil, &domain.SchemaValidationError{Field: "location", Reason: "is required"}
	}

	result := &HarmonizeResult{
		Records:  []domain.VariantRecord{},
		Warnings: []domain.HarmonizationWarning{},
	}
	rows, err := h.prepareRows(batch, &schema, result)
	if err != nil {
		return nil, err
	}

	sourceID := batch.SourceID
	if sourceID == "" {
		sourceID = schema.Name
	}
	harmonizedAt := h.now().UTC()
	mapped := schema.MappedColumns()
	merger := newRecordMerger()

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			result.Records = merger.records()
			result.Merged = merger.merged
			sortWarnings(result.Warnings)
			h.logger.WithFields(logrus.Fields{
				"source":    sourceID,
				"location":  location.Name,
				"processed": i,
				"remaining": len(rows) - i,
			}).Warn("Harmonization cancelled")
			return result, fmt.Errorf("harmonization cancelled after %d of %d rows: %w", i, len(rows), err)
		}

		rec, warnings, ok := h.mapRow(row, &schema, mapped)
		result.Warnings = append(result.Warnings, warnings...)
		if !ok {
			continue
		}
		rec.Provenance = domain.Provenance{SourceID: sourceID, Location: location}
		rec.HarmonizedAt = harmonizedAt
		rec.ID = rec.Key().ID()
		merger.add(rec)
	}

	result.Records = merger.records()
	result.Merged = merger.merged
	sortWarnings(result.Warnings)

	h.logger.WithFields(logrus.Fields{
		"source":   sourceID,
		"schema":   schema.Name,
		"location": location.Name,
		"rows":     result.Rows,
		"records":  len(result.Records),
		"merged":   result.Merged,
		"warnings": len(result.Warnings),
	}).Info("Harmonized batch")

	return result, nil
}

// HarmonizeBatches harmonizes independent batches concurrently, bounded by
// the configured parallelism. Results are indexed like jobs.
func (h *Harmonizer) HarmonizeBatches(ctx context.Context, jobs []HarmonizeJob) ([]*HarmonizeResult, error) {
	results := make([]*HarmonizeResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.maxParallel)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := h.Harmonize(gctx, job.Batch, job.Schema, job.Location)
			results[i] = res
			if err != nil {
				return fmt.Errorf("batch %d (%s): %w", i, job.Batch.SourceID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (h *Harmonizer) prepareRows(batch domain.RawBatch, schema *domain.SchemaMapping, result *HarmonizeResult) ([]sourceRow, error) {
	if schema.VariantColumnPattern != "" {
		re := regexp.MustCompile(schema.VariantColumnPattern)
		rows, warnings := reshapeWide(batch.Rows, re)
		result.Rows = len(batch.Rows)
		result.Warnings = append(result.Warnings, warnings...)
		return rows, nil
	}

	if len(batch.Columns) > 0 {
		present := make(map[string]bool, len(batch.Columns))
		for _, c := range batch.Columns {
			present[c] = true
		}
		for _, f := range domain.RequiredFields {
			if col, _ := schema.Column(f); !present[col] {
				return nil, &domain.SchemaValidationError{
					Field:  string(f),
					Reason: fmt.Sprintf("mapped column %q is not in the batch", col),
				}
			}
		}
		fields := make([]string, 0, len(schema.Fields))
		for f := range schema.Fields {
			fields = append(fields, string(f))
		}
		sort.Strings(fields)
		for _, f := range fields {
			if col := schema.Fields[domain.CanonicalField(f)]; col != "" && !present[col] {
				result.Warnings = append(result.Warnings, domain.HarmonizationWarning{
					Field:  f,
					Value:  col,
					Reason: "mapped column is not in the batch; field left empty",
				})
			}
		}
	}

	rows := make([]sourceRow, len(batch.Rows))
	for i, r := range batch.Rows {
		rows[i] = sourceRow{Row: i + 1, Values: r}
	}
	result.Rows = len(rows)
	return rows, nil
}

// reshapeWide turns one row per patient with Variant_N_field columns into
// one row per populated variant slot. Non-variant columns are copied onto
// every reshaped row.
func reshapeWide(rows []domain.RawRow, re *regexp.Regexp) ([]sourceRow, []domain.HarmonizationWarning) {
	var out []sourceRow
	var warnings []domain.HarmonizationWarning

	for i, row := range rows {
		base := make(domain.RawRow)
		slots := make(map[string]domain.RawRow)
		for col, val := range row {
			m := re.FindStringSubmatch(col)
			if m == nil {
				base[col] = val
				continue
			}
			if slots[m[1]] == nil {
				slots[m[1]] = make(domain.RawRow)
			}
			slots[m[1]][m[2]] = val
		}

		keys := make([]string, 0, len(slots))
		for k := range slots {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(a, b int) bool { return slotLess(keys[a], keys[b]) })

		emitted := 0
		for _, slot := range keys {
			fields := slots[slot]
			if allBlank(fields) {
				continue
			}
			values := make(domain.RawRow, len(base)+len(fields)+1)
			for k, v := range base {
				values[k] = v
			}
			for k, v := range fields {
				values[k] = v
			}
			values[WideSlotColumn] = slot
			out = append(out, sourceRow{Row: i + 1, Slot: slot, Values: values})
			emitted++
		}
		if emitted == 0 {
			warnings = append(warnings, domain.HarmonizationWarning{
				Row:     i + 1,
				Reason:  "row has no populated variant columns",
				Skipped: true,
			})
		}
	}
	return out, warnings
}

// sortWarnings orders warnings by source row; batch-level warnings (row 0)
// come first.
func sortWarnings(w []domain.HarmonizationWarning) {
	sort.SliceStable(w, func(a, b int) bool { return w[a].Row < w[b].Row })
}

func slotLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func allBlank(row domain.RawRow) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// mapRow maps one source row. ok is false when the row must be skipped; the
// returned warnings say why.
func (h *Harmonizer) mapRow(r sourceRow, schema *domain.SchemaMapping, mapped map[string]bool) (domain.VariantRecord, []domain.HarmonizationWarning, bool) {
	var warnings []domain.HarmonizationWarning
	warn := func(field domain.CanonicalField, value, reason string, skipped bool) {
		if r.Slot != "" {
			reason = fmt.Sprintf("%s (variant slot %s)", reason, r.Slot)
		}
		warnings = append(warnings, domain.HarmonizationWarning{
			Row:     r.Row,
			Field:   string(field),
			Value:   value,
			Reason:  reason,
			Skipped: skipped,
		})
	}
	get := func(f domain.CanonicalField) string {
		col, ok := schema.Column(f)
		if !ok {
			return ""
		}
		return strings.TrimSpace(r.Values[col])
	}

	rawGene := get(domain.FieldGeneSymbol)
	if rawGene == "" {
		warn(domain.FieldGeneSymbol, "", "gene symbol is empty", true)
		return domain.VariantRecord{}, warnings, false
	}
	gene, err := hgvs.NormalizeGeneSymbol(rawGene)
	if err != nil {
		warn(domain.FieldGeneSymbol, rawGene, "gene symbol does not follow HGNC naming; kept as given", false)
	}

	descriptor := get(domain.FieldDescriptor)
	if descriptor == "" {
		warn(domain.FieldDescriptor, "", "variant descriptor is empty", true)
		return domain.VariantRecord{}, warnings, false
	}

	number, count := get(domain.FieldVarNumber), get(domain.FieldVarCount)
	if number != "" && count != "" {
		n, errN := strconv.Atoi(number)
		c, errC := strconv.Atoi(count)
		switch {
		case errN != nil || errC != nil:
			warn(domain.FieldVarNumber, number+"/"+count, "variant number or count is not numeric; row kept", false)
		case n > c:
			warn(domain.FieldVarNumber, number, fmt.Sprintf("variant number %d exceeds variant count %d", n, c), true)
			return domain.VariantRecord{}, warnings, false
		}
	}

	transcript := get(domain.FieldTranscript)
	if transcript == "" && schema.SplitTranscript {
		if ref, local, ok := hgvs.SplitTranscript(descriptor); ok {
			transcript, descriptor = ref, local
		}
	}
	if err := hgvs.ValidateTranscript(transcript); err != nil {
		warn(domain.FieldTranscript, transcript, "transcript is not a versioned RefSeq, Ensembl or LRG id", false)
	}

	parsed, parseErr := hgvs.Parse(descriptor)
	if parseErr != nil {
		warn(domain.FieldDescriptor, descriptor, "descriptor is not HGVS-shaped; kept verbatim", false)
	}

	rec := domain.VariantRecord{
		GeneSymbol:  gene,
		Descriptor:  descriptor,
		Transcript:  transcript,
		HGVSGenomic: get(domain.FieldHGVSGenomic),
		HGVSProtein: get(domain.FieldHGVSProtein),
		Zygosity:    get(domain.FieldZygosity),
		Inheritance: get(domain.FieldInheritance),
		PatientID:   get(domain.FieldPatientID),
		VariantType: domain.UNKNOWN,
		Solved:      domain.SOLVED_UNKNOWN,
	}

	if raw := get(domain.FieldVariantType); raw != "" {
		vt, err := domain.ParseVariantType(raw)
		if err != nil {
			warn(domain.FieldVariantType, raw, "unrecognized variant type; left unset", false)
		}
		rec.VariantType = vt
	} else if parsed != nil {
		rec.VariantType = parsed.VariantType()
	}

	if raw := get(domain.FieldSolved); raw != "" {
		status, err := domain.ParseSolvedStatus(raw)
		if err != nil {
			warn(domain.FieldSolved, raw, "unrecognized solved status; left unknown", false)
		}
		rec.Solved = status
	}

	seps := schema.PhenotypeSeparators
	if seps == "" {
		seps = defaultPhenotypeSeparators
	}
	ids, freeText := splitPhenotypes(get(domain.FieldPhenotypes), seps)
	rec.PhenotypeIDs = domain.UnionSorted(nil, ids)

	notes := get(domain.FieldNotes)
	if len(freeText) > 0 {
		parts := append([]string{}, freeText...)
		if notes != "" {
			parts = append([]string{notes}, parts...)
		}
		notes = strings.Join(parts, "; ")
	}
	rec.Notes = notes

	for col, val := range r.Values {
		if mapped[col] || strings.TrimSpace(val) == "" {
			continue
		}
		if rec.Extensions == nil {
			rec.Extensions = make(map[string]string)
		}
		rec.Extensions[col] = val
	}

	return rec, warnings, true
}

// splitPhenotypes separates HPO ids from free-text phenotype terms.
func splitPhenotypes(raw, seps string) (ids, freeText []string) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return strings.ContainsRune(seps, r) })
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if m := phenotypeIDPattern.FindStringSubmatch(p); m != nil {
			ids = append(ids, "HP:"+m[1])
			continue
		}
		freeText = append(freeText, p)
	}
	return ids, freeText
}

// recordMerger deduplicates records on their key, keeping first-seen order.
type recordMerger struct {
	index  map[domain.RecordKey]int
	out    []domain.VariantRecord
	merged int
}

func newRecordMerger() *recordMerger {
	return &recordMerger{index: make(map[domain.RecordKey]int)}
}

func (m *recordMerger) add(rec domain.VariantRecord) {
	key := rec.Key()
	if i, ok := m.index[key]; ok {
		m.out[i].MergeFrom(rec)
		m.merged++
		return
	}
	m.index[key] = len(m.out)
	m.out = append(m.out, rec)
}

func (m *recordMerger) records() []domain.VariantRecord {
	if m.out == nil {
		return []domain.VariantRecord{}
	}
	return m.out
}
