package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenovariant-server/internal/domain"
)

func sampleRecords() []domain.VariantRecord {
	checked := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)
	return []domain.VariantRecord{
		{
			ID:           "7c0d6a43-0d5e-5a8a-9a0e-2b4f9c1d8e11",
			GeneSymbol:   "BRCA1",
			Descriptor:   "c.68_69delAG",
			Transcript:   "NM_007294.4",
			HGVSProtein:  "p.Glu23ValfsTer17",
			VariantType:  domain.DELETION,
			Zygosity:     "het",
			PatientID:    "100234",
			PhenotypeIDs: []string{"HP:0001249", "HP:0001250"},
			Solved:       domain.SOLVED,
			Notes:        "Referred by cardiology\tsecond line",
			Provenance: domain.Provenance{
				SourceID: "invitae-2024-02.xlsx",
				Location: domain.StorageLocation{Name: "internal", Scope: "clinical"},
			},
			HarmonizedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Validation: &domain.ValidationStatus{
				State:      domain.VALIDATION_VALID,
				Normalized: "NM_007294.4:c.68_69del",
				Messages:   []string{"gene mismatch: record has BRCA1, validator reports BRCA2"},
				CheckedAt:  checked,
			},
			Extensions: map[string]string{"Lab": "Invitae", "Batch": "7"},
		},
		{
			ID:          "2f1e3c55-6a7b-5c8d-9e0f-1a2b3c4d5e6f",
			GeneSymbol:  "TP53",
			Descriptor:  "c.215C>G",
			VariantType: domain.SNV,
			Solved:      domain.SOLVED_UNKNOWN,
			Provenance: domain.Provenance{
				SourceID: "research.csv",
				Location: domain.StorageLocation{Name: "research", Scope: "research"},
			},
			HarmonizedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Extensions:   map[string]string{"Lab": "GeneDx"},
		},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatTSV} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, sampleRecords(), format))

			got, err := Read(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, sampleRecords(), got)
		})
	}
}

func TestTSVLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleRecords(), FormatTSV))

	rows, err := func() ([][]string, error) {
		r := csv.NewReader(strings.NewReader(buf.String()))
		r.Comma = '\t'
		return r.ReadAll()
	}()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.Equal(t, Header, header[:len(Header)])
	assert.Equal(t, []string{"ext:Batch", "ext:Lab"}, header[len(Header):])
	assert.Equal(t, "HP:0001249;HP:0001250", rows[1][10])
	assert.Equal(t, "", rows[2][len(Header)], "missing extension is an empty cell")
	assert.Equal(t, "GeneDx", rows[2][len(Header)+1])
}

func TestTSVSetMembersKeepSeparators(t *testing.T) {
	records := sampleRecords()[:1]
	records[0].Validation.Messages = []string{
		"ExonBoundaryError: position 1; expected 2",
		`path C:\lab\run`,
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, records, FormatTSV))

	got, err := Read(&buf, FormatTSV)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, records[0].Validation.Messages, got[0].Validation.Messages)
	assert.Equal(t, records[0].PhenotypeIDs, got[0].PhenotypeIDs)
}

func TestWriteEmptyJSONIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, FormatJSON))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestReadTSVRejectsUnknownColumns(t *testing.T) {
	_, err := Read(strings.NewReader("gene_symbol\tdescriptor\tcolour\nBRCA1\tc.1A>G\tred\n"), FormatTSV)
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeInvalidInput, domain.ErrorCode(err))

	_, err = Read(strings.NewReader("gene_symbol\nBRCA1\n"), FormatTSV)
	require.Error(t, err)
}

func TestReadTSVDerivesMissingIDs(t *testing.T) {
	got, err := Read(strings.NewReader("gene_symbol\tdescriptor\tlocation\nBRCA1\tc.1A>G\tinternal\n"), FormatTSV)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, got[0].Key().ID(), got[0].ID)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" TSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatTSV, f)
	assert.Contains(t, f.ContentType(), "tab-separated")

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
	assert.Error(t, Write(io.Discard, nil, "xlsx"))
}

func TestScopedWriter(t *testing.T) {
	t.Run("withholds out-of-scope records", func(t *testing.T) {
		sw := NewScopedWriter([]string{"research"}, quietLogger())
		var buf bytes.Buffer

		report, err := sw.Write(&buf, sampleRecords(), FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Written)
		require.Len(t, report.Refused, 1)
		assert.Equal(t, RefusedRecord{ID: "7c0d6a43-0d5e-5a8a-9a0e-2b4f9c1d8e11", Location: "internal", Scope: "clinical"}, report.Refused[0])

		got, err := Read(&buf, FormatJSON)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "TP53", got[0].GeneSymbol)
	})

	t.Run("strict mode writes nothing", func(t *testing.T) {
		sw := NewScopedWriter([]string{"research"}, quietLogger())
		sw.Strict = true
		var buf bytes.Buffer

		_, err := sw.Write(&buf, sampleRecords(), FormatTSV)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrScopeViolation)
		assert.Zero(t, buf.Len())
	})

	t.Run("empty allow list exports nothing", func(t *testing.T) {
		sw := NewScopedWriter(nil, quietLogger())
		assert.False(t, sw.Allows("research"))
		report, err := sw.Write(io.Discard, sampleRecords(), FormatTSV)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Written)
		assert.Len(t, report.Refused, 2)
	})
}
