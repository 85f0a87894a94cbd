package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// recordNamespace seeds name-based record ids so the same key always yields
// the same id.
var recordNamespace = uuid.MustParse("5b0e7a52-3c1d-4f8e-9a57-0d6f2c8e41b3")

// StorageLocation is a logical partition of variant data, such as a lab
// drive, carrying an access-scope tag.
type StorageLocation struct {
	Name  string `json:"name" mapstructure:"name" yaml:"name"`
	Scope string `json:"scope" mapstructure:"scope" yaml:"scope"`
}

// Provenance records where a canonical record came from.
type Provenance struct {
	SourceID string          `json:"source_id" db:"source_id"`
	Location StorageLocation `json:"location"`
}

// ValidationStatus is the result of checking a descriptor against the
// external nomenclature validator. A nil *ValidationStatus means the record
// has never been sent for validation.
type ValidationStatus struct {
	State      ValidationState `json:"state"`
	Normalized string          `json:"normalized,omitempty"`
	Messages   []string        `json:"messages,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// VariantRecord is the canonical, post-harmonization variant record.
type VariantRecord struct {
	ID           string            `json:"id" db:"id"`
	GeneSymbol   string            `json:"gene_symbol" db:"gene_symbol"`
	Descriptor   string            `json:"descriptor" db:"descriptor"`
	Transcript   string            `json:"transcript,omitempty" db:"transcript"`
	HGVSGenomic  string            `json:"hgvs_genomic,omitempty" db:"hgvs_genomic"`
	HGVSProtein  string            `json:"hgvs_protein,omitempty" db:"hgvs_protein"`
	VariantType  VariantType       `json:"variant_type" db:"variant_type"`
	Zygosity     string            `json:"zygosity,omitempty" db:"zygosity"`
	Inheritance  string            `json:"inheritance,omitempty" db:"inheritance"`
	PatientID    string            `json:"patient_id,omitempty" db:"patient_id"`
	PhenotypeIDs []string          `json:"phenotype_ids" db:"phenotype_ids"`
	Solved       SolvedStatus      `json:"solved" db:"solved"`
	Notes        string            `json:"notes,omitempty" db:"notes"`
	Provenance   Provenance        `json:"provenance"`
	HarmonizedAt time.Time         `json:"harmonized_at" db:"harmonized_at"`
	Validation   *ValidationStatus `json:"validation,omitempty"`
	Extensions   map[string]string `json:"extensions,omitempty"`
}

// RecordKey is the natural deduplication key of a record. Records in
// different storage locations never share a key. The transcript is part of
// the descriptor identity: c.68_69del on two transcripts are two variants.
type RecordKey struct {
	Location   string
	GeneSymbol string
	Transcript string
	Descriptor string
}

// Key returns the deduplication key for the record.
func (r *VariantRecord) Key() RecordKey {
	return RecordKey{
		Location:   r.Provenance.Location.Name,
		GeneSymbol: strings.ToUpper(r.GeneSymbol),
		Transcript: r.Transcript,
		Descriptor: r.Descriptor,
	}
}

// ID derives a stable record id from the key.
func (k RecordKey) ID() string {
	name := k.Location + "\x00" + k.GeneSymbol + "\x00" + k.Descriptor
	if k.Transcript != "" {
		name += "\x00" + k.Transcript
	}
	return uuid.NewSHA1(recordNamespace, []byte(name)).String()
}

// HasPhenotype reports whether the record is annotated with the concept.
func (r *VariantRecord) HasPhenotype(id string) bool {
	for _, p := range r.PhenotypeIDs {
		if p == id {
			return true
		}
	}
	return false
}

// AddPhenotypes unions ids into the record's phenotype set, keeping it sorted.
func (r *VariantRecord) AddPhenotypes(ids ...string) {
	r.PhenotypeIDs = UnionSorted(r.PhenotypeIDs, ids)
}

// Clone returns a deep copy so callers can mutate without touching a
// published record set.
func (r *VariantRecord) Clone() VariantRecord {
	c := *r
	if r.PhenotypeIDs != nil {
		c.PhenotypeIDs = append([]string(nil), r.PhenotypeIDs...)
	}
	if r.Extensions != nil {
		c.Extensions = make(map[string]string, len(r.Extensions))
		for k, v := range r.Extensions {
			c.Extensions[k] = v
		}
	}
	if r.Validation != nil {
		v := *r.Validation
		v.Messages = append([]string(nil), r.Validation.Messages...)
		c.Validation = &v
	}
	return c
}

// MergeFrom folds a newer record with the same key into r. Non-empty values
// from src win and phenotype sets are unioned.
func (r *VariantRecord) MergeFrom(src VariantRecord) {
	overwrite := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overwrite(&r.Transcript, src.Transcript)
	overwrite(&r.HGVSGenomic, src.HGVSGenomic)
	overwrite(&r.HGVSProtein, src.HGVSProtein)
	overwrite(&r.Zygosity, src.Zygosity)
	overwrite(&r.Inheritance, src.Inheritance)
	overwrite(&r.PatientID, src.PatientID)
	overwrite(&r.Notes, src.Notes)
	overwrite(&r.Provenance.SourceID, src.Provenance.SourceID)

	if src.VariantType != "" && src.VariantType != UNKNOWN {
		r.VariantType = src.VariantType
	}
	if src.Solved != "" && src.Solved != SOLVED_UNKNOWN {
		r.Solved = src.Solved
	}
	r.PhenotypeIDs = UnionSorted(r.PhenotypeIDs, src.PhenotypeIDs)
	if len(src.Extensions) > 0 {
		if r.Extensions == nil {
			r.Extensions = make(map[string]string, len(src.Extensions))
		}
		for k, v := range src.Extensions {
			r.Extensions[k] = v
		}
	}
	if src.Validation != nil {
		v := *src.Validation
		v.Messages = append([]string(nil), src.Validation.Messages...)
		r.Validation = &v
	}
	if src.HarmonizedAt.After(r.HarmonizedAt) {
		r.HarmonizedAt = src.HarmonizedAt
	}
}

// UnionSorted returns the sorted, de-duplicated union of both sets.
func UnionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ConceptMatch is a single concept recognized in free text.
type ConceptMatch struct {
	Start     int        `json:"start"`
	End       int        `json:"end"`
	Text      string     `json:"text"`
	ConceptID string     `json:"concept_id"`
	Label     string     `json:"label"`
	Class     MatchClass `json:"class"`
	Ancestors []string   `json:"ancestors,omitempty"`
}

// Overlaps reports whether two matches share any byte of the source text.
func (m ConceptMatch) Overlaps(o ConceptMatch) bool {
	return m.Start < o.End && o.Start < m.End
}
