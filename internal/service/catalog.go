package service

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
	"github.com/phenovariant-server/pkg/ontology"
)

// RecordSet is an immutable, versioned set of canonical records. Callers
// must not modify Records; use Catalog.UpdateRecords to derive a new set.
type RecordSet struct {
	Version uint64
	Records []domain.VariantRecord
}

// Len returns the number of records in the set
func (s *RecordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// ByLocation returns the records stored in one location
func (s *RecordSet) ByLocation(location string) []domain.VariantRecord {
	out := []domain.VariantRecord{}
	if s == nil {
		return out
	}
	for _, r := range s.Records {
		if r.Provenance.Location.Name == location {
			out = append(out, r)
		}
	}
	return out
}

// Catalog holds the active ontology index and record set. Readers load
// handles without locking; a new index or record set is built off to the
// side and published with an atomic swap. Writers serialize on a mutex so
// concurrent merges do not lose updates.
type Catalog struct {
	index   atomic.Pointer[ontology.Index]
	records atomic.Pointer[RecordSet]

	mu     sync.Mutex
	logger *logrus.Logger
}

// NewCatalog creates an empty catalog
func NewCatalog(logger *logrus.Logger) *Catalog {
	c := &Catalog{logger: logger}
	c.records.Store(&RecordSet{Records: []domain.VariantRecord{}})
	return c
}

// Index returns the active index or ErrIndexNotLoaded
func (c *Catalog) Index() (*ontology.Index, error) {
	ix := c.index.Load()
	if ix == nil {
		return nil, domain.ErrIndexNotLoaded
	}
	return ix, nil
}

// PublishIndex makes ix the active index. In-flight readers keep the index
// they already loaded.
func (c *Catalog) PublishIndex(ix *ontology.Index) {
	prev := c.index.Swap(ix)
	fields := logrus.Fields{"version": ix.Version(), "concepts": ix.Len()}
	if prev != nil {
		fields["previous_version"] = prev.Version()
	}
	c.logger.WithFields(fields).Info("Published ontology index")
}

// Records returns the active record set
func (c *Catalog) Records() *RecordSet {
	return c.records.Load()
}

// PublishRecords replaces the active record set wholesale
func (c *Catalog) PublishRecords(records []domain.VariantRecord) *RecordSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.swap(records)
}

// MergeRecords merges records into a copy of the active set by dedup key.
// Existing records are updated in place in the copy; new keys are appended
// in input order.
func (c *Catalog) MergeRecords(records []domain.VariantRecord) *RecordSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.records.Load()
	next := make([]domain.VariantRecord, 0, len(current.Records)+len(records))
	pos := make(map[domain.RecordKey]int, len(current.Records)+len(records))
	for _, r := range current.Records {
		pos[r.Key()] = len(next)
		next = append(next, r.Clone())
	}
	merged := 0
	for _, r := range records {
		key := r.Key()
		if i, ok := pos[key]; ok {
			next[i].MergeFrom(r)
			merged++
			continue
		}
		rec := r.Clone()
		if rec.ID == "" {
			rec.ID = key.ID()
		}
		pos[key] = len(next)
		next = append(next, rec)
	}

	set := c.swap(next)
	c.logger.WithFields(logrus.Fields{
		"incoming": len(records),
		"merged":   merged,
		"total":    len(next),
	}).Debug("Merged records")
	return set
}

// UpdateRecords applies fn to a deep copy of the active records and
// publishes the result. If fn fails the active set is left untouched.
func (c *Catalog) UpdateRecords(fn func(records []domain.VariantRecord) ([]domain.VariantRecord, error)) (*RecordSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.records.Load()
	work := make([]domain.VariantRecord, len(current.Records))
	for i := range current.Records {
		work[i] = current.Records[i].Clone()
	}
	next, err := fn(work)
	if err != nil {
		return current, err
	}
	return c.swap(next), nil
}

func (c *Catalog) swap(records []domain.VariantRecord) *RecordSet {
	if records == nil {
		records = []domain.VariantRecord{}
	}
	prev := c.records.Load()
	set := &RecordSet{Version: prev.Version + 1, Records: records}
	c.records.Store(set)
	return set
}
