package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/phenovariant-server/internal/domain"
)

// RefusedRecord is a record withheld from an export because of its scope
type RefusedRecord struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Scope    string `json:"scope"`
}

// ScopeReport lists what a scoped export wrote and withheld
type ScopeReport struct {
	Written int             `json:"written"`
	Refused []RefusedRecord `json:"refused"`
}

// ScopedWriter only exports records whose storage location scope is in the
// allowed set. An empty allowed set exports nothing.
type ScopedWriter struct {
	allowed map[string]bool
	// Strict makes any out-of-scope record fail the whole export.
	Strict bool
	logger *logrus.Logger
}

// NewScopedWriter creates a writer allowing the given scopes
func NewScopedWriter(allowedScopes []string, logger *logrus.Logger) *ScopedWriter {
	allowed := make(map[string]bool, len(allowedScopes))
	for _, s := range allowedScopes {
		allowed[s] = true
	}
	return &ScopedWriter{allowed: allowed, logger: logger}
}

// Allows reports whether a scope may be exported
func (s *ScopedWriter) Allows(scope string) bool {
	return s.allowed[scope]
}

// AllowedScopes returns the allowed scopes, sorted
func (s *ScopedWriter) AllowedScopes() []string {
	out := make([]string, 0, len(s.allowed))
	for k := range s.allowed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Write exports the in-scope records and reports the rest. In strict mode
// nothing is written when any record is out of scope, and the first
// offending location is returned as a *domain.ScopeViolationError.
func (s *ScopedWriter) Write(w io.Writer, records []domain.VariantRecord, format Format) (*ScopeReport, error) {
	report := &ScopeReport{Refused: []RefusedRecord{}}
	permitted := make([]domain.VariantRecord, 0, len(records))
	for _, r := range records {
		loc := r.Provenance.Location
		if s.allowed[loc.Scope] {
			permitted = append(permitted, r)
			continue
		}
		report.Refused = append(report.Refused, RefusedRecord{ID: r.ID, Location: loc.Name, Scope: loc.Scope})
	}

	if len(report.Refused) > 0 {
		s.logger.WithFields(logrus.Fields{
			"refused": len(report.Refused),
			"allowed": s.AllowedScopes(),
			"strict":  s.Strict,
		}).Warn("Export withheld out-of-scope records")

		if s.Strict {
			first := report.Refused[0]
			n := 0
			for _, r := range report.Refused {
				if r.Location == first.Location {
					n++
				}
			}
			return report, &domain.ScopeViolationError{Location: first.Location, Scope: first.Scope, Records: n}
		}
	}

	if err := Write(w, permitted, format); err != nil {
		return report, fmt.Errorf("scoped export failed: %w", err)
	}
	report.Written = len(permitted)
	return report, nil
}
