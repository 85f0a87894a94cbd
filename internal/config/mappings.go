package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/phenovariant-server/internal/domain"
)

// mappingsFile is the YAML layout of a schema mappings file:
//
//	mappings:
//	  - name: lab-a
//	    fields:
//	      gene_symbol: Gene
//	      descriptor: cDNA
//	    split_transcript: true
type mappingsFile struct {
	Mappings []domain.SchemaMapping `yaml:"mappings"`
}

// Mappings holds validated schema mappings by name
type Mappings map[string]domain.SchemaMapping

// Names returns the mapping names, sorted
func (m Mappings) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named mapping
func (m Mappings) Get(name string) (domain.SchemaMapping, error) {
	mapping, ok := m[name]
	if !ok {
		return domain.SchemaMapping{}, fmt.Errorf("schema mapping %q: %w", name, domain.ErrNotFound)
	}
	return mapping, nil
}

// LoadSchemaMappings reads and validates a mappings file
func LoadSchemaMappings(path string) (Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings file: %w", err)
	}
	return ParseSchemaMappings(data)
}

// ParseSchemaMappings decodes and validates YAML schema mappings. Every
// mapping must be named, names must be unique, and each mapping must pass
// SchemaMapping.Validate.
func ParseSchemaMappings(data []byte) (Mappings, error) {
	var file mappingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse mappings: %w", err)
	}

	out := make(Mappings, len(file.Mappings))
	for i := range file.Mappings {
		m := file.Mappings[i]
		if m.Name == "" {
			return nil, &domain.SchemaValidationError{Field: "name", Reason: fmt.Sprintf("mapping %d has no name", i+1)}
		}
		if _, dup := out[m.Name]; dup {
			return nil, &domain.SchemaValidationError{Field: "name", Reason: fmt.Sprintf("mapping %q is defined twice", m.Name)}
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mapping %q: %w", m.Name, err)
		}
		out[m.Name] = m
	}
	return out, nil
}
