package ontology

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
)

// artifactFormat is bumped whenever the encoded layout changes.
const artifactFormat = 2

// Warnings are carried explicitly because the encoded concepts have their
// dangling parents pruned and a rebuild cannot rediscover them.
type artifact struct {
	Format   int
	Version  string
	Concepts []Concept
	Warnings []Warning
}

// Snapshot returns a copy of the concepts the index was built from, with
// dangling parents already removed.
func (ix *Index) Snapshot() *Snapshot {
	concepts := make([]Concept, len(ix.nodes))
	copy(concepts, ix.nodes)
	return &Snapshot{Version: ix.version, Concepts: concepts}
}

// Encode writes the index as a gzip-compressed gob artifact.
func (ix *Index) Encode(w io.Writer) error {
	zw := gzip.NewWriter(w)
	art := artifact{Format: artifactFormat, Version: ix.version, Concepts: ix.nodes, Warnings: ix.warnings}
	if err := gob.NewEncoder(zw).Encode(&art); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode index artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush index artifact: %w", err)
	}
	return nil
}

// Decode reads an artifact written by Encode and rebuilds the index. The
// rebuilt index reports the warnings of the original build.
func Decode(r io.Reader) (*Index, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open index artifact: %w", err)
	}
	defer zr.Close()

	var art artifact
	if err := gob.NewDecoder(zr).Decode(&art); err != nil {
		return nil, fmt.Errorf("failed to decode index artifact: %w", err)
	}
	if art.Format != artifactFormat {
		return nil, fmt.Errorf("unsupported index artifact format %d", art.Format)
	}
	ix, err := Build(&Snapshot{Version: art.Version, Concepts: art.Concepts})
	if err != nil {
		return nil, err
	}
	ix.warnings = art.Warnings
	return ix, nil
}
