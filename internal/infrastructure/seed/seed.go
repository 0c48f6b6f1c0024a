// Package seed exposes the built-in species catalog baked into the binary.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// SourceName labels collections served from the built-in catalog.
const SourceName = "Static Database"

// catalogYAML contains the built-in catalog document.
//
//go:embed species.yaml
var catalogYAML []byte

type document struct {
	Species []species.Record `yaml:"species"`
}

// Parse decodes a catalog document and validates every record.
// Unknown keys are rejected so typos in the document fail loudly.
func Parse(data []byte) ([]species.Record, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := species.ValidateAll(doc.Species); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return doc.Species, nil
}

// Records returns a fresh copy of the built-in catalog.
func Records() ([]species.Record, error) {
	return Parse(catalogYAML)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADER
// ══════════════════════════════════════════════════════════════════════════════

// Loader serves the built-in catalog. Its envelopes never expire.
type Loader struct {
	records     []species.Record
	lastUpdated time.Time
}

// NewLoader parses the embedded document once.
func NewLoader() (*Loader, error) {
	records, err := Records()
	if err != nil {
		return nil, err
	}
	return &Loader{
		records:     records,
		lastUpdated: latestUpdate(records),
	}, nil
}

// Load returns the built-in collection. force has no effect.
func (l *Loader) Load(ctx context.Context, _ bool) (species.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return species.Envelope{}, err
	}
	return species.NewEnvelope(
		species.CloneAll(l.records),
		species.SourcesOf(l.records),
		l.lastUpdated,
		0,
	), nil
}

// Name identifies the loader in logs and metrics.
func (l *Loader) Name() string {
	return SourceName
}

func latestUpdate(records []species.Record) time.Time {
	var latest time.Time
	for _, r := range records {
		t, err := time.Parse("2006-01-02", r.LastUpdated)
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
