package species

import (
	"fmt"
	"strings"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Range is a numeric interval with a unit, used for depth, length and weight.
type Range struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Unit string  `json:"unit" yaml:"unit"`
}

// Valid reports whether Min does not exceed Max.
func (r Range) Valid() bool {
	return r.Min <= r.Max
}

// Overlaps reports whether [r.Min, r.Max] intersects [min, max].
func (r Range) Overlaps(min, max float64) bool {
	return r.Max >= min && r.Min <= max
}

// ordered returns the range with Min and Max swapped when inverted.
func (r Range) ordered() Range {
	if r.Min > r.Max {
		r.Min, r.Max = r.Max, r.Min
	}
	return r
}

// Size holds the biometrics of a species. Weight is optional.
type Size struct {
	Length Range  `json:"length" yaml:"length"`
	Weight *Range `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is one species entry in the catalog.
// JSON field names follow the shape front-end callers already consume.
type Record struct {
	// Identity
	ID string `json:"id" yaml:"id"`

	// Taxonomy
	ScientificName string `json:"scientificName" yaml:"scientific_name"`
	CommonName     string `json:"commonName" yaml:"common_name"`
	Family         string `json:"family" yaml:"family"`
	Order          string `json:"order" yaml:"order"`
	Phylum         string `json:"phylum" yaml:"phylum"`
	Kingdom        string `json:"kingdom" yaml:"kingdom"`

	// Ecology
	Habitat      []string `json:"habitat" yaml:"habitat"`
	Depth        Range    `json:"depth" yaml:"depth"`
	Distribution []string `json:"distribution" yaml:"distribution"`
	Diet         []string `json:"diet" yaml:"diet"`

	// Status
	ConservationStatus string `json:"conservationStatus" yaml:"conservation_status"`

	// Biometrics
	Size     Size    `json:"size" yaml:"size"`
	Lifespan float64 `json:"lifespan" yaml:"lifespan"`

	// Narrative
	Description string   `json:"description" yaml:"description"`
	Facts       []string `json:"facts" yaml:"facts"`
	Threats     []string `json:"threats" yaml:"threats"`

	// Media
	Images []string `json:"images" yaml:"images"`

	// Provenance
	DiscoveryYear     *int     `json:"discoveryYear,omitempty" yaml:"discovery_year,omitempty"`
	DiscoveryLocation string   `json:"discoveryLocation,omitempty" yaml:"discovery_location,omitempty"`
	Sources           []string `json:"sources" yaml:"sources"`
	LastUpdated       string   `json:"lastUpdated" yaml:"last_updated"`
}

// Validate checks the structural invariants of a record.
func (r Record) Validate() error {
	var problems []string

	if strings.TrimSpace(r.ID) == "" {
		problems = append(problems, "id is empty")
	}
	if !r.Depth.Valid() {
		problems = append(problems, fmt.Sprintf("depth min %.1f exceeds max %.1f", r.Depth.Min, r.Depth.Max))
	}
	if !r.Size.Length.Valid() {
		problems = append(problems, fmt.Sprintf("length min %.1f exceeds max %.1f", r.Size.Length.Min, r.Size.Length.Max))
	}
	if r.Size.Weight != nil && !r.Size.Weight.Valid() {
		problems = append(problems, fmt.Sprintf("weight min %.1f exceeds max %.1f", r.Size.Weight.Min, r.Size.Weight.Max))
	}
	if r.Lifespan <= 0 {
		problems = append(problems, "lifespan must be positive")
	}

	if len(problems) > 0 {
		return shared.NewDomainError("species", "Validate", shared.ErrInvalidEntity,
			fmt.Sprintf("record %q: %s", r.ID, strings.Join(problems, "; ")))
	}
	return nil
}

// Clone returns a deep copy so callers can't reach into the store's slices.
func (r Record) Clone() Record {
	c := r
	c.Habitat = cloneStrings(r.Habitat)
	c.Distribution = cloneStrings(r.Distribution)
	c.Diet = cloneStrings(r.Diet)
	c.Facts = cloneStrings(r.Facts)
	c.Threats = cloneStrings(r.Threats)
	c.Images = cloneStrings(r.Images)
	c.Sources = cloneStrings(r.Sources)
	if r.Size.Weight != nil {
		w := *r.Size.Weight
		c.Size.Weight = &w
	}
	if r.DiscoveryYear != nil {
		y := *r.DiscoveryYear
		c.DiscoveryYear = &y
	}
	return c
}

// CloneAll deep-copies a list of records. The result is never nil.
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
