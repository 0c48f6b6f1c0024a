package species

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ══════════════════════════════════════════════════════════════════════════════
// PARTIAL RECORD
// ══════════════════════════════════════════════════════════════════════════════

// PartialRecord is what one upstream source knows about a species.
// Absent data stays absent: empty strings, nil pointers and nil slices mean
// "the source did not say". Only Normalize turns it into a Record.
type PartialRecord struct {
	// Source is the name of the database the data came from (e.g. "WoRMS").
	Source string

	ScientificName string
	CommonName     string
	Family         string
	Order          string
	Phylum         string
	Kingdom        string

	Habitat      []string
	Depth        *Range
	Distribution []string
	Diet         []string

	ConservationStatus string

	Length   *Range
	Weight   *Range
	Lifespan *float64

	Description string
	Facts       []string
	Threats     []string
	Images      []string

	DiscoveryYear     *int
	DiscoveryLocation string
}

// Key returns the deduplication key of the partial record.
func (p PartialRecord) Key() string {
	return Slug(p.ScientificName)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// UnknownValue is the placeholder for missing taxonomy and status.
	UnknownValue = "Unknown"

	// DefaultLifespan is used when a source reports no lifespan (years).
	DefaultLifespan = 10.0

	// DefaultHabitat is used when a source reports no habitat.
	DefaultHabitat = "Marine"

	dateLayout = "2006-01-02"
)

// DefaultDepth is used when a source reports no depth range.
func DefaultDepth() Range {
	return Range{Min: 0, Max: 1000, Unit: "meters"}
}

// DefaultLength is used when a source reports no body length.
func DefaultLength() Range {
	return Range{Min: 0, Max: 0, Unit: "cm"}
}

// DefaultThreats is the generic threat list for species without assessments.
func DefaultThreats() []string {
	return []string{"Climate Change", "Pollution", "Habitat Loss"}
}

// ══════════════════════════════════════════════════════════════════════════════
// NORMALIZATION
// ══════════════════════════════════════════════════════════════════════════════

// Normalize completes a partial record into a full Record.
// It is total and deterministic: every input, however sparse, yields a record
// that passes Validate. fetchedAt stamps LastUpdated.
func Normalize(p PartialRecord, fetchedAt time.Time) Record {
	source := orDefault(p.Source, "Unknown Source")
	scientific := orDefault(strings.Join(strings.Fields(p.ScientificName), " "), UnknownValue)

	rec := Record{
		ID:                 Slug(scientific),
		ScientificName:     scientific,
		CommonName:         orDefault(p.CommonName, scientific),
		Family:             orDefault(p.Family, UnknownValue),
		Order:              orDefault(p.Order, UnknownValue),
		Phylum:             orDefault(p.Phylum, UnknownValue),
		Kingdom:            orDefault(p.Kingdom, UnknownValue),
		Habitat:            nonEmptyOr(p.Habitat, []string{DefaultHabitat}),
		Depth:              DefaultDepth(),
		Distribution:       cloneStrings(p.Distribution),
		Diet:               cloneStrings(p.Diet),
		ConservationStatus: orDefault(p.ConservationStatus, UnknownValue),
		Size:               Size{Length: DefaultLength()},
		Lifespan:           DefaultLifespan,
		Description:        p.Description,
		Facts:              cloneStrings(p.Facts),
		Threats:            nonEmptyOr(p.Threats, DefaultThreats()),
		Images:             cloneStrings(p.Images),
		DiscoveryLocation:  p.DiscoveryLocation,
		Sources:            []string{source},
		LastUpdated:        fetchedAt.UTC().Format(dateLayout),
	}

	if p.Depth != nil {
		rec.Depth = withUnit(p.Depth.ordered(), "meters")
	}
	if p.Length != nil {
		rec.Size.Length = withUnit(p.Length.ordered(), "cm")
	}
	if p.Weight != nil {
		w := withUnit(p.Weight.ordered(), "kg")
		rec.Size.Weight = &w
	}
	if p.Lifespan != nil && *p.Lifespan > 0 {
		rec.Lifespan = *p.Lifespan
	}
	if p.DiscoveryYear != nil {
		y := *p.DiscoveryYear
		rec.DiscoveryYear = &y
	}
	if strings.TrimSpace(rec.Description) == "" {
		rec.Description = fmt.Sprintf("%s is a marine species catalogued by %s.", scientific, source)
	}

	return rec
}

// NormalizeAll normalizes a list of partial records in order.
func NormalizeAll(partials []PartialRecord, fetchedAt time.Time) []Record {
	out := make([]Record, 0, len(partials))
	for _, p := range partials {
		out = append(out, Normalize(p, fetchedAt))
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DEDUPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// Deduplicate keeps the first partial record per scientific name.
// Later duplicates are dropped even when they carry richer data; fields are
// never merged across sources. Records without a scientific name are dropped
// because they can't be keyed.
func Deduplicate(partials []PartialRecord) []PartialRecord {
	seen := make(map[string]struct{}, len(partials))
	out := make([]PartialRecord, 0, len(partials))

	for _, p := range partials {
		if strings.TrimSpace(p.ScientificName) == "" {
			continue
		}
		key := p.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}

	return out
}

// Slug derives a stable identifier from a name: lowercase letters and digits
// separated by single hyphens. "Carcharodon carcharias" becomes
// "carcharodon-carcharias".
func Slug(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pendingDash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	if b.Len() == 0 {
		return strings.ToLower(UnknownValue)
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func nonEmptyOr(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return cloneStrings(values)
}

func withUnit(r Range, unit string) Range {
	if r.Unit == "" {
		r.Unit = unit
	}
	return r
}
