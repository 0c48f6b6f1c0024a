package biodiversity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to PartialRecord transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper turns upstream DTOs into species.PartialRecord values.
// It only fills what the upstream actually said; defaults are applied later
// by species.Normalize.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Source names as they appear in Record.Sources.
const (
	SourceWoRMS    = "WoRMS"
	SourceOBIS     = "OBIS"
	SourceFishBase = "FishBase"
)

// Habitat labels derived from environment flags.
const (
	habitatMarine     = "Marine"
	habitatBrackish   = "Brackish Waters"
	habitatFreshwater = "Freshwater"
)

// iucnCategories maps IUCN Red List codes to the labels used by the catalog.
var iucnCategories = map[string]string{
	"EX": "Extinct",
	"EW": "Extinct in the Wild",
	"CR": "Critically Endangered",
	"EN": "Endangered",
	"VU": "Vulnerable",
	"NT": "Near Threatened",
	"LC": "Least Concern",
	"DD": "Data Deficient",
}

var yearPattern = regexp.MustCompile(`\b(1[5-9]\d{2}|20\d{2})\b`)

// ══════════════════════════════════════════════════════════════════════════════
// WoRMS
// ══════════════════════════════════════════════════════════════════════════════

// FromAphiaRecord maps a WoRMS record. Unaccepted names are replaced by the
// accepted name so that duplicates collapse on the same key.
func (m *Mapper) FromAphiaRecord(dto AphiaRecordDTO) species.PartialRecord {
	name := dto.ScientificName
	if dto.ValidName != "" && !strings.EqualFold(dto.Status, "accepted") {
		name = dto.ValidName
	}

	p := species.PartialRecord{
		Source:         SourceWoRMS,
		ScientificName: name,
		Family:         dto.Family,
		Order:          dto.Order,
		Phylum:         dto.Phylum,
		Kingdom:        dto.Kingdom,
		Habitat:        habitats(flag(dto.IsMarine), flag(dto.IsBrackish), flag(dto.IsFreshwater)),
		DiscoveryYear:  yearFrom(dto.Authority),
	}

	if flag(dto.IsExtinct) {
		p.ConservationStatus = iucnCategories["EX"]
	}
	if dto.AphiaID > 0 {
		p.Facts = []string{fmt.Sprintf("Registered in WoRMS under AphiaID %d.", dto.AphiaID)}
	}
	if dto.Class != "" {
		p.Facts = append(p.Facts, fmt.Sprintf("Belongs to the class %s.", dto.Class))
	}

	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// OBIS
// ══════════════════════════════════════════════════════════════════════════════

// FromChecklistItem maps an OBIS checklist entry.
func (m *Mapper) FromChecklistItem(dto ChecklistItemDTO) species.PartialRecord {
	p := species.PartialRecord{
		Source:             SourceOBIS,
		ScientificName:     dto.ScientificName,
		Family:             dto.Family,
		Order:              dto.Order,
		Phylum:             dto.Phylum,
		Kingdom:            dto.Kingdom,
		ConservationStatus: iucnCategories[strings.ToUpper(strings.TrimSpace(dto.Category))],
		Habitat:            habitats(dto.IsMarine != nil && *dto.IsMarine, dto.IsBrackish != nil && *dto.IsBrackish, false),
		DiscoveryYear:      yearFrom(dto.ScientificNameAuthorship),
	}

	switch {
	case dto.MinDepth != nil && dto.MaxDepth != nil:
		p.Depth = &species.Range{Min: *dto.MinDepth, Max: *dto.MaxDepth}
	case dto.MaxDepth != nil:
		p.Depth = &species.Range{Min: 0, Max: *dto.MaxDepth}
	}

	if dto.Records > 0 {
		p.Facts = []string{fmt.Sprintf("Backed by %d occurrence records in OBIS.", dto.Records)}
	}

	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// FishBase
// ══════════════════════════════════════════════════════════════════════════════

// FromFishBaseSpecies maps a FishBase species row. Weight is converted from
// grams to kilograms.
func (m *Mapper) FromFishBaseSpecies(dto FishBaseSpeciesDTO) species.PartialRecord {
	p := species.PartialRecord{
		Source:         SourceFishBase,
		ScientificName: dto.ScientificName(),
		CommonName:     strings.TrimSpace(dto.FBname),
		Habitat:        habitats(dto.Saltwater != nil && *dto.Saltwater != 0, dto.Brack != nil && *dto.Brack != 0, dto.Fresh != nil && *dto.Fresh != 0),
		Description:    strings.TrimSpace(dto.Comments),
		DiscoveryYear:  yearFrom(dto.Author),
	}

	shallow, hasShallow := dto.DepthRangeShallow.value()
	deep, hasDeep := dto.DepthRangeDeep.value()
	switch {
	case hasShallow && hasDeep:
		p.Depth = &species.Range{Min: shallow, Max: deep}
	case hasDeep:
		p.Depth = &species.Range{Min: 0, Max: deep}
	}

	if length, ok := dto.Length.value(); ok && length > 0 {
		p.Length = &species.Range{Min: 0, Max: length}
	}
	if weight, ok := dto.Weight.value(); ok && weight > 0 {
		p.Weight = &species.Range{Min: 0, Max: weight / 1000}
	}
	if age, ok := dto.LongevityWild.value(); ok && age > 0 {
		p.Lifespan = &age
	}
	if d := strings.TrimSpace(dto.Dangerous); d != "" && !strings.EqualFold(d, "harmless") {
		p.Facts = []string{fmt.Sprintf("Classified by FishBase as %s to humans.", strings.ToLower(d))}
	}

	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// habitats returns nil when no flag is set so that Normalize applies the default.
func habitats(marine, brackish, fresh bool) []string {
	var out []string
	if marine {
		out = append(out, habitatMarine)
	}
	if brackish {
		out = append(out, habitatBrackish)
	}
	if fresh {
		out = append(out, habitatFreshwater)
	}
	return out
}

// yearFrom extracts the year of description from an authority string such as
// "(Linnaeus, 1758)".
func yearFrom(authority string) *int {
	match := yearPattern.FindString(authority)
	if match == "" {
		return nil
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &year
}
