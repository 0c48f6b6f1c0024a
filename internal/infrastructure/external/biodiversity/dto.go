// Package biodiversity implements clients for the public marine biodiversity
// databases the catalog aggregates: WoRMS, OBIS and FishBase.
// Each client maps its own wire format into species.PartialRecord and
// implements catalog.Source.
package biodiversity

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// WoRMS DTOs
// GET /AphiaRecordsByName/{name} returns a bare JSON array.
// ══════════════════════════════════════════════════════════════════════════════

// AphiaRecordDTO is a taxon record from the World Register of Marine Species.
type AphiaRecordDTO struct {
	AphiaID        int    `json:"AphiaID"`
	URL            string `json:"url,omitempty"`
	ScientificName string `json:"scientificname"`

	// Authority is "Author, Year", parenthesised when the genus changed.
	Authority string `json:"authority,omitempty"`

	Status    string `json:"status,omitempty"`
	Rank      string `json:"rank,omitempty"`
	ValidName string `json:"valid_name,omitempty"`

	Kingdom string `json:"kingdom,omitempty"`
	Phylum  string `json:"phylum,omitempty"`
	Class   string `json:"class,omitempty"`
	Order   string `json:"order,omitempty"`
	Family  string `json:"family,omitempty"`
	Genus   string `json:"genus,omitempty"`

	// Environment flags are 0/1/null in the API.
	IsMarine      *int `json:"isMarine"`
	IsBrackish    *int `json:"isBrackish"`
	IsFreshwater  *int `json:"isFreshwater"`
	IsTerrestrial *int `json:"isTerrestrial"`
	IsExtinct     *int `json:"isExtinct"`

	Modified string `json:"modified,omitempty"`
}

// flag reports whether a WoRMS 0/1/null flag is set.
func flag(v *int) bool {
	return v != nil && *v == 1
}

// ══════════════════════════════════════════════════════════════════════════════
// OBIS DTOs
// GET /v3/checklist?scientificname= returns {"total": n, "results": [...]}.
// ══════════════════════════════════════════════════════════════════════════════

// ChecklistResponseDTO is the OBIS checklist envelope.
type ChecklistResponseDTO struct {
	Total   int                `json:"total"`
	Results []ChecklistItemDTO `json:"results"`
}

// ChecklistItemDTO is one taxon of an OBIS checklist.
type ChecklistItemDTO struct {
	ScientificName           string `json:"scientificName"`
	ScientificNameAuthorship string `json:"scientificNameAuthorship,omitempty"`
	TaxonID                  int    `json:"taxonID"`
	TaxonRank                string `json:"taxonRank,omitempty"`

	Kingdom string `json:"kingdom,omitempty"`
	Phylum  string `json:"phylum,omitempty"`
	Class   string `json:"class,omitempty"`
	Order   string `json:"order,omitempty"`
	Family  string `json:"family,omitempty"`
	Genus   string `json:"genus,omitempty"`

	// Records is the number of occurrence records behind this taxon.
	Records int `json:"records"`

	IsMarine   *bool `json:"is_marine"`
	IsBrackish *bool `json:"is_brackish"`

	// Category is the IUCN Red List code (CR, EN, VU, ...).
	Category string `json:"category,omitempty"`

	MinDepth *float64 `json:"minDepth,omitempty"`
	MaxDepth *float64 `json:"maxDepth,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// FishBase DTOs
// GET /species?Genus=&Species= returns {"count": n, "data": [...]}.
// ══════════════════════════════════════════════════════════════════════════════

// FishBaseResponseDTO is the FishBase API envelope.
type FishBaseResponseDTO struct {
	Count    int                 `json:"count"`
	Returned int                 `json:"returned"`
	Error    *string             `json:"error"`
	Data     []FishBaseSpeciesDTO `json:"data"`
}

// FishBaseSpeciesDTO is a row of the FishBase species table.
// Numeric columns are sometimes sent as strings, hence looseFloat.
type FishBaseSpeciesDTO struct {
	SpecCode int    `json:"SpecCode"`
	Genus    string `json:"Genus"`
	Species  string `json:"Species"`
	Author   string `json:"Author,omitempty"`

	// FBname is the FishBase common name.
	FBname string `json:"FBname,omitempty"`

	DepthRangeShallow *looseFloat `json:"DepthRangeShallow"`
	DepthRangeDeep    *looseFloat `json:"DepthRangeDeep"`

	// Length is the maximum length in cm.
	Length *looseFloat `json:"Length"`

	// Weight is the maximum weight in grams.
	Weight *looseFloat `json:"Weight"`

	// LongevityWild is the maximum reported age in years.
	LongevityWild *looseFloat `json:"LongevityWild"`

	Fresh     *int `json:"Fresh"`
	Brack     *int `json:"Brack"`
	Saltwater *int `json:"Saltwater"`

	Dangerous string `json:"Dangerous,omitempty"`
	Comments  string `json:"Comments,omitempty"`
}

// ScientificName joins genus and species epithet.
func (d FishBaseSpeciesDTO) ScientificName() string {
	return strings.TrimSpace(d.Genus + " " + d.Species)
}

// looseFloat accepts JSON numbers, numeric strings and null.
type looseFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *looseFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = looseFloat(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*f = looseFloat(n)
	return nil
}

func (f *looseFloat) value() (float64, bool) {
	if f == nil {
		return 0, false
	}
	return float64(*f), true
}
