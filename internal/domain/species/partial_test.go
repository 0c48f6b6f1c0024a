package species

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func TestNormalize_Sparse(t *testing.T) {
	got := Normalize(PartialRecord{Source: "OBIS", ScientificName: "Mola mola"}, fixedTime)

	want := Record{
		ID:                 "mola-mola",
		ScientificName:     "Mola mola",
		CommonName:         "Mola mola",
		Family:             UnknownValue,
		Order:              UnknownValue,
		Phylum:             UnknownValue,
		Kingdom:            UnknownValue,
		Habitat:            []string{DefaultHabitat},
		Depth:              Range{Min: 0, Max: 1000, Unit: "meters"},
		Distribution:       []string{},
		Diet:               []string{},
		ConservationStatus: UnknownValue,
		Size:               Size{Length: Range{Min: 0, Max: 0, Unit: "cm"}},
		Lifespan:           DefaultLifespan,
		Description:        "Mola mola is a marine species catalogued by OBIS.",
		Facts:              []string{},
		Threats:            []string{"Climate Change", "Pollution", "Habitat Loss"},
		Images:             []string{},
		Sources:            []string{"OBIS"},
		LastUpdated:        "2024-01-15",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, got.Validate())
}

func TestNormalize_PreservesSuppliedFields(t *testing.T) {
	lifespan := 25.0
	year := 1758
	p := PartialRecord{
		Source:             "WoRMS",
		ScientificName:     "  Carcharodon   carcharias ",
		CommonName:         "Great White Shark",
		Family:             "Lamnidae",
		Habitat:            []string{"Coastal Waters"},
		Depth:              &Range{Min: 1200, Max: 0},
		ConservationStatus: "Vulnerable",
		Length:             &Range{Min: 400, Max: 600, Unit: "cm"},
		Weight:             &Range{Min: 680, Max: 1100},
		Lifespan:           &lifespan,
		Description:        "Apex predator.",
		DiscoveryYear:      &year,
	}

	got := Normalize(p, fixedTime)

	assert.Equal(t, "carcharodon-carcharias", got.ID)
	assert.Equal(t, "Carcharodon carcharias", got.ScientificName)
	assert.Equal(t, "Great White Shark", got.CommonName)
	assert.Equal(t, Range{Min: 0, Max: 1200, Unit: "meters"}, got.Depth, "inverted depth is reordered")
	assert.Equal(t, Range{Min: 400, Max: 600, Unit: "cm"}, got.Size.Length)
	require.NotNil(t, got.Size.Weight)
	assert.Equal(t, "kg", got.Size.Weight.Unit)
	assert.Equal(t, 25.0, got.Lifespan)
	assert.Equal(t, "Apex predator.", got.Description)
	require.NotNil(t, got.DiscoveryYear)
	assert.Equal(t, 1758, *got.DiscoveryYear)

	year = 2000
	assert.Equal(t, 1758, *got.DiscoveryYear, "discovery year is copied")
	require.NoError(t, got.Validate())
}

func TestNormalize_AlwaysValid(t *testing.T) {
	zero := 0.0
	negative := -3.0
	inputs := []PartialRecord{
		{},
		{ScientificName: "   "},
		{ScientificName: "Sepia officinalis", Lifespan: &zero},
		{ScientificName: "Sepia officinalis", Lifespan: &negative},
		{ScientificName: "Sepia officinalis", Length: &Range{Min: 50, Max: 10}},
		{ScientificName: "Sepia officinalis", Weight: &Range{Min: 4, Max: 1}},
		{Source: "FishBase", ScientificName: "Gadus morhua", Habitat: []string{}},
	}

	for _, p := range inputs {
		rec := Normalize(p, fixedTime)
		assert.NoError(t, rec.Validate(), "input %+v", p)
		assert.NotEmpty(t, rec.Habitat)
		assert.NotEmpty(t, rec.Threats)
		assert.NotEmpty(t, rec.Sources)
		assert.Greater(t, rec.Lifespan, 0.0)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	p := PartialRecord{Source: "OBIS", ScientificName: "Aurelia aurita", Diet: []string{"Plankton"}}

	a := Normalize(p, fixedTime)
	b := Normalize(p, fixedTime)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("Normalize() is not deterministic:\n%s", diff)
	}
}

func TestDeduplicate_FirstWins(t *testing.T) {
	lifespan := 70.0
	partials := []PartialRecord{
		{Source: "WoRMS", ScientificName: "Carcharodon carcharias"},
		{Source: "OBIS", ScientificName: "Mola mola"},
		{Source: "FishBase", ScientificName: "carcharodon  CARCHARIAS", CommonName: "Great White", Lifespan: &lifespan},
		{Source: "FishBase", ScientificName: ""},
	}

	got := Deduplicate(partials)

	require.Len(t, got, 2)
	assert.Equal(t, "WoRMS", got[0].Source)
	assert.Empty(t, got[0].CommonName, "fields are not merged from later duplicates")
	assert.Nil(t, got[0].Lifespan)
	assert.Equal(t, "Mola mola", got[1].ScientificName)
}

func TestDeduplicate_UniqueIDs(t *testing.T) {
	partials := []PartialRecord{
		{ScientificName: "Tursiops truncatus"},
		{ScientificName: "Tursiops-truncatus"},
		{ScientificName: "Tursiops truncatus (Montagu)"},
	}

	records := NormalizeAll(Deduplicate(partials), fixedTime)

	require.NoError(t, ValidateAll(records))
	assert.Len(t, records, 2)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Carcharodon carcharias", "carcharodon-carcharias"},
		{"  Manta   birostris ", "manta-birostris"},
		{"Enteroctopus dofleini (Wülker, 1910)", "enteroctopus-dofleini-wülker-1910"},
		{"---", "unknown"},
		{"", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.in))
		})
	}
}
