package species

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
)

func TestComputeStatistics(t *testing.T) {
	records := []Record{
		{ID: "1", ConservationStatus: "Endangered", Habitat: []string{"Open Ocean", "Coastal Waters"}, Lifespan: 90},
		{ID: "2", ConservationStatus: "Endangered", Habitat: []string{"Open Ocean"}, Lifespan: 80},
		{ID: "3", ConservationStatus: "Least Concern", Habitat: []string{"Coral Reefs"}, Lifespan: 10},
		{ID: "4", ConservationStatus: "Vulnerable", Habitat: nil, Lifespan: 5.5},
	}

	stats := ComputeStatistics(records, fixedTime, []string{"Static Database"})

	assert.True(t, stats.HasData())
	assert.Equal(t, 4, stats.TotalSpecies)
	assert.Equal(t, map[string]int{"Endangered": 2, "Least Concern": 1, "Vulnerable": 1}, stats.ConservationCounts)
	assert.Equal(t, map[string]int{"Open Ocean": 2, "Coastal Waters": 1, "Coral Reefs": 1}, stats.HabitatCounts)
	assert.InDelta(t, 46.375, stats.AverageLifespan, 1e-9)
	assert.Equal(t, fixedTime, stats.LastUpdated)
	assert.Equal(t, []string{"Static Database"}, stats.Sources)
}

func TestComputeStatistics_Empty(t *testing.T) {
	stats := ComputeStatistics(nil, time.Time{}, nil)

	assert.False(t, stats.HasData())
	assert.Zero(t, stats.TotalSpecies)
	assert.Zero(t, stats.AverageLifespan)
	assert.NotNil(t, stats.ConservationCounts)
	assert.NotNil(t, stats.HabitatCounts)
	assert.NotNil(t, stats.Sources)

	_, err := json.Marshal(stats)
	require.NoError(t, err, "empty statistics must stay encodable")
}

func TestEnvelope_Expired(t *testing.T) {
	env := NewEnvelope(nil, nil, fixedTime, 24*time.Hour)

	assert.False(t, env.Expired(fixedTime))
	assert.False(t, env.Expired(fixedTime.Add(24*time.Hour-time.Second)))
	assert.True(t, env.Expired(fixedTime.Add(24*time.Hour)))

	forever := NewEnvelope(nil, nil, fixedTime, 0)
	assert.True(t, forever.ExpiresAt.IsZero())
	assert.False(t, forever.Expired(fixedTime.Add(10*365*24*time.Hour)))
}

func TestSourcesOf(t *testing.T) {
	records := []Record{
		{Sources: []string{"WoRMS"}},
		{Sources: []string{"OBIS", "WoRMS"}},
		{Sources: nil},
		{Sources: []string{"FishBase"}},
	}

	assert.Equal(t, []string{"WoRMS", "OBIS", "FishBase"}, SourcesOf(records))
	assert.Equal(t, []string{}, SourcesOf(nil))
}

func TestValidateAll(t *testing.T) {
	valid := Normalize(PartialRecord{ScientificName: "Mola mola"}, fixedTime)

	t.Run("valid collection", func(t *testing.T) {
		assert.NoError(t, ValidateAll([]Record{valid}))
	})

	t.Run("duplicate ids", func(t *testing.T) {
		err := ValidateAll([]Record{valid, valid})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateID))
		assert.True(t, errors.Is(err, shared.ErrInvalidEntity))
	})

	t.Run("inverted depth", func(t *testing.T) {
		bad := valid.Clone()
		bad.Depth = Range{Min: 10, Max: 1}
		err := ValidateAll([]Record{bad})
		require.Error(t, err)
		assert.True(t, errors.Is(err, shared.ErrInvalidEntity))
	})

	t.Run("non-positive lifespan", func(t *testing.T) {
		bad := valid.Clone()
		bad.Lifespan = 0
		assert.Error(t, bad.Validate())
	})
}

func TestRecord_CloneIsDeep(t *testing.T) {
	w := Range{Min: 1, Max: 2, Unit: "kg"}
	rec := Record{ID: "x", Habitat: []string{"Reef"}, Size: Size{Weight: &w}}

	c := rec.Clone()
	c.Habitat[0] = "Kelp"
	c.Size.Weight.Max = 99

	assert.Equal(t, "Reef", rec.Habitat[0])
	assert.Equal(t, 2.0, rec.Size.Weight.Max)
	assert.NotNil(t, CloneAll(nil))
}
