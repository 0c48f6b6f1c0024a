package species

import "time"

// Statistics summarizes the collection.
// An empty collection reports TotalSpecies == 0 and AverageLifespan == 0;
// HasData is the check callers should use before showing the average.
type Statistics struct {
	TotalSpecies       int            `json:"totalSpecies"`
	ConservationCounts map[string]int `json:"conservationCounts"`
	HabitatCounts      map[string]int `json:"habitatCounts"`
	AverageLifespan    float64        `json:"averageLifespan"`
	LastUpdated        time.Time      `json:"lastUpdated"`
	Sources            []string       `json:"sources"`
}

// HasData reports whether the statistics describe at least one record.
func (s Statistics) HasData() bool {
	return s.TotalSpecies > 0
}

// ComputeStatistics aggregates counts and the mean lifespan over records.
// Every habitat label of a record contributes to that label's count.
func ComputeStatistics(records []Record, lastUpdated time.Time, sources []string) Statistics {
	stats := Statistics{
		TotalSpecies:       len(records),
		ConservationCounts: make(map[string]int),
		HabitatCounts:      make(map[string]int),
		LastUpdated:        lastUpdated,
		Sources:            cloneStrings(sources),
	}

	var lifespanSum float64
	for _, r := range records {
		stats.ConservationCounts[r.ConservationStatus]++
		for _, h := range r.Habitat {
			stats.HabitatCounts[h]++
		}
		lifespanSum += r.Lifespan
	}

	if len(records) > 0 {
		stats.AverageLifespan = lifespanSum / float64(len(records))
	}

	return stats
}
