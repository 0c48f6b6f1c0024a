package species

import (
	"time"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
)

// Envelope wraps a full collection with its freshness metadata.
type Envelope struct {
	Species     []Record  `json:"species"`
	LastUpdated time.Time `json:"lastUpdated"`
	Sources     []string  `json:"sources"`

	// ExpiresAt is when the collection should be reloaded.
	// The zero value means it never expires.
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewEnvelope builds an envelope valid for ttl from lastUpdated.
// A non-positive ttl produces an envelope that never expires.
func NewEnvelope(records []Record, sources []string, lastUpdated time.Time, ttl time.Duration) Envelope {
	env := Envelope{
		Species:     records,
		LastUpdated: lastUpdated,
		Sources:     sources,
	}
	if ttl > 0 {
		env.ExpiresAt = lastUpdated.Add(ttl)
	}
	return env
}

// Expired reports whether the envelope is past its validity window at now.
func (e Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Len returns the number of records.
func (e Envelope) Len() int {
	return len(e.Species)
}

// SourcesOf returns the distinct source names across records, in first-seen order.
func SourcesOf(records []Record) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range records {
		for _, s := range r.Sources {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// ValidateAll validates every record and the uniqueness of ids.
func ValidateAll(records []Record) error {
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := ids[r.ID]; dup {
			return shared.WrapError("species", "ValidateAll", shared.ErrInvalidEntity, r.ID, ErrDuplicateID)
		}
		ids[r.ID] = struct{}{}
	}
	return nil
}
