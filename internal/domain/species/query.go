package species

import "strings"

// Criteria is the input of an advanced search. Zero values impose no
// constraint. The depth constraint applies only when both MinDepth and
// MaxDepth are set; a single bound is ignored.
type Criteria struct {
	Name               string
	Habitat            string
	ConservationStatus string
	MinDepth           *float64
	MaxDepth           *float64
	Diet               string
}

// IsEmpty reports whether the criteria constrain nothing.
func (c Criteria) IsEmpty() bool {
	return c.Name == "" && c.Habitat == "" && c.ConservationStatus == "" &&
		!c.hasDepth() && c.Diet == ""
}

func (c Criteria) hasDepth() bool {
	return c.MinDepth != nil && c.MaxDepth != nil
}

// Matches reports whether a record satisfies every supplied criterion.
func (c Criteria) Matches(r Record) bool {
	if c.Name != "" && !containsFold(r.CommonName, c.Name) && !containsFold(r.ScientificName, c.Name) {
		return false
	}
	if c.Habitat != "" && !anyContainsFold(r.Habitat, c.Habitat) {
		return false
	}
	if c.ConservationStatus != "" && !containsFold(r.ConservationStatus, c.ConservationStatus) {
		return false
	}
	if c.hasDepth() && !r.Depth.Overlaps(*c.MinDepth, *c.MaxDepth) {
		return false
	}
	if c.Diet != "" && !anyContainsFold(r.Diet, c.Diet) {
		return false
	}
	return true
}

// MatchesName reports whether the common name, scientific name, family or
// order contains query.
func (r Record) MatchesName(query string) bool {
	return containsFold(r.CommonName, query) ||
		containsFold(r.ScientificName, query) ||
		containsFold(r.Family, query) ||
		containsFold(r.Order, query)
}

// SearchByName returns records whose name fields contain the trimmed query.
// A blank query returns an empty result, not the whole collection.
func SearchByName(records []Record, query string) []Record {
	q := strings.TrimSpace(query)
	if q == "" {
		return []Record{}
	}
	return filter(records, func(r Record) bool { return r.MatchesName(q) })
}

// FilterByHabitat returns records with at least one habitat label containing habitat.
func FilterByHabitat(records []Record, habitat string) []Record {
	return filter(records, func(r Record) bool { return anyContainsFold(r.Habitat, habitat) })
}

// FilterByConservationStatus returns records whose status contains status.
func FilterByConservationStatus(records []Record, status string) []Record {
	return filter(records, func(r Record) bool { return containsFold(r.ConservationStatus, status) })
}

// FilterByDepthRange returns records whose depth interval overlaps [min, max].
func FilterByDepthRange(records []Record, min, max float64) []Record {
	return filter(records, func(r Record) bool { return r.Depth.Overlaps(min, max) })
}

// AdvancedSearch returns records matching all criteria.
func AdvancedSearch(records []Record, c Criteria) []Record {
	return filter(records, c.Matches)
}

// FindByID looks a record up by exact id.
func FindByID(records []Record, id string) (Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

func filter(records []Record, keep func(Record) bool) []Record {
	out := make([]Record, 0)
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func anyContainsFold(values []string, substr string) bool {
	for _, v := range values {
		if containsFold(v, substr) {
			return true
		}
	}
	return false
}
