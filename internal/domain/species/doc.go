// Package species contains the domain model of the marine species catalog.
//
// The package defines:
//
//   - Record: the canonical species entry served to callers
//   - PartialRecord: what a single upstream source knows about a species,
//     before normalization
//   - Normalize: the total function that turns any PartialRecord into a
//     structurally valid Record
//   - Criteria and the query helpers (SearchByName, FilterByHabitat, ...)
//   - Statistics and Envelope (the collection plus freshness metadata)
//
// Everything here is pure: no I/O, no clocks, no shared state. The catalog
// store in internal/application/catalog owns the live collection and calls
// into this package to answer queries.
//
// # Matching rules
//
// All text predicates are case-insensitive substring matches. A name search
// with a blank query returns nothing, while an empty Criteria matches
// everything:
//
//	species.SearchByName(records, "")          // []
//	species.AdvancedSearch(records, Criteria{}) // all records
//
// The depth predicate is an interval overlap, not containment: a record
// living between 0 and 500 meters matches the range [400, 2000].
package species
