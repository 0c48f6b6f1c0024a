package species

import "github.com/oceanvision/marine-catalog/internal/domain/shared"

// Species domain errors
var (
	ErrSpeciesNotFound   = shared.NewDomainError("species", "Find", shared.ErrNotFound, "species not found")
	ErrInvalidDepthRange = shared.NewDomainError("species", "FilterByDepthRange", shared.ErrValueOutOfRange, "min depth must not exceed max depth")
	ErrDuplicateID       = shared.NewDomainError("species", "Validate", shared.ErrInvalidEntity, "duplicate species id")
)
