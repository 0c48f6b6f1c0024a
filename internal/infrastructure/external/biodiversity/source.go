package biodiversity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/oceanvision/marine-catalog/internal/application/catalog"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// TERM FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

type termFetcher func(ctx context.Context, term string) ([]species.PartialRecord, error)

// fetchTerms queries every taxon term with bounded concurrency and returns the
// results in term order. A failing term is logged and skipped; the whole fetch
// fails only when every term failed. Terms without a match are not failures.
func (c *Client) fetchTerms(ctx context.Context, terms []string, fetch termFetcher) ([]species.PartialRecord, error) {
	results := make([][]species.PartialRecord, len(terms))
	errs := make([]error, len(terms))

	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)

	for i, term := range terms {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			recs, err := fetch(ctx, term)
			switch {
			case errors.Is(err, ErrNoMatch):
				c.logger.Debug("no match for term", "term", term)
			case err != nil:
				c.logger.Warn("term fetch failed", "term", term, "error", err)
				errs[i] = fmt.Errorf("%q: %w", term, err)
			default:
				results[i] = recs
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failures []error
	var out []species.PartialRecord
	for i := range terms {
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		out = append(out, results[i]...)
	}

	if len(terms) > 0 && len(failures) == len(terms) {
		return nil, fmt.Errorf("%s: all %d terms failed: %w", c.config.Name, len(terms), errors.Join(failures...))
	}

	return out, nil
}

// cleanTerms trims terms and drops blanks and case-insensitive duplicates.
func cleanTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// WoRMS SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// WoRMSSource looks taxa up in the World Register of Marine Species.
type WoRMSSource struct {
	client *Client
	mapper *Mapper
	terms  []string
}

var _ catalog.Source = (*WoRMSSource)(nil)

// NewWoRMSSource creates a WoRMS source querying the given taxon names.
func NewWoRMSSource(client *Client, terms []string) *WoRMSSource {
	return &WoRMSSource{client: client, mapper: NewMapper(), terms: cleanTerms(terms)}
}

// Name implements catalog.Source.
func (s *WoRMSSource) Name() string { return SourceWoRMS }

// Fetch implements catalog.Source.
func (s *WoRMSSource) Fetch(ctx context.Context) ([]species.PartialRecord, error) {
	return s.client.fetchTerms(ctx, s.terms, func(ctx context.Context, term string) ([]species.PartialRecord, error) {
		records, err := s.Search(ctx, term)
		if err != nil {
			return nil, err
		}
		out := make([]species.PartialRecord, 0, len(records))
		for _, r := range records {
			out = append(out, s.mapper.FromAphiaRecord(r))
		}
		return out, nil
	})
}

// Search returns the exact-name matches for a scientific name.
func (s *WoRMSSource) Search(ctx context.Context, name string) ([]AphiaRecordDTO, error) {
	query := url.Values{}
	query.Set("like", "false")
	query.Set("marine_only", "true")

	var records []AphiaRecordDTO
	if err := s.client.getJSON(ctx, "/AphiaRecordsByName/"+url.PathEscape(name), query, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OBIS SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// OBISSource reads the Ocean Biodiversity Information System checklist.
type OBISSource struct {
	client *Client
	mapper *Mapper
	terms  []string
}

var _ catalog.Source = (*OBISSource)(nil)

// NewOBISSource creates an OBIS source querying the given taxon names.
func NewOBISSource(client *Client, terms []string) *OBISSource {
	return &OBISSource{client: client, mapper: NewMapper(), terms: cleanTerms(terms)}
}

// Name implements catalog.Source.
func (s *OBISSource) Name() string { return SourceOBIS }

// Fetch implements catalog.Source.
func (s *OBISSource) Fetch(ctx context.Context) ([]species.PartialRecord, error) {
	return s.client.fetchTerms(ctx, s.terms, func(ctx context.Context, term string) ([]species.PartialRecord, error) {
		resp, err := s.Checklist(ctx, term)
		if err != nil {
			return nil, err
		}
		if len(resp.Results) == 0 {
			return nil, ErrNoMatch
		}
		out := make([]species.PartialRecord, 0, len(resp.Results))
		for _, item := range resp.Results {
			out = append(out, s.mapper.FromChecklistItem(item))
		}
		return out, nil
	})
}

// Checklist returns the OBIS checklist for a scientific name.
func (s *OBISSource) Checklist(ctx context.Context, name string) (*ChecklistResponseDTO, error) {
	query := url.Values{}
	query.Set("scientificname", name)

	var resp ChecklistResponseDTO
	if err := s.client.getJSON(ctx, "/v3/checklist", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FishBase SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// FishBaseSource reads life-history data from the FishBase API.
// Only binomial terms ("Genus species") can be looked up.
type FishBaseSource struct {
	client *Client
	mapper *Mapper
	terms  []string
}

var _ catalog.Source = (*FishBaseSource)(nil)

// NewFishBaseSource creates a FishBase source querying the given taxon names.
func NewFishBaseSource(client *Client, terms []string) *FishBaseSource {
	return &FishBaseSource{client: client, mapper: NewMapper(), terms: cleanTerms(terms)}
}

// Name implements catalog.Source.
func (s *FishBaseSource) Name() string { return SourceFishBase }

// Fetch implements catalog.Source.
func (s *FishBaseSource) Fetch(ctx context.Context) ([]species.PartialRecord, error) {
	return s.client.fetchTerms(ctx, s.terms, func(ctx context.Context, term string) ([]species.PartialRecord, error) {
		parts := strings.Fields(term)
		if len(parts) < 2 {
			return nil, ErrNoMatch
		}
		resp, err := s.Species(ctx, parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		if resp.Error != nil && *resp.Error != "" {
			return nil, fmt.Errorf("fishbase: %s", *resp.Error)
		}
		if len(resp.Data) == 0 {
			return nil, ErrNoMatch
		}
		out := make([]species.PartialRecord, 0, len(resp.Data))
		for _, row := range resp.Data {
			out = append(out, s.mapper.FromFishBaseSpecies(row))
		}
		return out, nil
	})
}

// Species returns the FishBase rows for a genus and species epithet.
func (s *FishBaseSource) Species(ctx context.Context, genus, epithet string) (*FishBaseResponseDTO, error) {
	query := url.Values{}
	query.Set("Genus", genus)
	query.Set("Species", epithet)

	var resp FishBaseResponseDTO
	if err := s.client.getJSON(ctx, "/species", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
