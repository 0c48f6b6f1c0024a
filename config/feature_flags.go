package config

import (
	"errors"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

// Feature flag names.
const (
	FeatureSourceWoRMS    = "source.worms"
	FeatureSourceOBIS     = "source.obis"
	FeatureSourceFishBase = "source.fishbase"

	FeatureAPIRefresh = "api.refresh" // POST /api/v1/catalog/refresh
	FeatureAPIMetrics = "api.metrics" // GET /metrics

	FeatureCatalogSharedCache = "catalog.shared_cache" // Redis envelope shared between replicas
)

// Feature is a snapshot of one flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// defaultFeatures is the full flag set. Flags outside it cannot be toggled.
var defaultFeatures = []Feature{
	{FeatureSourceWoRMS, "Query the World Register of Marine Species", true},
	{FeatureSourceOBIS, "Query the Ocean Biodiversity Information System", true},
	{FeatureSourceFishBase, "Query FishBase for life-history traits", true},
	{FeatureAPIRefresh, "Expose the operator catalog refresh endpoint", true},
	{FeatureAPIMetrics, "Expose Prometheus metrics", true},
	{FeatureCatalogSharedCache, "Share aggregated catalogs through Redis", false},
}

// ErrFeatureNotFound is returned when toggling an unknown feature.
var ErrFeatureNotFound = errors.New("feature not found")

// FeatureFlags holds the on/off toggles of catalog components. The set of
// flags is fixed at load; only their values change, so reads take no lock.
type FeatureFlags struct {
	order []Feature
	state map[string]*atomic.Bool
}

// LoadFeatureFlags starts from the compiled-in defaults and applies
// FEATURE_<NAME> environment overrides ("catalog.shared_cache" reads
// FEATURE_CATALOG_SHARED_CACHE). Unparseable values are ignored.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		order: slices.Clone(defaultFeatures),
		state: make(map[string]*atomic.Bool, len(defaultFeatures)),
	}
	for _, f := range ff.order {
		on := f.Enabled
		if v, err := strconv.ParseBool(os.Getenv(featureNameToEnvKey(f.Name))); err == nil {
			on = v
		}
		b := new(atomic.Bool)
		b.Store(on)
		ff.state[f.Name] = b
	}
	return ff
}

func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	b, ok := ff.state[name]
	return ok && b.Load()
}

// SetEnabled toggles a feature at runtime.
func (ff *FeatureFlags) SetEnabled(name string, enabled bool) error {
	b, ok := ff.state[name]
	if !ok {
		return ErrFeatureNotFound
	}
	b.Store(enabled)
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetEnabled(name, true) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetEnabled(name, false) }

// GetAllFeatures returns a snapshot keyed by name.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	out := make(map[string]Feature, len(ff.order))
	for _, f := range ff.order {
		f.Enabled = ff.IsEnabled(f.Name)
		out[f.Name] = f
	}
	return out
}

// EnabledFeatures lists enabled flag names in sorted order.
func (ff *FeatureFlags) EnabledFeatures() []string {
	var names []string
	for _, f := range ff.order {
		if ff.IsEnabled(f.Name) {
			names = append(names, f.Name)
		}
	}
	slices.Sort(names)
	return names
}
