// Package catalog owns the species collection served to callers: the Store
// answering queries over an immutable snapshot, and the Aggregator that
// builds snapshots from several upstream biodiversity sources.
package catalog

import (
	"context"
	"time"

	"github.com/oceanvision/marine-catalog/internal/domain/shared"
	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// Loader produces a complete collection for the Store.
// force asks the loader to bypass any cache it keeps.
type Loader interface {
	Load(ctx context.Context, force bool) (species.Envelope, error)
}

// Source is one upstream database queried by the Aggregator.
// Fetch returns partial records tagged with the source name; an error means
// the source contributed nothing to this run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]species.PartialRecord, error)
}

// EnvelopeStore shares aggregated envelopes between processes.
// Load returns an error when nothing is stored.
type EnvelopeStore interface {
	Load(ctx context.Context) (species.Envelope, error)
	Save(ctx context.Context, env species.Envelope) error
}

// Observer receives fetch and reload outcomes, typically to record metrics.
type Observer interface {
	ObserveSourceFetch(source string, records int, duration time.Duration, err error)
	ObserveReload(trigger string, records int, duration time.Duration, err error)
}

// Reload triggers reported to the Observer.
const (
	TriggerInitialize = "initialize"
	TriggerExpired    = "expired"
	TriggerRefresh    = "refresh"
)

// ErrAllSourcesFailed is returned when no configured source produced data.
var ErrAllSourcesFailed = shared.NewDomainError("catalog", "Aggregate", shared.ErrServiceUnavailable, "all sources failed")

// ErrNoSources is returned by an Aggregator built without sources.
var ErrNoSources = shared.NewDomainError("catalog", "Aggregate", shared.ErrInvalidState, "no sources configured")

type nopObserver struct{}

func (nopObserver) ObserveSourceFetch(string, int, time.Duration, error) {}
func (nopObserver) ObserveReload(string, int, time.Duration, error)     {}

func loaderName(l Loader) string {
	if n, ok := l.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "loader"
}
