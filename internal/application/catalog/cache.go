package catalog

import (
	"sync"
	"time"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// envelopeCache holds the last aggregated envelope.
type envelopeCache struct {
	mu  sync.RWMutex
	env *species.Envelope
}

// get returns a copy of the cached envelope if it is still valid at now.
func (c *envelopeCache) get(now time.Time) (species.Envelope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.env == nil || c.env.Expired(now) {
		return species.Envelope{}, false
	}
	return cloneEnvelope(*c.env), true
}

func (c *envelopeCache) set(env species.Envelope) {
	stored := cloneEnvelope(env)

	c.mu.Lock()
	c.env = &stored
	c.mu.Unlock()
}

func cloneEnvelope(env species.Envelope) species.Envelope {
	out := env
	out.Species = species.CloneAll(env.Species)
	out.Sources = append([]string{}, env.Sources...)
	return out
}
