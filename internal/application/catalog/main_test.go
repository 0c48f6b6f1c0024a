package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// TEST DOUBLES
// ══════════════════════════════════════════════════════════════════════════════

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeLoader struct {
	mu     sync.Mutex
	env    species.Envelope
	err    error
	panics bool
	gate   chan struct{}

	calls  atomic.Int32
	forced atomic.Int32
}

func (l *fakeLoader) Load(ctx context.Context, force bool) (species.Envelope, error) {
	l.calls.Add(1)
	if force {
		l.forced.Add(1)
	}
	if l.gate != nil {
		<-l.gate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.panics {
		panic("loader exploded")
	}
	if l.err != nil {
		return species.Envelope{}, l.err
	}
	return cloneEnvelope(l.env), nil
}

func (l *fakeLoader) set(env species.Envelope, err error) {
	l.mu.Lock()
	l.env, l.err = env, err
	l.mu.Unlock()
}

type fakeSource struct {
	name    string
	records []species.PartialRecord
	err     error
	panics  bool
	delay   time.Duration
	calls   atomic.Int32
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(ctx context.Context) ([]species.PartialRecord, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panics {
		panic("source exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]species.PartialRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

type loaderFunc func(ctx context.Context, force bool) (species.Envelope, error)

func (f loaderFunc) Load(ctx context.Context, force bool) (species.Envelope, error) {
	return f(ctx, force)
}

type memoryEnvelopeStore struct {
	mu    sync.Mutex
	env   *species.Envelope
	saves int
}

var errNothingStored = errors.New("nothing stored")

func (m *memoryEnvelopeStore) Load(context.Context) (species.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.env == nil {
		return species.Envelope{}, errNothingStored
	}
	return cloneEnvelope(*m.env), nil
}

func (m *memoryEnvelopeStore) Save(_ context.Context, env species.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneEnvelope(env)
	m.env = &c
	m.saves++
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	fetches map[string]error
	reloads []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{fetches: make(map[string]error)}
}

func (o *recordingObserver) ObserveSourceFetch(source string, _ int, _ time.Duration, err error) {
	o.mu.Lock()
	o.fetches[source] = err
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveReload(trigger string, _ int, _ time.Duration, _ error) {
	o.mu.Lock()
	o.reloads = append(o.reloads, trigger)
	o.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func partial(source, name string) species.PartialRecord {
	return species.PartialRecord{Source: source, ScientificName: name}
}

func lifespan(v float64) *float64 { return &v }

func testRecords() []species.Record {
	parts := []species.PartialRecord{
		{ScientificName: "Amphiprion ocellaris", CommonName: "Clownfish", Habitat: []string{"Coral Reefs"},
			Depth: &species.Range{Min: 1, Max: 15}, ConservationStatus: "Least Concern", Lifespan: lifespan(10)},
		{ScientificName: "Balaenoptera musculus", CommonName: "Blue Whale", Habitat: []string{"Open Ocean"},
			Depth: &species.Range{Min: 0, Max: 500}, ConservationStatus: "Endangered", Lifespan: lifespan(90)},
		{ScientificName: "Architeuthis dux", CommonName: "Giant Squid", Habitat: []string{"Deep Ocean"},
			Depth: &species.Range{Min: 300, Max: 1000}, ConservationStatus: "Data Deficient", Lifespan: lifespan(5)},
		{ScientificName: "Acropora cervicornis", CommonName: "Staghorn Coral", Habitat: []string{"Coral Reefs"},
			Depth: &species.Range{Min: 1, Max: 30}, ConservationStatus: "Critically Endangered", Lifespan: lifespan(100)},
		{ScientificName: "Mobula birostris", CommonName: "Manta Ray", Habitat: []string{"Open Ocean", "Coral Reefs"},
			Depth: &species.Range{Min: 0, Max: 1000}, ConservationStatus: "Endangered", Lifespan: lifespan(40)},
	}
	for i := range parts {
		parts[i].Source = "Fixture"
	}
	return species.NormalizeAll(parts, epoch)
}

func testEnvelope(ttl time.Duration) species.Envelope {
	return species.NewEnvelope(testRecords(), []string{"Fixture"}, epoch, ttl)
}

func recordIDs(records []species.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
