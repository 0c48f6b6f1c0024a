package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/oceanvision/marine-catalog/internal/domain/species"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// StoreConfig holds Store settings.
type StoreConfig struct {
	// Logger for lifecycle events. Default: slog.Default().
	Logger *slog.Logger

	// RetryBackoff is how long to wait before reloading after a failed load.
	// Default: 1m
	RetryBackoff time.Duration

	// LoadTimeout bounds a single load. Loads are shared between callers,
	// so they don't inherit any one caller's cancellation.
	// Default: 2m
	LoadTimeout time.Duration

	// Observer receives reload outcomes. Default: no-op.
	Observer Observer

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Shuffle permutes n elements for GetRandom. Default: math/rand/v2.Shuffle.
	Shuffle func(n int, swap func(i, j int))
}

// DefaultStoreConfig returns a StoreConfig with sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Logger:       slog.Default(),
		RetryBackoff: time.Minute,
		LoadTimeout:  2 * time.Minute,
		Observer:     nopObserver{},
		Now:          time.Now,
		Shuffle:      rand.Shuffle,
	}
}

// StoreOption configures a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(c *StoreConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithRetryBackoff sets the delay before reloading after a failure.
func WithRetryBackoff(d time.Duration) StoreOption {
	return func(c *StoreConfig) {
		if d > 0 {
			c.RetryBackoff = d
		}
	}
}

// WithLoadTimeout bounds each load.
func WithLoadTimeout(d time.Duration) StoreOption {
	return func(c *StoreConfig) {
		if d > 0 {
			c.LoadTimeout = d
		}
	}
}

// WithObserver sets the reload observer.
func WithObserver(o Observer) StoreOption {
	return func(c *StoreConfig) {
		if o != nil {
			c.Observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(c *StoreConfig) {
		if now != nil {
			c.Now = now
		}
	}
}

// WithShuffle overrides the permutation used by GetRandom.
func WithShuffle(shuffle func(n int, swap func(i, j int))) StoreOption {
	return func(c *StoreConfig) {
		if shuffle != nil {
			c.Shuffle = shuffle
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store serves queries over the current species snapshot.
//
// The snapshot is replaced wholesale on every successful load and never
// mutated in place. Concurrent first calls share one initialization and
// concurrent refreshes share one forced reload. The loader itself is never
// called twice at once: a refresh that arrives during a lazy load runs after
// it, so the newest result is the one left in service. When a load fails the previous snapshot stays in service
// (an empty one if nothing was ever loaded) and another attempt is made
// after RetryBackoff.
type Store struct {
	loader Loader
	cfg    StoreConfig
	logger *slog.Logger

	mu         sync.RWMutex
	snapshot   *species.Envelope
	nextReload time.Time // zero means never
	lastErr    error

	ready  atomic.Bool
	group  singleflight.Group
	loadMu sync.Mutex // serializes loader calls
}

// Info describes the snapshot currently served.
type Info struct {
	Ready       bool      `json:"ready"`
	Size        int       `json:"size"`
	LastUpdated time.Time `json:"lastUpdated"`
	Sources     []string  `json:"sources"`
	ExpiresAt   time.Time `json:"expiresAt"`
	NextReload  time.Time `json:"nextReload"`
	LastError   string    `json:"lastError,omitempty"`
}

// RefreshResult reports the outcome of a forced reload.
type RefreshResult struct {
	ID          string        `json:"id"`
	Species     int           `json:"species"`
	Sources     []string      `json:"sources"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Duration    time.Duration `json:"duration"`
}

// NewStore creates a store backed by loader. Nothing is loaded until
// Initialize or the first query.
func NewStore(loader Loader, opts ...StoreOption) *Store {
	cfg := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		loader: loader,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "catalog_store", "loader", loaderName(loader)),
	}
}

// Initialize performs the first load. Concurrent callers share it.
// Load failures are logged and leave an empty collection; the only errors
// returned are the caller's context errors.
func (s *Store) Initialize(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	_, err := s.load(ctx, false, TriggerInitialize)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		s.logger.Warn("catalog initialized without data", "error", err)
	}
	return nil
}

// Ready reports whether at least one load attempt has completed.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

// Refresh forces a reload, bypassing loader caches.
// On failure the previous snapshot keeps being served and the error is returned.
func (s *Store) Refresh(ctx context.Context) (RefreshResult, error) {
	start := s.cfg.Now()
	env, err := s.load(ctx, true, TriggerRefresh)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{
		ID:          uuid.NewString(),
		Species:     env.Len(),
		Sources:     append([]string(nil), env.Sources...),
		LastUpdated: env.LastUpdated,
		Duration:    s.cfg.Now().Sub(start),
	}, nil
}

// Info returns metadata about the current snapshot without triggering a load.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		Ready:      s.ready.Load(),
		NextReload: s.nextReload,
		Sources:    []string{},
	}
	if s.snapshot != nil {
		info.Size = s.snapshot.Len()
		info.LastUpdated = s.snapshot.LastUpdated
		info.Sources = append(info.Sources, s.snapshot.Sources...)
		info.ExpiresAt = s.snapshot.ExpiresAt
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// SearchByName returns records whose common name, scientific name, family or
// order contains query. A blank query returns no records.
func (s *Store) SearchByName(ctx context.Context, query string) []species.Record {
	return species.CloneAll(species.SearchByName(s.current(ctx).Species, query))
}

// FilterByHabitat returns records with a habitat label containing habitat.
func (s *Store) FilterByHabitat(ctx context.Context, habitat string) []species.Record {
	return species.CloneAll(species.FilterByHabitat(s.current(ctx).Species, habitat))
}

// FilterByConservationStatus returns records whose status contains status.
func (s *Store) FilterByConservationStatus(ctx context.Context, status string) []species.Record {
	return species.CloneAll(species.FilterByConservationStatus(s.current(ctx).Species, status))
}

// FilterByDepthRange returns records whose depth interval overlaps [min, max].
func (s *Store) FilterByDepthRange(ctx context.Context, min, max float64) []species.Record {
	return species.CloneAll(species.FilterByDepthRange(s.current(ctx).Species, min, max))
}

// AdvancedSearch returns records matching every supplied criterion.
func (s *Store) AdvancedSearch(ctx context.Context, c species.Criteria) []species.Record {
	return species.CloneAll(species.AdvancedSearch(s.current(ctx).Species, c))
}

// GetByID looks a record up by id. The boolean is false when absent.
func (s *Store) GetByID(ctx context.Context, id string) (species.Record, bool) {
	rec, ok := species.FindByID(s.current(ctx).Species, id)
	if !ok {
		return species.Record{}, false
	}
	return rec.Clone(), true
}

// GetAll returns the collection in store order.
func (s *Store) GetAll(ctx context.Context) []species.Record {
	return species.CloneAll(s.current(ctx).Species)
}

// GetRandom returns n distinct records in random order. When n is at least
// the collection size the whole collection is returned shuffled.
func (s *Store) GetRandom(ctx context.Context, n int) []species.Record {
	if n <= 0 {
		return []species.Record{}
	}

	records := s.current(ctx).Species
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	s.cfg.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	if n > len(idx) {
		n = len(idx)
	}
	out := make([]species.Record, 0, n)
	for _, i := range idx[:n] {
		out = append(out, records[i].Clone())
	}
	return out
}

// Statistics aggregates the current collection.
func (s *Store) Statistics(ctx context.Context) species.Statistics {
	env := s.current(ctx)
	return species.ComputeStatistics(env.Species, env.LastUpdated, env.Sources)
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// current returns the snapshot to answer a query from, reloading first when
// none exists or it has expired. The returned envelope must not be modified.
func (s *Store) current(ctx context.Context) species.Envelope {
	s.mu.RLock()
	snap, due := s.snapshot, s.reloadDue()
	s.mu.RUnlock()

	if snap != nil && !due {
		return *snap
	}

	trigger := TriggerExpired
	if snap == nil {
		trigger = TriggerInitialize
	}
	if _, err := s.load(ctx, false, trigger); err != nil {
		s.logger.Debug("serving previous snapshot", "error", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return species.Envelope{Species: []species.Record{}, Sources: []string{}}
	}
	return *s.snapshot
}

// reloadDue must be called with mu held.
func (s *Store) reloadDue() bool {
	if s.snapshot == nil {
		return true
	}
	return !s.nextReload.IsZero() && !s.cfg.Now().Before(s.nextReload)
}

// load runs a shared reload and waits for it or for ctx.
func (s *Store) load(ctx context.Context, force bool, trigger string) (species.Envelope, error) {
	key := "load"
	if force {
		key = "refresh"
	}

	ch := s.group.DoChan(key, func() (any, error) {
		s.loadMu.Lock()
		defer s.loadMu.Unlock()

		if !force {
			// Another caller may have finished a load since we checked.
			s.mu.RLock()
			snap, due := s.snapshot, s.reloadDue()
			s.mu.RUnlock()
			if !due {
				return *snap, nil
			}
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoadTimeout)
		defer cancel()
		return s.reload(loadCtx, force, trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return species.Envelope{}, res.Err
		}
		return res.Val.(species.Envelope), nil
	case <-ctx.Done():
		return species.Envelope{}, ctx.Err()
	}
}

// reload calls the loader and swaps the snapshot in.
func (s *Store) reload(ctx context.Context, force bool, trigger string) (env species.Envelope, err error) {
	start := s.cfg.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("catalog loader panicked: %v", r)
			s.fail(err)
		}
		s.cfg.Observer.ObserveReload(trigger, env.Len(), s.cfg.Now().Sub(start), err)
	}()

	env, err = s.loader.Load(ctx, force)
	if err == nil {
		err = species.ValidateAll(env.Species)
	}
	if err != nil {
		s.fail(err)
		s.logger.Error("catalog load failed",
			"trigger", trigger,
			"retry_in", s.cfg.RetryBackoff,
			"error", err,
		)
		return species.Envelope{}, err
	}

	if env.Species == nil {
		env.Species = []species.Record{}
	}
	if env.Sources == nil {
		env.Sources = []string{}
	}

	s.mu.Lock()
	s.snapshot = &env
	s.nextReload = env.ExpiresAt
	s.lastErr = nil
	s.mu.Unlock()
	s.ready.Store(true)

	s.logger.Info("catalog loaded",
		"trigger", trigger,
		"species", env.Len(),
		"sources", env.Sources,
		"expires_at", env.ExpiresAt,
		"duration", s.cfg.Now().Sub(start),
	)
	return env, nil
}

// fail records a failed load, keeping the previous snapshot.
func (s *Store) fail(err error) {
	s.mu.Lock()
	if s.snapshot == nil {
		s.snapshot = &species.Envelope{Species: []species.Record{}, Sources: []string{}}
	}
	s.nextReload = s.cfg.Now().Add(s.cfg.RetryBackoff)
	s.lastErr = err
	s.mu.Unlock()
	s.ready.Store(true)
}
