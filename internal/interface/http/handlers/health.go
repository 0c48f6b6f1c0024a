package handlers

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker backs the /health and /ready endpoints.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	AddCheck(name string, check HealthCheckFunc)
}

// HealthCheckFunc probes one dependency; nil means healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the JSON body of /health.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// CompositeHealthChecker probes every registered dependency concurrently.
// A failed required probe makes the service unhealthy and not ready; a
// failed optional one (the shared cache) only makes it not ready.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	probes  []probe
	timeout time.Duration
}

type probe struct {
	name     string
	fn       HealthCheckFunc
	optional bool
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
	}
}

// SetTimeout bounds each probe.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.register(probe{name: name, fn: check})
}

func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.register(probe{name: name, fn: check, optional: true})
}

// register replaces a probe of the same name.
func (c *CompositeHealthChecker) register(p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes = slices.DeleteFunc(c.probes, func(q probe) bool { return q.name == p.name })
	c.probes = append(c.probes, p)
	slices.SortFunc(c.probes, func(a, b probe) int { return strings.Compare(a.name, b.name) })
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := slices.Clone(c.probes)
	timeout := c.timeout
	c.mu.RUnlock()

	results := make([]CheckResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = run(ctx, p, timeout)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(probes)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var failed []string
	for i, p := range probes {
		res := results[i]
		status.Checks[p.name] = res
		if res.Healthy {
			continue
		}
		failed = append(failed, p.name)
		status.Ready = false
		if !p.optional {
			status.Healthy = false
		}
	}

	switch {
	case len(probes) == 0:
		status.Message = "No health checks registered"
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func run(ctx context.Context, p probe, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.fn(ctx)

	res := CheckResult{
		Healthy:  err == nil,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Optional: p.optional,
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBES
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is the Postgres connection or the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}

// CatalogReadiness is implemented by *catalog.Store.
type CatalogReadiness interface {
	Ready() bool
}

// ErrCatalogNotReady is reported until the first catalog load completes.
var ErrCatalogNotReady = errors.New("catalog not loaded yet")

func NewCatalogCheck(c CatalogReadiness) HealthCheckFunc {
	return func(context.Context) error {
		if c.Ready() {
			return nil
		}
		return ErrCatalogNotReady
	}
}
