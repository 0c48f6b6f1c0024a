// Package scheduler runs background jobs of the catalog service on interval
// or cron schedules. Its main tenant is the periodic catalog refresh, which
// keeps queries from waiting on an expired snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Job is a unit of background work.
type Job interface {
	Name() string
	Description() string

	// Run executes the job. ctx is cancelled when the scheduler stops or the
	// job timeout elapses.
	Run(ctx context.Context) error
}

// Schedule yields successive fire times.
type Schedule interface {
	// Next returns the first fire time strictly after t, or the zero time if
	// the schedule never fires again.
	Next(t time.Time) time.Time
	String() string
}

// JobResult is the outcome of one run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

var (
	ErrNilJob                  = errors.New("scheduler: job cannot be nil")
	ErrNilSchedule             = errors.New("scheduler: schedule cannot be nil")
	ErrInvalidSchedule         = errors.New("scheduler: invalid schedule")
	ErrJobAlreadyExists        = errors.New("scheduler: job already exists")
	ErrJobNotFound             = errors.New("scheduler: job not found")
	ErrJobPanicked             = errors.New("scheduler: job panicked")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig configures a Scheduler. Zero values take the defaults.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone cron expressions are evaluated in. Default: UTC.
	Timezone *time.Location

	// MaxHistorySize bounds GetHistory. Default: 100.
	MaxHistorySize int

	// RunOnStart fires every enabled job once when Start is called.
	RunOnStart bool

	// JobTimeout bounds scheduled runs. Zero means unbounded.
	JobTimeout time.Duration
}

// DefaultSchedulerConfig returns the defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Logger:         slog.Default(),
		Timezone:       time.UTC,
		MaxHistorySize: 100,
		JobTimeout:     5 * time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler sleeps until the earliest due job and runs it on its own
// goroutine. A job never overlaps itself: while a run is in flight the job
// is not due, and its next fire time is computed when the run starts.
type Scheduler struct {
	log     *slog.Logger
	loc     *time.Location
	timeout time.Duration
	onStart bool
	now     func() time.Time

	// wake interrupts the sleep after the job set changes.
	wake chan struct{}

	mu        sync.Mutex
	jobs      map[string]*entry
	history   *ring
	onDone    func(JobResult)
	stop      context.CancelFunc
	startedAt time.Time
	workers   sync.WaitGroup
}

type entry struct {
	job       Job
	schedule  Schedule
	enabled   bool
	inFlight  bool
	lastRun   time.Time
	nextRun   time.Time
	runCount  int64
	failCount int64
	last      *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 100
	}

	return &Scheduler{
		log:     config.Logger.With("component", "scheduler"),
		loc:     config.Timezone,
		timeout: config.JobTimeout,
		onStart: config.RunOnStart,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		jobs:    make(map[string]*entry),
		history: newRing(config.MaxHistorySize),
	}
}

func (s *Scheduler) clock() time.Time { return s.now().In(s.loc) }

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Register adds job under its Name. Schedules that never fire are rejected.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	name := job.Name()
	next := schedule.Next(s.clock())
	if next.IsZero() {
		return fmt.Errorf("%w: %s never fires", ErrInvalidSchedule, schedule)
	}

	s.mu.Lock()
	if _, dup := s.jobs[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	s.jobs[name] = &entry{job: job, schedule: schedule, enabled: true, nextRun: next}
	s.mu.Unlock()

	s.poke()
	s.log.Info("job registered", "job", name, "schedule", schedule.String(), "next_run", next.Format(time.RFC3339))
	return nil
}

// Unregister removes a job. A run in flight finishes normally.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.poke()
	s.log.Info("job unregistered", "job", name)
	return nil
}

// SetEnabled pauses or resumes a job. Resuming restarts its schedule from now.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if ok {
		e.enabled = enabled
		if enabled {
			e.nextRun = e.schedule.Next(s.clock())
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.poke()
	s.log.Info("job toggled", "job", name, "enabled", enabled)
	return nil
}

// OnJobComplete installs a callback invoked after every run, scheduled or manual.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	s.onDone = fn
	s.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	runCtx, stop := context.WithCancel(ctx)
	s.stop = stop
	s.startedAt = s.now()
	count := len(s.jobs)

	var first []*entry
	if s.onStart {
		first = s.claimLocked(time.Time{})
	}
	s.mu.Unlock()

	s.log.Info("scheduler started", "jobs_count", count, "run_on_start", s.onStart)

	s.launch(runCtx, first)
	s.workers.Add(1)
	go s.loop(runCtx)
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop == nil {
		return ErrSchedulerNotRunning
	}
	stop()
	s.workers.Wait()

	s.log.Info("scheduler stopped", "uptime", s.now().Sub(s.startedAt).String())
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.workers.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		wait, ok := s.untilNextLocked()
		s.mu.Unlock()

		var fire <-chan time.Time
		if ok {
			timer.Reset(max(wait, 0))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-fire:
			s.mu.Lock()
			due := s.claimLocked(s.clock())
			s.mu.Unlock()
			s.launch(ctx, due)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// untilNextLocked returns the wait until the earliest runnable job.
func (s *Scheduler) untilNextLocked() (time.Duration, bool) {
	var earliest time.Time
	for _, e := range s.jobs {
		if !e.enabled || e.inFlight {
			continue
		}
		if earliest.IsZero() || e.nextRun.Before(earliest) {
			earliest = e.nextRun
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return earliest.Sub(s.clock()), true
}

// claimLocked marks the jobs due at now as in flight and advances their
// schedules. A zero now claims every enabled idle job.
func (s *Scheduler) claimLocked(now time.Time) []*entry {
	var due []*entry
	for _, e := range s.jobs {
		if !e.enabled || e.inFlight {
			continue
		}
		if !now.IsZero() && now.Before(e.nextRun) {
			continue
		}
		started := s.clock()
		e.inFlight = true
		e.lastRun = started
		e.nextRun = e.schedule.Next(started)
		e.runCount++
		due = append(due, e)
	}
	return due
}

func (s *Scheduler) launch(runCtx context.Context, due []*entry) {
	for _, e := range due {
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()

			ctx := runCtx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			res := s.run(ctx, e.job, false)

			s.mu.Lock()
			e.inFlight = false
			if !res.Success {
				e.failCount++
			}
			s.mu.Unlock()
			s.poke()
		}()
	}
}

// run executes job, records the result and notifies the completion hook.
func (s *Scheduler) run(ctx context.Context, job Job, manual bool) JobResult {
	name := job.Name()
	s.log.Info("job started", "job", name, "manual", manual)

	start := s.now()
	err := safeRun(ctx, job)
	end := s.now()

	res := JobResult{
		JobName:     name,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	s.history.push(res)
	if e, ok := s.jobs[name]; ok {
		e.last = &res
	}
	hook := s.onDone
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.log.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	if hook != nil {
		hook(res)
	}
	return res
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, p)
		}
	}()
	return job.Run(ctx)
}

// RunNow runs a job synchronously on ctx, outside its schedule. It does not
// count towards the job's scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.run(ctx, e.job, true)
	return &res, res.Error
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is a snapshot of a registered job.
type JobInfo struct {
	Name        string
	Description string
	Enabled     bool
	Running     bool
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

func (e *entry) info(name string) JobInfo {
	return JobInfo{
		Name:        name,
		Description: e.job.Description(),
		Enabled:     e.enabled,
		Running:     e.inFlight,
		Schedule:    e.schedule.String(),
		LastRun:     e.lastRun,
		NextRun:     e.nextRun,
		RunCount:    e.runCount,
		FailCount:   e.failCount,
		LastResult:  e.last,
	}
}

// ListJobs returns every job sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		out = append(out, e.info(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetJobInfo returns one job's snapshot.
func (s *Scheduler) GetJobInfo(name string) (*JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	info := e.info(name)
	return &info, nil
}

// GetHistory returns up to limit recent results, oldest first. limit <= 0
// returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.last(limit)
}

// ring keeps the newest n results.
type ring struct {
	buf  []JobResult
	head int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]JobResult, n)} }

func (r *ring) push(res JobResult) {
	r.buf[r.head] = res
	r.head = (r.head + 1) % len(r.buf)
	if r.head == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.head
}

func (r *ring) last(limit int) []JobResult {
	n := r.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]JobResult, limit)
	for i := range out {
		idx := (r.head - limit + i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}
