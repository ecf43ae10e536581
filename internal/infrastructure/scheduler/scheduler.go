// Package scheduler runs the periodic sync jobs (pending quiz upload
// resync, cached progress refresh) on top of gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context is cancelled when the scheduler stops.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// JobResult contains the result of a job execution.
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
	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrJobExists is returned when a job name is registered twice.
	ErrJobExists = errors.New("scheduler: job already registered")

	// ErrInvalidInterval is returned for a non-positive interval.
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler manages and executes scheduled jobs. Each job runs at most once
// at a time; a tick that arrives while the previous run is active is skipped.
type Scheduler struct {
	mu sync.RWMutex

	cron   *gocron.Scheduler
	logger *logger.Logger

	jobs       map[string]*scheduledJob
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	history    []JobResult
	maxHistory int
}

type scheduledJob struct {
	job       Job
	interval  time.Duration
	runCount  int64
	failCount int64
	lastRun   time.Time
	lastErr   error
}

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *logger.Logger

	// Timezone for schedule calculations (default: UTC).
	Timezone *time.Location

	// MaxHistorySize is the number of job results kept. Default: 100.
	MaxHistorySize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Timezone: time.UTC, MaxHistorySize: 100}
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 100
	}

	cron := gocron.NewScheduler(cfg.Timezone)
	cron.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron,
		logger:     cfg.Logger.With(logger.Component("scheduler")),
		jobs:       make(map[string]*scheduledJob),
		ctx:        ctx,
		cancel:     cancel,
		maxHistory: cfg.MaxHistorySize,
	}
}

// Register schedules job every interval. The first run happens one interval
// after Start.
func (s *Scheduler) Register(job Job, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, job.Name())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	sj := &scheduledJob{job: job, interval: every}
	_, err := s.cron.Every(every).Tag(name).WaitForSchedule().Do(func() {
		s.execute(s.ctx, sj, false)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}

	s.jobs[name] = sj
	s.logger.Info("job registered",
		logger.String("job", name),
		logger.Duration("every", every),
	)
	return nil
}

// Start begins running the registered jobs. It does not block.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.StartAsync()
	s.logger.Info("scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop halts the ticker, cancels running jobs and waits for them to return
// or for ctx to end. A stopped scheduler cannot be started again.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	// Running jobs observe the cancelled context before gocron waits on them.
	s.cancel()
	if wasRunning {
		s.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether Start has been called without Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow executes a job immediately, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	sj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	result := s.execute(ctx, sj, true)
	return result, result.Error
}

func (s *Scheduler) execute(ctx context.Context, sj *scheduledJob, manual bool) JobResult {
	s.wg.Add(1)
	defer s.wg.Done()

	name := sj.job.Name()
	startedAt := time.Now()

	err := s.safeRun(ctx, sj.job)
	completedAt := time.Now()

	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	sj.runCount++
	sj.lastRun = startedAt
	sj.lastErr = err
	if err != nil {
		sj.failCount++
	}
	s.history = append(s.history, result)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			logger.String("job", name),
			logger.Bool("manual", manual),
			logger.Latency(result.Duration),
			logger.Err(err),
		)
	} else {
		s.logger.Debug("job completed",
			logger.String("job", name),
			logger.Bool("manual", manual),
			logger.Latency(result.Duration),
		)
	}
	return result
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), p)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS & INFO
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo contains information about a registered job.
type JobInfo struct {
	Name        string
	Description string
	Every       time.Duration
	RunCount    int64
	FailCount   int64
	LastRun     time.Time
	LastError   error
}

// ListJobs returns every registered job sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, JobInfo{
			Name:        sj.job.Name(),
			Description: sj.job.Description(),
			Every:       sj.interval,
			RunCount:    sj.runCount,
			FailCount:   sj.failCount,
			LastRun:     sj.lastRun,
			LastError:   sj.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns up to limit most recent results, newest last.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobResult, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}
