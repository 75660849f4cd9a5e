package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/metrics"

	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work. Run returns how many notifications it
// dispatched.
type Job interface {
	Name() string
	Run(ctx context.Context, now time.Time) (int, error)
}

type entry struct {
	job      Job
	interval time.Duration
	next     time.Time
}

// Runner runs registered jobs when they fall due. Each run takes a lease on
// its interval-aligned window so other runners skip the same window.
type Runner struct {
	clock  Clock
	leases domain.LeaseStore
	logger *zerolog.Logger

	mu      sync.Mutex
	entries []*entry
}

func NewRunner(clock Clock, leases domain.LeaseStore, logger *zerolog.Logger) *Runner {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runner{clock: clock, leases: leases, logger: logger}
}

// Register adds a job that first falls due immediately.
func (r *Runner) Register(job Job, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{job: job, interval: interval, next: r.clock.Now()})
}

// RunDue runs every job whose next run time has passed and returns how many
// ran.
func (r *Runner) RunDue(ctx context.Context) int {
	now := r.clock.Now()

	r.mu.Lock()
	var due []*entry
	for _, e := range r.entries {
		if !now.Before(e.next) {
			due = append(due, e)
			e.next = now.Add(e.interval)
		}
	}
	r.mu.Unlock()

	ran := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if r.runJob(ctx, e, now) {
			ran++
		}
	}
	return ran
}

func (r *Runner) runJob(ctx context.Context, e *entry, now time.Time) bool {
	name := e.job.Name()
	log := r.logger.With().Str("job", name).Logger()

	if r.leases != nil {
		acquired, err := r.leases.Acquire(ctx, leaseKey(name, now, e.interval), e.interval)
		if err != nil {
			log.Error().Err(err).Msg("failed to acquire job lease")
			metrics.IncJobRun(name, "error")
			return false
		}
		if !acquired {
			log.Debug().Msg("job already taken by another runner")
			metrics.IncJobRun(name, "skipped")
			return false
		}
	}

	start := time.Now()
	sent, err := e.job.Run(ctx, now)
	if err != nil {
		log.Error().Err(err).Int("sent", sent).Msg("job failed")
		metrics.IncJobRun(name, "error")
		return true
	}
	log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("job finished")
	metrics.IncJobRun(name, "ok")
	return true
}

// leaseKey names the run window now falls in, so a runner never collides
// with the lease it took for the previous window.
func leaseKey(job string, now time.Time, interval time.Duration) string {
	return fmt.Sprintf("scheduler:lease:%s:%d", job, now.Truncate(interval).Unix())
}

// Start checks for due jobs every tick until ctx is cancelled.
func (r *Runner) Start(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	r.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			r.RunDue(ctx)
		}
	}
}
