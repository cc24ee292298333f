// Package scheduler drives the periodic background work of the
// backplane: ingestion cycles, Merkle batching, and the monthly
// compliance kickoff. One scheduler instance owns all loops; each job
// holds a mutex so a slow cycle is skipped rather than stacked.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once at startup before the first tick.
	Immediate bool
	Run       func(ctx context.Context) error

	mu sync.Mutex
}

// Scheduler runs registered jobs on their intervals until stopped.
type Scheduler struct {
	jobs   []*Job
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add registers a job. Jobs added after Start are ignored.
func (s *Scheduler) Add(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	jobs := s.jobs
	s.mu.Unlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop halts all loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.Immediate {
		s.runOnce(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

// runOnce executes a job cycle unless the previous one is still going.
func (s *Scheduler) runOnce(ctx context.Context, job *Job) {
	if !job.mu.TryLock() {
		s.logger.Warn("job still running, skipping cycle", "job", job.Name)
		return
	}
	defer job.mu.Unlock()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job cycle failed", "job", job.Name,
			"elapsed", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("job cycle done", "job", job.Name, "elapsed", time.Since(start))
}
