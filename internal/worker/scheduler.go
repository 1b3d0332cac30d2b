package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScheduledJob is a named job a scheduler submits on every tick.
type ScheduledJob struct {
	Name string
	Run  Job
}

// JobScheduler runs a list of jobs on a fixed schedule.
type JobScheduler struct {
	Name     string
	interval time.Duration
	Jobs     []ScheduledJob
	Pool     *WorkingPool
	mu       sync.RWMutex
}

func NewJobScheduler(name string, interval time.Duration, pool *WorkingPool) *JobScheduler {
	return &JobScheduler{
		Name:     name,
		interval: interval,
		Jobs:     make([]ScheduledJob, 0),
		Pool:     pool,
	}
}

func (s *JobScheduler) AddJob(job ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs = append(s.Jobs, job)
}

func (s *JobScheduler) Run(ctx context.Context) {
	log.Printf("[Scheduler %s] Running every %v.", s.Name, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Printf("[Scheduler %s] Ticker fired. Submitting jobs.", s.Name)
			s.SubmitJobs(ctx)

		case <-ctx.Done():
			log.Printf("[Scheduler %s] Shutting down.", s.Name)
			return
		}
	}
}

// SubmitJobs queues every registered job once.
func (s *JobScheduler) SubmitJobs(ctx context.Context) {
	s.mu.RLock()
	jobsToRun := make([]ScheduledJob, len(s.Jobs))
	copy(jobsToRun, s.Jobs)
	s.mu.RUnlock()

	for _, job := range jobsToRun {
		jobID := uuid.NewString()
		run := job.Run
		name := job.Name
		wrapped := func(ctx context.Context) error {
			log.Printf("[Scheduler %s] Running job %s (%s).", s.Name, name, jobID)
			return run(ctx)
		}

		submitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.Pool.SubmitJob(submitCtx, wrapped); err != nil {
			log.Printf("[Scheduler %s] FAILED to submit job %s: %v", s.Name, name, err)
		}
		cancel()
	}
}
