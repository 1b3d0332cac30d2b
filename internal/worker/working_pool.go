package worker

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
)

// Job is a unit of work run by the pool.
type Job func(ctx context.Context) error

type WorkingPool struct {
	NumWorkers int
	jobChan    chan Job
}

// DefaultWorkers is min(4, NumCPU).
func DefaultWorkers() int {
	return min(4, runtime.NumCPU())
}

func NewWorkingPool(numWorkers int, queueSize int) *WorkingPool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers()
	}
	return &WorkingPool{
		NumWorkers: numWorkers,
		jobChan:    make(chan Job, queueSize),
	}
}

// SubmitJob queues job, blocking until there is room or ctx is done.
func (p *WorkingPool) SubmitJob(ctx context.Context, job Job) error {
	select {
	case p.jobChan <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to submit job: %w", ctx.Err())
	}
}

// Start runs the workers until ctx is done, then closes the queue and waits for them.
func (p *WorkingPool) Start(ctx context.Context, managerWg *sync.WaitGroup) {
	defer managerWg.Done()

	var workerWg sync.WaitGroup
	for i := range p.NumWorkers {
		workerWg.Add(1)
		go p.worker(ctx, &workerWg, i+1)
	}

	<-ctx.Done()

	log.Println("[WorkingPool] Shutdown signaled. Closing job channel.")
	close(p.jobChan)

	workerWg.Wait()
	log.Println("[WorkingPool] All workers stopped.")
}

func (p *WorkingPool) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	log.Printf("[WorkingPool-Worker %d] Started and waiting for jobs.", id)

	for {
		select {
		case job, ok := <-p.jobChan:
			if !ok {
				log.Printf("[WorkingPool-Worker %d] Job channel closed. Exiting.", id)
				return
			}
			p.safeExecution(ctx, job, id)

		case <-ctx.Done():
			log.Printf("[WorkingPool-Worker %d] Context canceled. Exiting.", id)
			return
		}
	}
}

// safeExecution runs job, turning a panic into an error so the worker survives.
func (p *WorkingPool) safeExecution(ctx context.Context, job Job, workerID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WorkingPool-Worker %d] FATAL: Panic recovered in job: %v", workerID, r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	err = job(ctx)
	if err != nil {
		log.Printf("[WorkingPool-Worker %d] Error executing job: %s.", workerID, err)
	}
	return err
}

// FanOut runs jobs on a temporary pool of numWorkers and returns one error
// slot per job, in job order. A panicking job reports an error in its slot
// and does not stop its siblings. Jobs receive ctx.
func FanOut(ctx context.Context, numWorkers int, jobs []Job) []error {
	errs := make([]error, len(jobs))
	if len(jobs) == 0 {
		return errs
	}

	pool := NewWorkingPool(numWorkers, len(jobs))
	poolCtx, stop := context.WithCancel(context.Background())
	var managerWg, jobsWg sync.WaitGroup
	managerWg.Add(1)
	go pool.Start(poolCtx, &managerWg)

	for i, job := range jobs {
		jobsWg.Add(1)
		wrapped := func(context.Context) (err error) {
			defer jobsWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[WorkingPool] FATAL: Panic recovered in job %d: %v", i, r)
					err = fmt.Errorf("panic: %v", r)
					errs[i] = err
				}
			}()
			errs[i] = job(ctx)
			return errs[i]
		}
		// Queue holds every job, so this never blocks.
		_ = pool.SubmitJob(poolCtx, wrapped)
	}

	jobsWg.Wait()
	stop()
	managerWg.Wait()
	return errs
}
