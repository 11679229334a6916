// Package async runs file jobs on a bounded worker pool.
package async

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

// Handler processes one job and always returns a terminal result.
type Handler interface {
	Process(ctx context.Context, job *pipeline.FileJob, obs pipeline.StateObserver) pipeline.FileResult
}

// Pool fans jobs out to a fixed number of workers pulling from one
// unbuffered channel, and fans results back in.
type Pool struct {
	handler  Handler
	logger   *slog.Logger
	workers  int
	onResult func(pipeline.FileResult)
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithResultHook observes every result in completion order. The hook runs
// on the collector goroutine and must not block for long.
func WithResultHook(fn func(pipeline.FileResult)) Option {
	return func(p *Pool) {
		p.onResult = fn
	}
}

func NewPool(h Handler, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		handler: h,
		logger:  logger,
		workers: runtime.NumCPU(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pool) Workers() int { return p.workers }

// Run processes jobs and returns one result per job, in completion order.
//
// Cancelling ctx stops dispatch only: jobs already handed to a worker run to
// completion with a context that ignores the cancellation, and every job
// never dispatched becomes a failed CancelledError result. Either way each
// job is counted exactly once in progress.
func (p *Pool) Run(ctx context.Context, jobs []*pipeline.FileJob, progress *Progress) []pipeline.FileResult {
	if progress == nil {
		names := make([]string, len(jobs))
		for i, j := range jobs {
			names[i] = j.Input.Name
		}
		progress = NewProgress(names)
	}
	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan *pipeline.FileJob)
	resCh := make(chan pipeline.FileResult)
	jobCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.logger.Debug("worker started", "worker_id", workerID)
			for job := range jobCh {
				res := p.handler.Process(jobCtx, job, progress)
				resCh <- res
				progress.MarkDone(job.Seq, finalState(res))
			}
			p.logger.Debug("worker stopped", "worker_id", workerID)
		}(i + 1)
	}

	// dispatcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobCh)
		cancelRest := func(i int) {
			p.logger.Info("dispatch cancelled", "dispatched", i, "remaining", len(jobs)-i)
			for _, rest := range jobs[i:] {
				resCh <- pipeline.CancelledResult(rest)
				progress.MarkDone(rest.Seq, constants.StateCancelled)
			}
		}
		for i, job := range jobs {
			if ctx.Err() != nil {
				cancelRest(i)
				return
			}
			select {
			case <-ctx.Done():
				cancelRest(i)
				return
			case jobCh <- job:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resCh)
	}()

	results := make([]pipeline.FileResult, 0, len(jobs))
	for res := range resCh {
		results = append(results, res)
		if p.onResult != nil {
			p.onResult(res)
		}
	}
	return results
}

func finalState(res pipeline.FileResult) constants.JobState {
	if res.Succeeded() {
		return constants.StateDone
	}
	return constants.StateFailed
}
