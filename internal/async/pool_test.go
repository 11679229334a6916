package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

type handlerFunc func(ctx context.Context, job *pipeline.FileJob, obs pipeline.StateObserver) pipeline.FileResult

func (f handlerFunc) Process(ctx context.Context, job *pipeline.FileJob, obs pipeline.StateObserver) pipeline.FileResult {
	return f(ctx, job, obs)
}

func okResult(job *pipeline.FileJob) pipeline.FileResult {
	return pipeline.FileResult{Seq: job.Seq, JobID: job.ID, Filename: job.Input.Name, Status: constants.StatusOK, Markdown: "x"}
}

func makeJobs(n int) []*pipeline.FileJob {
	inputs := make([]pipeline.InputFile, n)
	for i := range inputs {
		inputs[i] = pipeline.InputFile{Name: fmt.Sprintf("f%02d.pdf", i), Ext: "pdf", Kind: constants.PDF, Data: []byte("%PDF")}
	}
	return pipeline.NewJobs(uuid.New(), inputs, pipeline.Options{ForceOCR: true})
}

func progressFor(jobs []*pipeline.FileJob) *Progress {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Input.Name
	}
	return NewProgress(names)
}

func TestPool_SlowFileDoesNotBlockOthers(t *testing.T) {
	jobs := makeJobs(10)
	h := handlerFunc(func(_ context.Context, job *pipeline.FileJob, obs pipeline.StateObserver) pipeline.FileResult {
		obs.SetState(job.Seq, constants.StateOCR)
		if job.Seq == 0 {
			time.Sleep(300 * time.Millisecond)
		} else {
			time.Sleep(5 * time.Millisecond)
		}
		return okResult(job)
	})
	pool := NewPool(h, nil, WithWorkers(4))
	progress := progressFor(jobs)

	results := pool.Run(context.Background(), jobs, progress)

	require.Len(t, results, 10)
	assert.Equal(t, 0, results[len(results)-1].Seq, "slow first file finishes last")
	assert.Equal(t, 10, progress.Completed())
	assert.True(t, progress.Done())
}

func TestPool_EachJobExactlyOnceAndBounded(t *testing.T) {
	const workers = 3
	jobs := makeJobs(25)
	var (
		mu       sync.Mutex
		seen     = map[int]int{}
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	h := handlerFunc(func(_ context.Context, job *pipeline.FileJob, _ pipeline.StateObserver) pipeline.FileResult {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)

		mu.Lock()
		seen[job.Seq]++
		mu.Unlock()
		return okResult(job)
	})

	results := NewPool(h, nil, WithWorkers(workers)).Run(context.Background(), jobs, nil)

	require.Len(t, results, 25)
	for i := 0; i < 25; i++ {
		assert.Equal(t, 1, seen[i], "job %d", i)
	}
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestPool_ProgressNeverExceedsTotal(t *testing.T) {
	jobs := makeJobs(40)
	progress := progressFor(jobs)
	h := handlerFunc(func(_ context.Context, job *pipeline.FileJob, _ pipeline.StateObserver) pipeline.FileResult {
		time.Sleep(time.Millisecond)
		return okResult(job)
	})

	stop := make(chan struct{})
	var polled sync.WaitGroup
	polled.Add(1)
	go func() {
		defer polled.Done()
		last := 0
		for {
			s := progress.Snapshot()
			assert.GreaterOrEqual(t, s.Completed, last)
			assert.LessOrEqual(t, s.Completed, s.Total)
			last = s.Completed
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	results := NewPool(h, nil, WithWorkers(8)).Run(context.Background(), jobs, progress)
	close(stop)
	polled.Wait()

	assert.Len(t, results, 40)
	s := progress.Snapshot()
	assert.Equal(t, 40, s.Completed)
	assert.Equal(t, 1.0, s.Fraction)
	assert.True(t, s.Done)
}

func TestPool_CancelAfterK(t *testing.T) {
	const n, k = 10, 4
	jobs := makeJobs(n)
	progress := progressFor(jobs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlightCtxErr error
	h := handlerFunc(func(jobCtx context.Context, job *pipeline.FileJob, _ pipeline.StateObserver) pipeline.FileResult {
		if job.Seq == k-1 {
			cancel()
			time.Sleep(20 * time.Millisecond)
			inFlightCtxErr = jobCtx.Err()
		}
		return okResult(job)
	})

	results := NewPool(h, nil, WithWorkers(1)).Run(ctx, jobs, progress)

	require.Len(t, results, n)
	var ok, cancelled int
	for _, r := range results {
		switch {
		case r.Status == constants.StatusOK:
			ok++
		case r.Error != nil && r.Error.Kind == common.KindCancelled:
			cancelled++
		}
	}
	assert.Equal(t, k, ok)
	assert.Equal(t, n-k, cancelled)
	assert.NoError(t, inFlightCtxErr, "in-flight job is not cancelled")
	assert.Equal(t, n, progress.Completed())

	snap := progress.Snapshot()
	assert.Equal(t, "cancelled", snap.Files[n-1].State)
	assert.Equal(t, "done", snap.Files[0].State)
}

func TestPool_CancelledBeforeStart(t *testing.T) {
	jobs := makeJobs(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := atomic.Int32{}
	h := handlerFunc(func(_ context.Context, job *pipeline.FileJob, _ pipeline.StateObserver) pipeline.FileResult {
		called.Add(1)
		return okResult(job)
	})
	results := NewPool(h, nil, WithWorkers(2)).Run(ctx, jobs, nil)

	require.Len(t, results, 5)
	assert.Zero(t, called.Load())
	for _, r := range results {
		assert.ErrorIs(t, r.Error, common.ErrCancelled)
	}
}

func TestPool_ResultHookSeesEveryResult(t *testing.T) {
	jobs := makeJobs(6)
	var hooked []int
	h := handlerFunc(func(_ context.Context, job *pipeline.FileJob, _ pipeline.StateObserver) pipeline.FileResult {
		return okResult(job)
	})

	results := NewPool(h, nil, WithWorkers(2), WithResultHook(func(r pipeline.FileResult) {
		hooked = append(hooked, r.Seq)
	})).Run(context.Background(), jobs, nil)

	require.Len(t, hooked, 6)
	for i, r := range results {
		assert.Equal(t, r.Seq, hooked[i])
	}
}

func TestPool_NoJobs(t *testing.T) {
	results := NewPool(handlerFunc(nil), nil).Run(context.Background(), nil, nil)
	assert.Empty(t, results)
}

func TestPool_DefaultWorkers(t *testing.T) {
	assert.Positive(t, NewPool(nil, nil).Workers())
	assert.Equal(t, 3, NewPool(nil, nil, WithWorkers(3), WithWorkers(0)).Workers())
}
