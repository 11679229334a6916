// Package batch owns submitted batches from creation to release.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/internal/async"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

// Batch is one submission. Options and worker count are fixed at creation.
type Batch struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Opts      pipeline.Options
	Workers   int
	Filenames []string
	Progress  *async.Progress

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	results    []pipeline.FileResult // ordered by Seq once finished
	finishedAt time.Time
	cancelled  bool
	packageErr error
}

// Done is closed when every job has a terminal result.
func (b *Batch) Done() <-chan struct{} { return b.done }

func (b *Batch) Finished() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Results returns the ordered results, or false while the batch runs.
func (b *Batch) Results() ([]pipeline.FileResult, bool) {
	if !b.Finished() {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.results, true
}

// File returns the result at seq once the batch has finished.
func (b *Batch) File(seq int) (pipeline.FileResult, error) {
	results, ok := b.Results()
	if !ok {
		return pipeline.FileResult{}, ErrRunning
	}
	if seq < 0 || seq >= len(results) {
		return pipeline.FileResult{}, common.ErrNotFound
	}
	return results[seq], nil
}

func (b *Batch) FinishedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finishedAt
}

// Cancel stops dispatch; jobs already running finish normally.
func (b *Batch) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	b.mu.Unlock()
	b.cancel()
}

func (b *Batch) Cancelled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cancelled
}

// PackagingError reports a failure writing the batch archive to the
// configured output directory.
func (b *Batch) PackagingError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.packageErr
}

// Snapshot is the batch's progress. Done follows Finished rather than the
// job counter, so a done snapshot guarantees results and downloads are ready.
func (b *Batch) Snapshot() async.Snapshot {
	snap := b.Progress.Snapshot()
	snap.Done = b.Finished()
	return snap
}

// TotalSeconds is the wall-clock time from submission to completion.
func (b *Batch) TotalSeconds() float64 {
	return b.Progress.Elapsed().Seconds()
}

func (b *Batch) finish(results []pipeline.FileResult, packageErr error) {
	b.mu.Lock()
	b.results = results
	b.finishedAt = time.Now()
	b.packageErr = packageErr
	b.mu.Unlock()
	close(b.done)
}
