package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/internal/async"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/export"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/repository"
)

var (
	ErrNoFiles      = fmt.Errorf("%w: no files submitted", common.ErrInvalidInput)
	ErrRunning      = errors.New("batch is still running")
	ErrShuttingDown = errors.New("service is shutting down")
)

type Config struct {
	Workers   int
	Retention time.Duration // finished batches older than this are released; 0 keeps them
	OutputDir string        // when set, each finished archive is also written here
}

// Service is the in-memory batch registry. Nothing survives a restart.
type Service struct {
	cfg       Config
	handler   async.Handler
	artifacts repository.ArtifactRepository
	packager  *export.Packager
	logger    *slog.Logger

	mu      sync.RWMutex
	batches map[uuid.UUID]*Batch

	accepting atomic.Bool
	wg        sync.WaitGroup
}

func NewService(cfg Config, h async.Handler, artifacts repository.ArtifactRepository, packager *export.Packager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if packager == nil {
		packager = export.NewPackager(0, logger)
	}
	if artifacts == nil {
		artifacts = repository.NewMemoryArtifacts(logger)
	}
	s := &Service{
		cfg:       cfg,
		handler:   h,
		artifacts: artifacts,
		packager:  packager,
		logger:    logger,
		batches:   make(map[uuid.UUID]*Batch),
	}
	s.accepting.Store(true)
	return s
}

func (s *Service) Packager() *export.Packager { return s.packager }

// Accepting reports whether new batches are admitted.
func (s *Service) Accepting() bool { return s.accepting.Load() }

// Submit registers a batch and starts processing it in the background.
func (s *Service) Submit(inputs []pipeline.InputFile, opts pipeline.Options) (*Batch, error) {
	if !s.Accepting() {
		return nil, ErrShuttingDown
	}
	if len(inputs) == 0 {
		return nil, ErrNoFiles
	}

	id := uuid.New()
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
	}
	runCtx, cancel := context.WithCancel(context.Background())
	b := &Batch{
		ID:        id,
		CreatedAt: time.Now(),
		Opts:      opts,
		Filenames: names,
		Progress:  async.NewProgress(names),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	jobs := pipeline.NewJobs(id, inputs, opts)

	logger := s.logger.With("batch_id", id)
	pool := async.NewPool(&storingHandler{inner: s.handler, artifacts: s.artifacts, logger: logger}, logger,
		async.WithWorkers(s.cfg.Workers),
		async.WithResultHook(func(r pipeline.FileResult) {
			logger.Info("batch.file.done", "seq", r.Seq, "file", r.Filename, "status", r.Status)
		}),
	)
	b.Workers = min(pool.Workers(), len(jobs))

	s.mu.Lock()
	s.batches[id] = b
	s.mu.Unlock()

	logger.Info("batch.submitted", "files", len(jobs), "workers", b.Workers, "force_ocr", opts.ForceOCR)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		results := export.Ordered(pool.Run(runCtx, jobs, b.Progress))
		if c, ok := s.handler.(batchCleaner); ok {
			if err := c.CleanupBatch(id); err != nil {
				logger.Warn("batch.scratch_cleanup_failed", "error", err)
			}
		}
		b.finish(results, s.writeArchive(b, results))
		logger.Info("batch.finished",
			"files", len(results),
			"cancelled", b.Cancelled(),
			"elapsed_ms", b.Progress.Elapsed().Milliseconds(),
		)
	}()
	return b, nil
}

func (s *Service) writeArchive(b *Batch, results []pipeline.FileResult) error {
	if s.cfg.OutputDir == "" {
		return nil
	}
	path := filepath.Join(s.cfg.OutputDir, export.ArchiveName(b.CreatedAt))
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		s.logger.Error("batch.archive.failed", "batch_id", b.ID, "error", err)
		return common.NewPackagingError("create output dir", err)
	}
	f, err := os.Create(path)
	if err != nil {
		s.logger.Error("batch.archive.failed", "batch_id", b.ID, "error", err)
		return common.NewPackagingError("create archive", err)
	}
	err = s.packager.WriteArchive(f, results)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = common.NewPackagingError("close archive", cerr)
	}
	if err != nil {
		s.logger.Error("batch.archive.failed", "batch_id", b.ID, "path", path, "error", err)
		return err
	}
	s.logger.Info("batch.archive.written", "batch_id", b.ID, "path", path)
	return nil
}

func (s *Service) Get(id uuid.UUID) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return b, nil
}

// Wait blocks until the batch finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (*Batch, error) {
	b, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-b.Done():
		return b, nil
	case <-ctx.Done():
		return b, ctx.Err()
	}
}

func (s *Service) Cancel(id uuid.UUID) error {
	b, err := s.Get(id)
	if err != nil {
		return err
	}
	if !b.Finished() {
		s.logger.Info("batch.cancel", "batch_id", id)
		b.Cancel()
	}
	return nil
}

// Release forgets the batch and drops its debug PDFs. A running batch is
// cancelled first; its artifacts are dropped once in-flight jobs finish.
func (s *Service) Release(id uuid.UUID) error {
	s.mu.Lock()
	b, ok := s.batches[id]
	delete(s.batches, id)
	s.mu.Unlock()
	if !ok {
		return common.ErrNotFound
	}
	if !b.Finished() {
		b.Cancel()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-b.Done()
		n, err := s.artifacts.DeleteBatch(context.Background(), id)
		if err != nil {
			s.logger.Error("batch.release.failed", "batch_id", id, "error", err)
			return
		}
		s.logger.Info("batch.released", "batch_id", id, "artifacts", n)
	}()
	return nil
}

// Reap releases finished batches older than the retention window.
func (s *Service) Reap(now time.Time) int {
	if s.cfg.Retention <= 0 {
		return 0
	}
	var expired []uuid.UUID
	s.mu.RLock()
	for id, b := range s.batches {
		if b.Finished() && now.Sub(b.FinishedAt()) > s.cfg.Retention {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, id := range expired {
		if err := s.Release(id); err == nil {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("batch.reaped", "count", n)
	}
	return n
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.cfg.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Reap(now)
		}
	}
}

func (s *Service) Artifact(ctx context.Context, id uuid.UUID) (*repository.Artifact, error) {
	return s.artifacts.Get(ctx, id)
}

func (s *Service) DeleteArtifact(ctx context.Context, id uuid.UUID) error {
	return s.artifacts.Delete(ctx, id)
}

// Shutdown stops admitting batches, cancels the running ones and waits for
// in-flight jobs until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.accepting.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.RLock()
	for _, b := range s.batches {
		if !b.Finished() {
			b.Cancel()
		}
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() { defer close(done); s.wg.Wait() }()
	select {
	case <-done:
		s.logger.Info("batch service stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("batch service shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}
}

// batchCleaner is implemented by handlers that keep per-batch scratch state.
type batchCleaner interface {
	CleanupBatch(batchID uuid.UUID) error
}

// storingHandler moves each debug PDF into the artifact store as soon as
// its job finishes so the bytes do not live on in the result.
type storingHandler struct {
	inner     async.Handler
	artifacts repository.ArtifactRepository
	logger    *slog.Logger
}

func (h *storingHandler) Process(ctx context.Context, job *pipeline.FileJob, obs pipeline.StateObserver) pipeline.FileResult {
	batchID := job.BatchID
	res := h.inner.Process(ctx, job, obs)
	if len(res.DebugPDF) == 0 {
		return res
	}
	id, err := h.artifacts.Put(ctx, batchID, res.Filename, res.DebugPDF)
	res.DebugPDF = nil
	if err != nil {
		h.logger.Warn("batch.artifact.store_failed", "seq", res.Seq, "error", err)
		res.Notes = append(res.Notes, "debug pdf not stored: "+err.Error())
		return res
	}
	res.DebugPDFID = id.String()
	return res
}
