package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/export"
	"github.com/joseph-ayodele/docs2md/internal/ingest"
	"github.com/joseph-ayodele/docs2md/internal/repository"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		outDir      string
		debounce    time.Duration
		initialScan bool
		debugPDFs   bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dirs...]",
		Short: "Convert files as they land in the given directories",
		Long: `Watches the directories recursively. Files that settle for --debounce are
converted as one batch; each batch's archive and summary go to
<out>/batch_<timestamp>/.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, args, outDir, debounce, initialScan, debugPDFs)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "directory receiving one folder per batch")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a batch starts")
	cmd.Flags().BoolVar(&initialScan, "initial-scan", false, "also convert files already present")
	cmd.Flags().BoolVar(&debugPDFs, "debug-pdfs", false, "also write ocr_<name>.pdf for each file")
	return cmd
}

func (a *app) watch(ctx context.Context, roots []string, outDir string, debounce time.Duration, initialScan, debugPDFs bool) error {
	cfg, logger := a.cfg, a.logger

	arts := repository.NewMemoryArtifacts(logger)
	svc := batch.NewService(batch.Config{Workers: cfg.Pipeline.Workers},
		batch.NewProcessor(cfg, nil, logger),
		arts,
		export.NewPackager(cfg.Pipeline.PreviewLength, logger),
		logger,
	)
	defer func() { _ = svc.Shutdown(context.Background()) }()

	batches, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       roots,
		InitialScan: initialScan,
		Debounce:    debounce,
		SkipHidden:  true,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	logger.Info("watching for documents", "roots", roots, "out", outDir)

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch stopped")
			return nil
		case err, ok := <-errs:
			if ok {
				logger.Warn("watch error", "error", err)
			}
		case paths, ok := <-batches:
			if !ok {
				return nil
			}
			a.convertWatched(ctx, svc, paths, outDir, debugPDFs)
		}
	}
}

func (a *app) convertWatched(ctx context.Context, svc *batch.Service, paths []string, outDir string, debugPDFs bool) {
	logger := a.logger
	inputs, rejected := ingest.LoadFiles(paths, a.cfg.Server.MaxUploadBytes)
	a.reportRejected(rejected)
	if len(inputs) == 0 {
		return
	}
	id, results, err := a.runBatch(ctx, svc, inputs, batch.Options(a.cfg, nil), false)
	if err != nil {
		logger.Error("batch failed", "error", err)
		return
	}
	defer func() {
		if err := svc.Release(id); err != nil {
			logger.Warn("failed to release batch", "batch_id", id, "error", err)
		}
	}()
	now := time.Now()
	dir := filepath.Join(outDir, "batch_"+now.Format("20060102T150405"))
	written, err := writeOutputs(context.Background(), svc, dir, results, now, debugPDFs)
	if err != nil {
		logger.Error("failed to write batch outputs", "dir", dir, "error", err)
		return
	}
	logger.Info("batch converted", "files", len(results), "failed", countFailed(results), "outputs", len(written), "dir", dir)
}
