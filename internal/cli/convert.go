package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/async"
	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/export"
	"github.com/joseph-ayodele/docs2md/internal/ingest"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/repository"
)

type convertOptions struct {
	outDir     string
	force      bool
	workers    int
	debugPDFs  bool
	strict     bool
	noProgress bool
}

func newConvertCommand(a *app) *cobra.Command {
	var o convertOptions
	cmd := &cobra.Command{
		Use:   "convert [paths...]",
		Short: "Convert files and directories to Markdown",
		Long: `Converts every given file, and every supported file found under the given
directories (hidden entries skipped), then writes markdowns_<unix>.zip and
summary.xlsx into --out.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				a.cfg.Pipeline.Workers = o.workers
			}
			var force *bool
			if cmd.Flags().Changed("force-ocr") {
				force = &o.force
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.convert(ctx, args, force, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.outDir, "out", "o", ".", "directory for the archive and summaries")
	f.BoolVar(&o.force, "force-ocr", true, "rasterize and OCR every page, replacing existing text")
	f.IntVarP(&o.workers, "workers", "w", 0, "parallel files (overrides config)")
	f.BoolVar(&o.debugPDFs, "debug-pdfs", false, "also write ocr_<name>.pdf for each file")
	f.BoolVar(&o.strict, "strict", false, "exit 1 if any file failed")
	f.BoolVar(&o.noProgress, "no-progress", false, "do not print live progress")
	return cmd
}

func (a *app) convert(ctx context.Context, args []string, force *bool, o convertOptions) error {
	cfg, logger := a.cfg, a.logger

	paths, stats, err := ingest.CollectPaths(ctx, args, true)
	if err != nil {
		return err
	}
	logger.Info("collected input files", "matched", stats.Matched, "skipped", stats.Skipped, "failed", stats.Failed)
	if len(paths) == 0 {
		return &ExitError{Code: 1, Msg: "no supported files found"}
	}
	inputs, rejected := ingest.LoadFiles(paths, cfg.Server.MaxUploadBytes)
	a.reportRejected(rejected)
	if len(inputs) == 0 {
		return &ExitError{Code: 1, Msg: "no readable files to convert"}
	}

	arts := repository.NewMemoryArtifacts(logger)
	svc := batch.NewService(batch.Config{Workers: cfg.Pipeline.Workers},
		batch.NewProcessor(cfg, nil, logger),
		arts,
		export.NewPackager(cfg.Pipeline.PreviewLength, logger),
		logger,
	)
	defer func() { _ = svc.Shutdown(context.Background()) }()

	id, results, err := a.runBatch(ctx, svc, inputs, batch.Options(cfg, force), !o.noProgress)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Release(id) }()

	written, err := writeOutputs(ctx, svc, o.outDir, results, time.Now(), o.debugPDFs)
	if err != nil {
		return err
	}
	renderResults(a.stdout, svc.Packager().Rows(results))
	for _, p := range written {
		fmt.Fprintln(a.stdout, "wrote", p)
	}

	if failed := countFailed(results) + len(rejected); failed > 0 && o.strict {
		return &ExitError{Code: 1, Msg: fmt.Sprintf("%d of %d files failed", failed, len(paths))}
	}
	return nil
}

// reportRejected lists files that could not be read; the others still run.
func (a *app) reportRejected(rejected []ingest.Rejection) {
	for _, r := range rejected {
		a.logger.Warn("file rejected", "path", r.Path, "error", r.Err)
		fmt.Fprintln(a.stderr, color.RedString("skipped"), r.Err)
	}
}

// runBatch submits inputs and waits, cancelling dispatch if ctx ends first.
// The caller releases the returned batch once its outputs are written.
func (a *app) runBatch(ctx context.Context, svc *batch.Service, inputs []pipeline.InputFile, opts pipeline.Options, progress bool) (uuid.UUID, []pipeline.FileResult, error) {
	b, err := svc.Submit(inputs, opts)
	if err != nil {
		return uuid.Nil, nil, err
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-b.Done():
			if progress {
				printProgress(a.stderr, b.Snapshot())
				fmt.Fprintln(a.stderr)
			}
			results, _ := b.Results()
			return b.ID, results, nil
		case <-ctx.Done():
			a.logger.Warn("interrupted, waiting for running files", "batch_id", b.ID)
			b.Cancel()
			ctx = context.Background()
		case <-ticker.C:
			if progress {
				printProgress(a.stderr, b.Snapshot())
			}
		}
	}
}

func printProgress(w io.Writer, s async.Snapshot) {
	fmt.Fprintf(w, "\r[%d/%d] %3.0f%%  %.1fs", s.Completed, s.Total, s.Fraction*100, s.ElapsedS)
}

// writeOutputs writes the archive, the XLSX summary and optionally the debug
// PDFs into dir, returning the paths written.
func writeOutputs(ctx context.Context, svc *batch.Service, dir string, results []pipeline.FileResult, now time.Time, debugPDFs bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	p := svc.Packager()
	var written []string

	archive, err := p.Archive(results)
	if err != nil {
		return nil, err
	}
	zipPath := filepath.Join(dir, export.ArchiveName(now))
	if err := os.WriteFile(zipPath, archive, 0o644); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	written = append(written, zipPath)

	xlsx, err := p.SummaryXLSX(results)
	if err != nil {
		return written, err
	}
	xlsxPath := filepath.Join(dir, "summary.xlsx")
	if err := os.WriteFile(xlsxPath, xlsx, 0o644); err != nil {
		return written, fmt.Errorf("write summary: %w", err)
	}
	written = append(written, xlsxPath)

	if !debugPDFs {
		return written, nil
	}
	seen := map[string]int{}
	for _, r := range results {
		if r.DebugPDFID == "" {
			continue
		}
		id, err := uuid.Parse(r.DebugPDFID)
		if err != nil {
			continue
		}
		a, err := svc.Artifact(ctx, id)
		if err != nil {
			return written, fmt.Errorf("load debug pdf for %s: %w", r.Filename, err)
		}
		name := "ocr_" + export.Stem(r.Filename)
		if seen[name]++; seen[name] > 1 {
			name += "-" + strconv.Itoa(r.Seq+1)
		}
		pdfPath := filepath.Join(dir, name+".pdf")
		if err := os.WriteFile(pdfPath, a.Data, 0o644); err != nil {
			return written, fmt.Errorf("write debug pdf: %w", err)
		}
		written = append(written, pdfPath)
	}
	return written, nil
}

func renderResults(w io.Writer, rows []export.Row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File Name", "Pages", "Time (s)", "Status", "Preview / Diagnostic"})
	table.SetBorder(true)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range rows {
		detail := r.Preview
		if r.Status != string(constants.StatusOK) && r.Diagnostic != "" {
			detail = r.Diagnostic
		}
		table.Append([]string{
			r.Filename,
			strconv.Itoa(r.PageCount),
			strconv.FormatFloat(r.Seconds, 'f', 2, 64),
			statusColor(r.Status),
			export.Preview(detail, 60),
		})
	}
	table.Render()
}

func statusColor(status string) string {
	switch constants.Status(status) {
	case constants.StatusOK:
		return color.GreenString(status)
	case constants.StatusFallback:
		return color.YellowString(status)
	}
	return color.RedString(status)
}

func countFailed(results []pipeline.FileResult) int {
	n := 0
	for _, r := range results {
		if !r.Succeeded() {
			n++
		}
	}
	return n
}
