package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
)

// Processor drives one FileJob through normalize -> OCR -> extract -> sanitize.
// It is safe for concurrent use; all per-file state lives on the job.
type Processor struct {
	Logger     *slog.Logger
	Normalizer Normalizer
	OCR        OCREngine
	Extractor  MarkdownExtractor
	Sanitizer  Sanitizer
	ScratchDir string
}

func NewProcessor(logger *slog.Logger, n Normalizer, o OCREngine, x MarkdownExtractor, s Sanitizer, scratchDir string) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Processor{Logger: logger, Normalizer: n, OCR: o, Extractor: x, Sanitizer: s, ScratchDir: scratchDir}
}

// Process runs every stage for job and always returns a terminal FileResult.
// Per-file failures are reported in the result, never returned or panicked.
// ctx must not be the batch cancellation context: an in-flight job runs to
// completion.
func (p *Processor) Process(ctx context.Context, job *FileJob, obs StateObserver) (res FileResult) {
	if obs == nil {
		obs = nopObserver{}
	}
	logger := p.Logger.With("batch_id", job.BatchID, "job_id", job.ID, "seq", job.Seq, "file", job.Input.Name)
	start := time.Now()

	stage := constants.StageNormalize
	defer func() {
		if r := recover(); r != nil {
			logger.Error("processor.panic", "stage", stage, "panic", r)
			res = p.fail(job, obs, &common.StageError{
				Kind:       stageKind(stage),
				Stage:      stage,
				Diagnostic: fmt.Sprintf("internal error: %v", r),
			})
		}
		job.Release()
		logger.Info("processor.done",
			"status", res.Status,
			"pages", res.PageCount,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	workDir, err := p.workDir(job)
	if err != nil {
		return p.fail(job, obs, common.NewConversionError("", "create scratch dir", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.Warn("processor.scratch_cleanup_failed", "dir", workDir, "error", rmErr)
		}
	}()

	// 1) normalize
	p.transition(job, obs, constants.StateNormalizing)
	err = p.timed(job, stage, func() error {
		pdf, nerr := p.Normalizer.Normalize(ctx, job.Input, workDir)
		job.NormalizedPDF = pdf
		return nerr
	})
	if err != nil {
		logger.Warn("processor.normalize.failed", "error", err)
		return p.fail(job, obs, asStageError(err, stage))
	}
	job.Input.Data = nil

	// 2) OCR
	stage = constants.StageOCR
	p.transition(job, obs, constants.StateOCR)
	err = p.timed(job, stage, func() error {
		out, oerr := p.OCR.OCR(ctx, OCRRequest{
			PDF:     job.NormalizedPDF,
			Force:   job.Opts.ForceOCR,
			Timeout: job.Opts.OCRTimeout,
			WorkDir: workDir,
		})
		if oerr != nil {
			return oerr
		}
		job.OCRPDF = out.PDF
		job.OCRSkipped = out.Skipped
		job.Notes = append(job.Notes, out.Warnings...)
		return nil
	})
	if err != nil {
		logger.Warn("processor.ocr.failed", "error", err)
		// best effort so the row still reports how big the document was
		if n, perr := p.Extractor.PageCount(ctx, job.NormalizedPDF, workDir); perr == nil {
			job.PageCount = n
		}
		return p.fail(job, obs, asStageError(err, stage))
	}
	job.NormalizedPDF = nil
	if job.OCRSkipped {
		logger.Info("processor.ocr.skipped", "reason", "existing text layer")
	}

	// 3) extract
	stage = constants.StageExtract
	p.transition(job, obs, constants.StateExtracting)
	var (
		text   string
		status = constants.StatusOK
	)
	err = p.timed(job, stage, func() error {
		var xerr error
		text, status, xerr = p.extract(ctx, job, workDir, logger)
		return xerr
	})
	if err != nil {
		logger.Warn("processor.extract.failed", "error", err)
		return p.fail(job, obs, asStageError(err, stage))
	}

	// 4) sanitize
	stage = constants.StageSanitize
	p.transition(job, obs, constants.StateSanitizing)
	_ = p.timed(job, stage, func() error {
		job.Markdown = p.Sanitizer.Sanitize(text)
		return nil
	})
	if job.Markdown == "" {
		return p.fail(job, obs, common.NewExtractionError("", "no representable text after sanitization", nil))
	}

	p.transition(job, obs, constants.StateDone)
	return p.result(job, status, nil)
}

// extract runs the primary strategy and falls back to block reconstruction
// when it errors or yields nothing for a document that has pages.
func (p *Processor) extract(ctx context.Context, job *FileJob, workDir string, logger *slog.Logger) (string, constants.Status, error) {
	pages, perr := p.Extractor.PageCount(ctx, job.OCRPDF, workDir)
	if perr != nil {
		logger.Warn("processor.pagecount.failed", "error", perr)
	}
	job.PageCount = pages

	text, err := p.Extractor.Primary(ctx, job.OCRPDF, workDir)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, constants.StatusOK, nil
	}

	reason := "primary extractor returned no text"
	if err != nil {
		if se, ok := common.AsStageError(err); ok && se.Kind == common.KindTimeout {
			return "", constants.StatusFailed, err
		}
		reason = "primary extractor failed: " + errMessage(err)
	}
	if perr == nil && pages == 0 {
		return "", constants.StatusFailed, common.NewExtractionError("", reason+"; document has no pages", err)
	}
	logger.Info("processor.extract.fallback", "reason", reason, "pages", pages)

	fb, ferr := p.Extractor.Fallback(ctx, job.OCRPDF, workDir)
	if ferr != nil {
		if se, ok := common.AsStageError(ferr); ok && se.Kind == common.KindTimeout {
			return "", constants.StatusFailed, ferr
		}
		return "", constants.StatusFailed, common.NewExtractionError("", reason+"; fallback failed: "+errMessage(ferr), ferr)
	}
	if strings.TrimSpace(fb) == "" {
		return "", constants.StatusFailed, common.NewExtractionError("", reason+"; fallback returned no text", nil)
	}
	job.Notes = append(job.Notes, reason)
	return fb, constants.StatusFallback, nil
}

func (p *Processor) workDir(job *FileJob) (string, error) {
	dir := filepath.Join(p.ScratchDir, job.BatchID.String(), job.ID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// CleanupBatch removes the batch's scratch directory once all its jobs
// have returned.
func (p *Processor) CleanupBatch(batchID uuid.UUID) error {
	return os.RemoveAll(filepath.Join(p.ScratchDir, batchID.String()))
}

func (p *Processor) transition(job *FileJob, obs StateObserver, s constants.JobState) {
	job.State = s
	obs.SetState(job.Seq, s)
}

func (p *Processor) timed(job *FileJob, stage string, fn func() error) error {
	t0 := time.Now()
	err := fn()
	job.Timings = append(job.Timings, StageTiming{Stage: stage, Duration: time.Since(t0)})
	return err
}

func (p *Processor) fail(job *FileJob, obs StateObserver, se *common.StageError) FileResult {
	p.transition(job, obs, constants.StateFailed)
	return p.result(job, constants.StatusFailed, se)
}

func (p *Processor) result(job *FileJob, status constants.Status, se *common.StageError) FileResult {
	debug := job.OCRPDF
	if debug == nil {
		debug = job.NormalizedPDF
	}
	res := FileResult{
		Seq:        job.Seq,
		JobID:      job.ID,
		Filename:   job.Input.Name,
		Kind:       job.Input.Kind,
		PageCount:  job.PageCount,
		Duration:   job.Elapsed(),
		Timings:    append([]StageTiming(nil), job.Timings...),
		Status:     status,
		DebugPDF:   debug,
		OCRSkipped: job.OCRSkipped,
		Error:      se,
		Notes:      append([]string(nil), job.Notes...),
	}
	if status != constants.StatusFailed {
		res.Markdown = job.Markdown
	}
	return res
}

// asStageError keeps typed errors from executors and classifies anything else
// by the stage it came from.
func asStageError(err error, stage string) *common.StageError {
	if se, ok := common.AsStageError(err); ok {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewTimeoutError(stage, "", "stage deadline exceeded", err)
	}
	return &common.StageError{Kind: stageKind(stage), Stage: stage, Diagnostic: err.Error(), Cause: err}
}

func stageKind(stage string) common.ErrorKind {
	switch stage {
	case constants.StageOCR:
		return common.KindOCR
	case constants.StageExtract, constants.StageSanitize:
		return common.KindExtraction
	}
	return common.KindConversion
}

func errMessage(err error) string {
	if se, ok := common.AsStageError(err); ok && se.Diagnostic != "" {
		return se.Diagnostic
	}
	return err.Error()
}
