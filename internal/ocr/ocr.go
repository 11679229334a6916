// Package ocr adds a searchable text layer to PDFs with ocrmypdf.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

// ocrmypdf exit statuses that need special handling.
const (
	exitBadArgs          = 2
	exitInputFile        = 4
	exitAlreadyDoneOCR   = 6
	exitChildProcess     = 7
	exitEncryptedPDF     = 8
	exitInvalidConfig    = 9
	exitPDFAConversion   = 10
	exitCtrlC            = 130
	skippedPageSignature = "page already has text"
)

type Config struct {
	Binary           string // binary name or absolute path; if empty -> "ocrmypdf"
	Language         string // default "eng"
	Deskew           bool
	Clean            bool
	Jobs             int // per-file tesseract parallelism, default 2
	TesseractTimeout time.Duration
	DownsampleAbove  int // pixels; 0 leaves images untouched
	Timeout          time.Duration
}

// Engine is the ocrmypdf-backed OCR stage.
type Engine struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, r runner.Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		r = runner.New()
	}
	if cfg.Binary == "" {
		cfg.Binary = "ocrmypdf"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = 2
	}
	if cfg.TesseractTimeout <= 0 {
		cfg.TesseractTimeout = 300 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Engine{cfg: cfg, runner: r, logger: logger}
}

// Args builds the ocrmypdf command line for one file.
func (e *Engine) Args(in, out string, force bool) []string {
	args := []string{"-l", e.cfg.Language}
	if e.cfg.Deskew {
		args = append(args, "--deskew")
	}
	if e.cfg.Clean {
		args = append(args, "--clean")
	}
	args = append(args,
		"--tesseract-timeout", strconv.Itoa(int(e.cfg.TesseractTimeout/time.Second)),
		"--jobs", strconv.Itoa(e.cfg.Jobs),
	)
	if e.cfg.DownsampleAbove > 0 {
		args = append(args,
			"--tesseract-downsample-large-images",
			"--tesseract-downsample-above", strconv.Itoa(e.cfg.DownsampleAbove),
		)
	}
	if force {
		args = append(args, "--force-ocr")
	} else {
		args = append(args, "--skip-text")
	}
	return append(args, in, out)
}

// OCR runs ocrmypdf on req.PDF. "Already has text" is a success that
// returns the input unchanged; a failed PDF/A conversion is a success with
// a warning because the OCR'd output is still written.
func (e *Engine) OCR(ctx context.Context, req pipeline.OCRRequest) (pipeline.OCROutcome, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	in := filepath.Join(req.WorkDir, "ocr_input.pdf")
	out := filepath.Join(req.WorkDir, "ocr_output.pdf")
	if err := os.WriteFile(in, req.PDF, 0o644); err != nil {
		return pipeline.OCROutcome{}, common.NewOCRError(e.cfg.Binary, "write scratch pdf", err)
	}

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, errb, err := e.runner.Run(toolCtx, e.cfg.Binary, e.logger, e.Args(in, out, req.Force)...)

	var warnings []string
	if n := strings.Count(string(errb), skippedPageSignature); n > 0 {
		warnings = append(warnings, fmt.Sprintf("ocr skipped %d page(s) with an existing text layer", n))
	}

	if err != nil {
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return pipeline.OCROutcome{}, common.NewTimeoutError(constants.StageOCR, e.cfg.Binary,
				fmt.Sprintf("no result within %s", timeout), err)
		}
		switch code := runner.ExitCode(err); code {
		case exitAlreadyDoneOCR:
			e.logger.Debug("ocr.already_has_text")
			return pipeline.OCROutcome{PDF: req.PDF, Skipped: true}, nil
		case exitPDFAConversion:
			warnings = append(warnings, "ocr output is not valid PDF/A")
		default:
			return pipeline.OCROutcome{}, common.NewOCRError(e.cfg.Binary,
				fmt.Sprintf("exit %d (%s): %s", code, describeExit(code), runner.Diagnostic(errb, err)), err)
		}
	}

	b, rerr := os.ReadFile(out)
	if rerr != nil || len(b) == 0 {
		return pipeline.OCROutcome{}, common.NewOCRError(e.cfg.Binary, "ocrmypdf produced no output", rerr)
	}
	return pipeline.OCROutcome{PDF: b, Warnings: warnings}, nil
}

func describeExit(code int) string {
	switch code {
	case exitBadArgs:
		return "bad arguments"
	case exitInputFile:
		return "input is not a valid pdf"
	case exitChildProcess:
		return "helper program failed"
	case exitEncryptedPDF:
		return "input is encrypted"
	case exitInvalidConfig:
		return "invalid tesseract configuration"
	case exitCtrlC:
		return "interrupted"
	}
	return "ocr failed"
}
