package batch

import (
	"log/slog"

	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/convert"
	"github.com/joseph-ayodele/docs2md/internal/markdown"
	"github.com/joseph-ayodele/docs2md/internal/ocr"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

// NewProcessor assembles the stage executors described by cfg. A nil runner
// executes the real binaries.
func NewProcessor(cfg *common.Config, r runner.Runner, logger *slog.Logger) *pipeline.Processor {
	if r == nil {
		r = runner.New()
	}
	norm := convert.NewNormalizer(convert.Config{
		Img2PDF:           cfg.Tools.Img2PDF,
		LibreOffice:       cfg.Tools.LibreOffice,
		Timeout:           cfg.Tools.ConvertTimeout,
		MaxImageDimension: cfg.Tools.MaxImageDimension,
	}, r, logger)
	engine := ocr.NewEngine(ocr.Config{
		Binary:           cfg.Tools.OCRmyPDF,
		Language:         cfg.OCR.Language,
		Deskew:           cfg.OCR.Deskew,
		Clean:            cfg.OCR.Clean,
		Jobs:             cfg.OCR.Jobs,
		TesseractTimeout: cfg.OCR.TesseractTimeout,
		DownsampleAbove:  cfg.OCR.DownsampleAbove,
		Timeout:          cfg.OCR.Timeout,
	}, r, logger)
	extractor := markdown.NewExtractor(markdown.Config{
		Pdftotext: cfg.Tools.Pdftotext,
		Pdfinfo:   cfg.Tools.Pdfinfo,
		Timeout:   cfg.Tools.ExtractTimeout,
	}, r, logger)
	return pipeline.NewProcessor(logger, norm, engine, extractor, markdown.Sanitizer{ASCIIOnly: cfg.Pipeline.ASCIIOnly}, cfg.Pipeline.ScratchDir)
}

// ConfigFrom derives the service settings from the application config.
func ConfigFrom(cfg *common.Config) Config {
	return Config{
		Workers:   cfg.Pipeline.Workers,
		Retention: cfg.Pipeline.BatchRetention,
		OutputDir: cfg.Pipeline.OutputDir,
	}
}

// Options builds per-batch options; force overrides the configured default.
func Options(cfg *common.Config, force *bool) pipeline.Options {
	opts := pipeline.Options{ForceOCR: cfg.Pipeline.ForceOCR, OCRTimeout: cfg.OCR.Timeout}
	if force != nil {
		opts.ForceOCR = *force
	}
	return opts
}
