// Package markdown extracts Markdown from OCR'd PDFs and sanitizes it.
package markdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

var rePages = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdfinfo   string // binary name or absolute path; if empty -> "pdfinfo"
	Timeout   time.Duration
}

// Extractor wraps the poppler utilities behind the pipeline's
// MarkdownExtractor contract.
type Extractor struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, r runner.Runner, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		r = runner.New()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Extractor{cfg: cfg, runner: r, logger: logger}
}

// PageCount reads the page count from pdfinfo.
func (x *Extractor) PageCount(ctx context.Context, pdf []byte, workDir string) (int, error) {
	path, err := stagePDF(pdf, workDir)
	if err != nil {
		return 0, err
	}
	out, err := x.run(ctx, x.cfg.Pdfinfo, path)
	if err != nil {
		return 0, err
	}
	m := rePages.FindSubmatch(out)
	if m == nil {
		return 0, common.NewExtractionError(x.cfg.Pdfinfo, "no page count in pdfinfo output", nil)
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, common.NewExtractionError(x.cfg.Pdfinfo, "bad page count", err)
	}
	return n, nil
}

// Primary runs `pdftotext -layout` and converts the layout to Markdown.
func (x *Extractor) Primary(ctx context.Context, pdf []byte, workDir string) (string, error) {
	path, err := stagePDF(pdf, workDir)
	if err != nil {
		return "", err
	}
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, err := x.run(ctx, x.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", err
	}
	return LayoutToMarkdown(string(out)), nil
}

// Fallback runs `pdftotext -bbox-layout` and rebuilds text block by block.
func (x *Extractor) Fallback(ctx context.Context, pdf []byte, workDir string) (string, error) {
	path, err := stagePDF(pdf, workDir)
	if err != nil {
		return "", err
	}
	out, err := x.run(ctx, x.cfg.Pdftotext, "-bbox-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return "", err
	}
	md, err := BBoxToMarkdown(bytes.NewReader(out))
	if err != nil {
		return "", common.NewExtractionError(x.cfg.Pdftotext, "unreadable bbox layout", err)
	}
	return md, nil
}

func (x *Extractor) run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	toolCtx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
	defer cancel()

	out, errb, err := x.runner.Run(toolCtx, tool, x.logger, args...)
	if err == nil {
		return out, nil
	}
	if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
		return nil, common.NewTimeoutError(constants.StageExtract, tool,
			fmt.Sprintf("no result within %s", x.cfg.Timeout), err)
	}
	return nil, common.NewExtractionError(tool,
		fmt.Sprintf("exit %d: %s", runner.ExitCode(err), runner.Diagnostic(errb, err)), err)
}

func stagePDF(pdf []byte, workDir string) (string, error) {
	if len(pdf) == 0 {
		return "", common.NewExtractionError("", "empty pdf", nil)
	}
	path := filepath.Join(workDir, "extract.pdf")
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", common.NewExtractionError("", "write scratch pdf", err)
	}
	return path, nil
}
