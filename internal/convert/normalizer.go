// Package convert turns accepted uploads into PDF bytes.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder for imaging.Decode

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

type Config struct {
	Img2PDF     string
	LibreOffice string
	Timeout     time.Duration
	// MaxImageDimension downsizes rasters whose longest side exceeds it; 0 disables.
	MaxImageDimension int
}

func (c *Config) defaults() {
	if c.Img2PDF == "" {
		c.Img2PDF = "img2pdf"
	}
	if c.LibreOffice == "" {
		c.LibreOffice = "libreoffice"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
}

// Normalizer dispatches on the file kind: PDFs pass through, rasters go
// through img2pdf, office documents through a headless LibreOffice.
type Normalizer struct {
	cfg    Config
	runner runner.Runner
	logger *slog.Logger
}

func NewNormalizer(cfg Config, r runner.Runner, logger *slog.Logger) *Normalizer {
	cfg.defaults()
	if r == nil {
		r = runner.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{cfg: cfg, runner: r, logger: logger}
}

func (n *Normalizer) Normalize(ctx context.Context, in pipeline.InputFile, workDir string) ([]byte, error) {
	if len(in.Data) == 0 {
		return nil, common.NewConversionError("", "empty file", nil)
	}
	switch in.Kind {
	case constants.PDF:
		return in.Data, nil
	case constants.RasterImage:
		return n.fromImage(ctx, in, workDir)
	case constants.OfficeDocument:
		return n.fromOffice(ctx, in, workDir)
	}
	return nil, common.NewConversionError("none", fmt.Sprintf("unsupported file type %q", in.Ext), nil)
}

func (n *Normalizer) fromImage(ctx context.Context, in pipeline.InputFile, workDir string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(in.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, common.NewConversionError("", "unreadable image", err)
	}

	src := filepath.Join(workDir, "source."+in.Ext)
	resized := n.fit(img)
	switch {
	case resized != nil:
		src = filepath.Join(workDir, "source.png")
		if err := imaging.Save(flatten(resized), src); err != nil {
			return nil, common.NewConversionError("", "write downscaled image", err)
		}
		n.logger.Debug("convert.image.downscaled",
			"from", img.Bounds().Size().String(),
			"to", resized.Bounds().Size().String())
	case constants.IsPassthroughImage(in.Ext) && opaque(img):
		if err := os.WriteFile(src, in.Data, 0o644); err != nil {
			return nil, common.NewConversionError("", "write scratch image", err)
		}
	default:
		// img2pdf only embeds opaque jpeg/png/tiff
		src = filepath.Join(workDir, "source.png")
		if err := imaging.Save(flatten(img), src); err != nil {
			return nil, common.NewConversionError("", "re-encode image", err)
		}
	}

	out := filepath.Join(workDir, "normalized.pdf")
	if err := n.run(ctx, n.cfg.Img2PDF, src, "-o", out); err != nil {
		return nil, err
	}
	return readOutput(n.cfg.Img2PDF, out)
}

// flatten composites img onto white, dropping the alpha channel img2pdf
// refuses.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1)
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// fit returns a downscaled copy when img exceeds the configured dimension.
func (n *Normalizer) fit(img image.Image) image.Image {
	limit := n.cfg.MaxImageDimension
	if limit <= 0 {
		return nil
	}
	b := img.Bounds()
	if b.Dx() <= limit && b.Dy() <= limit {
		return nil
	}
	return imaging.Fit(img, limit, limit, imaging.Lanczos)
}

func (n *Normalizer) fromOffice(ctx context.Context, in pipeline.InputFile, workDir string) ([]byte, error) {
	src := filepath.Join(workDir, "source."+in.Ext)
	if err := os.WriteFile(src, in.Data, 0o644); err != nil {
		return nil, common.NewConversionError(n.cfg.LibreOffice, "write scratch document", err)
	}
	outDir := filepath.Join(workDir, "office")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, common.NewConversionError(n.cfg.LibreOffice, "create output dir", err)
	}
	// concurrent soffice processes must not share a user profile
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(workDir, "lo-profile"))

	if err := n.run(ctx, n.cfg.LibreOffice, profile, "--headless", "--convert-to", "pdf", "--outdir", outDir, src); err != nil {
		return nil, err
	}
	return readOutput(n.cfg.LibreOffice, filepath.Join(outDir, "source.pdf"))
}

func (n *Normalizer) run(ctx context.Context, tool string, args ...string) error {
	toolCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	_, errb, err := n.runner.Run(toolCtx, tool, n.logger, args...)
	if err == nil {
		return nil
	}
	if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
		return common.NewTimeoutError(constants.StageNormalize, tool,
			fmt.Sprintf("no result within %s", n.cfg.Timeout), err)
	}
	return common.NewConversionError(tool,
		fmt.Sprintf("exit %d: %s", runner.ExitCode(err), runner.Diagnostic(errb, err)), err)
}

func readOutput(tool, path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewConversionError(tool, "tool produced no output", err)
	}
	if len(b) == 0 {
		return nil, common.NewConversionError(tool, "tool produced an empty PDF", nil)
	}
	return b, nil
}
