package ocr

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

var (
	inputPDF = []byte("%PDF-1.7 input")
	ocrdPDF  = []byte("%PDF-1.7 ocr'd")
)

// ocrmypdfStub emulates ocrmypdf: it writes ocrdPDF to the last argument
// unless code says the run failed before producing output.
func ocrmypdfStub(code int, stderr string, writeOutput bool, gotArgs *[]string) runner.Func {
	return func(_ context.Context, _ string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
		if gotArgs != nil {
			*gotArgs = args
		}
		if writeOutput {
			if err := os.WriteFile(args[len(args)-1], ocrdPDF, 0o644); err != nil {
				return nil, nil, err
			}
		}
		if code != 0 {
			return nil, []byte(stderr), &runner.StatusError{Code: code}
		}
		return nil, []byte(stderr), nil
	}
}

func request(t *testing.T, force bool) pipeline.OCRRequest {
	return pipeline.OCRRequest{PDF: inputPDF, Force: force, WorkDir: t.TempDir()}
}

func TestArgs_Defaults(t *testing.T) {
	e := NewEngine(Config{Deskew: true, Clean: true}, runner.Func(nil), nil)

	assert.Equal(t,
		[]string{"-l", "eng", "--deskew", "--clean", "--tesseract-timeout", "300", "--jobs", "2", "--force-ocr", "in.pdf", "out.pdf"},
		e.Args("in.pdf", "out.pdf", true))

	args := e.Args("in.pdf", "out.pdf", false)
	assert.Contains(t, args, "--skip-text")
	assert.NotContains(t, args, "--force-ocr")
}

func TestArgs_Downsample(t *testing.T) {
	e := NewEngine(Config{DownsampleAbove: 8000}, runner.Func(nil), nil)
	assert.Equal(t,
		[]string{"-l", "eng", "--tesseract-timeout", "300", "--jobs", "2",
			"--tesseract-downsample-large-images", "--tesseract-downsample-above", "8000",
			"--skip-text", "in.pdf", "out.pdf"},
		e.Args("in.pdf", "out.pdf", false))

	off := NewEngine(Config{}, runner.Func(nil), nil).Args("in.pdf", "out.pdf", false)
	assert.NotContains(t, off, "--tesseract-downsample-large-images")
	assert.NotContains(t, off, "--tesseract-downsample-above")
}

func TestOCR_Success(t *testing.T) {
	var args []string
	e := NewEngine(Config{}, ocrmypdfStub(0, "", true, &args), nil)

	out, err := e.OCR(context.Background(), request(t, true))
	require.NoError(t, err)
	assert.Equal(t, ocrdPDF, out.PDF)
	assert.False(t, out.Skipped)
	assert.Empty(t, out.Warnings)
	assert.Contains(t, args, "--force-ocr")
}

func TestOCR_AlreadyHasTextReturnsInput(t *testing.T) {
	e := NewEngine(Config{}, ocrmypdfStub(exitAlreadyDoneOCR, "PriorOcrFoundError: page already has text!", false, nil), nil)

	out, err := e.OCR(context.Background(), request(t, false))
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, inputPDF, out.PDF)
}

func TestOCR_PDFAWarningIsSuccess(t *testing.T) {
	e := NewEngine(Config{}, ocrmypdfStub(exitPDFAConversion, "ghostscript pdf/a failed", true, nil), nil)

	out, err := e.OCR(context.Background(), request(t, true))
	require.NoError(t, err)
	assert.Equal(t, ocrdPDF, out.PDF)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "PDF/A")
}

func TestOCR_SkippedPagesWarn(t *testing.T) {
	stderr := "   1 page already has text! - skipping all processing on this page\n   3 page already has text! - skipping all processing on this page\n"
	e := NewEngine(Config{}, ocrmypdfStub(0, stderr, true, nil), nil)

	out, err := e.OCR(context.Background(), request(t, false))
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "2 page(s)")
}

func TestOCR_FailureIsOCRError(t *testing.T) {
	e := NewEngine(Config{}, ocrmypdfStub(exitEncryptedPDF, "EncryptedPdfError: input file is encrypted", false, nil), nil)

	_, err := e.OCR(context.Background(), request(t, true))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrOCR)

	se, ok := common.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, "ocrmypdf", se.Tool)
	assert.Contains(t, se.Diagnostic, "exit 8")
	assert.Contains(t, se.Diagnostic, "encrypted")
}

func TestOCR_MissingOutputIsOCRError(t *testing.T) {
	e := NewEngine(Config{}, ocrmypdfStub(0, "", false, nil), nil)

	_, err := e.OCR(context.Background(), request(t, true))
	assert.ErrorIs(t, err, common.ErrOCR)
}

func TestOCR_TimeoutIsTimeoutError(t *testing.T) {
	r := runner.Func(func(ctx context.Context, _ string, _ *slog.Logger, _ ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	})
	e := NewEngine(Config{}, r, nil)

	req := request(t, true)
	req.Timeout = 20 * time.Millisecond
	start := time.Now()
	_, err := e.OCR(context.Background(), req)

	assert.ErrorIs(t, err, common.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	se, _ := common.AsStageError(err)
	assert.Equal(t, "ocr", se.Stage)
}
