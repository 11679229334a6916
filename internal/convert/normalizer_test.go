package convert

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
	"github.com/joseph-ayodele/docs2md/internal/runner"
)

var fakePDF = []byte("%PDF-1.7\nfake\n%%EOF\n")

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// img2pdfStub writes fakePDF to the path following -o and records the input.
func img2pdfStub(seenInput *string) runner.Func {
	return func(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
		for i, a := range args {
			if a == "-o" && i+1 < len(args) {
				*seenInput = args[0]
				return nil, nil, os.WriteFile(args[i+1], fakePDF, 0o644)
			}
		}
		return nil, []byte("usage"), &runner.StatusError{Code: 2}
	}
}

func TestNormalize_PDFPassthrough(t *testing.T) {
	called := false
	r := runner.Func(func(context.Context, string, *slog.Logger, ...string) ([]byte, []byte, error) {
		called = true
		return nil, nil, nil
	})
	n := NewNormalizer(Config{}, r, nil)

	out, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "a.pdf", Ext: "pdf", Kind: constants.PDF, Data: fakePDF}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, fakePDF, out)
	assert.False(t, called, "pdf input must not invoke any tool")
}

func TestNormalize_EmptyAndUnsupported(t *testing.T) {
	n := NewNormalizer(Config{}, runner.Func(nil), nil)

	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "a.pdf", Ext: "pdf", Kind: constants.PDF}, t.TempDir())
	assert.ErrorIs(t, err, common.ErrConversion)

	_, err = n.Normalize(context.Background(), pipeline.InputFile{Name: "a.xyz", Ext: "xyz", Data: []byte("x")}, t.TempDir())
	assert.ErrorIs(t, err, common.ErrConversion)
	assert.Contains(t, err.Error(), "xyz")
}

func TestNormalize_ImagePassthroughToImg2PDF(t *testing.T) {
	var seen string
	n := NewNormalizer(Config{}, img2pdfStub(&seen), nil)
	dir := t.TempDir()

	out, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "scan.png", Ext: "png", Kind: constants.RasterImage, Data: pngBytes(t, 20, 10)}, dir)
	require.NoError(t, err)
	assert.Equal(t, fakePDF, out)
	assert.Equal(t, filepath.Join(dir, "source.png"), seen)
}

func TestNormalize_ImageDownscaled(t *testing.T) {
	var seen string
	n := NewNormalizer(Config{MaxImageDimension: 50}, img2pdfStub(&seen), nil)
	dir := t.TempDir()

	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "big.png", Ext: "png", Kind: constants.RasterImage, Data: pngBytes(t, 200, 100)}, dir)
	require.NoError(t, err)

	img, err := imaging.Open(seen)
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func assertOpaqueWhite(t *testing.T, path string, x, y int) {
	t.Helper()
	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, color.NRGBAModel.Convert(img.At(x, y)))
}

func TestNormalize_TransparentImageFlattened(t *testing.T) {
	var seen string
	n := NewNormalizer(Config{}, img2pdfStub(&seen), nil)
	dir := t.TempDir()

	// pngBytes leaves every row but the first fully transparent
	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "logo.png", Ext: "png", Kind: constants.RasterImage, Data: pngBytes(t, 20, 10)}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.png"), seen)
	assertOpaqueWhite(t, seen, 5, 5)
}

func TestNormalize_OpaqueImagePassedThrough(t *testing.T) {
	img := imaging.New(8, 8, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	var seen string
	n := NewNormalizer(Config{}, img2pdfStub(&seen), nil)
	dir := t.TempDir()
	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "scan.png", Ext: "png", Kind: constants.RasterImage, Data: buf.Bytes()}, dir)
	require.NoError(t, err)

	written, err := os.ReadFile(seen)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), written, "opaque png is handed over byte for byte")
}

func TestNormalize_DownscaledImageFlattened(t *testing.T) {
	var seen string
	n := NewNormalizer(Config{MaxImageDimension: 50}, img2pdfStub(&seen), nil)
	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "big.png", Ext: "png", Kind: constants.RasterImage, Data: pngBytes(t, 200, 100)}, t.TempDir())
	require.NoError(t, err)
	assertOpaqueWhite(t, seen, 10, 20)
}

func TestNormalize_UnreadableImage(t *testing.T) {
	n := NewNormalizer(Config{}, runner.Func(nil), nil)
	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "x.jpg", Ext: "jpg", Kind: constants.RasterImage, Data: []byte("not an image")}, t.TempDir())

	se, ok := common.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, common.KindConversion, se.Kind)
	assert.Equal(t, "unreadable image", se.Diagnostic)
}

func TestNormalize_OfficeDocument(t *testing.T) {
	var args []string
	r := runner.Func(func(_ context.Context, name string, _ *slog.Logger, a ...string) ([]byte, []byte, error) {
		args = a
		outDir := ""
		for i, v := range a {
			if v == "--outdir" {
				outDir = a[i+1]
			}
		}
		return nil, nil, os.WriteFile(filepath.Join(outDir, "source.pdf"), fakePDF, 0o644)
	})
	n := NewNormalizer(Config{LibreOffice: "soffice"}, r, nil)

	out, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "memo.docx", Ext: "docx", Kind: constants.OfficeDocument, Data: []byte("PK..")}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, fakePDF, out)
	assert.Contains(t, args, "--headless")
	assert.Contains(t, args[0], "-env:UserInstallation=file://")
}

func TestNormalize_ToolFailureCarriesDiagnostic(t *testing.T) {
	r := runner.Func(func(context.Context, string, *slog.Logger, ...string) ([]byte, []byte, error) {
		return nil, []byte("source file could not be loaded"), &runner.StatusError{Code: 1}
	})
	n := NewNormalizer(Config{}, r, nil)

	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "memo.doc", Ext: "doc", Kind: constants.OfficeDocument, Data: []byte("x")}, t.TempDir())
	se, ok := common.AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, common.KindConversion, se.Kind)
	assert.Equal(t, "libreoffice", se.Tool)
	assert.Contains(t, se.Diagnostic, "exit 1")
	assert.Contains(t, se.Diagnostic, "could not be loaded")
}

func TestNormalize_ToolSucceedsWithoutOutput(t *testing.T) {
	r := runner.Func(func(context.Context, string, *slog.Logger, ...string) ([]byte, []byte, error) {
		return nil, nil, nil
	})
	n := NewNormalizer(Config{}, r, nil)

	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "t.txt", Ext: "txt", Kind: constants.OfficeDocument, Data: []byte("hello")}, t.TempDir())
	assert.ErrorIs(t, err, common.ErrConversion)
}

func TestNormalize_Timeout(t *testing.T) {
	r := runner.Func(func(ctx context.Context, _ string, _ *slog.Logger, _ ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	})
	n := NewNormalizer(Config{Timeout: 20 * time.Millisecond}, r, nil)

	_, err := n.Normalize(context.Background(), pipeline.InputFile{Name: "t.odt", Ext: "odt", Kind: constants.OfficeDocument, Data: []byte("x")}, t.TempDir())
	assert.ErrorIs(t, err, common.ErrTimeout)
}
