package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubHandler fails files named bad*, blocks slow* until gate closes and
// renders table* as a GFM table.
type stubHandler struct {
	gate chan struct{}
}

func (h stubHandler) Process(_ context.Context, job *pipeline.FileJob, _ pipeline.StateObserver) pipeline.FileResult {
	name := job.Input.Name
	if strings.HasPrefix(name, "slow") && h.gate != nil {
		<-h.gate
	}
	res := pipeline.FileResult{Seq: job.Seq, JobID: job.ID, Filename: name, Kind: job.Input.Kind, PageCount: 2, Duration: 20 * time.Millisecond}
	switch {
	case strings.HasPrefix(name, "bad"):
		res.Status = constants.StatusFailed
		res.Error = common.NewConversionError("none", "unsupported file type", nil)
	case strings.HasPrefix(name, "table"):
		res.Status = constants.StatusOK
		res.Markdown = "| a | b |\n| --- | --- |\n| 1 | 2 |"
	default:
		res.Status = constants.StatusOK
		res.Markdown = fmt.Sprintf("# %s\n\nforce=%v", name, job.Opts.ForceOCR)
		res.DebugPDF = []byte("%PDF-1.7 " + name)
	}
	return res
}

type upload struct {
	name string
	data string
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := w.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

type testEnv struct {
	router *gin.Engine
	svc    *batch.Service
}

func newEnv(t *testing.T, h stubHandler) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &common.Config{}
	cfg.Server.MaxUploadBytes = 1024
	cfg.Pipeline.ForceOCR = true
	cfg.OCR.Timeout = time.Minute

	svc := batch.NewService(batch.Config{Workers: 2}, h, nil, nil, discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &testEnv{router: New(svc, cfg, discard()).Router(), svc: svc}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) submit(t *testing.T, query string, fields map[string]string, files ...upload) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches"+query, body)
	req.Header.Set("Content-Type", ct)
	return e.do(req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateBatch_WaitReturnsOrderedResults(t *testing.T) {
	env := newEnv(t, stubHandler{})

	w := env.submit(t, "?wait=true", nil, upload{"a.pdf", "%PDF-1.4"}, upload{"bad.exe", "MZ"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v := decode[BatchView](t, w)
	assert.Equal(t, "done", v.Status)
	require.Len(t, v.Results, 2)
	assert.Equal(t, "a.pdf", v.Results[0].Filename)
	assert.Equal(t, "ok", v.Results[0].Status)
	assert.Equal(t, "# a.pdf\n\nforce=true", v.Results[0].Markdown)
	assert.Equal(t, 2, v.Results[0].PageCount)
	assert.NotEmpty(t, v.Results[0].DebugPDFID)
	assert.Equal(t, "failed", v.Results[1].Status)
	assert.Equal(t, "No content", v.Results[1].Preview)
	require.NotNil(t, v.Results[1].Error)
	assert.Equal(t, common.KindConversion, v.Results[1].Error.Kind)
	assert.Equal(t, "/api/v1/batches/"+v.BatchID+"/archive", v.ArchiveURL)

	// debug PDF download and cleanup
	pdfPath := "/api/v1/pdfs/" + v.Results[0].DebugPDFID
	w = env.get(pdfPath)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.7 a.pdf", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ocr_a.pdf")

	w = env.do(httptest.NewRequest(http.MethodDelete, pdfPath, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, env.get(pdfPath).Code)
}

func TestCreateBatch_ForceOCRFlag(t *testing.T) {
	env := newEnv(t, stubHandler{})

	w := env.submit(t, "?wait=true", map[string]string{"force_ocr": "false"}, upload{"a.pdf", "x"})
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[BatchView](t, w)
	assert.Equal(t, "# a.pdf\n\nforce=false", v.Results[0].Markdown)

	w = env.submit(t, "", map[string]string{"force_ocr": "maybe"}, upload{"a.pdf", "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBatch_Rejections(t *testing.T) {
	env := newEnv(t, stubHandler{})

	w := env.submit(t, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)

	w = env.submit(t, "", nil, upload{"ok.pdf", "x"}, upload{"huge.pdf", strings.Repeat("x", 2048)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "payload_too_large", decode[errorResponse](t, w).Error.Code)
}

func TestBatchLifecycle_Async(t *testing.T) {
	env := newEnv(t, stubHandler{})

	w := env.submit(t, "", nil, upload{"report.pdf", "x"}, upload{"table.csv", "a,b"}, upload{"bad.exe", "MZ"})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[BatchView](t, w).BatchID
	base := "/api/v1/batches/" + id

	require.Eventually(t, func() bool { return env.get(base).Code == http.StatusOK }, 5*time.Second, 10*time.Millisecond)

	snap := env.get(base + "/progress")
	require.Equal(t, http.StatusOK, snap.Code)
	var p struct {
		Completed int  `json:"completed"`
		Total     int  `json:"total"`
		Done      bool `json:"done"`
	}
	require.NoError(t, json.Unmarshal(snap.Body.Bytes(), &p))
	assert.Equal(t, 3, p.Completed)
	assert.Equal(t, 3, p.Total)
	assert.True(t, p.Done)

	// archive
	w = env.get(base + "/archive")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"report.md", "table.md"}, names)

	// summaries
	w = env.get(base + "/summary.md")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "| File Name | Pages | Processing Time (s) | Status | Content Preview |"))
	w = env.get(base + "/summary.xlsx")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	// per file
	w = env.get(base + "/files/0/markdown")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# report.pdf\n\nforce=true", w.Body.String())
	w = env.get(base + "/files/1/preview")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<table>")
	assert.Equal(t, http.StatusNotFound, env.get(base+"/files/2/markdown").Code)
	assert.Equal(t, http.StatusNotFound, env.get(base+"/files/9/markdown").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(base+"/files/x/markdown").Code)

	// release
	w = env.do(httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, env.get(base).Code)
}

func TestRunningBatch(t *testing.T) {
	gate := make(chan struct{})
	env := newEnv(t, stubHandler{gate: gate})
	defer close(gate)

	w := env.submit(t, "", nil, upload{"slow.pdf", "x"})
	require.Equal(t, http.StatusAccepted, w.Code)
	base := "/api/v1/batches/" + decode[BatchView](t, w).BatchID

	w = env.get(base)
	assert.Equal(t, http.StatusAccepted, w.Code)
	v := decode[BatchView](t, w)
	assert.Equal(t, "running", v.Status)
	require.NotNil(t, v.Progress)
	assert.Equal(t, 1, v.Progress.Total)

	assert.Equal(t, http.StatusConflict, env.get(base+"/archive").Code)
	assert.Equal(t, http.StatusConflict, env.get(base+"/files/0/markdown").Code)

	w = env.do(httptest.NewRequest(http.MethodPost, base+"/cancel", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestUnknownAndMalformedIDs(t *testing.T) {
	env := newEnv(t, stubHandler{})

	assert.Equal(t, http.StatusBadRequest, env.get("/api/v1/batches/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/v1/batches/6f1c2a4e-8d53-4f61-9c3e-0c1d2e3f4a5b").Code)
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/v1/batches/6f1c2a4e-8d53-4f61-9c3e-0c1d2e3f4a5b/cancel", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusBadRequest, env.get("/api/v1/pdfs/nope").Code)
	assert.Equal(t, http.StatusNotFound, env.get("/api/v1/pdfs/6f1c2a4e-8d53-4f61-9c3e-0c1d2e3f4a5b").Code)
}

func TestHealth(t *testing.T) {
	env := newEnv(t, stubHandler{})
	assert.Equal(t, http.StatusOK, env.get("/health").Code)

	require.NoError(t, env.svc.Shutdown(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, env.get("/health").Code)

	w := env.submit(t, "", nil, upload{"a.pdf", "x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
