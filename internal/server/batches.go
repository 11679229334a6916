package server

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/internal/async"
	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/export"
	"github.com/joseph-ayodele/docs2md/internal/ingest"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

// FileView is one result row as returned by the API.
type FileView struct {
	export.Row
	JobID      string                 `json:"job_id"`
	Kind       string                 `json:"kind"`
	OCRSkipped bool                   `json:"ocr_skipped,omitempty"`
	Markdown   string                 `json:"markdown_content,omitempty"`
	Notes      []string               `json:"notes,omitempty"`
	Error      *common.StageError     `json:"error,omitempty"`
	Timings    []pipeline.StageTiming `json:"timings,omitempty"`
}

type BatchView struct {
	BatchID      string          `json:"batch_id"`
	Status       string          `json:"status"`
	Cancelled    bool            `json:"cancelled,omitempty"`
	Workers      int             `json:"workers"`
	TotalSeconds float64         `json:"total_processing_time_seconds"`
	Progress     *async.Snapshot `json:"progress,omitempty"`
	Results      []FileView      `json:"results,omitempty"`
	ArchiveURL   string          `json:"zip_download_url,omitempty"`
	PackageError string          `json:"packaging_error,omitempty"`
}

// CreateBatch accepts multipart "files". With ?wait=true it blocks until the
// batch finishes and returns the full results.
func (s *Server) CreateBatch(c *gin.Context) {
	force, err := s.forceOCR(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "expected multipart form with files: "+err.Error())
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		BadRequest(c, "no files uploaded")
		return
	}

	maxBytes := s.cfg.Server.MaxUploadBytes
	for _, fh := range headers {
		if err := ingest.CheckSize(fh.Filename, fh.Size, maxBytes); err != nil {
			s.logger.Warn("upload rejected", "file", fh.Filename, "size", fh.Size, "error", err)
			TooLarge(c, err.Error())
			return
		}
	}
	inputs := make([]pipeline.InputFile, 0, len(headers))
	for _, fh := range headers {
		in, err := readPart(fh, maxBytes)
		if err != nil {
			s.logger.Warn("upload rejected", "file", fh.Filename, "error", err)
			fromError(c, err)
			return
		}
		inputs = append(inputs, in)
	}

	b, err := s.svc.Submit(inputs, batch.Options(s.cfg, &force))
	if err != nil {
		fromError(c, err)
		return
	}

	ctx := common.WithBatchID(c.Request.Context(), b.ID.String())
	logger := common.LoggerFromContext(ctx, s.logger)
	logger.Info("batch accepted", "files", len(inputs), "force_ocr", force)

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		if _, err := s.svc.Wait(ctx, b.ID); err != nil {
			logger.Warn("client gave up waiting", "error", err)
			return
		}
		c.JSON(http.StatusOK, s.batchView(b))
		return
	}
	snap := b.Snapshot()
	c.JSON(http.StatusAccepted, BatchView{
		BatchID:  b.ID.String(),
		Status:   "running",
		Workers:  b.Workers,
		Progress: &snap,
	})
}

func (s *Server) forceOCR(c *gin.Context) (bool, error) {
	raw := c.PostForm("force_ocr")
	if raw == "" {
		raw = c.Query("force_ocr")
	}
	if raw == "" {
		return s.cfg.Pipeline.ForceOCR, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("force_ocr must be a boolean, got %q", raw)
	}
	return v, nil
}

func readPart(fh *multipart.FileHeader, maxBytes int64) (pipeline.InputFile, error) {
	f, err := fh.Open()
	if err != nil {
		return pipeline.InputFile{}, err
	}
	defer f.Close()
	return ingest.ReadUpload(fh.Filename, f, maxBytes)
}

func (s *Server) GetBatch(c *gin.Context) {
	b, ok := s.lookup(c)
	if !ok {
		return
	}
	if !b.Finished() {
		snap := b.Snapshot()
		c.JSON(http.StatusAccepted, BatchView{
			BatchID:  b.ID.String(),
			Status:   "running",
			Workers:  b.Workers,
			Progress: &snap,
		})
		return
	}
	c.JSON(http.StatusOK, s.batchView(b))
}

func (s *Server) batchView(b *batch.Batch) BatchView {
	results, _ := b.Results()
	rows := s.svc.Packager().Rows(results)
	views := make([]FileView, len(results))
	for i, r := range results {
		views[i] = FileView{
			Row:        rows[i],
			JobID:      r.JobID.String(),
			Kind:       string(r.Kind),
			OCRSkipped: r.OCRSkipped,
			Markdown:   r.Markdown,
			Notes:      r.Notes,
			Error:      r.Error,
			Timings:    r.Timings,
		}
	}
	v := BatchView{
		BatchID:      b.ID.String(),
		Status:       "done",
		Cancelled:    b.Cancelled(),
		Workers:      b.Workers,
		TotalSeconds: export.Seconds(b.Progress.Elapsed()),
		Results:      views,
		ArchiveURL:   "/api/v1/batches/" + b.ID.String() + "/archive",
	}
	if err := b.PackagingError(); err != nil {
		v.PackageError = err.Error()
	}
	return v
}

func (s *Server) GetProgress(c *gin.Context) {
	b, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b.Snapshot())
}

func (s *Server) CancelBatch(c *gin.Context) {
	id, ok := batchID(c)
	if !ok {
		return
	}
	if err := s.svc.Cancel(id); err != nil {
		fromError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": id.String(), "cancelled": true})
}

func (s *Server) DeleteBatch(c *gin.Context) {
	id, ok := batchID(c)
	if !ok {
		return
	}
	if err := s.svc.Release(id); err != nil {
		fromError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetArchive(c *gin.Context) {
	b, results, ok := s.finished(c)
	if !ok {
		return
	}
	data, err := s.svc.Packager().Archive(results)
	if err != nil {
		s.logger.Error("archive failed", "batch_id", b.ID, "error", err)
		fromError(c, err)
		return
	}
	attachment(c, export.ArchiveName(b.CreatedAt))
	c.Data(http.StatusOK, "application/zip", data)
}

func (s *Server) GetSummaryXLSX(c *gin.Context) {
	b, results, ok := s.finished(c)
	if !ok {
		return
	}
	data, err := s.svc.Packager().SummaryXLSX(results)
	if err != nil {
		s.logger.Error("xlsx summary failed", "batch_id", b.ID, "error", err)
		fromError(c, err)
		return
	}
	attachment(c, "summary.xlsx")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) GetSummaryMarkdown(c *gin.Context) {
	_, results, ok := s.finished(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(s.svc.Packager().SummaryMarkdown(results)))
}

func (s *Server) lookup(c *gin.Context) (*batch.Batch, bool) {
	id, ok := batchID(c)
	if !ok {
		return nil, false
	}
	b, err := s.svc.Get(id)
	if err != nil {
		NotFound(c, "batch not found")
		return nil, false
	}
	return b, true
}

// finished resolves the batch and its results, answering 409 while it runs.
func (s *Server) finished(c *gin.Context) (*batch.Batch, []pipeline.FileResult, bool) {
	b, ok := s.lookup(c)
	if !ok {
		return nil, nil, false
	}
	results, done := b.Results()
	if !done {
		Conflict(c, batch.ErrRunning.Error())
		return nil, nil, false
	}
	return b, results, true
}

func batchID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		BadRequest(c, "batch id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func attachment(c *gin.Context, name string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}
