package server

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/internal/export"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

func (s *Server) GetFileMarkdown(c *gin.Context) {
	res, ok := s.fileResult(c)
	if !ok {
		return
	}
	attachment(c, export.Stem(res.Filename)+".md")
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(res.Markdown))
}

// GetFilePreview renders the Markdown (GFM tables included) as HTML.
func (s *Server) GetFilePreview(c *gin.Context) {
	res, ok := s.fileResult(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	buf.WriteString("<!doctype html>\n<html><head><meta charset=\"utf-8\"></head><body>\n")
	if err := s.md.Convert([]byte(res.Markdown), &buf); err != nil {
		s.logger.Error("preview render failed", "file", res.Filename, "error", err)
		Internal(c, "render preview: "+err.Error())
		return
	}
	buf.WriteString("</body></html>\n")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) fileResult(c *gin.Context) (pipeline.FileResult, bool) {
	b, ok := s.lookup(c)
	if !ok {
		return pipeline.FileResult{}, false
	}
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		BadRequest(c, "seq must be an integer")
		return pipeline.FileResult{}, false
	}
	res, err := b.File(seq)
	if err != nil {
		fromError(c, err)
		return pipeline.FileResult{}, false
	}
	if !res.Succeeded() {
		NotFound(c, "no markdown for "+res.Filename+": "+res.Diagnostic())
		return pipeline.FileResult{}, false
	}
	return res, true
}

func (s *Server) GetPDF(c *gin.Context) {
	id, ok := pdfID(c)
	if !ok {
		return
	}
	a, err := s.svc.Artifact(c.Request.Context(), id)
	if err != nil {
		fromError(c, err)
		return
	}
	attachment(c, "ocr_"+export.Stem(a.Filename)+".pdf")
	c.Data(http.StatusOK, "application/pdf", a.Data)
}

func (s *Server) DeletePDF(c *gin.Context) {
	id, ok := pdfID(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteArtifact(c.Request.Context(), id); err != nil {
		fromError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pdfID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "pdf id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
