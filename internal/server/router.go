// Package server exposes the batch service over HTTP (gin) and reports
// liveness over the standard gRPC health protocol.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/common"
)

type Server struct {
	svc    *batch.Service
	cfg    *common.Config
	md     goldmark.Markdown
	logger *slog.Logger
}

func New(svc *batch.Service, cfg *common.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		cfg:    cfg,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: logger,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	// multipart parts above this spill to temp files
	r.MaxMultipartMemory = 32 << 20

	v1 := r.Group("/api/v1")
	{
		batches := v1.Group("/batches")
		{
			batches.POST("", s.CreateBatch)
			batches.GET("/:id", s.GetBatch)
			batches.DELETE("/:id", s.DeleteBatch)
			batches.GET("/:id/progress", s.GetProgress)
			batches.POST("/:id/cancel", s.CancelBatch)
			batches.GET("/:id/archive", s.GetArchive)
			batches.GET("/:id/summary.xlsx", s.GetSummaryXLSX)
			batches.GET("/:id/summary.md", s.GetSummaryMarkdown)
			batches.GET("/:id/files/:seq/markdown", s.GetFileMarkdown)
			batches.GET("/:id/files/:seq/preview", s.GetFilePreview)
		}
		v1.GET("/pdfs/:id", s.GetPDF)
		v1.DELETE("/pdfs/:id", s.DeletePDF)
	}
	r.GET("/health", s.Health)
	return r
}

func (s *Server) Health(c *gin.Context) {
	if !s.svc.Accepting() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestLogger tags each request with an id (honoring X-Request-ID) and
// logs it once the handler chain returns.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), id))
		c.Next()
		common.LoggerFromContext(c.Request.Context(), logger).Info("http.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
