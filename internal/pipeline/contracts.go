package pipeline

import (
	"context"
	"time"

	"github.com/joseph-ayodele/docs2md/constants"
)

// Normalizer is stage 1: source bytes -> PDF bytes.
type Normalizer interface {
	Normalize(ctx context.Context, in InputFile, workDir string) ([]byte, error)
}

// OCRRequest carries the per-file OCR parameters.
type OCRRequest struct {
	PDF     []byte
	Force   bool
	Timeout time.Duration
	WorkDir string
}

// OCROutcome is the engine's result. Skipped is set when the engine found
// an adequate text layer and returned the input unchanged.
type OCROutcome struct {
	PDF      []byte
	Skipped  bool
	Warnings []string
}

// OCREngine is stage 2: PDF bytes -> OCR'd PDF bytes.
type OCREngine interface {
	OCR(ctx context.Context, req OCRRequest) (OCROutcome, error)
}

// MarkdownExtractor is stage 3: OCR'd PDF bytes -> Markdown.
type MarkdownExtractor interface {
	// PageCount is a cheap structural read, independent of text extraction.
	PageCount(ctx context.Context, pdf []byte, workDir string) (int, error)
	// Primary is the table-aware layout extraction.
	Primary(ctx context.Context, pdf []byte, workDir string) (string, error)
	// Fallback reconstructs text block by block, page by page.
	Fallback(ctx context.Context, pdf []byte, workDir string) (string, error)
}

// Sanitizer cleans extracted Markdown. It must not fail and must be idempotent.
type Sanitizer interface {
	Sanitize(s string) string
}

// StateObserver receives live stage transitions for a job.
type StateObserver interface {
	SetState(seq int, state constants.JobState)
}

type nopObserver struct{}

func (nopObserver) SetState(int, constants.JobState) {}
