package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs2md/constants"
	"github.com/joseph-ayodele/docs2md/internal/common"
)

// InputFile is an accepted upload. It is never mutated after ingestion.
type InputFile struct {
	Name   string
	Ext    string // normalized, without dot
	MIME   string // sniffed
	Kind   constants.FileKind
	Data   []byte
	SHA256 string
}

// Size returns the byte length of the file.
func (f InputFile) Size() int64 { return int64(len(f.Data)) }

// Options are fixed for the lifetime of a batch.
type Options struct {
	ForceOCR   bool
	OCRTimeout time.Duration
}

// StageTiming records the wall-clock time spent in one stage.
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// FileJob is the per-file unit of work. Everything below Input is owned by
// the single worker processing the job.
type FileJob struct {
	Seq     int
	ID      uuid.UUID
	BatchID uuid.UUID
	Input   InputFile
	Opts    Options

	State         constants.JobState
	NormalizedPDF []byte
	OCRPDF        []byte
	OCRSkipped    bool
	Markdown      string
	PageCount     int
	Timings       []StageTiming
	Notes         []string
}

// NewJobs derives one FileJob per input, preserving submission order in Seq.
func NewJobs(batchID uuid.UUID, inputs []InputFile, opts Options) []*FileJob {
	jobs := make([]*FileJob, len(inputs))
	for i, in := range inputs {
		jobs[i] = &FileJob{
			Seq:     i,
			ID:      uuid.New(),
			BatchID: batchID,
			Input:   in,
			Opts:    opts,
			State:   constants.StatePending,
		}
	}
	return jobs
}

// Elapsed is the sum of recorded stage durations.
func (j *FileJob) Elapsed() time.Duration {
	var d time.Duration
	for _, t := range j.Timings {
		d += t.Duration
	}
	return d
}

// Release drops every intermediate buffer, including the source bytes.
func (j *FileJob) Release() {
	j.Input.Data = nil
	j.NormalizedPDF = nil
	j.OCRPDF = nil
	j.Markdown = ""
}

// FileResult is the immutable snapshot of a terminated FileJob.
type FileResult struct {
	Seq        int                `json:"seq"`
	JobID      uuid.UUID          `json:"job_id"`
	Filename   string             `json:"file_name"`
	Kind       constants.FileKind `json:"kind"`
	PageCount  int                `json:"page_count"`
	Duration   time.Duration      `json:"-"`
	Timings    []StageTiming      `json:"timings,omitempty"`
	Status     constants.Status   `json:"status"`
	Markdown   string             `json:"markdown_content,omitempty"`
	DebugPDF   []byte             `json:"-"`
	DebugPDFID string             `json:"ocr_pdf_id,omitempty"`
	OCRSkipped bool               `json:"ocr_skipped,omitempty"`
	Error      *common.StageError `json:"error,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
}

// Diagnostic is the one-line explanation shown for non-ok rows.
func (r FileResult) Diagnostic() string {
	switch {
	case r.Error != nil:
		return r.Error.Error()
	case len(r.Notes) > 0:
		return strings.Join(r.Notes, "; ")
	}
	return ""
}

// Succeeded reports whether the row carries Markdown.
func (r FileResult) Succeeded() bool {
	return r.Status == constants.StatusOK || r.Status == constants.StatusFallback
}

// CancelledResult is the row for a job that was never dispatched.
func CancelledResult(job *FileJob) FileResult {
	res := FileResult{
		Seq:      job.Seq,
		JobID:    job.ID,
		Filename: job.Input.Name,
		Kind:     job.Input.Kind,
		Status:   constants.StatusFailed,
		Error:    common.NewCancelledError(),
	}
	job.State = constants.StateCancelled
	job.Release()
	return res
}
