package constants

// Status is the terminal outcome reported for every input file.
type Status string

// Stable values (these exact strings appear in API responses and reports).
const (
	StatusOK       Status = "ok"       // primary extraction produced text
	StatusFallback Status = "fallback" // text recovered by block-level fallback
	StatusFailed   Status = "failed"   // no text; see the row diagnostic
)

// JobState is the live position of a file job inside the pipeline.
type JobState int32

const (
	StatePending JobState = iota
	StateNormalizing
	StateOCR
	StateExtracting
	StateSanitizing
	StateDone
	StateFailed
	StateCancelled
)

func (s JobState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateNormalizing:
		return "normalizing"
	case StateOCR:
		return "ocr"
	case StateExtracting:
		return "extracting"
	case StateSanitizing:
		return "sanitizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Stage names used in diagnostics and timing keys.
const (
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageOCR       = "ocr"
	StageExtract   = "extract"
	StageSanitize  = "sanitize"
	StageSchedule  = "schedule"
	StagePackage   = "package"
)
