package async

import (
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/docs2md/constants"
)

// Progress aggregates per-file completion for one batch. Workers write with
// atomics only; readers never block them.
type Progress struct {
	total      int
	completed  atomic.Int64
	startedAt  time.Time
	finishedAt atomic.Int64 // unix nanos, 0 while running
	slots      []slot
}

type slot struct {
	name  string
	state atomic.Int32
	done  atomic.Bool
}

// FileProgress is one row of a Snapshot.
type FileProgress struct {
	Seq      int    `json:"seq"`
	Filename string `json:"file_name"`
	State    string `json:"state"`
}

// Snapshot is a consistent-enough view for polling clients: Completed never
// exceeds Total and never decreases between snapshots.
type Snapshot struct {
	Completed int            `json:"completed"`
	Total     int            `json:"total"`
	Fraction  float64        `json:"fraction"`
	Elapsed   time.Duration  `json:"-"`
	ElapsedS  float64        `json:"elapsed_seconds"`
	Done      bool           `json:"done"`
	Files     []FileProgress `json:"files,omitempty"`
}

func NewProgress(filenames []string) *Progress {
	p := &Progress{
		total:     len(filenames),
		startedAt: time.Now(),
		slots:     make([]slot, len(filenames)),
	}
	for i, n := range filenames {
		p.slots[i].name = n
	}
	if p.total == 0 {
		p.finishedAt.Store(p.startedAt.UnixNano())
	}
	return p
}

func (p *Progress) Total() int           { return p.total }
func (p *Progress) Completed() int       { return int(p.completed.Load()) }
func (p *Progress) StartedAt() time.Time { return p.startedAt }

// Done reports whether every job reached a terminal state.
func (p *Progress) Done() bool { return p.Completed() == p.total }

// SetState records a live stage transition. Terminal states are owned by
// MarkDone and ignored here once a slot is done.
func (p *Progress) SetState(seq int, s constants.JobState) {
	if seq < 0 || seq >= len(p.slots) {
		return
	}
	if p.slots[seq].done.Load() {
		return
	}
	p.slots[seq].state.Store(int32(s))
}

// MarkDone counts seq as terminal exactly once. It reports whether this
// call did the counting.
func (p *Progress) MarkDone(seq int, final constants.JobState) bool {
	if seq < 0 || seq >= len(p.slots) {
		return false
	}
	sl := &p.slots[seq]
	if !sl.done.CompareAndSwap(false, true) {
		return false
	}
	sl.state.Store(int32(final))
	if p.completed.Add(1) == int64(p.total) {
		p.finishedAt.Store(time.Now().UnixNano())
	}
	return true
}

// Elapsed is measured from batch start; it freezes once the batch is done.
func (p *Progress) Elapsed() time.Duration {
	if end := p.finishedAt.Load(); end != 0 {
		return time.Unix(0, end).Sub(p.startedAt)
	}
	return time.Since(p.startedAt)
}

func (p *Progress) Snapshot() Snapshot {
	completed := p.Completed()
	s := Snapshot{
		Completed: completed,
		Total:     p.total,
		Fraction:  1,
		Elapsed:   p.Elapsed(),
		Done:      completed == p.total,
		Files:     make([]FileProgress, len(p.slots)),
	}
	if p.total > 0 {
		s.Fraction = float64(completed) / float64(p.total)
	}
	s.ElapsedS = s.Elapsed.Seconds()
	for i := range p.slots {
		s.Files[i] = FileProgress{
			Seq:      i,
			Filename: p.slots[i].name,
			State:    constants.JobState(p.slots[i].state.Load()).String(),
		}
	}
	return s
}
