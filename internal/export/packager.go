// Package export turns the results of a finished batch into downloadable
// artifacts: a ZIP of Markdown files, an XLSX workbook and a Markdown table.
package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/docs2md/internal/common"
	"github.com/joseph-ayodele/docs2md/internal/markdown"
	"github.com/joseph-ayodele/docs2md/internal/pipeline"
)

const (
	DefaultPreviewLength = 100
	noContent            = "No content"
)

// Row is one line of every summary format.
type Row struct {
	Seq        int     `json:"seq"`
	Filename   string  `json:"file_name"`
	PageCount  int     `json:"page_count"`
	Seconds    float64 `json:"processing_time_seconds"`
	Status     string  `json:"status"`
	Diagnostic string  `json:"diagnostic,omitempty"`
	Preview    string  `json:"content_preview"`
	DebugPDFID string  `json:"ocr_pdf_id,omitempty"`
}

type Packager struct {
	previewLen int
	logger     *slog.Logger
}

func NewPackager(previewLen int, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	if previewLen <= 0 {
		previewLen = DefaultPreviewLength
	}
	return &Packager{previewLen: previewLen, logger: logger}
}

// Ordered returns a copy of results sorted by input position.
func Ordered(results []pipeline.FileResult) []pipeline.FileResult {
	out := make([]pipeline.FileResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Rows builds the summary rows in input order.
func (p *Packager) Rows(results []pipeline.FileResult) []Row {
	ordered := Ordered(results)
	rows := make([]Row, len(ordered))
	for i, r := range ordered {
		rows[i] = Row{
			Seq:        r.Seq,
			Filename:   r.Filename,
			PageCount:  r.PageCount,
			Seconds:    Seconds(r.Duration),
			Status:     string(r.Status),
			Diagnostic: r.Diagnostic(),
			Preview:    Preview(r.Markdown, p.previewLen),
			DebugPDFID: r.DebugPDFID,
		}
	}
	return rows
}

// Seconds rounds d to two decimals.
func Seconds(d time.Duration) float64 {
	s, _ := strconv.ParseFloat(strconv.FormatFloat(d.Seconds(), 'f', 2, 64), 64)
	return s
}

// Preview flattens newlines and keeps the first n runes, marking truncation.
func Preview(md string, n int) string {
	if strings.TrimSpace(md) == "" {
		return noContent
	}
	flat := strings.Join(strings.Fields(md), " ")
	if utf8.RuneCountInString(flat) <= n {
		return flat
	}
	runes := []rune(flat)
	return strings.TrimRight(string(runes[:n]), " ") + "…"
}

// ArchiveName is the download name of a batch archive started at t.
func ArchiveName(t time.Time) string {
	return fmt.Sprintf("markdowns_%d.zip", t.Unix())
}

// EntryNames maps Seq to the archive entry of every successful result. The
// first result (by Seq) with a given stem keeps "<stem>.md"; later ones get
// "<stem>-<seq+1>.md".
func EntryNames(results []pipeline.FileResult) map[int]string {
	names := make(map[int]string)
	used := make(map[string]struct{})
	for _, r := range Ordered(results) {
		if !r.Succeeded() {
			continue
		}
		stem := Stem(r.Filename)
		name := stem + ".md"
		for n := r.Seq + 1; ; n++ {
			if _, taken := used[strings.ToLower(name)]; !taken {
				break
			}
			name = fmt.Sprintf("%s-%d.md", stem, n)
		}
		used[strings.ToLower(name)] = struct{}{}
		names[r.Seq] = name
	}
	return names
}

// Stem strips directory and extension from a filename.
func Stem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		return "file"
	}
	return stem
}

// WriteArchive writes a deflated ZIP with one Markdown file per successful
// result.
func (p *Packager) WriteArchive(w io.Writer, results []pipeline.FileResult) error {
	names := EntryNames(results)
	zw := zip.NewWriter(w)
	for _, r := range Ordered(results) {
		name, ok := names[r.Seq]
		if !ok {
			continue
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
		if err != nil {
			return common.NewPackagingError("create archive entry "+name, err)
		}
		if _, err := io.WriteString(fw, r.Markdown); err != nil {
			return common.NewPackagingError("write archive entry "+name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return common.NewPackagingError("finalize archive", err)
	}
	p.logger.Debug("archive written", "entries", len(names))
	return nil
}

// Archive returns the ZIP as bytes.
func (p *Packager) Archive(results []pipeline.FileResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.WriteArchive(&buf, results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SummaryMarkdown renders the results as a pipe table.
func (p *Packager) SummaryMarkdown(results []pipeline.FileResult) string {
	var b strings.Builder
	b.WriteString("| File Name | Pages | Processing Time (s) | Status | Content Preview |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range p.Rows(results) {
		status := r.Status
		if r.Diagnostic != "" && r.Status != "ok" {
			status += ": " + r.Diagnostic
		}
		fmt.Fprintf(&b, "| %s | %d | %.2f | %s | %s |\n",
			markdown.EscapeCell(r.Filename), r.PageCount, r.Seconds,
			markdown.EscapeCell(status), markdown.EscapeCell(r.Preview))
	}
	return b.String()
}
