package markdown

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reColumnGap = regexp.MustCompile(`[ \t]{2,}`)
	bulletRunes = "•●▪◦‣∙"
)

const pageBreak = "\n\n---\n\n"

// LayoutToMarkdown converts `pdftotext -layout` output into Markdown.
// Form feeds separate pages. Runs of two or more lines that split into at
// least two columns on wide gaps become pipe tables; everything else becomes
// paragraphs.
func LayoutToMarkdown(text string) string {
	var pages []string
	for _, page := range strings.Split(text, "\f") {
		if md := pageToMarkdown(page); md != "" {
			pages = append(pages, md)
		}
	}
	return strings.Join(pages, pageBreak)
}

func pageToMarkdown(page string) string {
	lines := strings.Split(strings.ReplaceAll(page, "\r\n", "\n"), "\n")
	var blocks []string

	for i := 0; i < len(lines); {
		if strings.TrimSpace(lines[i]) == "" {
			i++
			continue
		}
		if n := tableRun(lines, i); n >= 2 {
			blocks = append(blocks, renderTable(lines[i:i+n]))
			i += n
			continue
		}
		var para []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			if len(para) > 0 && tableRun(lines, i) >= 2 {
				break
			}
			para = append(para, strings.TrimSpace(lines[i]))
			i++
		}
		blocks = append(blocks, renderParagraph(para))
	}
	return strings.Join(blocks, "\n\n")
}

// tableRun counts consecutive multi-column lines starting at i.
func tableRun(lines []string, i int) int {
	n := 0
	for i+n < len(lines) && len(columns(lines[i+n])) >= 2 {
		n++
	}
	return n
}

func columns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var cols []string
	for _, c := range reColumnGap.Split(line, -1) {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

func renderTable(lines []string) string {
	rows := make([][]string, len(lines))
	width := 0
	for i, l := range lines {
		rows[i] = columns(l)
		if len(rows[i]) > width {
			width = len(rows[i])
		}
	}

	var b strings.Builder
	for i, row := range rows {
		cells := make([]string, width)
		for j := range cells {
			if j < len(row) {
				cells[j] = EscapeCell(row[j])
			}
		}
		b.WriteString(formatRow(cells))
		b.WriteByte('\n')
		if i == 0 {
			sep := make([]string, width)
			for j := range sep {
				sep[j] = "---"
			}
			b.WriteString(formatRow(sep))
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderParagraph(lines []string) string {
	if len(lines) == 1 && isHeading(lines[0]) {
		return "## " + lines[0]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = bulletToList(l)
	}
	return strings.Join(out, "\n")
}

// isHeading treats a short, standalone, all-caps line as a section title.
func isHeading(s string) bool {
	if len([]rune(s)) > 80 || strings.HasSuffix(s, ".") {
		return false
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}

func bulletToList(s string) string {
	for _, b := range bulletRunes {
		if rest, ok := strings.CutPrefix(s, string(b)); ok {
			return "- " + strings.TrimSpace(rest)
		}
	}
	return s
}
