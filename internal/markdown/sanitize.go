package markdown

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	reHorizontalSpace = regexp.MustCompile(`[ \t]+`)
	reMultiBlank      = regexp.MustCompile(`\n{3,}`)
	reSeparatorCell   = regexp.MustCompile(`^(:?)-+(:?)$`)

	lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\u2028", "\n", "\u2029", "\n")
)

// Sanitizer cleans extracted Markdown for downstream ingestion.
// Sanitize never fails and Sanitize(Sanitize(x)) == Sanitize(x).
type Sanitizer struct {
	// ASCIIOnly drops every non-ASCII rune after normalization.
	ASCIIOnly bool
}

// Sanitize applies the default (Unicode preserving) sanitizer.
func Sanitize(s string) string {
	return Sanitizer{}.Sanitize(s)
}

func (z Sanitizer) Sanitize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	s = lineBreaks.Replace(s)

	// filter before and after NFKC: dropping a joiner can leave a
	// composable pair, and NFKC can expand into dropped runes
	s = filterRunes(s, false)
	s = norm.NFKC.String(s)
	s = filterRunes(s, z.ASCIIOnly)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func filterRunes(s string, asciiOnly bool) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r, asciiOnly) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune, asciiOnly bool) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r == utf8.RuneError:
		return true
	case asciiOnly && r > unicode.MaxASCII:
		return true
	case unicode.IsControl(r):
		return true
	case unicode.In(r, unicode.Cf, unicode.Co, unicode.Cs):
		return true
	}
	return false
}

func cleanLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if isPipeRow(trimmed) {
		return formatRow(splitPipeRow(trimmed))
	}
	if strings.Contains(trimmed, "\t") {
		if cells := splitTabRow(trimmed); len(cells) >= 2 {
			return formatRow(cells)
		}
	}
	line = reHorizontalSpace.ReplaceAllString(line, " ")
	return strings.TrimRight(line, " ")
}

func isPipeRow(s string) bool {
	return len(s) >= 2 && s[0] == '|' && s[len(s)-1] == '|'
}

// splitPipeRow splits on unescaped pipes and tidies every cell.
func splitPipeRow(s string) []string {
	inner := s[1 : len(s)-1]
	var (
		cells []string
		cur   strings.Builder
	)
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) && inner[i+1] == '|' {
			cur.WriteString(`\|`)
			i++
			continue
		}
		if c == '|' {
			cells = append(cells, tidyCell(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(cells, tidyCell(cur.String()))
}

func splitTabRow(s string) []string {
	var cells []string
	for _, c := range strings.Split(s, "\t") {
		c = tidyCell(c)
		if c == "" {
			continue
		}
		cells = append(cells, strings.ReplaceAll(c, "|", `\|`))
	}
	return cells
}

func tidyCell(c string) string {
	return strings.TrimSpace(reHorizontalSpace.ReplaceAllString(c, " "))
}

// formatRow renders cells as "| a | b |", or as a canonical separator row
// when every cell is a dash run with optional alignment colons.
func formatRow(cells []string) string {
	if isSeparatorRow(cells) {
		for i, c := range cells {
			m := reSeparatorCell.FindStringSubmatch(c)
			cells[i] = m[1] + "---" + m[2]
		}
	}
	var b strings.Builder
	b.WriteByte('|')
	for _, c := range cells {
		b.WriteByte(' ')
		if c != "" {
			b.WriteString(c)
			b.WriteByte(' ')
		}
		b.WriteByte('|')
	}
	return b.String()
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if !reSeparatorCell.MatchString(c) {
			return false
		}
	}
	return len(cells) > 0
}

// EscapeCell makes s safe to place inside a pipe table cell.
func EscapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
