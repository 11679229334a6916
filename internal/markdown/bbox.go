package markdown

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// BBoxToMarkdown rebuilds text from `pdftotext -bbox-layout` XHTML, block by
// block, under one "## Page N" heading per page that has any words.
func BBoxToMarkdown(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)

	var (
		out    []string
		pageNo int
		inPage bool
		blocks []string
		lines  []string
		words  []string
		inWord bool
		word   strings.Builder
	)
	flushLine := func() {
		if len(words) > 0 {
			lines = append(lines, strings.Join(words, " "))
		}
		words = words[:0]
	}
	flushBlock := func() {
		flushLine()
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
		lines = lines[:0]
	}
	flushPage := func() {
		flushBlock()
		if len(blocks) > 0 {
			out = append(out, fmt.Sprintf("## Page %d\n\n%s", pageNo, strings.Join(blocks, "\n\n")))
		}
		blocks = blocks[:0]
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", fmt.Errorf("parse bbox layout: %w", err)
			}
			if inPage {
				flushPage()
			}
			return strings.Join(out, "\n\n"), nil

		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "page":
				if inPage {
					flushPage()
				}
				pageNo++
				inPage = true
			case "block":
				flushBlock()
			case "line":
				flushLine()
			case "word":
				inWord = true
				word.Reset()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "word":
				if w := strings.TrimSpace(word.String()); w != "" {
					words = append(words, w)
				}
				inWord = false
			case "line":
				flushLine()
			case "block":
				flushBlock()
			case "page":
				flushPage()
				inPage = false
			}

		case html.TextToken:
			if inWord {
				word.Write(z.Text())
			}
		}
	}
}
