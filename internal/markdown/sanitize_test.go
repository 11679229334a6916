package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"drops invisible and replacement runes", "Hello\u200b World\ufffd\x00!", "Hello World!"},
		{"drops private use", "x\U000F0000y", "xy"},
		{"drops invalid utf8", "ab\xff\xfecd", "abcd"},
		{"nfkc ligatures and fullwidth", "ﬁle Ｈｉ", "file Hi"},
		{"line endings", "a\r\nb\rc", "a\nb\nc"},
		{"collapses spaces and blank lines", "a   b  c  \n\n\n\n  d  ", "a b c\n\n d"},
		{"trims", "  \n\n hello \n\n", "hello"},
		{"tab rows become pipe rows", "Name\tQty\nApple\t3", "| Name | Qty |\n| Apple | 3 |"},
		{"tab cell pipes escaped", "a|b\tc", `| a\|b | c |`},
		{"single tab cell is prose", "x\n\tindented", "x\n indented"},
		{"pipe rows canonical", "|a|  b |\n|:--|--:|", "| a | b |\n| :--- | ---: |"},
		{"separator centred", "| --- |:-----:|", "| --- | :---: |"},
		{"empty cells", "|a||b|", "| a | | b |"},
		{"escaped pipe kept in cell", `| a \| b | c |`, `| a \| b | c |`},
		{"fullwidth pipe becomes a row", "｜a｜b｜", "| a | b |"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_ASCIIOnly(t *testing.T) {
	z := Sanitizer{ASCIIOnly: true}
	assert.Equal(t, "caf ok", z.Sanitize("caf\u00e9 \u2615 ok"))
	assert.Equal(t, "file", z.Sanitize("ﬁle"))
}

func TestSanitize_Idempotent(t *testing.T) {
	corpus := []string{
		"",
		"plain text",
		"  lead\ttrail\t ",
		"a\t\tb\t|c",
		"| x |  | y |\n|---|:-:|---:|\n| 1 | 2 | 3 |",
		"|a|",
		"||",
		"|",
		"e\u200d\u0301 composed after join removal",
		" |a| ",
		"tab\tin\tprose with   spaces\n\n\n\n\nnext",
		"## Heading\n\n- item one\n- item\ttwo",
		"mixed ﬁ ｜ pipes ｜ here",
		"weird \\| escapes \\\\| and | pipes |",
		"\r\n\r\n\r\nwindows\r\n",
		"ｃａｆé  nbsp",
	}
	for _, z := range []Sanitizer{{}, {ASCIIOnly: true}} {
		for _, in := range corpus {
			once := z.Sanitize(in)
			assert.Equal(t, once, z.Sanitize(once), "input %q", in)
		}
	}
}

func TestEscapeCell(t *testing.T) {
	assert.Equal(t, `a\|b c`, EscapeCell("a|b\nc"))
}
