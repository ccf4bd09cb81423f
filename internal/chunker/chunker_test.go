package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"carriage returns", "a\r\nb", "a b"},
		{"hyphenation", "predict-\nive model", "predictive model"},
		{"hyphen before blank line kept", "end-\n\nnext", "end-\n\nnext"},
		{"single newline unwrapped", "first line\nsecond line", "first line second line"},
		{"paragraphs kept", "para one\n\npara two", "para one\n\npara two"},
		{"blank lines capped", "a\n\n\n\n\nb", "a\n\nb"},
		{"spaces and tabs", "a  \t  b", "a b"},
		{"trimmed", "  \n hello \n ", "hello"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("%s: Normalize(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("", Options{}); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
	if got := Chunk("   \n\t ", Options{}); len(got) != 0 {
		t.Fatalf("whitespace only input should yield nothing, got %q", got)
	}
}

func TestChunkSentenceBoundaries(t *testing.T) {
	text := strings.Repeat("A. B. ", 200)
	chunks := Chunk(text, Options{Size: 900, Overlap: 150})
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 900 {
			t.Fatalf("chunk %d has %d chars", i, n)
		}
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk %d does not end at a sentence boundary: %q", i, c)
		}
	}
}

func TestChunkForwardProgress(t *testing.T) {
	text := strings.Repeat("x", 1000)
	chunks := Chunk(text, Options{Size: 10, Overlap: 50})
	// one step per character until the window reaches the end
	if len(chunks) != 991 {
		t.Fatalf("expected 991 chunks, got %d", len(chunks))
	}
	chunks = Chunk(text, Options{Size: 100, Overlap: 50})
	if len(chunks) != 19 {
		t.Fatalf("too many steps: %d", len(chunks))
	}
}

func TestChunkCoversText(t *testing.T) {
	var words []string
	for i := 0; i < 800; i++ {
		w := fmt.Sprintf("w%d", i)
		if i%13 == 12 {
			w += "."
		}
		words = append(words, w)
	}
	text := strings.Join(words, " ")
	chunks := Chunk(text, Options{Size: 200, Overlap: 40})

	covered := make([]bool, len(text))
	from := 0
	for i, c := range chunks {
		idx := strings.Index(text[from:], c)
		if idx < 0 {
			t.Fatalf("chunk %d is not a substring after offset %d", i, from)
		}
		pos := from + idx
		for j := pos; j < pos+len(c); j++ {
			covered[j] = true
		}
		from = pos
	}
	for i, ok := range covered {
		if !ok && !unicode.IsSpace(rune(text[i])) {
			t.Fatalf("character %d (%q) lost", i, text[i])
		}
	}
}

func TestChunkerSplitNormalizes(t *testing.T) {
	c := New(Options{})
	got := c.Split("Skills:\nGo, SQL,\nKubernetes")
	if len(got) != 1 || got[0] != "Skills: Go, SQL, Kubernetes" {
		t.Fatalf("split = %q", got)
	}
}
