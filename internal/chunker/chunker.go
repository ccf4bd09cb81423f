package chunker

import (
	"strings"
	"unicode"
)

const (
	DefaultSize    = 900
	DefaultOverlap = 150
)

// Options controls the sliding window. Zero values fall back to the defaults.
type Options struct {
	Size    int
	Overlap int
}

func (o Options) normalized() Options {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	return o
}

// Chunker normalizes extracted text and cuts it into overlapping chunks.
type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	return &Chunker{opts: opts.normalized()}
}

// Split runs Normalize followed by Chunk.
func (c *Chunker) Split(text string) []string {
	return Chunk(Normalize(text), c.opts)
}

// Chunk 按字符窗口切分文本，尽量在句末（". "）处断开
// 参数：
// - text：已规整的文本
// - opts：窗口大小与重叠长度（按 rune 计数）
// 返回：
// - []string：去除首尾空白后的非空分块；空输入返回空切片
func Chunk(text string, opts Options) []string {
	opts = opts.normalized()
	runes := []rune(text)
	n := len(runes)
	chunks := []string{}
	start := 0
	for start < n {
		end := min(n, start+opts.Size)
		if idx := lastSentenceBreak(runes[start:end]); idx >= 0 && float64(idx) > float64(opts.Size)*0.5 {
			end = start + idx + 1
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == n {
			break
		}
		// always move forward, even when overlap >= size
		start = max(end-opts.Overlap, start+1)
	}
	return chunks
}

// lastSentenceBreak returns the index of the last ". " in window, or -1.
func lastSentenceBreak(window []rune) int {
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '.' && window[i+1] == ' ' {
			return i
		}
	}
	return -1
}

// Normalize reflows extracted text: drops carriage returns, rejoins words
// hyphenated across line breaks, turns single line breaks into spaces while
// keeping blank-line paragraph breaks, collapses runs of spaces and tabs and
// caps blank lines at one.
func Normalize(text string) string {
	t := strings.ReplaceAll(text, "\r", "")
	t = joinHyphenated(t)
	t = unwrapLines(t)
	t = collapseBlanks(t)
	t = squeezeNewlines(t)
	return strings.TrimSpace(t)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// joinHyphenated removes "-\n" when a word character follows.
func joinHyphenated(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(rs); i++ {
		if rs[i] == '-' && i+2 < len(rs) && rs[i+1] == '\n' && isWordRune(rs[i+2]) {
			i++
			continue
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

// unwrapLines replaces a newline that is neither preceded nor followed by
// another newline with a space.
func unwrapLines(s string) string {
	rs := []rune(s)
	out := make([]rune, len(rs))
	for i, r := range rs {
		if r == '\n' {
			prev := i > 0 && rs[i-1] == '\n'
			next := i+1 < len(rs) && rs[i+1] == '\n'
			if !prev && !next {
				r = ' '
			}
		}
		out[i] = r
	}
	return string(out)
}

func collapseBlanks(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if !inRun {
				b.WriteByte(' ')
			}
			inRun = true
			continue
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}

func squeezeNewlines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	run := 0
	for _, r := range s {
		if r == '\n' {
			run++
			if run <= 2 {
				b.WriteRune(r)
			}
			continue
		}
		run = 0
		b.WriteRune(r)
	}
	return b.String()
}
