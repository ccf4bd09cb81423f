package mcp

import (
	"bufio"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

const maxLineSize = 4 << 20

// readData calls fn with the payload of every "data:" line until the
// [DONE] marker, end of stream, or fn returning false.
func readData(r io.Reader, fn func(data string) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneMarker {
			return nil
		}
		if data == "" {
			continue
		}
		if !fn(data) {
			return nil
		}
	}
	return sc.Err()
}

// readEvents decodes a response body. Plain JSON bodies are treated as a
// single event; anything else is read as a server-sent event stream.
func readEvents(resp *http.Response, fn func(*Event) bool) error {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if body := strings.TrimSpace(string(b)); body != "" {
			fn(decodeEvent(body))
		}
		return nil
	}
	return readData(resp.Body, func(data string) bool {
		return fn(decodeEvent(data))
	})
}

// sseWriter writes server-sent events on a gin response.
type sseWriter struct {
	c *gin.Context
}

func newSSEWriter(c *gin.Context, status int) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(status)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	return &sseWriter{c: c}
}

func (w *sseWriter) event(v any) error {
	b, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.c.Writer.WriteString("event: message\ndata: " + string(b) + "\n\n"); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// comment writes an SSE comment line, ignored by readers.
func (w *sseWriter) comment(text string) {
	_, _ = w.c.Writer.WriteString(": " + text + "\n\n")
	w.c.Writer.Flush()
}

func (w *sseWriter) done() {
	_, _ = w.c.Writer.WriteString("data: " + doneMarker + "\n\n")
	w.c.Writer.Flush()
}
