package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/pkg/utils"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrNoText means extraction produced no chunks, typically a scanned PDF.
	ErrNoText = errors.New("no extractable text")
)

// SupportedExtensions lists the file types the extractor understands.
var SupportedExtensions = []string{".txt", ".pdf"}

// Supported reports whether name has a supported extension (case-insensitive).
func Supported(name string) bool {
	return utils.Contains(SupportedExtensions, utils.GetFileExtension(name))
}

// Page is the text of one page. Number is 1-based for PDFs and
// models.NoPage for plain text.
type Page struct {
	Number int
	Text   string
}

// Extractor turns a file into page texts.
type Extractor interface {
	Extract(path string) ([]Page, error)
}

// FileExtractor reads .txt and .pdf files from disk.
type FileExtractor struct{}

func (FileExtractor) Extract(path string) ([]Page, error) {
	switch utils.GetFileExtension(path) {
	case ".txt":
		return extractText(path)
	case ".pdf":
		return extractPDF(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, utils.GetFileExtension(path))
	}
}

func extractText(path string) ([]Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return []Page{{Number: models.NoPage, Text: strings.ToValidUTF8(string(b), "")}}, nil
}

func extractPDF(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer f.Close()

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
