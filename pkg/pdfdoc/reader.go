package pdfdoc

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Pages is an opened document.
type Pages interface {
	PageCount() int
	Text(pages []int) (string, error)
	Close() error
}

// Library opens the PDFs downloaded into a directory.
type Library struct {
	dir string
}

// NewLibrary returns a library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Dir returns the root directory.
func (l *Library) Dir() string { return l.dir }

// Open locates and opens the PDF for a source URL.
func (l *Library) Open(url string) (Pages, error) {
	path, err := Locate(l.dir, url)
	if err != nil {
		return nil, err
	}
	return OpenFile(path)
}

// Document is a PDF read with ledongthuc/pdf.
type Document struct {
	file   *os.File
	reader *pdf.Reader
	path   string
}

// OpenFile opens a PDF on disk.
func OpenFile(path string) (*Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &Document{file: f, reader: r, path: path}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.reader.NumPage()
}

// Text extracts the given 1-indexed pages. Out of range and blank pages are
// skipped; each page is introduced by a "--- Page N ---" marker.
func (d *Document) Text(pages []int) (string, error) {
	total := d.reader.NumPage()
	parts := make([]string, 0, len(pages))
	for _, n := range pages {
		if n < 1 || n > total {
			continue
		}
		page := d.reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d of %s: %w", n, d.path, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", n, text))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Close releases the file handle.
func (d *Document) Close() error {
	return d.file.Close()
}
