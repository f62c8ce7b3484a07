// Package pdfdoc finds the locally downloaded PDF behind a retrieved source URL
// and extracts page text from it.
package pdfdoc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"supportflow/pkg/session"
)

// ErrNotFound means no local file exists for a source URL.
var ErrNotFound = errors.New("pdf not found")

// MaxFileBase is the character limit of a file name derived from a URL.
const MaxFileBase = 240

var (
	schemePrefix  = regexp.MustCompile(`^https?://`)
	reservedChars = regexp.MustCompile(`[\\/:*?"<>|]`)
)

// FileBase turns a URL into the file name stem the downloader used.
func FileBase(url string) string {
	base := schemePrefix.ReplaceAllString(url, "")
	base = reservedChars.ReplaceAllString(base, "_")
	end := 0
	for n := 0; n < MaxFileBase && end < len(base); n++ {
		_, size := utf8.DecodeRuneInString(base[end:])
		end += size
	}
	return base[:end]
}

// Locate returns the path of the first downloaded copy of url under dir.
func Locate(dir, url string) (string, error) {
	path := filepath.Join(dir, FileBase(url)+"-1.pdf")
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return path, nil
}

// IsPDF reports whether a source URL points at a PDF.
func IsPDF(url string) bool {
	return strings.HasSuffix(strings.ToLower(url), ".pdf")
}

// MostReferenced returns the PDF URL cited most often across history. Ties go
// to the URL seen first.
func MostReferenced(history []session.SearchRecord) (string, bool) {
	counts := map[string]int{}
	var order []string
	for i := range history {
		for _, c := range history[i].Chunks {
			if !IsPDF(c.SourceDoc) {
				continue
			}
			if counts[c.SourceDoc] == 0 {
				order = append(order, c.SourceDoc)
			}
			counts[c.SourceDoc]++
		}
	}
	best, bestCount := "", 0
	for _, url := range order {
		if counts[url] > bestCount {
			best, bestCount = url, counts[url]
		}
	}
	return best, bestCount > 0
}

// SelectPages keeps the 1-indexed pages within [1, total], drops duplicates,
// sorts them and keeps at most limit. A limit below one means no cap.
func SelectPages(pages []int, total, limit int) []int {
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p < 1 || p > total {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Range returns the pages 1..n.
func Range(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
