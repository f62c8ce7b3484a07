package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"supportflow/pkg/session"
)

// Document is one corpus line of the JSONL file read by Memory.
type Document struct {
	Product string `json:"product"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Text    string `json:"text"`
}

// Memory scores an in-process corpus by query-token overlap. It backs tests
// and offline demos.
type Memory struct {
	docs   []Document
	tokens []map[string]struct{}
}

// NewMemory indexes docs.
func NewMemory(docs []Document) *Memory {
	m := &Memory{docs: docs, tokens: make([]map[string]struct{}, len(docs))}
	for i := range docs {
		set := map[string]struct{}{}
		for _, tok := range tokenize(docs[i].Title + " " + docs[i].Text) {
			set[tok] = struct{}{}
		}
		m.tokens[i] = set
	}
	return m
}

// LoadMemory reads a JSONL corpus.
func LoadMemory(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	var docs []Document
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var d Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", path, line, err)
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return NewMemory(docs), nil
}

// Len returns the number of indexed documents.
func (m *Memory) Len() int { return len(m.docs) }

// Search implements Service.
func (m *Memory) Search(ctx context.Context, query, product string, topK int) ([]session.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qtoks := tokenize(query)
	if len(qtoks) == 0 || topK <= 0 {
		return nil, nil
	}

	type hit struct {
		idx   int
		score float64
	}
	var hits []hit
	for i := range m.docs {
		if product != "" && m.docs[i].Product != product {
			continue
		}
		matched := 0
		for _, tok := range qtoks {
			if _, ok := m.tokens[i][tok]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, hit{idx: i, score: float64(matched) / float64(len(qtoks))})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]session.Chunk, 0, len(hits))
	for _, h := range hits {
		d := m.docs[h.idx]
		out = append(out, session.Chunk{Text: d.Text, Title: d.Title, SourceDoc: d.URL, Score: h.score})
	}
	return out, nil
}

// Ready implements Checker.
func (m *Memory) Ready(context.Context) error {
	if len(m.docs) == 0 {
		return fmt.Errorf("memory corpus is empty")
	}
	return nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
