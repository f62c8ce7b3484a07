// Package products holds the product allowlist and the fuzzy ranking used
// when the user types a product name.
package products

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// General is always offered and accepted.
const General = "general"

// DefaultCandidates is the number of ranked suggestions shown to the user.
const DefaultCandidates = 10

// Canonicalise turns a product name into its allowlist slug: transliterated,
// lowercased, separators collapsed into single dashes.
func Canonicalise(s string) string {
	return slug.Make(strings.ReplaceAll(s, "_", "-"))
}

// Catalog is an immutable allowlist of canonical product slugs.
type Catalog struct {
	index map[string]struct{}
	slugs []string
}

// NewCatalog canonicalises names and rejects two names mapping to one slug.
func NewCatalog(names []string) (*Catalog, error) {
	c := &Catalog{index: map[string]struct{}{}}
	raw := map[string]string{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s := Canonicalise(name)
		if s == "" {
			continue
		}
		if prev, dup := raw[s]; dup {
			if prev != name {
				return nil, fmt.Errorf("canonicalisation collision: %q vs %q -> %q", prev, name, s)
			}
			continue
		}
		raw[s] = name
		c.index[s] = struct{}{}
		c.slugs = append(c.slugs, s)
	}
	return c, nil
}

// LoadCatalog reads the first column of a CSV file, skipping a header named
// product or products.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open product list: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var names []string
	for first := true; ; first = false {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read product list %s: %w", path, err)
		}
		if len(rec) == 0 {
			continue
		}
		cell := strings.TrimSpace(rec[0])
		if first {
			if h := strings.ToLower(cell); h == "product" || h == "products" {
				continue
			}
		}
		names = append(names, cell)
	}
	return NewCatalog(names)
}

// Len returns the number of products.
func (c *Catalog) Len() int { return len(c.slugs) }

// Products returns the slugs in file order.
func (c *Catalog) Products() []string {
	return append([]string(nil), c.slugs...)
}

// Lookup canonicalises input and reports whether it is allowlisted.
// General is always accepted.
func (c *Catalog) Lookup(input string) (string, bool) {
	s := Canonicalise(input)
	if s == General {
		return s, true
	}
	_, ok := c.index[s]
	return s, ok
}

// Candidate is one ranked product.
type Candidate struct {
	Product string
	Score   float64
}

// Rank scores every product against query and returns the best k.
func (c *Catalog) Rank(query string, k int) []Candidate {
	q := Canonicalise(query)
	qtoks := tokenSet(q)

	out := make([]Candidate, 0, len(c.slugs))
	for _, p := range c.slugs {
		out = append(out, Candidate{Product: p, Score: score(q, qtoks, p)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Candidates returns the top k slugs for query followed by General.
func (c *Catalog) Candidates(query string, k int) []string {
	ranked := c.Rank(query, k)
	out := make([]string, 0, len(ranked)+1)
	for _, cand := range ranked {
		if cand.Product != General {
			out = append(out, cand.Product)
		}
	}
	return append(out, General)
}

func score(q string, qtoks map[string]struct{}, p string) float64 {
	var s float64
	if p == q {
		s += 3
	}
	if q != "" && (strings.HasPrefix(p, q) || strings.HasPrefix(q, p)) {
		s += 0.75
	}
	s += 0.75 * jaccard(qtoks, tokenSet(p))
	return s + similarity(q, p)
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	if s == "" {
		return set
	}
	for _, t := range strings.Split(s, "-") {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union < 1 {
		union = 1
	}
	return float64(inter) / float64(union)
}

// similarity is the Levenshtein ratio (lensum - distance) / lensum.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}
