package products

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalise(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"XPS 13", "xps-13"},
		{"  Inspiron_15 3000 ", "inspiron-15-3000"},
		{"Latitude--5440", "latitude-5440"},
		{"Précision 7680", "precision-7680"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonicalise(tt.in), tt.in)
	}
}

func TestNewCatalogCollision(t *testing.T) {
	_, err := NewCatalog([]string{"XPS 13", "xps_13"})
	assert.ErrorContains(t, err, "collision")

	c, err := NewCatalog([]string{"XPS 13", "XPS 13", " ", "Inspiron 15"})
	require.NoError(t, err)
	assert.Equal(t, []string{"xps-13", "inspiron-15"}, c.Products())
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product_list.csv")
	require.NoError(t, os.WriteFile(path, []byte("Product,Family\nXPS 13,laptop\nInspiron 15,laptop\n\nAlienware m16\n"), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	got, ok := c.Lookup("xps 13")
	assert.True(t, ok)
	assert.Equal(t, "xps-13", got)

	got, ok = c.Lookup("General")
	assert.True(t, ok)
	assert.Equal(t, General, got)

	_, ok = c.Lookup("thinkpad")
	assert.False(t, ok)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	c, err := NewCatalog([]string{"Inspiron 15", "XPS 13", "XPS 15", "Latitude 5440", "Alienware m16"})
	require.NoError(t, err)

	ranked := c.Rank("xps 13", 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, "xps-13", ranked[0].Product, "exact match wins")
	assert.Equal(t, "xps-15", ranked[1].Product)
	assert.Greater(t, ranked[0].Score, 3.0)

	ranked = c.Rank("alienwar", 1)
	assert.Equal(t, "alienware-m16", ranked[0].Product, "prefix match ranks first")

	assert.Len(t, c.Rank("x", 0), 5, "k of zero returns everything")
}

func TestCandidatesAlwaysOfferGeneral(t *testing.T) {
	c, err := NewCatalog([]string{"XPS 13", "General", "XPS 15"})
	require.NoError(t, err)

	got := c.Candidates("xps", 10)
	assert.Equal(t, General, got[len(got)-1])
	count := 0
	for _, p := range got {
		if p == General {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("", ""), 1e-9)
	assert.InDelta(t, 1.0, similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, similarity("abc", "xyz"), 1e-9)
}
