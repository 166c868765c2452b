// Package index provides a per-run full-text index over discovered sources,
// so finished research runs can be searched by keyword.
package index

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/skylarkhq/delver/internal/research"
)

const snippetChars = 300

// Hit is one full-text match against a registered source.
type Hit struct {
	SourceID int     `json:"source_id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// SourceIndex holds a memory-only bleve index keyed by citation id.
type SourceIndex struct {
	mu    sync.RWMutex
	idx   bleve.Index
	bySrc map[string]research.Source
}

type indexedSource struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func New() (*SourceIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &SourceIndex{idx: idx, bySrc: make(map[string]research.Source)}, nil
}

// Add indexes the given sources. Re-adding a citation id overwrites it.
func (s *SourceIndex) Add(sources []research.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		key := strconv.Itoa(src.ID)
		s.bySrc[key] = src
		doc := indexedSource{URL: src.URL, Title: src.Title, Content: src.Content}
		if err := s.idx.Index(key, doc); err != nil {
			return fmt.Errorf("index source %d: %w", src.ID, err)
		}
	}
	return nil
}

// Search runs a query-string search and returns the top k hits.
func (s *SourceIndex) Search(q string, k int) ([]Hit, error) {
	if k <= 0 || k > 50 {
		k = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := s.idx.Search(req)
	if err != nil {
		return nil, err
	}

	var out []Hit
	for _, hit := range res.Hits {
		src, ok := s.bySrc[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{
			SourceID: src.ID,
			URL:      src.URL,
			Title:    src.Title,
			Snippet:  snippet(src.Content),
			Score:    hit.Score,
		})
	}
	return out, nil
}

// Count returns the number of indexed sources.
func (s *SourceIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySrc)
}

// Close releases the underlying index.
func (s *SourceIndex) Close() error {
	return s.idx.Close()
}

func snippet(s string) string {
	if len(s) <= snippetChars {
		return s
	}
	return s[:snippetChars] + "…"
}
