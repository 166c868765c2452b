// Package sources composes a search provider with a page fetcher to implement
// the engine's Searcher: discover hits, pull each page's readable text, and
// hand back bounded documents.
package sources

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/skylarkhq/delver/internal/research"
	"github.com/skylarkhq/delver/tools/web_fetch"
	"github.com/skylarkhq/delver/tools/web_search"
)

const (
	// DefaultResultsPerQuery bounds how many hits one search turns into
	// documents.
	DefaultResultsPerQuery = 3
	// DefaultMaxDocChars bounds how much page text is kept per document.
	DefaultMaxDocChars = 5000
)

type Searcher struct {
	search      web_search.WebSearcher
	fetch       web_fetch.WebFetcher
	perQuery    int
	maxDocChars int
	logger      *log.Logger
}

type Option func(*Searcher)

func WithResultsPerQuery(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.perQuery = n
		}
	}
}

func WithMaxDocChars(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxDocChars = n
		}
	}
}

// NewSearcher builds the composed searcher. fetch may be nil, in which case
// documents carry only the search snippet.
func NewSearcher(search web_search.WebSearcher, fetch web_fetch.WebFetcher, logger *log.Logger, opts ...Option) *Searcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[SOURCES] ", log.LstdFlags)
	}
	s := &Searcher{
		search:      search,
		fetch:       fetch,
		perQuery:    DefaultResultsPerQuery,
		maxDocChars: DefaultMaxDocChars,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search implements research.Searcher. Page fetches run concurrently; a fetch
// failure degrades that document to its search snippet rather than failing
// the whole search.
func (s *Searcher) Search(ctx context.Context, query string) ([]research.Document, error) {
	hits, err := s.search.Discover(ctx, query, s.perQuery)
	if err != nil {
		return nil, err
	}

	docs := make([]research.Document, len(hits))
	var wg sync.WaitGroup
	for i, hit := range hits {
		docs[i] = research.Document{URL: hit.URL, Title: hit.Title, Content: hit.Snippet}
		if s.fetch == nil || hit.URL == "" {
			continue
		}
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			page, err := s.fetch.Exec(ctx, url)
			if err != nil || strings.TrimSpace(page.Text) == "" {
				if err != nil {
					s.logger.Printf("fetch %s failed: %v", url, err)
				}
				return
			}
			docs[i].Content = truncate(page.Text, s.maxDocChars)
			if docs[i].Title == "" {
				docs[i].Title = page.Title
			}
		}(i, hit.URL)
	}
	wg.Wait()
	return docs, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
