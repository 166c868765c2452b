package index

import (
	"testing"

	"github.com/skylarkhq/delver/internal/research"
)

func TestSourceIndexSearch(t *testing.T) {
	idx, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer idx.Close()

	err = idx.Add([]research.Source{
		{ID: 1, URL: "https://go.dev", Title: "Go", Content: "Go is a statically typed compiled language."},
		{ID: 2, URL: "https://rust-lang.org", Title: "Rust", Content: "Rust is a systems programming language."},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if idx.Count() != 2 {
		t.Fatalf("count = %d", idx.Count())
	}

	hits, err := idx.Search("compiled", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].SourceID != 1 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].URL != "https://go.dev" || hits[0].Snippet == "" {
		t.Fatalf("hit = %+v", hits[0])
	}
}

func TestSourceIndexEmptyQuery(t *testing.T) {
	idx, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Search("nothing indexed", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %+v", hits)
	}
}
