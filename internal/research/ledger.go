package research

import (
	"net/url"
	"strings"
	"sync"
)

// Ledger is the deduplicated registry of discovered documents. Citation ids
// are sequential integers assigned at first discovery; a URL that resurfaces
// keeps its original id, so citation numbers stay stable for the session.
type Ledger struct {
	mu      sync.Mutex
	sources []Source
	byURL   map[string]int
	nextID  int
}

func NewLedger() *Ledger {
	return &Ledger{byURL: make(map[string]int), nextID: 1}
}

// Register records the given documents, deduplicating on normalized URL. It
// returns the assigned citation ids in input order and the subset of sources
// that are genuinely new (for "newly discovered" event payloads).
func (l *Ledger) Register(docs []Document) ([]int, []Source) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]int, 0, len(docs))
	var fresh []Source
	for _, doc := range docs {
		key := normalizeSourceURL(doc.URL)
		if id, ok := l.byURL[key]; ok {
			ids = append(ids, id)
			continue
		}
		src := Source{ID: l.nextID, URL: doc.URL, Title: doc.Title, Content: doc.Content}
		l.nextID++
		l.byURL[key] = src.ID
		l.sources = append(l.sources, src)
		fresh = append(fresh, src)
		ids = append(ids, src.ID)
	}
	return ids, fresh
}

// Get returns the source with the given citation id.
func (l *Ledger) Get(id int) (Source, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, src := range l.sources {
		if src.ID == id {
			return src, true
		}
	}
	return Source{}, false
}

// Snapshot returns all sources in first-discovery order.
func (l *Ledger) Snapshot() []Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Source(nil), l.sources...)
}

// Count returns how many distinct sources have been registered.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}

func normalizeSourceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(strings.ToLower(raw), "/")
	}
	u.Fragment = ""
	if u.Scheme == "" {
		u.Scheme = "https"
	} else {
		u.Scheme = strings.ToLower(u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}
