package models

// Result is one search engine hit before the page itself is fetched.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}
