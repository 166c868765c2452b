package web_fetch

import (
	"context"
	"errors"
	"time"

	"github.com/skylarkhq/delver/tools/web_fetch/chromedp"
	"github.com/skylarkhq/delver/tools/web_fetch/httpfetch"
	"github.com/skylarkhq/delver/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	// ChromedpFetcherType renders pages in a headless browser; needed for
	// script-heavy sites.
	ChromedpFetcherType FetcherType = "chromedp"
	// HTTPFetcherType does a plain GET plus readability extraction; the
	// default for research runs.
	HTTPFetcherType FetcherType = "http"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case HTTPFetcherType:
		return &httpfetch.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
