// Package scraper downloads a single web document for ingestion.
package scraper

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
)

type ScraperConfig struct {
	Timeout    time.Duration
	MaxBytes   int64
	RateLimit  float64 // requests per second
	UserAgent  string
	OnProgress func(url string)
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Page is a downloaded document.
type Page struct {
	URL         string
	Filename    string
	ContentType string
	Data        []byte
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 20 << 20
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.UserAgent == "" {
		config.UserAgent = "docqa/1.0"
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

// IsURL reports whether s looks like an http(s) URL rather than a file path.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetch downloads rawURL. Bodies above MaxBytes are rejected.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", models.ErrValidation, rawURL)
	}

	if s.config.OnProgress != nil {
		s.config.OnProgress(rawURL)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, rawURL)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if int64(len(data)) > s.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", models.ErrValidation, rawURL, s.config.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	logger.Debug("fetched %s (%d bytes, %s)", rawURL, len(data), contentType)

	return &Page{
		URL:         rawURL,
		Filename:    filenameFor(parsedURL, contentType),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func filenameFor(u *url.URL, contentType string) string {
	name := path.Base(u.Path)
	if name != "." && name != "/" && path.Ext(name) != "" {
		return name
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/pdf":
		return "document.pdf"
	case "text/plain":
		return "document.txt"
	default:
		return "index.html"
	}
}
