package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
)

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docqa/1.0", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/docs/guide":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html><body><p>Guide</p></body></html>"))
		case "/files/report.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	var visited []string
	s := NewWithConfig(ScraperConfig{OnProgress: func(u string) { visited = append(visited, u) }})

	page, err := s.Fetch(context.Background(), server.URL+"/docs/guide")
	require.NoError(t, err)
	assert.Equal(t, "index.html", page.Filename)
	assert.Contains(t, string(page.Data), "Guide")
	assert.Equal(t, "text/html; charset=utf-8", page.ContentType)

	page, err = s.Fetch(context.Background(), server.URL+"/files/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", page.Filename)

	_, err = s.Fetch(context.Background(), server.URL+"/missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Len(t, visited, 3)
}

func TestFetch_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	s := NewWithConfig(ScraperConfig{MaxBytes: 1024})
	_, err := s.Fetch(context.Background(), server.URL+"/big.txt")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFetch_InvalidURL(t *testing.T) {
	s := New()
	for _, raw := range []string{"ftp://example.com/a.pdf", "not a url", "http://"} {
		_, err := s.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, models.ErrValidation, raw)
	}
}

func TestScraperConfig(t *testing.T) {
	config := ScraperConfig{
		MaxBytes:  1 << 10,
		RateLimit: 1.0,
		Timeout:   10 * time.Second,
	}

	s := NewWithConfig(config)
	assert.Equal(t, config.MaxBytes, s.config.MaxBytes)
	assert.Equal(t, 10*time.Second, s.client.Timeout)
	assert.Equal(t, "docqa/1.0", s.config.UserAgent)
}

func TestFilenameFor(t *testing.T) {
	tests := []struct {
		url         string
		contentType string
		expected    string
	}{
		{"https://example.com/a/notes.txt", "", "notes.txt"},
		{"https://example.com/", "text/html", "index.html"},
		{"https://example.com/download", "application/pdf", "document.pdf"},
		{"https://example.com/raw", "text/plain; charset=utf-8", "document.txt"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, filenameFor(u, tt.contentType))
	}

	assert.True(t, IsURL("https://example.com"))
	assert.False(t, IsURL("./report.pdf"))
}
