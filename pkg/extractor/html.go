package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/xhad/docqa/internal/models"
)

// HTML extracts the main readable content of a page as a single PageText.
type HTML struct{}

var (
	// Tried in order; the first that exists wins over the whole body.
	contentSelectors = []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	noiseSelectors = "script, style, noscript, nav, header, footer, aside, form, iframe, svg"

	noisePatterns = []string{
		"Cookie Policy",
		"Accept Cookies",
		"Accept all cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	// Block-level elements that end a line of text.
	blockSelectors = "p, div, li, h1, h2, h3, h4, h5, h6, tr, section, pre, blockquote, br"
)

func (HTML) Extract(data []byte) ([]models.PageText, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrParse, err)
	}

	doc.Find(noiseSelectors).Remove()

	root := doc.Find("body")
	for _, selector := range contentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected.First()
			break
		}
	}

	// Keep block boundaries as line breaks so paragraph splitting still
	// has structure to work with.
	root.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	root.Find("h1, h2, h3, h4, h5, h6, p").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	return finish([]models.PageText{{PageNumber: 1, Text: cleanContent(root.Text())}})
}

func cleanContent(content string) string {
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return content
}
