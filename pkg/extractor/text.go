package extractor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xhad/docqa/internal/models"
)

// Text treats form feeds as page breaks; text without them is one page.
type Text struct{}

func (Text) Extract(data []byte) ([]models.PageText, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", models.ErrParse)
	}

	parts := strings.Split(strings.TrimPrefix(string(data), "\ufeff"), "\f")
	pages := make([]models.PageText, len(parts))
	for i, part := range parts {
		pages[i] = models.PageText{PageNumber: i + 1, Text: part}
	}
	return finish(pages)
}
