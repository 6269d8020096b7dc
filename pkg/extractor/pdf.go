package extractor

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
)

// PDF extracts one PageText per physical page.
type PDF struct{}

func (PDF) Extract(data []byte) (pages []models.PageText, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: malformed PDF: %v", models.ErrParse, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create PDF reader: %w", models.ErrParse, err)
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("skipping unreadable PDF page %d: %v", i, err)
			continue
		}
		pages = append(pages, models.PageText{PageNumber: i, Text: text})
	}

	logger.Debug("extracted %d of %d PDF pages", len(pages), numPages)
	return finish(pages)
}
