// Package extractor turns uploaded files into page-numbered text.
package extractor

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

// ForFile picks an extractor from the file extension, falling back to the
// declared content type.
func ForFile(filename, contentType string) (types.Extractor, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return PDF{}, nil
	case ".txt", ".text", ".md", ".markdown":
		return Text{}, nil
	case ".html", ".htm":
		return HTML{}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/pdf":
		return PDF{}, nil
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return HTML{}, nil
	case strings.HasPrefix(mediaType, "text/"):
		return Text{}, nil
	}

	return nil, fmt.Errorf("%w: unsupported file type %q (%s)", models.ErrValidation, filename, contentType)
}

// finish normalises every page and fails when none has text left.
func finish(pages []models.PageText) ([]models.PageText, error) {
	nonEmpty := 0
	for i := range pages {
		pages[i].Text = Normalize(pages[i].Text)
		if pages[i].Text != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, models.ErrNoTextFound
	}
	return pages, nil
}

// Normalize collapses horizontal whitespace runs, trims every line and keeps
// at most two consecutive blank lines so section breaks survive.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
