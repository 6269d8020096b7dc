// Package citation maps "page N, chunk ID" markers in a generated answer
// back to the context chunks the answer was grounded on.
package citation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
)

const (
	DefaultFallbackCount = 3
	excerptRunes         = 100
)

// markerPattern matches "page 4, chunk ch_9f8e7d", "Page 4; chunk: ch_1" or
// "page4 chunk #ch_1" in any case.
var markerPattern = regexp.MustCompile(`(?i)\bpage\s*(\d+)\s*[,;:]?\s*chunk\s*[:#]?\s*([A-Za-z0-9_\-]+)`)

type Options struct {
	// FallbackCount is how many leading context chunks are cited when the
	// answer carries no marker. Zero means DefaultFallbackCount.
	FallbackCount int
	// DisableFallback cites nothing when the answer carries no marker.
	DisableFallback bool
}

// Result is the outcome of one extraction.
type Result struct {
	Citations []models.Citation
	// UsedFallback is set when no marker was found and the leading context
	// chunks were cited instead.
	UsedFallback bool
}

type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	if opts.FallbackCount <= 0 {
		opts.FallbackCount = DefaultFallbackCount
	}
	return &Extractor{opts: opts}
}

// ExtractCitations runs an Extractor with default options.
func ExtractCitations(answer string, context []models.Chunk) []models.Citation {
	return New(Options{}).Extract(answer, context).Citations
}

// Extract resolves every marker in answer, in order of appearance, to a
// context chunk: by id first, then by page number. Citations are unique per
// (chunk, page) and keep first-seen order.
func (e *Extractor) Extract(answer string, context []models.Chunk) Result {
	matches := markerPattern.FindAllStringSubmatch(answer, -1)

	if len(matches) == 0 {
		if e.opts.DisableFallback || len(context) == 0 {
			return Result{Citations: []models.Citation{}}
		}
		n := min(e.opts.FallbackCount, len(context))
		citations := make([]models.Citation, 0, n)
		for _, chunk := range context[:n] {
			citations = append(citations, newCitation(chunk))
		}
		logger.Debug("citations: no markers in answer, citing first %d context chunks", n)
		return Result{Citations: citations, UsedFallback: true}
	}

	type key struct {
		id   string
		page int
	}
	seen := make(map[key]struct{})
	citations := []models.Citation{}

	for _, m := range matches {
		page, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		chunk, ok := resolve(context, m[2], page)
		if !ok {
			logger.Debug("citations: marker page %d chunk %s matches no context chunk", page, m[2])
			continue
		}
		k := key{chunk.ID, chunk.PageNumber}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		citations = append(citations, newCitation(chunk))
	}

	return Result{Citations: citations}
}

func resolve(context []models.Chunk, id string, page int) (models.Chunk, bool) {
	for _, c := range context {
		if c.ID == id {
			return c, true
		}
	}
	for _, c := range context {
		if strings.EqualFold(c.ID, id) {
			return c, true
		}
	}
	for _, c := range context {
		if c.PageNumber == page {
			return c, true
		}
	}
	return models.Chunk{}, false
}

func newCitation(chunk models.Chunk) models.Citation {
	return models.Citation{
		ChunkID:    chunk.ID,
		PageNumber: chunk.PageNumber,
		Excerpt:    excerpt(chunk.Text),
	}
}

// excerpt shortens text to at most excerptRunes runes, ending in "..." when cut.
func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:excerptRunes-3])) + "..."
}
