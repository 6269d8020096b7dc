package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xhad/docqa/internal/models"
)

const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 180
	DefaultMinChunkSize = 100
)

// separators are tried most structural first. The empty separator is the
// character-level fallback.
var separators = []string{"\n\n\n", "\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ", ""}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
}

// Processor splits page text into overlapping chunks. Lengths are measured
// in bytes and no cut ever splits a UTF-8 sequence.
type Processor struct {
	config ProcessorConfig
	newID  func() string
}

// NewWithConfig returns a Processor. Zero values take the defaults; an
// overlap that is not smaller than the chunk size is rejected.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = DefaultChunkOverlap
	}
	if config.MinChunkSize == 0 {
		config.MinChunkSize = DefaultMinChunkSize
	}

	if config.ChunkSize < 0 || config.ChunkOverlap < 0 || config.MinChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk options must not be negative", models.ErrValidation)
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			models.ErrValidation, config.ChunkOverlap, config.ChunkSize)
	}

	return &Processor{
		config: config,
		newID:  newChunkID,
	}, nil
}

// Config returns the effective configuration.
func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// span is a half-open byte range of the page being split.
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// ChunkPages splits every page into chunks belonging to docID. Offsets are
// global: pages are laid end to end with a one-byte separator between them.
func (p *Processor) ChunkPages(pages []models.PageText, docID string) []models.Chunk {
	var chunks []models.Chunk
	seen := make(map[string]struct{})
	offset := 0

	for _, page := range pages {
		text := page.Text
		if strings.TrimSpace(text) != "" {
			for _, s := range p.split(text, span{0, len(text)}, 0) {
				chunk, ok := p.emit(text, s)
				if !ok {
					continue
				}
				chunk.ID = p.uniqueID(seen)
				chunk.DocID = docID
				chunk.PageNumber = page.PageNumber
				chunk.CharStart += offset
				chunk.CharEnd += offset
				chunks = append(chunks, chunk)
			}
		}
		offset += len(text) + 1
	}

	return chunks
}

// emit trims s and keeps it when it reaches the minimum size.
func (p *Processor) emit(text string, s span) (models.Chunk, bool) {
	raw := text[s.start:s.end]
	trimmedLeft := strings.TrimLeft(raw, " \t\r\n\f\v")
	body := strings.TrimRight(trimmedLeft, " \t\r\n\f\v")
	if body == "" || len(body) < p.config.MinChunkSize {
		return models.Chunk{}, false
	}
	start := s.start + len(raw) - len(trimmedLeft)
	return models.Chunk{
		Text:      body,
		CharStart: start,
		CharEnd:   start + len(body),
	}, true
}

func (p *Processor) keeps(text string, s span) bool {
	_, ok := p.emit(text, s)
	return ok
}

// split recursively breaks s into spans no longer than the chunk size where
// possible. The last returned span is the trailing running chunk and may be
// short; callers either carry it forward or filter it.
func (p *Processor) split(text string, s span, level int) []span {
	size := p.config.ChunkSize
	if s.len() <= size {
		return []span{s}
	}

	var sep string
	var pieces []span
	for ; level < len(separators); level++ {
		sep = separators[level]
		if sep == "" {
			return p.splitByLength(text, s)
		}
		pieces = splitSpans(text, s, sep)
		if len(pieces) > 1 {
			break
		}
	}
	if len(pieces) <= 1 {
		return p.splitByLength(text, s)
	}

	var out []span
	var run span
	hasRun := false

	for _, piece := range pieces {
		if !hasRun {
			if piece.len() > size {
				subs := p.split(text, piece, level+1)
				out = append(out, subs[:len(subs)-1]...)
				run = subs[len(subs)-1]
			} else {
				run = piece
			}
			hasRun = true
			continue
		}

		// Pieces are contiguous in the source, so extending the running
		// span to the piece end re-joins them with the original separator.
		if piece.end-run.start <= size {
			run.end = piece.end
			continue
		}

		// A running chunk below the minimum would be dropped; fold it into
		// the next piece instead so its text is not lost. A fold that no
		// longer fits is split again at the next finer separator.
		if !p.keeps(text, run) {
			merged := span{run.start, piece.end}
			if merged.len() > size {
				subs := p.split(text, merged, level+1)
				out = append(out, subs[:len(subs)-1]...)
				run = subs[len(subs)-1]
			} else {
				run = merged
			}
			continue
		}

		out = append(out, run)
		seed := p.overlapStart(text, run)

		if piece.len() > size {
			subs := p.split(text, piece, level+1)
			out = append(out, subs[:len(subs)-1]...)
			run = subs[len(subs)-1]
			continue
		}

		start := seed
		if piece.end-start > size {
			start = nextRuneStart(text, piece.end-size)
		}
		if start > piece.start {
			start = piece.start
		}
		run = span{start, piece.end}
	}

	if hasRun {
		out = append(out, run)
	}
	return out
}

// overlapStart returns where the overlap seed taken from the tail of s
// begins. The seed holds at most ChunkOverlap bytes and starts after a space
// when one falls within the first half of the overlap window.
func (p *Processor) overlapStart(text string, s span) int {
	overlap := p.config.ChunkOverlap
	if overlap <= 0 {
		return s.end
	}
	if s.len() <= overlap {
		return s.start
	}

	start := nextRuneStart(text, s.end-overlap)
	window := text[start:s.end]
	if i := strings.IndexByte(window, ' '); i >= 0 && i < overlap/2 {
		return start + i + 1
	}
	return start
}

// splitByLength is the character-level fallback: fixed windows that back off
// to a preceding space rather than cut a word, stepping back by the overlap.
func (p *Processor) splitByLength(text string, s span) []span {
	size := p.config.ChunkSize
	overlap := p.config.ChunkOverlap

	var out []span
	cursor := s.start
	for cursor < s.end {
		end := cursor + size
		if end >= s.end {
			end = s.end
		} else {
			end = prevRuneStart(text, end)
			if end > cursor && text[end-1] != ' ' && text[end] != ' ' {
				if i := strings.LastIndexByte(text[cursor:end], ' '); i >= 0 && i >= size/2 {
					end = cursor + i
				}
			}
		}
		if end <= cursor {
			end = nextRuneStart(text, cursor+1)
		}

		out = append(out, span{cursor, end})
		if end >= s.end {
			break
		}

		next := nextRuneStart(text, end-overlap)
		if next <= cursor {
			next = end
		}
		cursor = next
	}

	if len(out) == 0 {
		out = append(out, s)
	}
	return out
}

// splitSpans splits s at every occurrence of sep. The separators themselves
// are not part of any returned span.
func splitSpans(text string, s span, sep string) []span {
	var out []span
	cursor := s.start
	for {
		i := strings.Index(text[cursor:s.end], sep)
		if i < 0 {
			break
		}
		out = append(out, span{cursor, cursor + i})
		cursor += i + len(sep)
	}
	return append(out, span{cursor, s.end})
}

func nextRuneStart(text string, i int) int {
	if i < 0 {
		i = 0
	}
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

func prevRuneStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func (p *Processor) uniqueID(seen map[string]struct{}) string {
	for {
		id := p.newID()
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			return id
		}
	}
}

func newChunkID() string {
	return "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
