package processor

import (
	"fmt"

	"github.com/xhad/verdikt/internal/models"
)

// Separators in order of preference. A chunk ends right after the last
// occurrence of the most preferred separator that fits the window.
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

type ProcessorConfig struct {
	ChunkSize    int // max chunk length in characters
	ChunkOverlap int // characters repeated from the end of the previous chunk
	Separators   []string
}

type Processor struct {
	config     ProcessorConfig
	separators [][]rune
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 512
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 10
	}
	if len(config.Separators) == 0 {
		config.Separators = defaultSeparators
	}

	seps := make([][]rune, 0, len(config.Separators))
	for _, s := range config.Separators {
		if s != "" {
			seps = append(seps, []rune(s))
		}
	}

	return Processor{
		config:     config,
		separators: seps,
	}
}

// ChunkID is the stable vector id of the index-th chunk of a decision.
func ChunkID(decisionID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", decisionID, index)
}

func ChunkIDs(decisionID string, chunks []models.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = ChunkID(decisionID, c.Index)
	}
	return ids
}

// Split cuts the document content into ordered chunks tagged with the
// document id and decision number.
func (p *Processor) Split(doc models.Document, meta models.DecisionMetadata) []models.Chunk {
	spans := p.spans([]rune(doc.Content))
	text := []rune(doc.Content)

	chunks := make([]models.Chunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, models.Chunk{
			Text:           string(text[sp.start:sp.end]),
			Index:          i,
			Start:          sp.start,
			End:            sp.end,
			DocumentID:     doc.ID,
			DecisionNumber: meta.Number,
		})
	}
	return chunks
}

// SplitText returns only the chunk texts.
func (p *Processor) SplitText(text string) []string {
	runes := []rune(text)
	spans := p.spans(runes)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = string(runes[sp.start:sp.end])
	}
	return out
}

type span struct {
	start, end int
}

// spans walks the text with a window of ChunkSize runes. Each window ends at
// the best separator inside it, or is cut hard at the window edge when none
// exists. The next window starts ChunkOverlap runes before the previous end,
// moved forward to a word start when one is available in the overlap.
func (p *Processor) spans(text []rune) []span {
	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap
	n := len(text)
	var out []span

	pos := 0
	for pos < n {
		limit := pos + size
		if limit >= n {
			out = append(out, span{pos, n})
			break
		}

		// The end must leave room for the overlap so every window advances.
		end := p.boundary(text, pos+overlap+1, limit)
		if end < 0 {
			end = limit
		}
		out = append(out, span{pos, end})

		next := end - overlap
		if next <= pos {
			next = end
		}
		if next < end {
			if ws := wordStart(text, next, end); ws > 0 {
				next = ws
			}
		}
		pos = next
	}
	return out
}

// boundary finds the largest end in [lo, hi] that falls right after a
// separator, trying separators in preference order. It returns -1 when no
// separator ends inside the range.
func (p *Processor) boundary(text []rune, lo, hi int) int {
	for _, sep := range p.separators {
		for end := hi; end >= lo && end >= len(sep); end-- {
			if hasSuffixAt(text, end, sep) {
				return end
			}
		}
	}
	return -1
}

func hasSuffixAt(text []rune, end int, sep []rune) bool {
	start := end - len(sep)
	if start < 0 {
		return false
	}
	for i, r := range sep {
		if text[start+i] != r {
			return false
		}
	}
	return true
}

// wordStart returns the first index in (from, to) preceded by a space, or -1.
func wordStart(text []rune, from, to int) int {
	if from > 0 && text[from-1] == ' ' {
		return from
	}
	for i := from + 1; i < to; i++ {
		if text[i-1] == ' ' {
			return i
		}
	}
	return -1
}
