// Package chunking splits parsed markdown into retrieval units with
// section and page provenance.
package chunking

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/akulikov/kbdoc/internal/core/domain"
)

var (
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	pageMarkerRe = regexp.MustCompile(`^<!--\s*page:\s*(\d+)\s*-->$`)
)

// Splitter walks the markdown block structure: headings open a new
// section, blank lines separate blocks, page marker comments advance
// the page counter. Blocks accumulate into chunks up to ChunkSize runes
// with Overlap runes carried between adjacent chunks of one section. A
// table row never splits mid-block.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

type block struct {
	text string
	page int
}

func (s *Splitter) Split(text string) []domain.ChunkPiece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []domain.ChunkPiece
	section := ""
	page := 1

	var blocks []block
	flushSection := func() {
		if len(blocks) > 0 {
			pieces = append(pieces, s.packBlocks(blocks, section)...)
			blocks = nil
		}
	}

	var current []string
	currentPage := page
	flushBlock := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		if joined != "" {
			blocks = append(blocks, block{text: joined, page: currentPage})
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t")

		if m := pageMarkerRe.FindStringSubmatch(strings.TrimSpace(trimmed)); m != nil {
			flushBlock()
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				page = n
			}
			currentPage = page
			continue
		}

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			flushBlock()
			flushSection()
			section = strings.TrimSpace(m[2])
			currentPage = page
			continue
		}

		if strings.TrimSpace(trimmed) == "" {
			flushBlock()
			currentPage = page
			continue
		}

		if len(current) == 0 {
			currentPage = page
		}
		current = append(current, trimmed)
	}
	flushBlock()
	flushSection()

	return pieces
}

// packBlocks greedily fills chunks from whole blocks. A single block
// over the budget becomes its own chunk rather than being cut, since
// cutting tables or formulas mid-row destroys them for retrieval.
func (s *Splitter) packBlocks(blocks []block, section string) []domain.ChunkPiece {
	var out []domain.ChunkPiece
	var parts []string
	var size int
	pageStart, pageEnd := 0, 0

	flush := func() {
		if len(parts) == 0 {
			return
		}
		text := strings.Join(parts, "\n\n")
		out = append(out, domain.ChunkPiece{
			Text:      text,
			Section:   section,
			PageStart: pageStart,
			PageEnd:   pageEnd,
		})

		if s.Overlap > 0 {
			tail := tailRunes(text, s.Overlap)
			parts = []string{tail}
			size = len([]rune(tail))
			pageStart = pageEnd
		} else {
			parts = nil
			size = 0
			pageStart, pageEnd = 0, 0
		}
	}

	for _, b := range blocks {
		blockSize := len([]rune(b.text))
		if size > 0 && size+blockSize > s.ChunkSize {
			flush()
		}
		if pageStart == 0 {
			pageStart = b.page
		}
		parts = append(parts, b.text)
		size += blockSize
		pageEnd = b.page
	}
	flush()

	// Drop a trailing chunk that is pure overlap carry.
	if len(out) > 1 {
		last := out[len(out)-1]
		prev := out[len(out)-2]
		if strings.HasSuffix(prev.Text, last.Text) {
			out = out[:len(out)-1]
		}
	}
	return out
}

func tailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
