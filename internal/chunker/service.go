// Package chunker segments extracted text into overlapping windows that
// prefer to end on semantic boundaries.
package chunker

import (
	"github.com/liliang-cn/ragstore/internal/domain"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

// boundaries in priority order; the first kind found in the search region
// wins. Each is matched against the tail of the window only.
var boundaries = []string{"\n\n", "\n", ". ", " "}

// boundarySearchFraction restricts boundary search to the tail of the
// window. Searching from the start produced degenerate tiny chunks.
const boundarySearchFraction = 0.2

type Service struct {
	size    int
	overlap int
}

func New(size, overlap int) *Service {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Service{size: size, overlap: overlap}
}

// Split produces ordered chunks with character offsets into text. Offsets
// are rune-based so multi-byte text reconstructs cleanly.
func (s *Service) Split(text string) []domain.TextChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []domain.TextChunk
	pos := 0
	index := 0

	for pos < len(runes) {
		end := pos + s.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.findBoundary(runes, pos, end)
		}

		chunks = append(chunks, domain.TextChunk{
			Text:      string(runes[pos:end]),
			Index:     index,
			StartChar: pos,
			EndChar:   end,
		})
		index++

		if end == len(runes) {
			break
		}

		next := end - s.overlap
		if next <= pos {
			next = end
		}
		pos = next
	}

	return chunks
}

// findBoundary searches the last fifth of the window for the best cut
// point and returns the window end to use, separator included.
func (s *Service) findBoundary(runes []rune, start, end int) int {
	searchFrom := end - int(float64(end-start)*boundarySearchFraction)
	if searchFrom <= start {
		searchFrom = start + 1
	}

	for _, boundary := range boundaries {
		sep := []rune(boundary)
		if cut := lastIndexRunes(runes, sep, searchFrom, end); cut >= 0 {
			return cut + len(sep)
		}
	}

	return end
}

// lastIndexRunes finds the last occurrence of sep whose start lies in
// [from, to). The separator may extend past to as long as it fits the text.
func lastIndexRunes(runes, sep []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if i+len(sep) > len(runes) {
			continue
		}
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
