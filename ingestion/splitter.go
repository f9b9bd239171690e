package ingestion

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fabfab/visacoach/index"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// defaultSeparators are tried in order: paragraphs, lines, words, then hard
// cuts.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts documents into windows of at most size runes. Consecutive
// windows of a document share at most overlap runes and leave no gap
// between them.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap, separators: defaultSeparators}, nil
}

// Split chunks every document. Source and title are copied to each chunk
// unchanged.
func (s *Splitter) Split(docs []Document) []index.Chunk {
	var chunks []index.Chunk
	for _, doc := range docs {
		for _, w := range s.splitText(span{text: doc.Text, n: utf8.RuneCountInString(doc.Text)}, s.separators) {
			if strings.TrimSpace(w.text) == "" {
				continue
			}
			chunks = append(chunks, index.Chunk{
				Text:   w.text,
				Source: doc.Source,
				Title:  doc.Title,
				Start:  w.start,
			})
		}
	}
	return chunks
}

// span is a substring of a document; start and n are in runes.
type span struct {
	text  string
	start int
	n     int
}

func (s *Splitter) splitText(text span, separators []string) []span {
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text.text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}
	if separator == "" {
		return s.hardCut(text)
	}

	var out, small []span
	for _, piece := range foldBlank(splitKeepingSeparator(text, separator)) {
		if piece.n < s.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small)...)
			small = nil
		}
		if len(finer) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.splitText(piece, finer)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small)...)
	}
	return out
}

// merge packs consecutive pieces into windows, carrying the trailing pieces
// of each window (at most overlap runes) into the next.
func (s *Splitter) merge(pieces []span) []span {
	var (
		out     []span
		current []span
		total   int
	)
	for _, p := range pieces {
		if total+p.n > s.size && len(current) > 0 {
			out = append(out, joinSpans(current, total))
			for total > s.overlap || (total+p.n > s.size && total > 0) {
				total -= current[0].n
				current = current[1:]
			}
		}
		current = append(current, p)
		total += p.n
	}
	if len(current) > 0 {
		out = append(out, joinSpans(current, total))
	}
	return out
}

func (s *Splitter) hardCut(text span) []span {
	runes := []rune(text.text)
	stride := s.size - s.overlap
	var out []span
	for start := 0; start < len(runes); start += stride {
		end := min(start+s.size, len(runes))
		out = append(out, span{text: string(runes[start:end]), start: text.start + start, n: end - start})
		if end == len(runes) {
			break
		}
	}
	return out
}

// foldBlank attaches whitespace-only pieces to the piece that follows them
// (or precedes them, at the end) so they never form a window of their own.
func foldBlank(pieces []span) []span {
	out := make([]span, 0, len(pieces))
	var pending []span
	for _, p := range pieces {
		if strings.TrimSpace(p.text) == "" {
			pending = append(pending, p)
			continue
		}
		if len(pending) > 0 {
			p = joinSpans(append(pending, p), sumRunes(pending)+p.n)
			pending = nil
		}
		out = append(out, p)
	}
	if len(pending) > 0 {
		if len(out) == 0 {
			return []span{joinSpans(pending, sumRunes(pending))}
		}
		last := out[len(out)-1]
		out[len(out)-1] = joinSpans(append([]span{last}, pending...), last.n+sumRunes(pending))
	}
	return out
}

func sumRunes(spans []span) int {
	n := 0
	for _, sp := range spans {
		n += sp.n
	}
	return n
}

func joinSpans(spans []span, total int) span {
	var b strings.Builder
	for _, sp := range spans {
		b.WriteString(sp.text)
	}
	return span{text: b.String(), start: spans[0].start, n: total}
}

// splitKeepingSeparator splits text on sep, keeping each separator at the
// start of the piece that follows it. Empty pieces are dropped.
func splitKeepingSeparator(text span, sep string) []span {
	var out []span
	rest := text.text
	offset := text.start
	from := 0
	for {
		idx := strings.Index(rest[from:], sep)
		if idx < 0 {
			break
		}
		cut := from + idx
		if cut > 0 {
			n := utf8.RuneCountInString(rest[:cut])
			out = append(out, span{text: rest[:cut], start: offset, n: n})
			offset += n
		}
		rest = rest[cut:]
		from = len(sep)
	}
	if rest != "" {
		out = append(out, span{text: rest, start: offset, n: utf8.RuneCountInString(rest)})
	}
	return out
}
