// Package segment splits an incrementally growing text stream into sentences.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unit is a complete sentence ready for synthesis
type Unit struct {
	Index int    // Zero-based position in emission order
	Text  string // Trimmed sentence text, terminator included
}

// Segmenter accumulates text fragments and emits a Unit as soon as a
// sentence terminator is seen. A Segmenter is not safe for concurrent use;
// fragments must be fed in arrival order.
type Segmenter struct {
	buf     strings.Builder
	scanned int // Offset up to which buf holds no boundary
	next    int // Index of the next emitted unit
}

// New creates an empty Segmenter
func New() *Segmenter {
	return &Segmenter{}
}

// Feed appends a fragment and returns every sentence completed by it,
// in increasing index order. An empty fragment is a no-op.
func (s *Segmenter) Feed(fragment string) []Unit {
	if fragment == "" {
		return nil
	}
	s.buf.WriteString(fragment)

	var units []Unit
	for {
		text := s.buf.String()
		end := boundary(text, s.scanned)
		if end < 0 {
			// A trailing terminator is only a boundary once whitespace follows it.
			s.scanned = max(len(text)-1, 0)
			return units
		}

		if sentence := strings.TrimSpace(text[:end]); sentence != "" {
			units = append(units, s.emit(sentence))
		}
		s.reset(strings.TrimLeftFunc(text[end:], unicode.IsSpace))
	}
}

// Flush emits the unterminated remainder once the stream has ended.
// It returns false when nothing but whitespace is left.
func (s *Segmenter) Flush() (Unit, bool) {
	rest := strings.TrimSpace(s.buf.String())
	s.reset("")
	if rest == "" {
		return Unit{}, false
	}
	return s.emit(rest), true
}

// Emitted returns how many units have been produced so far
func (s *Segmenter) Emitted() int {
	return s.next
}

// Pending returns the buffered text not yet resolved into a sentence
func (s *Segmenter) Pending() string {
	return s.buf.String()
}

func (s *Segmenter) emit(text string) Unit {
	u := Unit{Index: s.next, Text: text}
	s.next++
	return u
}

func (s *Segmenter) reset(rest string) {
	s.buf.Reset()
	s.buf.WriteString(rest)
	s.scanned = 0
}

// boundary returns the offset just past the earliest terminator at or after
// from that is followed by whitespace, or -1.
func boundary(text string, from int) int {
	for i := from; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
		default:
			continue
		}
		r, _ := utf8.DecodeRuneInString(text[i+1:])
		if unicode.IsSpace(r) {
			return i + 1
		}
	}
	return -1
}
