package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/dshills/projectrag/pkg/types"
)

const (
	// DefaultMaxLen is the default window length in runes
	DefaultMaxLen = 1000

	// DefaultOverlap is the default number of runes shared by adjacent windows
	DefaultOverlap = 200

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunker splits document text into fixed-size overlapping windows
type Chunker struct {
	maxLen  int
	overlap int
}

// New creates a Chunker with the given window length and overlap
func New(maxLen, overlap int) (*Chunker, error) {
	if err := Validate(maxLen, overlap); err != nil {
		return nil, err
	}
	return &Chunker{maxLen: maxLen, overlap: overlap}, nil
}

// Validate checks 0 <= overlap < maxLen
func Validate(maxLen, overlap int) error {
	if maxLen <= 0 || overlap < 0 || overlap >= maxLen {
		return fmt.Errorf("%w: max_len=%d overlap=%d", types.ErrInvalidWindow, maxLen, overlap)
	}
	return nil
}

// MaxLen returns the window length
func (c *Chunker) MaxLen() int { return c.maxLen }

// Overlap returns the overlap length
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks returns the chunk sequence for a document
func (c *Chunker) Chunks(documentID int64, text string) iter.Seq[types.Chunk] {
	seq := Chunk(text, c.maxLen, c.overlap)
	return func(yield func(types.Chunk) bool) {
		for ch := range seq {
			ch.DocumentID = documentID
			if !yield(ch) {
				return
			}
		}
	}
}

// Chunk splits text into windows [i, i+maxLen) advancing by maxLen-overlap.
// The final window may be shorter than maxLen. Empty and whitespace-only
// text yields nothing. Invalid windows also yield nothing; call Validate first.
//
// The returned sequence is lazy and can be ranged over more than once.
func Chunk(text string, maxLen, overlap int) iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		if Validate(maxLen, overlap) != nil || strings.TrimSpace(text) == "" {
			return
		}

		runes := []rune(text)
		n := len(runes)
		step := maxLen - overlap

		for start, ordinal := 0, 0; ; start, ordinal = start+step, ordinal+1 {
			end := min(start+maxLen, n)
			ch := types.Chunk{
				Ordinal: ordinal,
				Text:    string(runes[start:end]),
				Start:   start,
				End:     end,
			}
			if !yield(ch) || end == n {
				return
			}
		}
	}
}

// Collect drains a chunk sequence into a slice
func Collect(seq iter.Seq[types.Chunk]) []types.Chunk {
	chunks := make([]types.Chunk, 0)
	for ch := range seq {
		chunks = append(chunks, ch)
	}
	return chunks
}

// Reconstruct rebuilds the source text by dropping the overlap prefix of
// every chunk after the first.
func Reconstruct(chunks []types.Chunk, overlap int) string {
	var b strings.Builder
	for i, ch := range chunks {
		if i == 0 {
			b.WriteString(ch.Text)
			continue
		}
		b.WriteString(dropRunes(ch.Text, overlap))
	}
	return b.String()
}

// dropRunes removes the first n runes of s
func dropRunes(s string, n int) string {
	for i := 0; i < n && s != ""; i++ {
		_, size := utf8.DecodeRuneInString(s)
		s = s[size:]
	}
	return s
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
