// Package chunker splits document text into bounded, overlapping windows.
//
// Windows are measured in runes so multi-byte text never splits inside a
// character. Each window is [i, i+maxLen) and the next one starts
// maxLen-overlap runes later, so adjacent chunks share exactly overlap runes.
// The last window may be shorter than maxLen and is always emitted.
//
// # Usage
//
//	c, err := chunker.New(1000, 200)
//	if err != nil {
//	    return err
//	}
//	for ch := range c.Chunks(docID, text) {
//	    fmt.Println(ch.Ordinal, len(ch.Text))
//	}
//
// Dropping the first overlap runes of every chunk after the first and
// concatenating the rest gives back the original text; Reconstruct does this.
//
// Empty and whitespace-only text produce no chunks, so no embedding calls are
// spent on noise.
package chunker
