// Package chunker packs segmented page text into bounded-size, retrieval-ready chunks.
//
// The chunker consumes the prose and code segments produced by the segmenter and packs
// them greedily, in document order, into chunks of at most SizeBudget characters. Fenced
// code blocks are never split: a code block larger than the budget becomes a chunk of its
// own. Prose segments are first broken into pieces by the prose splitter, which prefers
// paragraph, then line, then word boundaries before cutting between characters.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, chunk := range c.ChunkPage(page) {
//	    fmt.Printf("chunk %d: %d tokens, code=%v\n",
//	        chunk.Index, chunk.TokenCount, chunk.HasCode)
//	}
//
// # Packing
//
// Units (code segments and prose pieces) are appended to an accumulator joined by a blank
// line. Before a unit is appended the chunker checks whether the accumulated text, the
// separator and the unit together would exceed the budget; if so the accumulator is flushed
// as a chunk and the unit starts a new one. A unit is always accepted by an empty
// accumulator, so an oversized code block is emitted whole rather than dropped.
//
// Sizes are counted in characters (runes), including the blank-line separators.
//
// # Chunk Fields
//
// Every emitted chunk carries:
//   - SourceIdentifier: the page it was cut from
//   - Index: its 0-based position within that page
//   - HasCode: whether the content contains a fenced code block
//   - ContentHash: SHA-256 of the content
//   - TokenCount: estimated as characters/4
//
// # Concurrency
//
// A Chunker holds only its validated options and is safe for concurrent use. Each call
// returns the full chunk sequence for its input.
package chunker
