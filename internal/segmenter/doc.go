// Package segmenter splits page text into an ordered sequence of prose and fenced code segments.
//
// A fenced region opens at a ``` marker and closes at the next ``` marker. Regions never
// nest: the shortest span between two markers is taken, and scanning resumes after the
// closing marker. The info string (```solidity) is part of the region.
//
// # Basic Usage
//
//	segments := segmenter.Segment(page.Text)
//	for _, seg := range segments {
//	    if seg.IsCode() {
//	        // seg.Text still carries its ``` delimiters
//	    }
//	}
//
// # Boundary Whitespace
//
// Each prose run and each fenced region is trimmed before it is emitted, and prose runs
// that are empty after trimming are dropped. Joining the segments therefore reproduces the
// input with whitespace normalized only at segment boundaries.
//
// # Unterminated Fences
//
// An opening marker without a closing marker is not a code block. The marker and the text
// after it stay in the surrounding prose segment:
//
//	segmenter.Segment("a ```b")
//	// [PROSE("a ```b")]
//
// Indented (four space) code blocks are not recognized and are treated as prose.
package segmenter
