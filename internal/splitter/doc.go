// Package splitter breaks prose into bounded-length pieces at the most natural boundary available.
//
// Boundaries are tried in priority order: paragraph ("\n\n"), line ("\n"), word (" ") and
// finally a hard cut between characters. The first separator present in the text is used to
// split it; consecutive pieces are merged back together (joined by that separator) while the
// merged length stays within the limit, and pieces that are still too long are split again
// with the remaining, finer separators.
//
// # Overlap
//
// When a merged piece is emitted, pieces are dropped from the front of the merge window until
// the retained tail is at most overlap characters long. The retained tail starts the next
// piece, so consecutive pieces share up to overlap characters of context. An overlap of zero
// disables carry-over.
//
// # Lengths
//
// Lengths are counted in characters (runes), not bytes. Every returned piece is trimmed,
// non-empty and at most maxLength characters long.
//
//	s, err := splitter.New(1000, 150)
//	if err != nil {
//	    return err
//	}
//	pieces := s.Split(text)
package splitter
