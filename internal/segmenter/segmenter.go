package segmenter

import (
	"regexp"
	"strings"

	"github.com/basonpark/ether-guru/pkg/types"
)

// FenceMarker opens and closes a fenced code region
const FenceMarker = "```"

// fencePattern matches the shortest span between two fence markers
var fencePattern = regexp.MustCompile("```[\\s\\S]*?```")

// Segment splits text into prose and code segments in document order
func Segment(text string) []types.Segment {
	segments := make([]types.Segment, 0)

	last := 0
	for _, loc := range fencePattern.FindAllStringIndex(text, -1) {
		if prose := strings.TrimSpace(text[last:loc[0]]); prose != "" {
			segments = append(segments, types.Prose(prose))
		}
		segments = append(segments, types.Code(strings.TrimSpace(text[loc[0]:loc[1]])))
		last = loc[1]
	}

	// Trailing text, including any unterminated fence
	if prose := strings.TrimSpace(text[last:]); prose != "" {
		segments = append(segments, types.Prose(prose))
	}

	return segments
}

// HasFence reports whether s contains at least one complete fenced region
func HasFence(s string) bool {
	return fencePattern.MatchString(s)
}

// CodeBlocks returns every complete fenced region in s, delimiters included
func CodeBlocks(s string) []string {
	return fencePattern.FindAllString(s, -1)
}
