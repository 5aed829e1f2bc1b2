package types

import "errors"

// SegmentKind identifies what a segment of page text holds
type SegmentKind string

const (
	SegmentProse SegmentKind = "prose"
	SegmentCode  SegmentKind = "code"
)

// Segment is a typed, contiguous slice of page text.
// Code segments keep their fence delimiters verbatim.
type Segment struct {
	Text string
	Kind SegmentKind
}

// Prose builds a prose segment
func Prose(text string) Segment {
	return Segment{Text: text, Kind: SegmentProse}
}

// Code builds a code segment
func Code(text string) Segment {
	return Segment{Text: text, Kind: SegmentCode}
}

// IsCode returns true for fenced code segments
func (s Segment) IsCode() bool {
	return s.Kind == SegmentCode
}

// Validate checks the segment kind and content
func (s Segment) Validate() error {
	switch s.Kind {
	case SegmentProse, SegmentCode:
	default:
		return errors.New("invalid segment kind")
	}
	if s.Text == "" {
		return ErrEmptyContent
	}
	return nil
}
