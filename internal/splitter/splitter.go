package splitter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators lists boundaries from most to least preferred.
// The empty separator is a hard cut between characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

var (
	// ErrInvalidMaxLength is returned when maxLength is not positive
	ErrInvalidMaxLength = errors.New("max length must be positive")

	// ErrInvalidOverlap is returned when overlap is negative or not below maxLength
	ErrInvalidOverlap = errors.New("overlap must be >= 0 and less than max length")

	// ErrNoSeparators is returned when an empty separator list is configured
	ErrNoSeparators = errors.New("at least one separator is required")
)

// Splitter splits text into pieces of at most maxLength characters.
// It holds no per-call state and is safe for concurrent use.
type Splitter struct {
	maxLength  int
	overlap    int
	separators []string
}

// Option configures a Splitter
type Option func(*Splitter)

// WithSeparators overrides the boundary priority list
func WithSeparators(separators ...string) Option {
	return func(s *Splitter) {
		s.separators = append([]string(nil), separators...)
	}
}

// New creates a Splitter with the given limits
func New(maxLength, overlap int, opts ...Option) (*Splitter, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxLength, maxLength)
	}
	if overlap < 0 || overlap >= maxLength {
		return nil, fmt.Errorf("%w: overlap=%d max=%d", ErrInvalidOverlap, overlap, maxLength)
	}

	s := &Splitter{
		maxLength:  maxLength,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.separators) == 0 {
		return nil, ErrNoSeparators
	}

	return s, nil
}

// Split returns the trimmed, non-empty pieces of text in order
func (s *Splitter) Split(text string) []string {
	pieces := make([]string, 0)
	if strings.TrimSpace(text) == "" {
		return pieces
	}
	return s.split(text, s.separators, pieces)
}

func (s *Splitter) split(text string, separators []string, out []string) []string {
	separator, rest := pickSeparator(text, separators)

	var fits []string
	for _, part := range splitOn(text, separator) {
		if length(part) <= s.maxLength {
			fits = append(fits, part)
			continue
		}

		// Flush what fits so far, then break the long part down further
		if len(fits) > 0 {
			out = s.merge(fits, separator, out)
			fits = nil
		}
		if len(rest) > 0 {
			out = s.split(part, rest, out)
		} else {
			out = s.hardCut(part, out)
		}
	}

	if len(fits) > 0 {
		out = s.merge(fits, separator, out)
	}

	return out
}

// merge joins consecutive parts while they fit, carrying up to overlap characters forward
func (s *Splitter) merge(parts []string, separator string, out []string) []string {
	sepLen := length(separator)

	var window []string
	total := 0

	// joinedLen is the window length if part were appended to it
	joinedLen := func(n int) int {
		if len(window) > 0 {
			return total + sepLen + n
		}
		return total + n
	}

	for _, part := range parts {
		n := length(part)

		if joinedLen(n) > s.maxLength && len(window) > 0 {
			out = appendTrimmed(out, strings.Join(window, separator))

			// Keep a tail of at most overlap characters that still leaves room for part
			for len(window) > 0 && (total > s.overlap || joinedLen(n) > s.maxLength) {
				total -= length(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}

		total = joinedLen(n)
		window = append(window, part)
	}

	if len(window) > 0 {
		out = appendTrimmed(out, strings.Join(window, separator))
	}

	return out
}

// hardCut splits text between characters when no configured separator can
func (s *Splitter) hardCut(text string, out []string) []string {
	runes := []rune(text)
	parts := make([]string, 0, len(runes))
	for _, r := range runes {
		parts = append(parts, string(r))
	}
	return s.merge(parts, "", out)
}

// pickSeparator returns the first separator present in text and the finer ones after it
func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return sep, nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	// None present: split on the last one and let the remainder fall through to hard cuts
	return separators[len(separators)-1], nil
}

// splitOn keeps the empty parts between repeated separators, so joining
// the parts of a merged piece restores the original text
func splitOn(text, separator string) []string {
	if separator != "" {
		return strings.Split(text, separator)
	}

	parts := make([]string, 0, len(text))
	for _, r := range text {
		parts = append(parts, string(r))
	}
	return parts
}

func appendTrimmed(out []string, piece string) []string {
	if piece = strings.TrimSpace(piece); piece != "" {
		out = append(out, piece)
	}
	return out
}

func length(s string) int {
	return utf8.RuneCountInString(s)
}
