package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/basonpark/ether-guru/internal/segmenter"
	"github.com/basonpark/ether-guru/internal/splitter"
	"github.com/basonpark/ether-guru/pkg/types"
)

const (
	// DefaultSizeBudget is the default maximum chunk size in characters
	DefaultSizeBudget = 1000

	// DefaultOverlap is the default prose carry-over between consecutive pieces
	DefaultOverlap = 150

	// unitSeparator joins units packed into the same chunk
	unitSeparator = "\n\n"
)

var (
	// ErrInvalidBudget is returned when the size budget is not positive
	ErrInvalidBudget = errors.New("size budget must be positive")

	// ErrInvalidOverlap is returned when overlap is negative or not below the size budget
	ErrInvalidOverlap = errors.New("overlap must be >= 0 and less than the size budget")
)

// Options configures chunk sizing
type Options struct {
	SizeBudget int // Maximum chunk length in characters
	Overlap    int // Characters of context carried between prose pieces
}

// DefaultOptions returns the default sizing
func DefaultOptions() Options {
	return Options{
		SizeBudget: DefaultSizeBudget,
		Overlap:    DefaultOverlap,
	}
}

// Validate checks the options
func (o Options) Validate() error {
	if o.SizeBudget <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBudget, o.SizeBudget)
	}
	if o.Overlap < 0 || o.Overlap >= o.SizeBudget {
		return fmt.Errorf("%w: overlap=%d budget=%d", ErrInvalidOverlap, o.Overlap, o.SizeBudget)
	}
	return nil
}

// Chunker splits pages into chunks
type Chunker struct {
	opts     Options
	splitter *splitter.Splitter
}

// New creates a Chunker after validating opts
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s, err := splitter.New(opts.SizeBudget, opts.Overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create prose splitter: %w", err)
	}

	return &Chunker{opts: opts, splitter: s}, nil
}

// Options returns the sizing the chunker was created with
func (c *Chunker) Options() Options {
	return c.opts
}

// ChunkPage segments and chunks a page
func (c *Chunker) ChunkPage(page types.Page) []types.Chunk {
	return c.ChunkText(page.SourceIdentifier, page.Text)
}

// ChunkText segments and chunks raw text attributed to source
func (c *Chunker) ChunkText(source, text string) []types.Chunk {
	return c.ChunkSegments(segmenter.Segment(text), source)
}

// ChunkSegments packs already segmented text into chunks
func (c *Chunker) ChunkSegments(segments []types.Segment, source string) []types.Chunk {
	acc := &accumulator{budget: c.opts.SizeBudget}
	contents := make([]string, 0)

	for _, seg := range segments {
		if seg.IsCode() {
			contents = acc.push(seg.Text, contents)
			continue
		}
		for _, piece := range c.splitter.Split(seg.Text) {
			contents = acc.push(piece, contents)
		}
	}
	contents = acc.flush(contents)

	return buildChunks(contents, source)
}

// Assemble packs segments into chunks using a one-off chunker.
// Only invalid sizing returns an error; no segments yields no chunks.
func Assemble(segments []types.Segment, sizeBudget, overlap int, source string) ([]types.Chunk, error) {
	c, err := New(Options{SizeBudget: sizeBudget, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	return c.ChunkSegments(segments, source), nil
}

// accumulator collects units for the chunk being built
type accumulator struct {
	budget int
	parts  []string
	size   int
}

// push appends unit, flushing first when the unit would overflow a non-empty accumulator
func (a *accumulator) push(unit string, out []string) []string {
	n := utf8.RuneCountInString(unit)

	if len(a.parts) > 0 && a.size+len(unitSeparator)+n > a.budget {
		out = a.flush(out)
	}

	if len(a.parts) > 0 {
		a.size += len(unitSeparator)
	}
	a.parts = append(a.parts, unit)
	a.size += n

	return out
}

// flush emits the accumulated text, if any, and resets the accumulator
func (a *accumulator) flush(out []string) []string {
	content := strings.TrimSpace(strings.Join(a.parts, unitSeparator))
	a.parts = a.parts[:0]
	a.size = 0

	if content == "" {
		return out
	}
	return append(out, content)
}

func buildChunks(contents []string, source string) []types.Chunk {
	chunks := make([]types.Chunk, 0, len(contents))
	for i, content := range contents {
		chunk := types.Chunk{
			SourceIdentifier: source,
			Index:            i,
			Content:          content,
			HasCode:          segmenter.HasFence(content),
		}
		chunk.ComputeContentHash()
		chunk.ComputeTokenCount()
		chunks = append(chunks, chunk)
	}
	return chunks
}
