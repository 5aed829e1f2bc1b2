package crawler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/basonpark/ether-guru/pkg/logger"
	"github.com/basonpark/ether-guru/pkg/types"
	"github.com/bmatcuk/doublestar/v4"
)

// MaxLocalFileBytes caps the size of a single local markdown file
const MaxLocalFileBytes = 4 * 1024 * 1024

// LoadMarkdownGlob reads every file under root matching pattern (doublestar
// syntax, e.g. "docs/**/*.md") as a page. Source identifiers are the
// slash-separated paths relative to root. Empty files are skipped.
func LoadMarkdownGlob(ctx context.Context, root, pattern string) ([]types.Page, error) {
	root = filepath.Clean(root)
	if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(root), filepath.ToSlash(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q failed: %w", pattern, err)
	}
	if len(matches) == 0 {
		logger.FromContext(ctx).Warn("Glob returned no files", "root", root, "pattern", pattern)
		return nil, nil
	}

	pages := make([]types.Page, 0, len(matches))
	for _, rel := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := ReadLocalFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			logger.FromContext(ctx).Warn("Skipping empty file", "path", rel)
			continue
		}
		pages = append(pages, types.Page{SourceIdentifier: rel, Text: text})
	}
	return pages, nil
}

// ReadLocalFile reads one file of at most MaxLocalFileBytes as UTF-8 text
// with "\n" line endings, transcoding legacy encodings the way fetched pages are.
func ReadLocalFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, MaxLocalFileBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	if len(data) > MaxLocalFileBytes {
		return "", fmt.Errorf("%w: %q (limit %d bytes)", ErrPageTooLarge, path, MaxLocalFileBytes)
	}

	text, err := decodeText(data, "text/markdown")
	if err != nil {
		return "", fmt.Errorf("decode %q: %w", path, err)
	}
	return text, nil
}
