// Package crawler discovers documentation pages and normalizes them into
// types.Page values for the indexer.
//
// A Crawler walks a site breadth-first from a start URL. Only links under the
// start URL that pass the include/exclude patterns are followed; patterns are
// anchored at the beginning of the URL. Each level is fetched with a bounded
// number of concurrent requests and failed pages are logged and skipped.
//
// HTML responses are reduced to Markdown-like text: headings become "#"
// lines, list items become "- " lines and <pre> blocks become fenced code
// blocks so the segmenter keeps them intact. Markdown and plain-text
// responses pass through unchanged.
//
// LoadMarkdownGlob reads local files instead of crawling.
package crawler
