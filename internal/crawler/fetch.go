package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basonpark/ether-guru/internal/config"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

var (
	// ErrPageTooLarge is returned when a response body exceeds the configured cap
	ErrPageTooLarge = errors.New("page exceeds maximum size")
	// ErrUnsupportedContent is returned for responses that are not text
	ErrUnsupportedContent = errors.New("unsupported content type")
)

// document is a fetched, decoded response
type document struct {
	URL         string // Final URL after redirects
	ContentType string // Media type without parameters
	Text        string // UTF-8 body with normalized newlines
}

type fetcher struct {
	client   *resty.Client
	maxBytes int64
}

func newFetcher(cfg *config.CrawlConfig) *fetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "text/html, text/markdown;q=0.9, text/plain;q=0.8").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryCondition)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &fetcher{client: client, maxBytes: cfg.MaxPageBytes}
}

// retryCondition retries network errors and transient server responses
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) (*document, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, fmt.Errorf("request %s: unexpected status %d", rawURL, resp.StatusCode())
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s (limit %d bytes)", ErrPageTooLarge, rawURL, f.maxBytes)
	}

	finalURL := rawURL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	contentType := mediaType(resp.Header().Get("Content-Type"), data)
	if !isTextual(contentType) {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedContent, rawURL, contentType)
	}

	text, err := decodeText(data, resp.Header().Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}

	return &document{URL: finalURL, ContentType: contentType, Text: text}, nil
}

// mediaType returns the declared media type, sniffing the body when the
// server sends none or a generic one
func mediaType(header string, data []byte) string {
	declared, _, err := mime.ParseMediaType(header)
	if err != nil || declared == "" || declared == "application/octet-stream" {
		detected, _, _ := mime.ParseMediaType(mimetype.Detect(data).String())
		return detected
	}
	return strings.ToLower(declared)
}

func isTextual(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/xhtml+xml", mediaType == "application/markdown":
		return true
	default:
		return false
	}
}

func decodeText(data []byte, contentType string) (string, error) {
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("transcoded result invalid utf-8")
	}
	return normalizeNewlines(string(decoded)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
