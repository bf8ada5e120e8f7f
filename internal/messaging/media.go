package messaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"messaging-relay/internal/store"
)

// FetchedMedia is an open attachment stream. Callers must close Body.
type FetchedMedia struct {
	Body        io.ReadCloser
	ContentType string
	Filename    string
}

// MediaFetcher opens the attachment at rawURL. index is the attachment position in the send.
type MediaFetcher interface {
	Fetch(ctx context.Context, rawURL string, index int) (FetchedMedia, error)
}

const sniffLen = 3072

// HTTPMediaFetcher streams attachments over HTTP(S).
type HTTPMediaFetcher struct {
	client *http.Client
}

func NewHTTPMediaFetcher(timeout time.Duration) *HTTPMediaFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPMediaFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, rawURL string, index int) (FetchedMedia, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return FetchedMedia{}, mediaErr(rawURL, errors.New("not an http(s) url"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchedMedia{}, mediaErr(rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return FetchedMedia{}, mediaErr(rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return FetchedMedia{}, mediaErr(rawURL, fmt.Errorf("status %d", resp.StatusCode))
	}

	br := bufio.NewReaderSize(resp.Body, sniffLen)
	ct := normalizeContentType(resp.Header.Get("Content-Type"))
	if isGenericContentType(ct) {
		head, _ := br.Peek(sniffLen)
		ct = mimetype.Detect(head).String()
		ct = normalizeContentType(ct)
	}

	return FetchedMedia{
		Body:        readCloser{Reader: br, Closer: resp.Body},
		ContentType: ct,
		Filename:    FilenameFromURL(rawURL, index),
	}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.TrimSpace(strings.ToLower(ct))
	}
	return mt
}

func isGenericContentType(ct string) bool {
	switch ct {
	case "", "application/octet-stream", "binary/octet-stream", "application/binary", "application/unknown":
		return true
	default:
		return false
	}
}

// FilenameFromURL returns the last path segment of rawURL, or "file" / "file-<index>".
func FilenameFromURL(rawURL string, index int) string {
	fallback := "file"
	if index > 0 {
		fallback = fmt.Sprintf("file-%d", index)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return fallback
	}
	return base
}

var imageURLPattern = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|bmp|svg)(\?|$)`)

// ClassifyMediaURL types an outbound attachment by its URL.
func ClassifyMediaURL(rawURL string) store.MessageType {
	if imageURLPattern.MatchString(rawURL) {
		return store.MessageTypeImage
	}
	return store.MessageTypeMedia
}

// ClassifyContentType types an inbound attachment by its declared content type.
func ClassifyContentType(ct string) store.MessageType {
	if strings.HasPrefix(ct, "image/") {
		return store.MessageTypeImage
	}
	return store.MessageTypeMedia
}
