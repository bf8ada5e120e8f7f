package messaging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"messaging-relay/internal/store"
)

func TestClassifyMediaURL(t *testing.T) {
	cases := map[string]store.MessageType{
		"https://x.test/a.png":           store.MessageTypeImage,
		"https://x.test/a.JPG":           store.MessageTypeImage,
		"https://x.test/a.jpeg?sig=1":    store.MessageTypeImage,
		"https://x.test/a.gif":           store.MessageTypeImage,
		"https://x.test/a.webp":          store.MessageTypeImage,
		"https://x.test/a.bmp":           store.MessageTypeImage,
		"https://x.test/a.svg":           store.MessageTypeImage,
		"https://x.test/a.pdf":           store.MessageTypeMedia,
		"https://x.test/a.png.zip":       store.MessageTypeMedia,
		"https://x.test/pngs/file":       store.MessageTypeMedia,
		"https://x.test/a.mp4?x=a.png#f": store.MessageTypeMedia,
	}
	for u, want := range cases {
		if got := ClassifyMediaURL(u); got != want {
			t.Fatalf("%s: got %s want %s", u, got, want)
		}
	}
}

func TestFilenameFromURL(t *testing.T) {
	cases := []struct {
		url   string
		index int
		want  string
	}{
		{"https://x.test/dir/photo%20one.png?x=1", 0, "photo one.png"},
		{"https://x.test/", 0, "file"},
		{"https://x.test", 3, "file-3"},
		{"::bad", 1, "file-1"},
	}
	for _, c := range cases {
		if got := FilenameFromURL(c.url, c.index); got != c.want {
			t.Fatalf("%s: got %q want %q", c.url, got, c.want)
		}
	}
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestHTTPMediaFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/typed.pdf":
			w.Header().Set("Content-Type", "application/pdf; charset=binary")
			_, _ = w.Write([]byte("%PDF-1.4"))
		case "/blob":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPMediaFetcher(0)
	ctx := context.Background()

	m, err := f.Fetch(ctx, srv.URL+"/typed.pdf", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	b, _ := io.ReadAll(m.Body)
	_ = m.Body.Close()
	if m.ContentType != "application/pdf" || m.Filename != "typed.pdf" || string(b) != "%PDF-1.4" {
		t.Fatalf("unexpected media %+v %q", m, b)
	}

	m, err = f.Fetch(ctx, srv.URL+"/blob", 1)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	b, _ = io.ReadAll(m.Body)
	_ = m.Body.Close()
	if m.ContentType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", m.ContentType)
	}
	if len(b) != len(pngHeader) {
		t.Fatalf("sniffing must not consume the body, got %d bytes", len(b))
	}

	if _, err := f.Fetch(ctx, srv.URL+"/missing", 0); !errors.Is(err, ErrMediaFetch) {
		t.Fatalf("expected media fetch error, got %v", err)
	}
	if _, err := f.Fetch(ctx, "ftp://x.test/a", 0); !errors.Is(err, ErrMediaFetch) {
		t.Fatalf("expected media fetch error for bad scheme, got %v", err)
	}
}
