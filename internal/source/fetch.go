package source

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fetcher turns a remote reference into a local file inside dir.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (string, error)
}

// HTTPFetcher downloads over http(s) with a per-request timeout and a size cap.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return "", fmt.Errorf("download: %d bytes exceeds limit of %d", resp.ContentLength, f.MaxBytes)
	}

	dst := filepath.Join(dir, "fetch_"+uuid.NewString()+extensionFor(rawURL, resp.Header.Get("Content-Type")))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		// one extra byte tells an oversized body apart from an exact fit
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && f.MaxBytes > 0 && n > f.MaxBytes {
		err = fmt.Errorf("download: body exceeds limit of %d bytes", f.MaxBytes)
	}
	if err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// extensionFor prefers the URL path extension and falls back to the content type.
func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 6 {
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "video/mp4":
			return ".mp4"
		case "audio/mpeg":
			return ".mp3"
		case "image/jpeg":
			return ".jpg"
		}
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ""
}
