package audio

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// maxSourceBytes caps how much of a remote source is buffered in memory.
const maxSourceBytes = 64 << 20

// SourceReader resolves an encoded source locator to its bytes. Absolute
// http(s) URLs are fetched; anything else is a path below Root.
type SourceReader struct {
	Root   string
	Client *http.Client
}

// Read returns the full content of the source.
func (r *SourceReader) Read(ctx context.Context, uri string) ([]byte, error) {
	if isRemote(uri) {
		return r.fetch(ctx, uri)
	}
	return r.readFile(uri)
}

func (r *SourceReader) fetch(ctx context.Context, uri string) ([]byte, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch source")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status %d fetching %s", resp.StatusCode, uri)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read source body")
	}
	return data, nil
}

func (r *SourceReader) readFile(uri string) ([]byte, error) {
	p, err := url.PathUnescape(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid source path %q", uri)
	}
	// Clean as an absolute path first so ".." cannot climb above Root.
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	full := filepath.Join(r.Root, filepath.FromSlash(rel))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read source file")
	}
	return data, nil
}

// FormatOf returns the lowercase extension of the source ("mp3", "wav", ...).
func FormatOf(uri string) string {
	if isRemote(uri) {
		if u, err := url.Parse(uri); err == nil {
			uri = u.Path
		}
	}
	ext := strings.ToLower(path.Ext(uri))
	return strings.TrimPrefix(ext, ".")
}

func isRemote(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
