package exporter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const fetchChunkSize = 8192

// Fetch streams the artifact at rawURL into dir/name and returns the absolute
// path. An empty name is taken from the last segment of the URL path and an
// empty dir means the system temp directory.
func (s *Service) Fetch(ctx context.Context, rawURL, dir, name string) (string, error) {
	if name == "" {
		var err error
		if name, err = fileNameOf(rawURL); err != nil {
			return "", err
		}
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	resp, err := s.client.download.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.metrics.download(0, false)
		return "", &DownloadError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", out, err)
	}
	n, err := io.CopyBuffer(f, resp.Body, make([]byte, fetchChunkSize))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		s.metrics.download(n, false)
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}

	s.metrics.download(n, true)
	s.log.Debugf("downloaded %.2f kb from %s to %s", float64(n)/1024.0, rawURL, out)
	return out, nil
}

func fileNameOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("download %s: no file name in url", rawURL)
	}
	return name, nil
}

// numbered inserts "-label" before the extension: tiles.vtpk -> tiles-3.vtpk.
func numbered(name, label string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + label + ext
}
