// Package fetch downloads resolved media URLs into local files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"chromascope/logging"
)

// Downloader fetches media over HTTP. Downloads are written through a
// temporary file and renamed into place, so a partial download never
// appears at the destination path.
type Downloader struct {
	client *http.Client
	logger logging.Logger
}

// NewDownloader returns a Downloader with a bounded overall timeout per
// download. A nil logger falls back to the global logger.
func NewDownloader(timeout time.Duration, logger logging.Logger) *Downloader {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		logger: logger.WithFields(logging.Fields{"component": "downloader"}),
	}
}

// Download fetches url into dest. Non-200 responses, HTML payloads and
// empty bodies are reported as errors; resolvers that have expired a
// link tend to serve an error page instead of media.
func (d *Downloader) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	started := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed, status code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") {
		return fmt.Errorf("download returned a page instead of media: %s", ct)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("save download: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close download file: %w", err)
	}
	if written == 0 {
		os.Remove(tmp)
		return fmt.Errorf("download was empty")
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("place download file: %w", err)
	}

	d.logger.Debug("download complete", logging.Fields{
		"url":        url,
		"bytes":      written,
		"elapsed_ms": time.Since(started).Milliseconds(),
	})
	return nil
}
