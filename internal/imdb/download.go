package imdb

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Downloader fetches the TSV dumps into a local data directory. Dial and
// response-header timeouts are bounded, the body read is not: the dumps are
// hundreds of megabytes and transfer time varies too much for a total cap.
type Downloader struct {
	client *http.Client
	dir    string
	log    *zap.Logger
}

func NewDownloader(dir string, log *zap.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		dir: dir,
		log: log,
	}
}

// Fetch downloads one dataset, writing to a temp file first so a partial
// download never masquerades as a complete dump. Returns the local path.
func (d *Downloader) Fetch(ctx context.Context, ds Dataset) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	dest := filepath.Join(d.dir, ds.Filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.URL(), nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", ds.Name, err)
	}
	d.log.Info("downloading dataset", zap.String("dataset", ds.Name), zap.String("url", ds.URL()))

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ds.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: unexpected status %d", ds.Name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(d.dir, ds.Filename+".part-*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", ds.Name, err)
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", ds.Name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize %s: %w", ds.Name, err)
	}
	d.log.Info("dataset downloaded",
		zap.String("dataset", ds.Name), zap.Int64("bytes", n), zap.String("path", dest))
	return dest, nil
}

// LocalPath returns the expected on-disk location of a dataset, whether or
// not it has been downloaded.
func (d *Downloader) LocalPath(ds Dataset) string {
	return filepath.Join(d.dir, ds.Filename)
}
