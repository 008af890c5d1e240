package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/anstrom/netscan/internal/errors"
)

const (
	downloadTimeout = 60 * time.Second
	cacheDirPerm    = 0755
	cacheFilePerm   = 0644
	maxOUIBodySize  = 16 << 20
)

// Downloader keeps a local copy of an OUI database fresh.
type Downloader struct {
	client *fasthttp.Client
	now    func() time.Time
}

// NewDownloader creates a downloader with a bounded HTTP client.
func NewDownloader() *Downloader {
	return &Downloader{
		client: &fasthttp.Client{
			Name:                "netscan",
			ReadTimeout:         downloadTimeout,
			WriteTimeout:        downloadTimeout,
			MaxResponseBodySize: maxOUIBodySize,
		},
		now: time.Now,
	}
}

// Fresh reports whether path exists and is younger than maxAge. A zero
// maxAge never expires an existing file.
func (d *Downloader) Fresh(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	return maxAge <= 0 || d.now().Sub(info.ModTime()) < maxAge
}

// Fetch downloads url into path unless the cached copy is still fresh. It
// reports whether a download happened. The file is replaced atomically.
func (d *Downloader) Fetch(url, path string, maxAge time.Duration) (bool, error) {
	if d.Fresh(path, maxAge) {
		return false, nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := d.client.DoTimeout(req, resp, downloadTimeout); err != nil {
		return false, errors.WrapScanErrorWithTarget(errors.CodeDownloadFailed, "OUI download failed", url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return false, errors.NewScanErrorWithTarget(errors.CodeDownloadFailed,
			fmt.Sprintf("OUI download returned status %d", resp.StatusCode()), url)
	}

	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return false, errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to create OUI cache directory", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, resp.Body(), cacheFilePerm); err != nil {
		return false, errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to write OUI cache", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, errors.WrapScanErrorWithTarget(errors.CodeFileWrite, "failed to replace OUI cache", path, err)
	}
	return true, nil
}
