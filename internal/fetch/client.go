package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mhelin/burstline/internal/conf"
	"github.com/mhelin/burstline/internal/errors"
	"github.com/mhelin/burstline/internal/logging"
)

// partSuffix marks an in-progress download; the file is renamed to its
// final name only after the checksum verifies.
const partSuffix = ".part"

// Downloader retrieves scene archives with byte-offset resume and checksum
// verification.
type Downloader struct {
	httpClient *http.Client
	settings   conf.DownloadSettings
	logger     *slog.Logger

	// backoff is overridable for tests.
	backoff func(attempt int) time.Duration
}

// NewDownloader builds a downloader from the configured settings.
func NewDownloader(settings conf.DownloadSettings) *Downloader {
	logger := logging.ForService("fetch")
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		httpClient: &http.Client{
			Timeout: time.Duration(settings.TimeoutSec) * time.Second,
		},
		settings: settings,
		logger:   logger,
		backoff:  exponentialBackoff,
	}
}

func exponentialBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Fetch downloads one granule into the configured download directory. An
// already verified file is left untouched. A partial file from an earlier
// run is resumed at its current offset. After the retry budget is spent the
// partial data is kept on disk and an integrity failure is reported.
func (d *Downloader) Fetch(ctx context.Context, g Granule) (string, error) {
	if g.FileName == "" || g.URL == "" {
		return "", errors.Newf("granule %s has no download location", g.SceneID).
			Component("fetch").
			Category(errors.CategoryDownload).
			Build()
	}

	dest := filepath.Join(d.settings.Directory, g.FileName)
	if verified, err := d.alreadyVerified(dest, g.MD5); err != nil {
		return "", err
	} else if verified {
		d.logger.Debug("scene already downloaded and verified", "scene", g.SceneID)
		return dest, nil
	}

	if err := os.MkdirAll(d.settings.Directory, 0o755); err != nil {
		return "", errors.New(err).
			Component("fetch").
			Category(errors.CategoryFileIO).
			Build()
	}

	part := dest + partSuffix
	var lastErr error
	for attempt := 0; attempt < d.settings.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.backoff(attempt)):
			}
		}

		if lastErr = d.downloadResumed(ctx, g, part); lastErr != nil {
			d.logger.Warn("download attempt failed",
				"scene", g.SceneID, "attempt", attempt+1, "error", lastErr)
			continue
		}

		if lastErr = verifyChecksum(part, g.MD5); lastErr != nil {
			d.logger.Warn("checksum mismatch, restarting download",
				"scene", g.SceneID, "attempt", attempt+1)
			// Corrupt bytes cannot be resumed from.
			if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
				return "", errors.New(err).
					Component("fetch").
					Category(errors.CategoryFileIO).
					Build()
			}
			continue
		}

		if err := os.Rename(part, dest); err != nil {
			return "", errors.New(err).
				Component("fetch").
				Category(errors.CategoryFileIO).
				Build()
		}
		d.logger.Info("scene downloaded", "scene", g.SceneID, "path", dest)
		return dest, nil
	}

	return "", errors.Newf("scene %s: %d attempts exhausted: %v",
		g.SceneID, d.settings.MaxRetries, lastErr).
		Component("fetch").
		Category(errors.CategoryDownload).
		Kind(errors.KindIntegrityFailure).
		Context("scene_id", g.SceneID).
		Build()
}

// alreadyVerified reports whether dest exists and matches the expected
// checksum. A present file with a wrong checksum is removed so the download
// starts clean.
func (d *Downloader) alreadyVerified(dest, md5sum string) (bool, error) {
	if _, err := os.Stat(dest); err != nil {
		return false, nil
	}
	if err := verifyChecksum(dest, md5sum); err != nil {
		d.logger.Warn("existing file fails verification, re-downloading",
			"path", dest)
		if err := os.Remove(dest); err != nil {
			return false, errors.New(err).
				Component("fetch").
				Category(errors.CategoryFileIO).
				Build()
		}
		return false, nil
	}
	return true, nil
}

// downloadResumed appends the remote file to part starting at the current
// partial offset, using an HTTP Range request when bytes are present.
func (d *Downloader) downloadResumed(ctx context.Context, g Granule, part string) error {
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}
	if g.SizeBytes > 0 && offset >= g.SizeBytes {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Server honoured the range, keep appending.
	case http.StatusOK:
		// Full body; any partial bytes are stale.
		offset = 0
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	return out.Close()
}

// verifyChecksum compares the file's MD5 against the archive's expected
// value. An empty expected checksum passes; the archive does not always
// publish one.
func verifyChecksum(path, expected string) error {
	if expected == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != expected {
		return fmt.Errorf("md5 %s, expected %s", got, expected)
	}
	return nil
}
