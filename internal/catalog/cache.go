package catalog

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rinb-project/winimg/internal/imgerr"
	"github.com/rinb-project/winimg/internal/logger"
	"github.com/rinb-project/winimg/internal/netutil"
	"github.com/rinb-project/winimg/internal/verify"
)

const (
	maxDownloadAttempts = 3
	initialRetryBackoff = 500 * time.Millisecond
)

// CacheEntry is a cached ESD on disk. Identity is the
// (sha1, size) pair; the filename is informative only.
type CacheEntry struct {
	Path     string
	SHA1     string
	Size     int64
	URL      string
	SHA1Size string // "{sha1}:{size}", the lock-file encoding
}

// cacheFileName builds the deterministic cache filename:
// {file_stem}-{lang}-{edition}-{arch}-{sha1}.esd
func cacheFileName(fi FileInfo, lang, edition, archOnWireStr string) string {
	stem := strings.TrimSuffix(filepath.Base(fi.FileName), filepath.Ext(fi.FileName))
	return fmt.Sprintf("%s-%s-%s-%s-%s.esd", stem, lang, edition, archOnWireStr, fi.SHA1)
}

// Resolver resolves a FileInfo from an already-fetched catalog file list,
// reconciles any pin, and returns a cached local copy, downloading on a
// miss.
type Resolver struct {
	CacheDir string
}

// Resolve runs selection, pin reconciliation and caching over files for one
// config selector.
func (r *Resolver) Resolve(endpoint, version, lang, edition string, archOnWireStr string, files []FileInfo, pinnedSHA1 string, pinnedSize int64, hasPin bool) (CacheEntry, error) {
	log := logger.Logger()

	matches := filterByWire(files, lang, edition, archOnWireStr)
	switch len(matches) {
	case 0:
		return CacheEntry{}, &imgerr.NoMatchError{Lang: lang, Edition: edition, Arch: archOnWireStr}
	case 1:
		// fallthrough below
	default:
		return CacheEntry{}, &imgerr.AmbiguousError{Lang: lang, Edition: edition, Arch: archOnWireStr, Count: len(matches)}
	}
	fi := matches[0]

	if hasPin {
		if err := ReconcilePin(fi, pinnedSHA1, pinnedSize); err != nil {
			return CacheEntry{}, err
		}
	}

	if err := os.MkdirAll(r.CacheDir, 0o755); err != nil {
		return CacheEntry{}, fmt.Errorf("catalog: mkdir cache dir %s: %w", r.CacheDir, err)
	}
	cachePath := filepath.Join(r.CacheDir, cacheFileName(fi, lang, edition, archOnWireStr))

	if hit, err := verifyCacheHit(cachePath, fi.Size, fi.SHA1); err != nil {
		return CacheEntry{}, err
	} else if hit {
		log.Infof("catalog: cache hit %s", cachePath)
	} else {
		log.Infof("catalog: cache miss, downloading %s -> %s", fi.FilePath, cachePath)
		if err := downloadToCache(fi, cachePath); err != nil {
			return CacheEntry{}, err
		}
	}

	return CacheEntry{
		Path:     cachePath,
		SHA1:     fi.SHA1,
		Size:     fi.Size,
		URL:      fi.FilePath,
		SHA1Size: fmt.Sprintf("%s:%d", fi.SHA1, fi.Size),
	}, nil
}

func filterByWire(files []FileInfo, lang, edition, archOnWireStr string) []FileInfo {
	var out []FileInfo
	for _, f := range files {
		if strings.EqualFold(f.LanguageCode, lang) &&
			strings.EqualFold(f.Edition, edition) &&
			strings.EqualFold(f.Architecture, archOnWireStr) {
			out = append(out, f)
		}
	}
	return out
}

// verifyCacheHit checks size cheaply first, then SHA-1 only if size
// matches; any divergence deletes the entry.
func verifyCacheHit(path string, expectedSize int64, expectedSHA1 string) (bool, error) {
	log := logger.Logger()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("catalog: stat cache %s: %w", path, err)
	}
	if info.Size() != expectedSize {
		log.Warnf("catalog: cache %s size mismatch (%d != %d), evicting", path, info.Size(), expectedSize)
		_ = os.Remove(path)
		return false, nil
	}

	if _, err := verify.VerifyFile(path, expectedSize, expectedSHA1); err != nil {
		log.Warnf("catalog: cache %s failed verification, evicting: %v", path, err)
		_ = os.Remove(path)
		return false, nil
	}
	return true, nil
}

// downloadToCache streams fi.FilePath directly into path using the verified
// download primitive, retrying transient HTTP failures, and deletes the
// partial file on any verification failure.
func downloadToCache(fi FileInfo, path string) error {
	log := logger.Logger()
	client := netutil.NewSecureHTTPClient()

	var lastErr error
	backoff := initialRetryBackoff

	for attempt := 1; attempt <= maxDownloadAttempts; attempt++ {
		resp, err := client.Get(fi.FilePath)
		if err != nil {
			lastErr = err
		} else {
			lastErr = func() error {
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("bad status: %s", resp.Status)
				}
				_, verr := verify.Stream(resp.Body, path, fi.Size, fi.SHA1, filepath.Base(path))
				return verr
			}()
			if lastErr == nil {
				return nil
			}
			if isVerificationError(lastErr) {
				_ = os.Remove(path)
				return lastErr
			}
			if resp != nil && !netutil.ShouldRetryStatus(resp.StatusCode) {
				_ = os.Remove(path)
				return lastErr
			}
		}

		if attempt == maxDownloadAttempts {
			break
		}
		log.Warnf("catalog: download attempt %d/%d failed for %s: %v; retrying in %s", attempt, maxDownloadAttempts, fi.FilePath, lastErr, backoff)
		time.Sleep(backoff)
		backoff *= 2
	}

	_ = os.Remove(path)
	return fmt.Errorf("catalog: download failed after %d attempts: %w", maxDownloadAttempts, lastErr)
}

func isVerificationError(err error) bool {
	switch err.(type) {
	case *imgerr.HashMismatchError, *imgerr.SizeMismatchError:
		return true
	default:
		return false
	}
}
