// Package verify implements the streaming verified-read primitive shared by
// the cache's download path and its re-verification-on-reuse path.
package verify

import (
	"crypto/sha1" //nolint:gosec // content verification against Microsoft-published SHA-1, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/rinb-project/winimg/internal/imgerr"
	"github.com/rinb-project/winimg/internal/logger"
)

const (
	bufferSize          = 256 * 1024
	progressRefreshSize = 16 * 1024 * 1024
)

// Result carries the outcome of a verified stream: bytes actually consumed
// and the lowercase hex SHA-1 over them.
type Result struct {
	BytesRead int64
	SHA1Hex   string
}

// Stream reads r to completion, optionally tees every byte to sinkPath,
// computes a running SHA-1, and reports progress under label. When done it
// compares the byte count and hash against expectedSize/expectedSHA1Hex
// (case-insensitive); either mismatch returns a typed error. A zero
// expectedSize skips the size check (used when the caller does not know the
// length in advance).
func Stream(r io.Reader, sinkPath string, expectedSize int64, expectedSHA1Hex, label string) (Result, error) {
	log := logger.Logger()

	var sink *os.File
	if sinkPath != "" {
		f, err := os.Create(sinkPath)
		if err != nil {
			return Result{}, fmt.Errorf("verify: create sink %s: %w", sinkPath, err)
		}
		sink = f
		defer sink.Close()
	}

	hasher := sha1.New() //nolint:gosec
	buf := make([]byte, bufferSize)

	var bar *progressbar.ProgressBar
	if expectedSize > 0 {
		bar = progressbar.DefaultBytes(expectedSize, label)
	}

	var total int64
	var sinceProgress int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := hasher.Write(chunk); err != nil {
				return Result{}, fmt.Errorf("verify: hash write: %w", err)
			}
			if sink != nil {
				if _, err := sink.Write(chunk); err != nil {
					return Result{}, fmt.Errorf("verify: sink write: %w", err)
				}
			}
			total += int64(n)
			sinceProgress += int64(n)
			if bar != nil && sinceProgress >= progressRefreshSize {
				_ = bar.Add64(sinceProgress)
				sinceProgress = 0
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, fmt.Errorf("verify: read %s: %w", label, rerr)
		}
	}
	if bar != nil {
		_ = bar.Add64(sinceProgress)
		_ = bar.Finish()
	}

	if sink != nil {
		if err := sink.Sync(); err != nil {
			return Result{}, fmt.Errorf("verify: flush sink %s: %w", sinkPath, err)
		}
	}

	if expectedSize > 0 && total != expectedSize {
		return Result{BytesRead: total}, &imgerr.SizeMismatchError{Expected: expectedSize, Actual: total}
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if expectedSHA1Hex != "" && !strings.EqualFold(actual, expectedSHA1Hex) {
		return Result{BytesRead: total, SHA1Hex: actual}, &imgerr.HashMismatchError{Expected: expectedSHA1Hex, Actual: actual}
	}

	log.Debugf("verify: %s: %d bytes, sha1=%s", label, total, actual)
	return Result{BytesRead: total, SHA1Hex: actual}, nil
}

// VerifyFile re-runs Stream over an already-cached file with a nil sink, for
// the cache-hit re-verification path.
func VerifyFile(path string, expectedSize int64, expectedSHA1Hex string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("verify: open %s: %w", path, err)
	}
	defer f.Close()

	return Stream(f, "", expectedSize, expectedSHA1Hex, "verifying "+path)
}
