package wim

import (
	"os"

	"github.com/rinb-project/winimg/internal/logger"
)

// TmpDir is a scoped scratch directory removed on Close, regardless of
// whether the caller's operation succeeded or failed.
type TmpDir struct {
	path string
}

// NewTmpDir creates a scratch directory under the OS temp root using
// pattern (an os.MkdirTemp pattern, e.g. "wim-rewrite-*").
func NewTmpDir(pattern string) (*TmpDir, error) {
	path, err := os.MkdirTemp("", pattern)
	if err != nil {
		return nil, err
	}
	return &TmpDir{path: path}, nil
}

// Path returns the directory's filesystem path.
func (t *TmpDir) Path() string {
	return t.path
}

// Close removes the directory and everything under it.
func (t *TmpDir) Close() error {
	if err := os.RemoveAll(t.path); err != nil {
		logger.Logger().Warnf("wim: failed to clean up tmpdir %s: %v", t.path, err)
		return err
	}
	return nil
}
