// Package imgerr defines the semantic error kinds raised across the pipeline
// so callers can errors.As against a stable set of types instead of matching
// strings.
package imgerr

import "fmt"

// ConfigError wraps an invalid or missing configuration key.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Msg)
}

// CatalogError wraps a catalog fetch/extract/parse failure.
type CatalogError struct {
	Version string
	Err     error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog: version %s: %v", e.Version, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// NoMatchError means the resolver found zero FileInfo entries for the given selectors.
type NoMatchError struct {
	Lang, Edition, Arch string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no catalog match for lang=%s edition=%s arch=%s", e.Lang, e.Edition, e.Arch)
}

// AmbiguousError means the resolver found more than one FileInfo for the given selectors.
type AmbiguousError struct {
	Lang, Edition, Arch string
	Count               int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous catalog match (%d entries) for lang=%s edition=%s arch=%s", e.Count, e.Lang, e.Edition, e.Arch)
}

// HashMismatchError is raised on either verify-cached or streamed download.
type HashMismatchError struct {
	Expected, Actual string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("sha1 mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// SizeMismatchError is the length-domain twin of HashMismatchError.
type SizeMismatchError struct {
	Expected, Actual int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// PinConflictError means a pinned sha1size disagreed with a catalog match.
type PinConflictError struct {
	PinnedSHA1  string
	PinnedSize  int64
	CatalogSHA1 string
	CatalogSize int64
}

func (e *PinConflictError) Error() string {
	return fmt.Sprintf("pin conflict: pinned %s:%d, catalog resolved %s:%d",
		e.PinnedSHA1, e.PinnedSize, e.CatalogSHA1, e.CatalogSize)
}

// WimLayoutError indicates the source archive has an image layout this
// pipeline does not understand (unexpected index/property combination).
type WimLayoutError struct {
	Index int
	Field string
	Want  string
	Got   string
}

func (e *WimLayoutError) Error() string {
	return fmt.Sprintf("wim layout: image %d: field %s: want %q, got %q", e.Index, e.Field, e.Want, e.Got)
}

// InstallEditionNotFoundError is recoverable: no install image matched the
// configured edition.
type InstallEditionNotFoundError struct {
	Edition string
}

func (e *InstallEditionNotFoundError) Error() string {
	return fmt.Sprintf("no install image found for edition %q", e.Edition)
}

// MultipleInstallEditionsError means more than one install image matched.
type MultipleInstallEditionsError struct {
	Edition string
	Indices []int
}

func (e *MultipleInstallEditionsError) Error() string {
	return fmt.Sprintf("multiple install images matched edition %q: indices %v", e.Edition, e.Indices)
}

// LayoutError means the GPT commit returned fewer partitions than declared.
type LayoutError struct {
	Want, Got int
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("layout: declared %d partitions, committed %d", e.Want, e.Got)
}

// ExpectEqual is the Go equivalent of the original pipeline's precondition
// helper: it returns a *WimLayoutError when a required image property does
// not match, instead of panicking.
func ExpectEqual(index int, field, want, got string) error {
	if want != got {
		return &WimLayoutError{Index: index, Field: field, Want: want, Got: got}
	}
	return nil
}
