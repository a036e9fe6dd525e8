// Package catalog resolves a Config selector against the Microsoft ESD
// catalog and maintains the content-addressed local cache of downloaded
// ESD files.
package catalog

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rinb-project/winimg/internal/config"
	"github.com/rinb-project/winimg/internal/imgerr"
	"github.com/rinb-project/winimg/internal/logger"
	"github.com/rinb-project/winimg/internal/netutil"
)

// FileInfo is one entry from the catalog.
type FileInfo struct {
	FileName     string
	LanguageCode string
	Language     string
	Edition      string
	Architecture string
	Size         int64
	SHA1         string
	FilePath     string
}

// productsXML mirrors the subset of Microsoft's products.xml this pipeline
// reads. encoding/xml is used directly (stdlib): no third-party XML parser
// appears anywhere in the retrieved reference pack, so there is no ecosystem
// convention to follow here.
type productsXML struct {
	XMLName xml.Name `xml:"MCT"`
	Files   struct {
		File []struct {
			FileName     string `xml:"FileName"`
			LanguageCode string `xml:"LanguageCode"`
			Language     string `xml:"Language"`
			Edition      string `xml:"Edition"`
			Architecture string `xml:"Architecture"`
			Size         string `xml:"Size"`
			SHA1         string `xml:"Sha1"`
			FilePath     string `xml:"FilePath"`
		} `xml:"File"`
	} `xml:"Files"`
}

// EndpointFor returns the catalog CAB URL for a Windows major version. The
// concrete remote endpoint is an external contract; this
// default is overridable by tests and by callers with a pinned mirror.
func EndpointFor(version string) string {
	return "https://catalog.example.invalid/windows/" + version + "/products.cab"
}

// Fetch downloads the CAB at endpoint, extracts products.xml, and projects
// every <File> node into a FileInfo.
func Fetch(endpoint, version string) ([]FileInfo, error) {
	log := logger.Logger()

	client := netutil.NewSecureHTTPClient()
	resp, err := client.Get(endpoint)
	if err != nil {
		return nil, &imgerr.CatalogError{Version: version, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &imgerr.CatalogError{Version: version, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	cabBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &imgerr.CatalogError{Version: version, Err: fmt.Errorf("read cab body: %w", err)}
	}

	name, xmlBytes, err := extractCabFile(cabBytes)
	if err != nil {
		return nil, &imgerr.CatalogError{Version: version, Err: err}
	}
	log.Debugf("catalog: extracted %s (%d bytes) from %s", name, len(xmlBytes), endpoint)

	var doc productsXML
	if err := xml.Unmarshal(xmlBytes, &doc); err != nil {
		return nil, &imgerr.CatalogError{Version: version, Err: fmt.Errorf("parse products.xml: %w", err)}
	}

	out := make([]FileInfo, 0, len(doc.Files.File))
	for _, f := range doc.Files.File {
		size, err := strconv.ParseInt(strings.TrimSpace(f.Size), 10, 64)
		if err != nil {
			return nil, &imgerr.CatalogError{Version: version, Err: fmt.Errorf("file %s: bad size %q: %w", f.FileName, f.Size, err)}
		}
		out = append(out, FileInfo{
			FileName:     f.FileName,
			LanguageCode: f.LanguageCode,
			Language:     f.Language,
			Edition:      f.Edition,
			Architecture: f.Architecture,
			Size:         size,
			SHA1:         strings.ToLower(strings.TrimSpace(f.SHA1)),
			FilePath:     f.FilePath,
		})
	}
	return out, nil
}

// archOnWire maps a config.Arch to the catalog's on-the-wire architecture
// token ("x64|arm64|x86").
func archOnWire(a config.Arch) string {
	switch a {
	case config.ArchAMD64:
		return "x64"
	case config.ArchARM64:
		return "arm64"
	case config.ArchX86:
		return "x86"
	default:
		return string(a)
	}
}

// Resolve filters files by lang/edition/arch (case-insensitive) and returns
// the unique match, or a typed NoMatch/Ambiguous error.
func Resolve(files []FileInfo, lang, edition string, arch config.Arch) (FileInfo, error) {
	wire := archOnWire(arch)

	var matches []FileInfo
	for _, f := range files {
		if strings.EqualFold(f.LanguageCode, lang) &&
			strings.EqualFold(f.Edition, edition) &&
			strings.EqualFold(f.Architecture, wire) {
			matches = append(matches, f)
		}
	}

	switch len(matches) {
	case 0:
		return FileInfo{}, &imgerr.NoMatchError{Lang: lang, Edition: edition, Arch: wire}
	case 1:
		return matches[0], nil
	default:
		return FileInfo{}, &imgerr.AmbiguousError{Lang: lang, Edition: edition, Arch: wire, Count: len(matches)}
	}
}

// ReconcilePin asserts that a pinned (sha1, size) pair agrees with a
// resolved catalog FileInfo, per the pin reconciliation rule.
func ReconcilePin(resolved FileInfo, pinnedSHA1 string, pinnedSize int64) error {
	if !strings.EqualFold(resolved.SHA1, pinnedSHA1) || resolved.Size != pinnedSize {
		return &imgerr.PinConflictError{
			PinnedSHA1:  pinnedSHA1,
			PinnedSize:  pinnedSize,
			CatalogSHA1: resolved.SHA1,
			CatalogSize: resolved.Size,
		}
	}
	return nil
}
