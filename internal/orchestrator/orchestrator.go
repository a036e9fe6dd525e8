// Package orchestrator sequences the end-to-end build: resolve config,
// fetch/cache the matching ESD, rewrite its WIM images into boot.wim and
// install.esd plus an extracted base media tree, then pack the result into
// the requested output container. It is the Go analogue of main.rs's top
// level flow.
package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rinb-project/winimg/internal/catalog"
	"github.com/rinb-project/winimg/internal/config"
	"github.com/rinb-project/winimg/internal/diskio"
	"github.com/rinb-project/winimg/internal/fatpop"
	"github.com/rinb-project/winimg/internal/isopack"
	"github.com/rinb-project/winimg/internal/layout"
	"github.com/rinb-project/winimg/internal/logger"
	"github.com/rinb-project/winimg/internal/wim"
)

// OutType selects the output container the orchestrator produces.
type OutType string

const (
	ISO OutType = "iso"
	VHD OutType = "vhd"
	IMG OutType = "img"
)

// ParseOutType parses the --type flag's value, case-insensitively.
func ParseOutType(s string) (OutType, error) {
	switch strings.ToLower(s) {
	case "iso":
		return ISO, nil
	case "vhd":
		return VHD, nil
	case "img":
		return IMG, nil
	default:
		return "", fmt.Errorf("orchestrator: unknown output type %q (want iso|vhd|img)", s)
	}
}

const (
	// defaultMaxFileSizeBytes bounds boot.wim/install.esd before the pipeline
	// falls back to a non-solid rewrite + split, matching the FAT32 4 GiB
	// single-file ceiling the non-solid split path rewrites against.
	defaultMaxFileSizeBytes = 4*1024*1024*1024 - 1
	// espSizeBytes is the size declared for the single Basic Data partition
	// before accounting for the actual media tree; grown to fit if needed.
	espSizeBytes        = 300 * 1024 * 1024
	partitionSizeMargin = 64 * 1024 * 1024

	// fatVolumeLabel and fatVolumeID are the fixed FAT32 boot-record
	// identity every built VHD/IMG carries; neither is configurable.
	fatVolumeLabel = "System     "
	fatVolumeID    = 0x12345678

	// isoVolumeLabel is the fixed ISO 9660 volume name every built ISO
	// carries; not configurable.
	isoVolumeLabel = "RINB"
)

// Options controls one end-to-end build, matching main.rs's Args.
type Options struct {
	// ConfigPath is the user-supplied config document path; its lock-file
	// sidecar (config.LockPath) is preferred automatically when present.
	ConfigPath string
	OutPath    string
	Type       OutType
	CachePath  string

	// IncludeWinPE decides whether boot.wim also carries the WinPE image
	// ahead of the Setup image, an open question left to the
	// implementer; defaults to false (Setup image only) when unset via Run.
	IncludeWinPE bool

	MaxFileSizeBytes int64
	Compressor       wim.CompressorKind
	NThreads         int

	// CatalogEndpoint overrides catalog.EndpointFor, for tests pointing at
	// a local fixture server instead of the real Microsoft endpoint.
	CatalogEndpoint func(version string) string
}

func (o Options) maxFileSizeBytes() int64 {
	if o.MaxFileSizeBytes > 0 {
		return o.MaxFileSizeBytes
	}
	return defaultMaxFileSizeBytes
}

func (o Options) endpoint(version string) string {
	if o.CatalogEndpoint != nil {
		return o.CatalogEndpoint(version)
	}
	return catalog.EndpointFor(version)
}

// Run executes the full pipeline described by opts.
func Run(opts Options) error {
	log := logger.Logger()
	start := time.Now()

	cfgPath := config.ResolvePath(opts.ConfigPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("orchestrator: load config: %w", err)
	}

	endpoint := opts.endpoint(cfg.Version)
	files, err := catalog.Fetch(endpoint, cfg.Version)
	if err != nil {
		return fmt.Errorf("orchestrator: fetch catalog: %w", err)
	}

	pinnedSHA1, hasPin := cfg.SHA1()
	pinnedSize, _ := cfg.Size()

	resolver := &catalog.Resolver{CacheDir: opts.CachePath}
	entry, err := resolver.Resolve(endpoint, cfg.Version, cfg.Lang, cfg.Edition, string(cfg.Arch), files, pinnedSHA1, pinnedSize, hasPin)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve esd: %w", err)
	}

	if err := config.WriteLock(opts.ConfigPath, *cfg, entry.URL, entry.SHA1Size); err != nil {
		return fmt.Errorf("orchestrator: write lock: %w", err)
	}

	tmp, err := wim.NewTmpDir("winimg-build-*")
	if err != nil {
		return fmt.Errorf("orchestrator: create staging dir: %w", err)
	}
	defer tmp.Close()

	stagingDir := tmp.Path()
	if err := buildInstallDir(entry, cfg, stagingDir, opts); err != nil {
		return err
	}

	if err := pack(stagingDir, opts); err != nil {
		return err
	}

	log.Infof("orchestrator: built %s (%s) in %s", opts.OutPath, opts.Type, time.Since(start).Round(time.Millisecond))
	return nil
}

// buildInstallDir writes sources/boot.wim, sources/install.esd, and the
// extracted base image tree into stagingDir, the Go analogue of esd.rs's
// EsdFile::install_dir.
func buildInstallDir(entry catalog.CacheEntry, cfg *config.Config, stagingDir string, opts Options) error {
	archive, err := wim.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("orchestrator: open %s: %w", entry.Path, err)
	}
	defer archive.Close()

	sourcesDir := filepath.Join(stagingDir, "sources")
	if err := os.MkdirAll(sourcesDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: mkdir %s: %w", sourcesDir, err)
	}

	bootSources, err := wim.BuildBootWimSources(archive, opts.IncludeWinPE)
	if err != nil {
		return fmt.Errorf("orchestrator: build boot.wim sources: %w", err)
	}
	if _, err := wim.WriteWithSplit(bootSources, filepath.Join(sourcesDir, "boot.wim"), opts.maxFileSizeBytes(), opts.Compressor, opts.NThreads); err != nil {
		return fmt.Errorf("orchestrator: write boot.wim: %w", err)
	}

	installImg, err := archive.InstallImage(cfg.Edition)
	if err != nil {
		return fmt.Errorf("orchestrator: select install image: %w", err)
	}
	installSource := wim.ImageSource{
		Index:      installImg.Index,
		Properties: installImg.Properties,
		Boot:       false,
		Open: func() (io.ReadCloser, error) {
			r, err := installImg.Reader()
			if err != nil {
				return nil, err
			}
			return io.NopCloser(r), nil
		},
	}
	if _, err := wim.WriteWithSplit([]wim.ImageSource{installSource}, filepath.Join(sourcesDir, "install.esd"), opts.maxFileSizeBytes(), opts.Compressor, opts.NThreads); err != nil {
		return fmt.Errorf("orchestrator: write install.esd: %w", err)
	}

	base, err := archive.BaseImage()
	if err != nil {
		return fmt.Errorf("orchestrator: select base image: %w", err)
	}
	if err := wim.ExtractBaseImage(base, stagingDir); err != nil {
		return fmt.Errorf("orchestrator: extract base image: %w", err)
	}

	return nil
}

// pack dispatches stagingDir to the output backend opts.Type selects.
func pack(stagingDir string, opts Options) error {
	switch opts.Type {
	case ISO:
		return isopack.Pack(stagingDir, opts.OutPath, isopack.Options{VolumeLabel: isoVolumeLabel})
	case VHD:
		if err := packDisk(stagingDir, opts.OutPath); err != nil {
			return err
		}
		if err := diskio.StampFixedVHDFooter(opts.OutPath); err != nil {
			return err
		}
		c, err := diskio.OpenFixedVHD(opts.OutPath)
		if err != nil {
			return fmt.Errorf("orchestrator: reopen %s for verification: %w", opts.OutPath, err)
		}
		defer c.Close()
		return diskio.VerifyBootSignature(c)
	case IMG:
		if err := packDisk(stagingDir, opts.OutPath); err != nil {
			return err
		}
		c, err := diskio.OpenRawTarget(opts.OutPath)
		if err != nil {
			return fmt.Errorf("orchestrator: reopen %s for verification: %w", opts.OutPath, err)
		}
		defer c.Close()
		return diskio.VerifyBootSignature(c)
	default:
		return fmt.Errorf("orchestrator: unknown output type %q", opts.Type)
	}
}

// packDisk writes a GPT + protective-MBR disk image at outPath holding one
// Basic Data partition formatted FAT32 and populated from stagingDir, per
// this pipeline's single-partition policy: the partition is declared with
// the Basic Data type GUID (not ESP) because Windows Setup was found to
// hide an ESP-typed partition and fail to locate Setup.exe.
func packDisk(stagingDir, outPath string) error {
	estimated, err := fatpop.EstimateSize(stagingDir)
	if err != nil {
		return fmt.Errorf("orchestrator: estimate fat32 size: %w", err)
	}
	size := estimated + partitionSizeMargin
	if size < espSizeBytes {
		size = espSizeBytes
	}

	l := layout.New()
	l.Declare("efi", layout.TypeMicrosoftBasicData, size, 0)
	if err := l.Commit(outPath); err != nil {
		return fmt.Errorf("orchestrator: commit layout %s: %w", outPath, err)
	}

	d, err := layout.Disk(outPath)
	if err != nil {
		return fmt.Errorf("orchestrator: reopen %s: %w", outPath, err)
	}
	defer d.Close()

	fs, err := fatpop.Format(d, 1, fatVolumeLabel)
	if err != nil {
		return fmt.Errorf("orchestrator: format partition: %w", err)
	}
	// go-diskfs's FAT32 FilesystemSpec exposes no volume-id field; it
	// assigns its own serial number at format time instead of fatVolumeID.
	logger.Logger().Debugf("orchestrator: fat32 volume id left at go-diskfs default (spec fixes %#08x)", fatVolumeID)
	if err := fatpop.Populate(fs, stagingDir); err != nil {
		return fmt.Errorf("orchestrator: populate partition: %w", err)
	}
	return nil
}
