package wim

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rinb-project/winimg/internal/imgerr"
	"github.com/rinb-project/winimg/internal/logger"
)

// WinPEImage returns image index 2 and precondition-checks FLAGS/EDITIONID.
func (a *Archive) WinPEImage() (Image, error) {
	img, err := a.Image(2)
	if err != nil {
		return Image{}, err
	}
	if verr := imgerr.ExpectEqual(2, "FLAGS", "9", img.Property("FLAGS")); verr != nil {
		return Image{}, verr
	}
	if verr := imgerr.ExpectEqual(2, "WINDOWS/EDITIONID", "WindowsPE", img.Property("WINDOWS/EDITIONID")); verr != nil {
		return Image{}, verr
	}
	return img, nil
}

// SetupImage returns image index 3 and precondition-checks FLAGS/EDITIONID.
func (a *Archive) SetupImage() (Image, error) {
	img, err := a.Image(3)
	if err != nil {
		return Image{}, err
	}
	if verr := imgerr.ExpectEqual(3, "FLAGS", "2", img.Property("FLAGS")); verr != nil {
		return Image{}, verr
	}
	if verr := imgerr.ExpectEqual(3, "WINDOWS/EDITIONID", "WindowsPE", img.Property("WINDOWS/EDITIONID")); verr != nil {
		return Image{}, verr
	}
	return img, nil
}

// InstallImage scans indices 4..N for the unique image whose EDITIONID
// equals edition.
func (a *Archive) InstallImage(edition string) (Image, error) {
	var matches []Image
	for _, img := range a.installCandidates() {
		if strings.EqualFold(img.Property("WINDOWS/EDITIONID"), edition) {
			matches = append(matches, img)
		}
	}
	switch len(matches) {
	case 0:
		return Image{}, &imgerr.InstallEditionNotFoundError{Edition: edition}
	case 1:
		return matches[0], nil
	default:
		indices := make([]int, len(matches))
		for i, m := range matches {
			indices[i] = m.Index
		}
		return Image{}, &imgerr.MultipleInstallEditionsError{Edition: edition, Indices: indices}
	}
}

func imageSourceFrom(img Image, boot bool) ImageSource {
	return ImageSource{
		Index:      img.Index,
		Properties: img.Properties,
		Boot:       boot,
		Open: func() (io.ReadCloser, error) {
			r, err := img.Reader()
			if err != nil {
				return nil, err
			}
			return io.NopCloser(r), nil
		},
	}
}

// BuildBootWimSources assembles the ImageSource list for boot.wim: the
// Setup image always, the WinPE image only when includeWinPE is set.
func BuildBootWimSources(src *Archive, includeWinPE bool) ([]ImageSource, error) {
	var sources []ImageSource
	if includeWinPE {
		winpe, err := src.WinPEImage()
		if err != nil {
			return nil, err
		}
		sources = append(sources, imageSourceFrom(winpe, true))
	}
	setup, err := src.SetupImage()
	if err != nil {
		return nil, err
	}
	sources = append(sources, imageSourceFrom(setup, true))
	return sources, nil
}

// WriteWithSplit writes sources to path as a solid archive (the writer's
// default, matching a genuine ESD/WIM export), then, if the result exceeds
// maxFileSizeBytes, rewrites it to a temporary non-solid copy and splits
// that copy into "{path-stem}.swm", "{path-stem}2.swm" ... shards sized at
// 90% of maxFileSizeBytes, deleting the oversized original and the
// temporary non-solid copy on every exit path.
func WriteWithSplit(sources []ImageSource, path string, maxFileSizeBytes int64, compressor CompressorKind, nThreads int) ([]string, error) {
	log := logger.Logger()

	if err := Write(sources, path, WriteOptions{ChunkSize: 0, Compressor: compressor, NThreads: nThreads}); err != nil {
		return nil, fmt.Errorf("wim: write %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("wim: stat %s: %w", path, err)
	}
	if info.Size() <= maxFileSizeBytes {
		return nil, nil
	}

	log.Infof("wim: %s (%d bytes) exceeds max size %d, rewriting non-solid for split", path, info.Size(), maxFileSizeBytes)

	tmp, err := NewTmpDir("wim-rewrite-*")
	if err != nil {
		return nil, fmt.Errorf("wim: create rewrite tmpdir: %w", err)
	}
	defer tmp.Close()

	nonSolidPath := filepath.Join(tmp.Path(), filepath.Base(path)+".nonsolid")
	if err := rewriteNonSolid(path, nonSolidPath, compressor, nThreads); err != nil {
		return nil, err
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("wim: remove oversized %s: %w", path, err)
	}

	shardSize := int64(float64(maxFileSizeBytes) * 0.9)
	shardPaths, err := Split(nonSolidPath, shardSize)
	if err != nil {
		return nil, fmt.Errorf("wim: split %s: %w", nonSolidPath, err)
	}

	return relocateShards(shardPaths, path)
}

func rewriteNonSolid(srcPath, dstPath string, compressor CompressorKind, nThreads int) error {
	arch, err := Open(srcPath)
	if err != nil {
		return fmt.Errorf("wim: reopen %s for non-solid rewrite: %w", srcPath, err)
	}
	defer arch.Close()

	var sources []ImageSource
	for _, img := range arch.Images() {
		img := img
		sources = append(sources, imageSourceFrom(img, img.Boot))
	}

	if err := Write(sources, dstPath, WriteOptions{ChunkSize: DefaultChunkSize, Compressor: compressor, NThreads: nThreads}); err != nil {
		return fmt.Errorf("wim: rewrite %s non-solid: %w", dstPath, err)
	}
	return nil
}

// ExtractBaseImage streams the base image's content into destDir. The base
// image's content is a tar stream of the install media file tree (this
// pipeline's own convention for what a genuine WIM library's directory
// extraction produces), mirroring a base_image.extract(target_dir, ...) step.
func ExtractBaseImage(img Image, destDir string) error {
	log := logger.Logger()

	r, err := img.Reader()
	if err != nil {
		return fmt.Errorf("wim: open base image reader: %w", err)
	}

	tr := tar.NewReader(r)
	var count int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("wim: read base image tar entry: %w", err)
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("wim: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("wim: mkdir %s: %w", filepath.Dir(target), err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("wim: create %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("wim: write %s: %w", target, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("wim: close %s: %w", target, err)
			}
		default:
			// Symlinks and other entry kinds are not expected on this
			// pipeline's base image and are skipped rather than failing the
			// whole extraction.
			continue
		}
		count++
	}

	log.Infof("wim: extracted base image into %s (%d entries)", destDir, count)
	return nil
}

// relocateShards renames Split's output (named after the temporary
// non-solid file) to the shard names the caller actually expects, derived
// from the original (pre-rewrite) path.
func relocateShards(shardPaths []string, originalPath string) ([]string, error) {
	base := strings.TrimSuffix(originalPath, filepath.Ext(originalPath))
	final := make([]string, 0, len(shardPaths))
	for i, sp := range shardPaths {
		var dst string
		if i == 0 {
			dst = base + ".swm"
		} else {
			dst = fmt.Sprintf("%s%d.swm", base, i+1)
		}
		if err := os.Rename(sp, dst); err != nil {
			return nil, fmt.Errorf("wim: relocate shard %s -> %s: %w", sp, dst, err)
		}
		final = append(final, dst)
	}
	return final, nil
}
