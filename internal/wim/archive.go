package wim

import (
	"fmt"
	"os"

	"github.com/rinb-project/winimg/internal/imgerr"
)

// Image is an opaque handle to one indexed image within an Archive
// (ordered, 1-indexed, NAME/DESCRIPTION/WINDOWS/EDITIONID/FLAGS
// properties).
type Image struct {
	Index      int
	Properties map[string]string
	Boot       bool

	archive *Archive
	meta    imageMeta
}

// Property looks up a property by name, defaulting to "".
func (img Image) Property(name string) string {
	return img.Properties[name]
}

// Reader returns a reader over the image's decompressed content. When the
// image's chunks span multiple shards (a split archive opened with
// OpenSplit), every referenced shard must have been supplied to OpenSplit.
func (img Image) Reader() (*imageReader, error) {
	return newImageReader(img.archive.files, img.archive.meta.Compressor, img.meta.Chunks)
}

// Archive is a read-only opened WIM-contract container.
// It may be backed by a single file or, for a split archive, the ordered
// list of .swm shard files.
type Archive struct {
	paths []string
	files []*os.File
	meta  archiveMeta
}

// Open opens path read-only and parses its image directory.
func Open(path string) (*Archive, error) {
	return OpenSplit([]string{path})
}

// OpenSplit opens an archive whose chunk data is spread across the given
// shard paths, in the same order Split returned them. The image directory
// is read from the first shard; each later shard's header adds the chunks
// that shard holds, in order.
func OpenSplit(paths []string) (*Archive, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("wim: OpenSplit requires at least one path")
	}
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("wim: open %s: %w", p, err)
		}
		files = append(files, f)
	}
	meta, _, err := readContainerHeader(files[0])
	if err != nil {
		closeAll(files)
		return nil, fmt.Errorf("wim: open %s: %w", paths[0], err)
	}
	for k := 1; k < len(files); k++ {
		sm, _, err := readContainerHeader(files[k])
		if err != nil {
			closeAll(files)
			return nil, fmt.Errorf("wim: open %s: %w", paths[k], err)
		}
		for i := range sm.Images {
			if i < len(meta.Images) {
				meta.Images[i].Chunks = append(meta.Images[i].Chunks, sm.Images[i].Chunks...)
			}
		}
	}
	return &Archive{paths: paths, files: files, meta: meta}, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// Close releases every underlying file handle.
func (a *Archive) Close() error {
	var firstErr error
	for _, f := range a.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NumImages returns the number of images held by the archive.
func (a *Archive) NumImages() int {
	return len(a.meta.Images)
}

// Image returns the 1-indexed image at index.
func (a *Archive) Image(index int) (Image, error) {
	for _, m := range a.meta.Images {
		if m.Index == index {
			return Image{Index: m.Index, Properties: m.Properties, Boot: m.Boot, archive: a, meta: m}, nil
		}
	}
	return Image{}, fmt.Errorf("wim: no image at index %d", index)
}

// Images returns every image in the archive, in index order.
func (a *Archive) Images() []Image {
	out := make([]Image, 0, len(a.meta.Images))
	for _, m := range a.meta.Images {
		out = append(out, Image{Index: m.Index, Properties: m.Properties, Boot: m.Boot, archive: a, meta: m})
	}
	return out
}

// Solid reports whether the archive was written as a single continuous
// compressed stream (as a genuine Microsoft ESD always is), which the
// splitter (Split) refuses to operate on.
func (a *Archive) Solid() bool {
	return a.meta.Solid
}

// BaseImage returns image index 1 and precondition-checks its NAME.
func (a *Archive) BaseImage() (Image, error) {
	img, err := a.Image(1)
	if err != nil {
		return Image{}, err
	}
	if verr := imgerr.ExpectEqual(1, "NAME", "Windows Setup Media", img.Property("NAME")); verr != nil {
		return Image{}, verr
	}
	return img, nil
}

// installCandidates scans indices 4..N for images, used by the pipeline's
// InstallImage selector.
func (a *Archive) installCandidates() []Image {
	var out []Image
	for _, img := range a.Images() {
		if img.Index >= 4 {
			out = append(out, img)
		}
	}
	return out
}
