package wim

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/rinb-project/winimg/internal/logger"
)

const (
	// DefaultChunkSize is the 32 KiB chunk size of the non-solid rewrite
	// WriteWithSplit makes before splitting. The first write of every
	// archive, boot.wim's WinPE/Setup export included, is solid and does
	// not use it.
	DefaultChunkSize = 32 * 1024

	fallbackThreads = 8
)

// ImageSource is one image queued for export by Write: its properties and a
// factory for a fresh content reader (called once per write attempt).
type ImageSource struct {
	Index      int
	Properties map[string]string
	Boot       bool
	Open       func() (io.ReadCloser, error)
}

// WriteOptions controls Write's chunking/compression/concurrency policy.
type WriteOptions struct {
	// ChunkSize, when > 0, produces a non-solid archive chunked at this
	// size (splittable). Zero produces a solid archive: each image is
	// compressed as one continuous chunk, which Split refuses to operate
	// on, mirroring a genuine ESD's solid-WIM nature.
	ChunkSize int
	Compressor CompressorKind
	// NThreads is the worker count for parallel per-image compression.
	// Zero selects runtime.NumCPU(), falling back to 8, matching the
	// available_parallelism()-with-fallback policy.
	NThreads int
}

func resolveThreads(n int) int {
	if n > 0 {
		return n
	}
	if cpu := runtime.NumCPU(); cpu > 0 {
		return cpu
	}
	return fallbackThreads
}

type compiledImage struct {
	meta  imageMeta
	blobs [][]byte
	err   error
}

// Write exports every source in images to a new archive at path using
// opts.NThreads worker goroutines, one per image, and returns once the
// archive is fully committed to disk.
func Write(images []ImageSource, path string, opts WriteOptions) error {
	log := logger.Logger()
	nThreads := resolveThreads(opts.NThreads)
	log.Debugf("wim: writing %s with %d images, %d threads, chunkSize=%d, compressor=%s",
		path, len(images), nThreads, opts.ChunkSize, opts.Compressor)

	results := make([]compiledImage, len(images))
	jobs := make(chan int, len(images))
	var wg sync.WaitGroup

	for w := 0; w < nThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				meta, blobs, err := compileImage(images[i], opts)
				results[i] = compiledImage{meta: meta, blobs: blobs, err: err}
			}
		}()
	}
	for i := range images {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return fmt.Errorf("wim: compile image: %w", r.err)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wim: create %s: %w", path, err)
	}
	defer out.Close()

	meta := archiveMeta{
		Solid:      opts.ChunkSize <= 0,
		Compressor: opts.Compressor,
		Images:     make([]imageMeta, len(results)),
	}
	for i, r := range results {
		m := r.meta
		m.Chunks = append([]chunkMeta(nil), m.Chunks...)
		for ci := range m.Chunks {
			m.Chunks[ci].Offset = encodeOffset(0) // placeholder, fixed width
		}
		meta.Images[i] = m
	}

	headerLen, err := measureHeaderLen(meta)
	if err != nil {
		return err
	}

	offset := uint64(headerLen)
	for i, r := range results {
		for ci := range meta.Images[i].Chunks {
			meta.Images[i].Chunks[ci].Offset = encodeOffset(offset)
			offset += uint64(len(r.blobs[ci]))
		}
	}

	if _, err := writeContainerHeader(out, meta); err != nil {
		return err
	}
	for _, r := range results {
		for _, b := range r.blobs {
			if _, err := out.Write(b); err != nil {
				return fmt.Errorf("wim: write chunk data: %w", err)
			}
		}
	}

	log.Infof("wim: wrote %s (%d images)", path, len(images))
	return nil
}

// measureHeaderLen serializes meta (with all offsets already at the fixed
// placeholder width) to learn the exact header byte length the real write
// will occupy.
func measureHeaderLen(meta archiveMeta) (int64, error) {
	return writeContainerHeader(discardWriter{}, meta)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func compileImage(src ImageSource, opts WriteOptions) (imageMeta, [][]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return imageMeta{}, nil, err
	}
	defer rc.Close()

	chunkSize := opts.ChunkSize
	var chunks []chunkMeta
	var blobs [][]byte

	if chunkSize <= 0 {
		raw, err := io.ReadAll(rc)
		if err != nil {
			return imageMeta{}, nil, fmt.Errorf("read image %d: %w", src.Index, err)
		}
		compressed, err := compressChunk(opts.Compressor, raw)
		if err != nil {
			return imageMeta{}, nil, err
		}
		chunks = append(chunks, chunkMeta{CompLen: uint32(len(compressed)), RawLen: uint32(len(raw))})
		blobs = append(blobs, compressed)
	} else {
		buf := make([]byte, chunkSize)
		for {
			n, rerr := io.ReadFull(rc, buf)
			if n > 0 {
				compressed, err := compressChunk(opts.Compressor, buf[:n])
				if err != nil {
					return imageMeta{}, nil, err
				}
				chunks = append(chunks, chunkMeta{CompLen: uint32(len(compressed)), RawLen: uint32(n)})
				blobs = append(blobs, compressed)
			}
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			if rerr != nil {
				return imageMeta{}, nil, fmt.Errorf("read image %d: %w", src.Index, rerr)
			}
		}
	}

	return imageMeta{Index: src.Index, Properties: src.Properties, Chunks: chunks, Boot: src.Boot}, blobs, nil
}
