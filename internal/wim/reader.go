package wim

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// imageReader sequentially decompresses an image's chunk list into a single
// byte stream, the read-side counterpart of the writer's "export image N"
// path. Chunks may reference different shard files when the archive was
// opened split.
type imageReader struct {
	files      []*os.File
	compressor CompressorKind
	chunks     []chunkMeta
	idx        int
	cur        *bytes.Reader
}

func newImageReader(files []*os.File, compressor CompressorKind, chunks []chunkMeta) (*imageReader, error) {
	return &imageReader{files: files, compressor: compressor, chunks: chunks}, nil
}

func (r *imageReader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil {
			n, err := r.cur.Read(p)
			if n > 0 {
				return n, nil
			}
			if err != nil && err != io.EOF {
				return 0, err
			}
			r.cur = nil
		}
		if r.idx >= len(r.chunks) {
			return 0, io.EOF
		}
		c := r.chunks[r.idx]
		r.idx++

		if c.Shard < 0 || c.Shard >= len(r.files) {
			return 0, fmt.Errorf("wim: chunk references shard %d, only %d open", c.Shard, len(r.files))
		}
		off, err := decodeOffset(c.Offset)
		if err != nil {
			return 0, fmt.Errorf("wim: decode chunk offset: %w", err)
		}
		compressed := make([]byte, c.CompLen)
		if _, err := r.files[c.Shard].ReadAt(compressed, int64(off)); err != nil {
			return 0, fmt.Errorf("wim: read chunk at shard %d offset %d: %w", c.Shard, off, err)
		}
		raw, err := decompressChunk(r.compressor, compressed, int(c.RawLen))
		if err != nil {
			return 0, err
		}
		r.cur = bytes.NewReader(raw)
	}
}
