package wim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rinb-project/winimg/internal/logger"
)

// Split breaks a non-solid archive at path into shards no larger than
// shardSizeBytes of compressed chunk data each, named "{basename}.swm",
// "{basename}2.swm", "{basename}3.swm" ... It refuses
// to operate on a solid archive (the WIM splitter cannot split solid
// archives), returning an error that instructs the caller to rewrite as
// non-solid first.
func Split(path string, shardSizeBytes int64) ([]string, error) {
	log := logger.Logger()

	a, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("wim: split: %w", err)
	}
	defer a.Close()

	if a.Solid() {
		return nil, fmt.Errorf("wim: cannot split a solid archive %s; rewrite as non-solid first", path)
	}
	if shardSizeBytes <= 0 {
		return nil, fmt.Errorf("wim: split: shard size must be positive")
	}

	type placedChunk struct {
		imageIdx int
		chunkIdx int
		raw      []byte // the original compressed bytes, copied as-is
	}

	var flat []placedChunk
	for imgIdx, img := range a.meta.Images {
		for chunkIdx, c := range img.Chunks {
			off, err := decodeOffset(c.Offset)
			if err != nil {
				return nil, fmt.Errorf("wim: split: decode offset: %w", err)
			}
			buf := make([]byte, c.CompLen)
			if _, err := a.files[0].ReadAt(buf, int64(off)); err != nil {
				return nil, fmt.Errorf("wim: split: read chunk: %w", err)
			}
			flat = append(flat, placedChunk{imageIdx: imgIdx, chunkIdx: chunkIdx, raw: buf})
		}
	}

	base := splitBasename(path)

	var shardPaths []string
	shardNum := 0
	var shardBudget int64
	// shardMetas[s][imgIdx] holds the ordered list of chunkMeta assigned to
	// shard s for image imgIdx, mirroring the global image directory.
	shardMetas := [][]imageMeta{}
	shardBlobs := [][][]byte{} // parallel: per shard, flat list of chunk bytes in write order

	newShard := func() {
		shardNum++
		shardBudget = shardSizeBytes
		metas := make([]imageMeta, len(a.meta.Images))
		for i, im := range a.meta.Images {
			metas[i] = imageMeta{Index: im.Index, Properties: im.Properties, Boot: im.Boot}
		}
		shardMetas = append(shardMetas, metas)
		shardBlobs = append(shardBlobs, nil)
	}
	newShard()

	for _, pc := range flat {
		if int64(len(pc.raw)) > shardBudget && shardBudget != shardSizeBytes {
			newShard()
		}
		s := shardNum - 1
		origChunk := a.meta.Images[pc.imageIdx].Chunks[pc.chunkIdx]
		shardMetas[s][pc.imageIdx].Chunks = append(shardMetas[s][pc.imageIdx].Chunks, chunkMeta{
			Shard:   s,
			CompLen: origChunk.CompLen,
			RawLen:  origChunk.RawLen,
		})
		shardBlobs[s] = append(shardBlobs[s], pc.raw)
		shardBudget -= int64(len(pc.raw))
	}

	for s := 0; s < shardNum; s++ {
		var shardPath string
		if s == 0 {
			shardPath = base + ".swm"
		} else {
			shardPath = fmt.Sprintf("%s%d.swm", base, s+1)
		}
		if err := writeShard(shardPath, a.meta.Compressor, shardMetas[s], shardBlobs[s]); err != nil {
			return nil, err
		}
		shardPaths = append(shardPaths, shardPath)
	}

	log.Infof("wim: split %s into %d shard(s)", path, len(shardPaths))
	return shardPaths, nil
}

func splitBasename(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

func writeShard(path string, compressor CompressorKind, images []imageMeta, blobs [][]byte) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wim: create shard %s: %w", path, err)
	}
	defer out.Close()

	meta := archiveMeta{Solid: false, Compressor: compressor, Images: images}
	for i := range meta.Images {
		for ci := range meta.Images[i].Chunks {
			meta.Images[i].Chunks[ci].Offset = encodeOffset(0) // placeholder, fixed width
		}
	}
	headerLen, err := writeContainerHeader(discardWriter{}, meta)
	if err != nil {
		return err
	}

	offset := uint64(headerLen)
	for i := range meta.Images {
		for ci := range meta.Images[i].Chunks {
			meta.Images[i].Chunks[ci].Offset = encodeOffset(offset)
			offset += uint64(meta.Images[i].Chunks[ci].CompLen)
		}
	}

	if _, err := writeContainerHeader(out, meta); err != nil {
		return err
	}
	for _, b := range blobs {
		if _, err := out.Write(b); err != nil {
			return fmt.Errorf("wim: write shard %s data: %w", path, err)
		}
	}
	return nil
}
