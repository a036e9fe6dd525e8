package wim

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Container magic. The WIM binary format's internals are explicitly out of
// scope (WIM is treated as an external library contract here); this
// package implements that contract's operations (indexed images with
// NAME/DESCRIPTION/EDITIONID/FLAGS, export, N-threaded write, split) over a
// deliberately simple container of our own, rather than Microsoft's wire
// format.
var magic = [8]byte{'R', 'I', 'M', 'G', 'W', 'I', 'M', '1'}

// chunkMeta describes one compressed chunk. Offset is encoded as a
// fixed-width zero-padded decimal string (not a bare JSON number) so that
// the header's serialized byte length is known before the real byte offsets
// are computed: every valid offset for archives up to 2^64-1 bytes encodes
// to exactly 20 digits, so substituting placeholder zeros and substituting
// final values never changes the header's length.
type chunkMeta struct {
	// Shard indexes into the ordered list of backing files an Archive was
	// opened with (OpenSplit); 0 for a non-split archive opened with Open.
	Shard   int    `json:"shard"`
	Offset  string `json:"offset"`
	CompLen uint32 `json:"compLen"`
	RawLen  uint32 `json:"rawLen"`
}

const offsetWidth = 20

func encodeOffset(v uint64) string {
	return fmt.Sprintf("%0*d", offsetWidth, v)
}

func decodeOffset(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

type imageMeta struct {
	Index      int               `json:"index"`
	Properties map[string]string `json:"properties"`
	Chunks     []chunkMeta       `json:"chunks"`
	Boot       bool              `json:"boot"`
}

type archiveMeta struct {
	Solid      bool           `json:"solid"`
	Compressor CompressorKind `json:"compressor"`
	Images     []imageMeta    `json:"images"`
}

// writeContainerHeader writes the 8-byte magic, a uint32 length-prefixed
// JSON metadata blob, and returns the byte offset where chunk data begins.
func writeContainerHeader(w io.Writer, meta archiveMeta) (int64, error) {
	if _, err := w.Write(magic[:]); err != nil {
		return 0, err
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("wim: marshal metadata: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(blob)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(blob); err != nil {
		return 0, err
	}
	return int64(8 + 4 + len(blob)), nil
}

func readContainerHeader(r io.ReaderAt) (archiveMeta, int64, error) {
	var got [8]byte
	if _, err := r.ReadAt(got[:], 0); err != nil {
		return archiveMeta{}, 0, fmt.Errorf("wim: read magic: %w", err)
	}
	if got != magic {
		return archiveMeta{}, 0, fmt.Errorf("wim: not a recognized archive (bad magic)")
	}
	var lenBuf [4]byte
	if _, err := r.ReadAt(lenBuf[:], 8); err != nil {
		return archiveMeta{}, 0, fmt.Errorf("wim: read metadata length: %w", err)
	}
	blobLen := binary.LittleEndian.Uint32(lenBuf[:])
	blob := make([]byte, blobLen)
	if _, err := r.ReadAt(blob, 12); err != nil {
		return archiveMeta{}, 0, fmt.Errorf("wim: read metadata: %w", err)
	}
	var meta archiveMeta
	if err := json.Unmarshal(blob, &meta); err != nil {
		return archiveMeta{}, 0, fmt.Errorf("wim: unmarshal metadata: %w", err)
	}
	return meta, int64(12 + blobLen), nil
}
