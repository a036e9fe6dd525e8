package wim

import (
	"bytes"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/flate"
	"github.com/ulikunitz/xz"
)

// CompressorKind selects the per-chunk codec an archive's images use.
// Windows WIM archives choose among XPRESS/LZX/LZMS; this contract package
// does not reproduce those exact bitstreams (the WIM format's internals are
// out of scope), but offers one stand-in codec per historical WIM codec
// slot, each drawn from a library present in the reference pack.
type CompressorKind uint8

const (
	// LZX stands in for WIM's default LZX codec; backed by klauspost's
	// deflate, the highest-ratio pure-Go codec common to the pack that
	// needs no external C library.
	LZX CompressorKind = iota
	// XPRESS stands in for WIM's fast/low-ratio codec; backed by DataDog's
	// libzstd binding at its fastest level, mirroring XPRESS's
	// speed-over-ratio tradeoff.
	XPRESS
	// LZMS stands in for WIM's highest-ratio (ESD-grade) codec; backed by
	// an LZMA2 stream, the closest available ratio-class codec in the
	// pack.
	LZMS
)

func (k CompressorKind) String() string {
	switch k {
	case LZX:
		return "LZX"
	case XPRESS:
		return "XPRESS"
	case LZMS:
		return "LZMS"
	default:
		return fmt.Sprintf("CompressorKind(%d)", k)
	}
}

func compressChunk(kind CompressorKind, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case LZX:
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case XPRESS:
		compressed, err := zstd.CompressLevel(nil, raw, zstd.BestSpeed)
		if err != nil {
			return nil, err
		}
		buf.Write(compressed)
	case LZMS:
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wim: unknown compressor kind %d", kind)
	}
	return buf.Bytes(), nil
}

func decompressChunk(kind CompressorKind, compressed []byte, rawLen int) ([]byte, error) {
	var r io.Reader
	switch kind {
	case LZX:
		r = flate.NewReader(bytes.NewReader(compressed))
	case XPRESS:
		raw, err := zstd.Decompress(make([]byte, 0, rawLen), compressed)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(raw)
	case LZMS:
		lr, err := xz.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		r = lr
	default:
		return nil, fmt.Errorf("wim: unknown compressor kind %d", kind)
	}

	out := make([]byte, rawLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("wim: decompress chunk: %w", err)
	}
	if rc, ok := r.(io.Closer); ok {
		_ = rc.Close()
	}
	return out, nil
}
