package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// extractCabFile extracts the first file stored in a single-folder MSZIP- or
// stored-mode Microsoft CAB archive. Real Windows catalog CABs carry exactly
// one folder holding products.xml, which is all this pipeline needs; a
// multi-folder/multi-cabinet CAB is rejected rather than partially handled.
//
// This hand-rolls the CAB container (no Go CAB library exists anywhere in
// the retrieved reference pack) but reuses klauspost/compress's deflate
// implementation for the MSZIP data blocks, since MSZIP is "CK" + raw
// deflate per 32KB block.
func extractCabFile(cab []byte) (string, []byte, error) {
	if len(cab) < 36 || string(cab[0:4]) != "MSCF" {
		return "", nil, fmt.Errorf("cab: bad signature")
	}

	coffFiles := binary.LittleEndian.Uint32(cab[16:20])
	cFolders := binary.LittleEndian.Uint16(cab[26:28])
	cFiles := binary.LittleEndian.Uint16(cab[28:30])
	flags := binary.LittleEndian.Uint16(cab[30:32])

	if cFolders == 0 || cFiles == 0 {
		return "", nil, fmt.Errorf("cab: empty archive")
	}
	if cFolders != 1 || flags&0x0003 != 0 { // more than one folder, or part of a cabinet set
		return "", nil, fmt.Errorf("cab: multi-folder/multi-cabinet CABs are not supported")
	}
	if flags&0x0004 != 0 { // reserve present fields shift the header
		return "", nil, fmt.Errorf("cab: reserved-fields CABs are not supported")
	}

	const cfheaderLen = 36
	off := cfheaderLen

	// CFFOLDER: coffCabStart(u32) cCFData(u16) typeCompress(u16)
	if off+8 > len(cab) {
		return "", nil, fmt.Errorf("cab: truncated folder header")
	}
	coffCabStart := binary.LittleEndian.Uint32(cab[off : off+4])
	cCFData := binary.LittleEndian.Uint16(cab[off+4 : off+6])
	typeCompress := binary.LittleEndian.Uint16(cab[off+6 : off+8])

	// CFFILE at coffFiles: cbFile(u32) uoffFolderStart(u32) iFolder(u16)
	// date(u16) time(u16) attribs(u16) then NUL-terminated name.
	fo := int(coffFiles)
	if fo+16 > len(cab) {
		return "", nil, fmt.Errorf("cab: truncated file entry")
	}
	cbFile := binary.LittleEndian.Uint32(cab[fo : fo+4])
	nameStart := fo + 16
	nameEnd := bytes.IndexByte(cab[nameStart:], 0)
	if nameEnd < 0 {
		return "", nil, fmt.Errorf("cab: unterminated file name")
	}
	name := string(cab[nameStart : nameStart+nameEnd])

	data, err := decompressCFData(cab, int(coffCabStart), int(cCFData), typeCompress)
	if err != nil {
		return "", nil, fmt.Errorf("cab: decompress %s: %w", name, err)
	}
	if uint32(len(data)) < cbFile {
		return "", nil, fmt.Errorf("cab: decompressed %d bytes, expected at least %d for %s", len(data), cbFile, name)
	}

	return name, data[:cbFile], nil
}

const (
	compressTypeMask  = 0x000F
	compressTypeNone  = 0x0000
	compressTypeMSZIP = 0x0001
)

// decompressCFData walks the CFDATA block chain starting at coffCabStart and
// returns the concatenated, decompressed folder data.
func decompressCFData(cab []byte, off, blockCount int, typeCompress uint16) ([]byte, error) {
	var out bytes.Buffer
	var dict []byte // MSZIP shares an LZ77 window across blocks

	for i := 0; i < blockCount; i++ {
		if off+8 > len(cab) {
			return nil, fmt.Errorf("truncated CFDATA block %d", i)
		}
		cbData := int(binary.LittleEndian.Uint16(cab[off+4 : off+6]))
		cbUncomp := int(binary.LittleEndian.Uint16(cab[off+6 : off+8]))
		dataStart := off + 8
		if dataStart+cbData > len(cab) {
			return nil, fmt.Errorf("truncated CFDATA block %d payload", i)
		}
		block := cab[dataStart : dataStart+cbData]

		switch typeCompress & compressTypeMask {
		case compressTypeNone:
			out.Write(block)
		case compressTypeMSZIP:
			if len(block) < 2 || block[0] != 'C' || block[1] != 'K' {
				return nil, fmt.Errorf("CFDATA block %d: missing MSZIP signature", i)
			}
			fr := flate.NewReaderDict(bytes.NewReader(block[2:]), dict)
			decoded := make([]byte, cbUncomp)
			if _, err := io.ReadFull(fr, decoded); err != nil {
				return nil, fmt.Errorf("CFDATA block %d: inflate: %w", i, err)
			}
			out.Write(decoded)
			dict = lastDictBytes(out.Bytes())
		default:
			return nil, fmt.Errorf("CFDATA block %d: unsupported compression type %d", i, typeCompress&compressTypeMask)
		}

		off = dataStart + cbData
	}

	return out.Bytes(), nil
}

func lastDictBytes(b []byte) []byte {
	const window = 32 * 1024
	if len(b) <= window {
		return append([]byte(nil), b...)
	}
	return append([]byte(nil), b[len(b)-window:]...)
}
