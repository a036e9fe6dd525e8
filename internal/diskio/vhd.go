// Package diskio implements the disk container backends the packer writes
// into: a hand-rolled fixed-format VHD footer (no Go library implements the
// Microsoft VHD format) and a raw file/block-device backend. Both satisfy
// the same Container interface so the rest of the pipeline is agnostic to
// which one it is writing.
package diskio

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Container is a seekable, fixed-capacity byte range a disk image can be
// written into, whether backed by a VHD footer, a raw file, or a raw block
// device.
type Container interface {
	io.ReadWriteSeeker
	io.Closer
	Capacity() int64
}

const footerSize = 512

var vhdCookie = [8]byte{'c', 'o', 'n', 'e', 'c', 't', 'i', 'x'}

// footer is the 512-byte fixed-format VHD footer, per the Microsoft Virtual
// Hard Disk Image Format Specification §"Hard Disk Footer Format". Fixed
// disks carry only this trailing footer — no header copy, no block
// allocation table, no parent locator, unlike dynamic/differencing VHDs.
type footer struct {
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64 // 0xFFFFFFFFFFFFFFFF for a fixed disk
	Timestamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      [4]byte
	OriginalSize       uint64
	CurrentSize        uint64
	DiskGeometry       uint32 // cylinders(16) | heads(8) | sectorsPerTrack(8)
	DiskType           uint32 // 2 = fixed
	Checksum           uint32
	UniqueID           [16]byte
	SavedState         uint8
	Reserved           [427]byte
}

// diskGeometry computes the CHS triple the VHD footer requires, following
// the algorithm documented in the Microsoft VHD specification.
func diskGeometry(sizeBytes uint64) (cylinders uint32, heads, sectorsPerTrack uint8) {
	totalSectors := sizeBytes / 512
	if totalSectors > 65535*16*255 {
		totalSectors = 65535 * 16 * 255
	}

	var cylTimesHeads uint64
	if totalSectors >= 65535*16*63 {
		sectorsPerTrack = 255
		heads = 16
		cylTimesHeads = totalSectors / uint64(sectorsPerTrack)
	} else {
		sectorsPerTrack = 17
		cylTimesHeads = totalSectors / uint64(sectorsPerTrack)

		heads = uint8((cylTimesHeads + 1023) / 1024)
		if heads < 4 {
			heads = 4
		}
		if cylTimesHeads >= uint64(heads)*1024 || heads > 16 {
			sectorsPerTrack = 31
			heads = 16
			cylTimesHeads = totalSectors / uint64(sectorsPerTrack)
		}
		if cylTimesHeads >= uint64(heads)*1024 {
			sectorsPerTrack = 63
			heads = 16
			cylTimesHeads = totalSectors / uint64(sectorsPerTrack)
		}
	}
	cylinders = uint32(cylTimesHeads / uint64(heads))
	return cylinders, heads, sectorsPerTrack
}

func newFixedFooter(sizeBytes uint64) (footer, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return footer{}, fmt.Errorf("diskio: generate vhd unique id: %w", err)
	}

	cyl, heads, spt := diskGeometry(sizeBytes)
	geometry := uint32(cyl)<<16 | uint32(heads)<<8 | uint32(spt)

	f := footer{
		Cookie:             vhdCookie,
		Features:           0x00000002, // reserved bit must be 1
		FileFormatVersion:  0x00010000,
		DataOffset:         0xFFFFFFFFFFFFFFFF,
		CreatorApplication: [4]byte{'w', 'i', 'm', 'g'},
		CreatorVersion:     0x00010000,
		CreatorHostOS:      [4]byte{'W', 'i', '2', 'k'},
		OriginalSize:       sizeBytes,
		CurrentSize:        sizeBytes,
		DiskGeometry:       geometry,
		DiskType:           2,
		UniqueID:           id,
	}
	return f, nil
}

func (f footer) marshal() []byte {
	buf := make([]byte, footerSize)
	copy(buf[0:8], f.Cookie[:])
	binary.BigEndian.PutUint32(buf[8:12], f.Features)
	binary.BigEndian.PutUint32(buf[12:16], f.FileFormatVersion)
	binary.BigEndian.PutUint64(buf[16:24], f.DataOffset)
	binary.BigEndian.PutUint32(buf[24:28], f.Timestamp)
	copy(buf[28:32], f.CreatorApplication[:])
	binary.BigEndian.PutUint32(buf[32:36], f.CreatorVersion)
	copy(buf[36:40], f.CreatorHostOS[:])
	binary.BigEndian.PutUint64(buf[40:48], f.OriginalSize)
	binary.BigEndian.PutUint64(buf[48:56], f.CurrentSize)
	binary.BigEndian.PutUint32(buf[56:60], f.DiskGeometry)
	binary.BigEndian.PutUint32(buf[60:64], f.DiskType)
	// Checksum field (64:68) left zero while computing the checksum itself.
	copy(buf[68:84], f.UniqueID[:])
	buf[84] = f.SavedState
	copy(buf[85:512], f.Reserved[:])

	binary.BigEndian.PutUint32(buf[64:68], checksum(buf))
	return buf
}

func unmarshalFooter(buf []byte) (footer, error) {
	if len(buf) != footerSize {
		return footer{}, fmt.Errorf("diskio: footer must be %d bytes, got %d", footerSize, len(buf))
	}
	var f footer
	copy(f.Cookie[:], buf[0:8])
	if f.Cookie != vhdCookie {
		return footer{}, fmt.Errorf("diskio: not a recognized vhd footer (bad cookie)")
	}
	f.Features = binary.BigEndian.Uint32(buf[8:12])
	f.FileFormatVersion = binary.BigEndian.Uint32(buf[12:16])
	f.DataOffset = binary.BigEndian.Uint64(buf[16:24])
	f.Timestamp = binary.BigEndian.Uint32(buf[24:28])
	copy(f.CreatorApplication[:], buf[28:32])
	f.CreatorVersion = binary.BigEndian.Uint32(buf[32:36])
	copy(f.CreatorHostOS[:], buf[36:40])
	f.OriginalSize = binary.BigEndian.Uint64(buf[40:48])
	f.CurrentSize = binary.BigEndian.Uint64(buf[48:56])
	f.DiskGeometry = binary.BigEndian.Uint32(buf[56:60])
	f.DiskType = binary.BigEndian.Uint32(buf[60:64])
	f.Checksum = binary.BigEndian.Uint32(buf[64:68])
	copy(f.UniqueID[:], buf[68:84])
	f.SavedState = buf[84]
	copy(f.Reserved[:], buf[85:512])

	want := f.Checksum
	check := make([]byte, footerSize)
	copy(check, buf)
	binary.BigEndian.PutUint32(check[64:68], 0)
	got := checksum(check)
	if got != want {
		return footer{}, fmt.Errorf("diskio: vhd footer checksum mismatch: want %#08x, got %#08x", want, got)
	}
	if f.DiskType != 2 {
		return footer{}, fmt.Errorf("diskio: unsupported vhd disk type %d (only fixed disks are supported)", f.DiskType)
	}
	return f, nil
}

// checksum is the ones'-complement sum of every byte in buf, with the
// checksum field itself treated as zero, per the VHD specification.
func checksum(buf []byte) uint32 {
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return ^sum
}

// CreateFixedVHD creates a new fixed-format VHD at path with the given
// capacity, pre-allocated as a sparse file plus a trailing footer.
func CreateFixedVHD(path string, sizeBytes int64) (*VhdContainer, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("diskio: vhd size must be positive")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("diskio: create %s: %w", path, err)
	}
	if err := f.Truncate(sizeBytes + footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: truncate %s: %w", path, err)
	}

	ft, err := newFixedFooter(uint64(sizeBytes))
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(ft.marshal(), sizeBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: write vhd footer: %w", err)
	}

	return &VhdContainer{file: f, capacity: sizeBytes}, nil
}

// OpenFixedVHD opens an existing fixed-format VHD, validating its footer.
func OpenFixedVHD(path string) (*VhdContainer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < footerSize {
		f.Close()
		return nil, fmt.Errorf("diskio: %s too small to hold a vhd footer", path)
	}

	buf := make([]byte, footerSize)
	if _, err := f.ReadAt(buf, info.Size()-footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: read vhd footer: %w", err)
	}
	ft, err := unmarshalFooter(buf)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &VhdContainer{file: f, capacity: int64(ft.CurrentSize)}, nil
}

// StampFixedVHDFooter appends a fixed-disk VHD footer to the end of an
// already-written raw sector image, turning it into a valid fixed-format
// VHD in place. The partition and filesystem layers (internal/layout,
// internal/fatpop) write contiguous raw sectors through go-diskfs's
// file-path API, which has no hook for an injected Container; rather than
// routing every sector write through VhdContainer, the orchestrator builds
// the raw image first and stamps the footer on afterward, mirroring how a
// fixed VHD is, byte for byte, a raw disk image plus a trailing footer copy.
func StampFixedVHDFooter(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("diskio: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("diskio: stat %s: %w", path, err)
	}
	sizeBytes := info.Size()

	ft, err := newFixedFooter(uint64(sizeBytes))
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(ft.marshal(), sizeBytes); err != nil {
		return fmt.Errorf("diskio: write vhd footer: %w", err)
	}
	return nil
}

// VhdContainer is a Container bounded to a fixed VHD's data region
// ([0, capacity)), translating reads/writes/seeks past that boundary the
// way a real VHD driver would: an over-read returns io.EOF, an at-or-past
// capacity write returns a zero-byte short write rather than an error or
// a spill into the footer, matching the original VhdStream contract.
type VhdContainer struct {
	file     *os.File
	capacity int64
	pos      int64
}

func (v *VhdContainer) Capacity() int64 { return v.capacity }

func (v *VhdContainer) Read(p []byte) (int, error) {
	if v.pos >= v.capacity {
		return 0, io.EOF
	}
	if remaining := v.capacity - v.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := v.file.ReadAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}

func (v *VhdContainer) Write(p []byte) (int, error) {
	if v.pos >= v.capacity {
		return 0, nil
	}
	if remaining := v.capacity - v.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := v.file.WriteAt(p, v.pos)
	v.pos += int64(n)
	return n, err
}

func (v *VhdContainer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = v.pos + offset
	case io.SeekEnd:
		newPos = v.capacity + offset
	default:
		return 0, fmt.Errorf("diskio: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("diskio: invalid seek before start")
	}
	v.pos = newPos
	return v.pos, nil
}

func (v *VhdContainer) Close() error {
	return v.file.Close()
}
