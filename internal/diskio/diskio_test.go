package diskio

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndOpenFixedVHDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.vhd")

	const size = 10 * 1024 * 1024
	c, err := CreateFixedVHD(path, size)
	if err != nil {
		t.Fatalf("CreateFixedVHD: %v", err)
	}
	if c.Capacity() != size {
		t.Fatalf("Capacity = %d, want %d", c.Capacity(), size)
	}

	payload := bytes.Repeat([]byte("hello"), 1000)
	if _, err := c.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenFixedVHD(path)
	if err != nil {
		t.Fatalf("OpenFixedVHD: %v", err)
	}
	defer reopened.Close()

	if reopened.Capacity() != size {
		t.Fatalf("reopened capacity = %d, want %d", reopened.Capacity(), size)
	}

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(reopened, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("content mismatch after vhd round trip")
	}
}

func TestVHDWriteBeyondCapacityShortWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.vhd")

	c, err := CreateFixedVHD(path, 16)
	if err != nil {
		t.Fatalf("CreateFixedVHD: %v", err)
	}
	defer c.Close()

	if _, err := c.Seek(16, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	n, err := c.Write([]byte("x"))
	if err != nil {
		t.Fatalf("Write: unexpected error %v", err)
	}
	if n != 0 {
		t.Fatalf("Write beyond capacity = %d bytes, want 0 (short write)", n)
	}
}

func TestVHDReadBeyondCapacityReturnsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small2.vhd")

	c, err := CreateFixedVHD(path, 16)
	if err != nil {
		t.Fatalf("CreateFixedVHD: %v", err)
	}
	defer c.Close()

	if _, err := c.Seek(16, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := c.Read(buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestOpenFixedVHDRejectsCorruptedFooter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.vhd")

	c, err := CreateFixedVHD(path, 512)
	if err != nil {
		t.Fatalf("CreateFixedVHD: %v", err)
	}
	if _, err := c.file.WriteAt([]byte{0xFF}, 512); err != nil {
		t.Fatalf("corrupt footer: %v", err)
	}
	c.Close()

	if _, err := OpenFixedVHD(path); err == nil {
		t.Fatalf("expected OpenFixedVHD to reject a corrupted footer")
	}
}

func TestCreateAndOpenRawFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	const size = 4096
	c, err := CreateRawFile(path, size)
	if err != nil {
		t.Fatalf("CreateRawFile: %v", err)
	}
	if _, err := c.Write([]byte("raw content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenRawTarget(path)
	if err != nil {
		t.Fatalf("OpenRawTarget: %v", err)
	}
	defer reopened.Close()
	if reopened.Capacity() != size {
		t.Fatalf("Capacity = %d, want %d", reopened.Capacity(), size)
	}

	got := make([]byte, len("raw content"))
	if _, err := io.ReadFull(reopened, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "raw content" {
		t.Fatalf("content mismatch: got %q", got)
	}
}

func TestStampFixedVHDFooterMakesFileOpenable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.img")

	const rawSize = 8192
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xAB}, rawSize), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := StampFixedVHDFooter(path); err != nil {
		t.Fatalf("StampFixedVHDFooter: %v", err)
	}

	c, err := OpenFixedVHD(path)
	if err != nil {
		t.Fatalf("OpenFixedVHD: %v", err)
	}
	defer c.Close()

	if c.Capacity() != rawSize {
		t.Fatalf("Capacity = %d, want %d", c.Capacity(), rawSize)
	}

	got := make([]byte, 16)
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatalf("read raw content back: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 16)) {
		t.Fatalf("raw content mismatch after stamping footer")
	}
}

func TestVerifyBootSignature(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	const size = 4096
	c, err := CreateRawFile(path, size)
	if err != nil {
		t.Fatalf("CreateRawFile: %v", err)
	}

	sector := make([]byte, 512)
	sector[510], sector[511] = 0x55, 0xAA
	if _, err := c.Write(sector); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := c.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	if err := VerifyBootSignature(c); err != nil {
		t.Fatalf("VerifyBootSignature: %v", err)
	}
	c.Close()

	bad, err := OpenRawTarget(path)
	if err != nil {
		t.Fatalf("OpenRawTarget: %v", err)
	}
	defer bad.Close()
	if _, err := bad.Write(make([]byte, 512)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := bad.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := VerifyBootSignature(bad); err == nil {
		t.Fatalf("expected VerifyBootSignature to reject a sector with no boot signature")
	}
}

func TestDiskGeometryMonotonic(t *testing.T) {
	sizes := []uint64{1 << 20, 1 << 30, 10 << 30, 100 << 30}
	var prevProduct uint64
	for _, s := range sizes {
		cyl, heads, spt := diskGeometry(s)
		product := uint64(cyl) * uint64(heads) * uint64(spt)
		if product == 0 {
			t.Fatalf("diskGeometry(%d) produced a zero-sector geometry", s)
		}
		if product < prevProduct {
			t.Fatalf("diskGeometry total sectors decreased as size grew: %d -> %d", prevProduct, product)
		}
		prevProduct = product
	}
}
