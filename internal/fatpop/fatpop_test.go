package fatpop

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinb-project/winimg/internal/layout"
)

func TestEstimateSizeGrowsWithContent(t *testing.T) {
	dir := t.TempDir()
	empty, err := EstimateSize(dir)
	if err != nil {
		t.Fatalf("EstimateSize empty: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "file.txt"), make([]byte, 100*1024), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	withFile, err := EstimateSize(dir)
	if err != nil {
		t.Fatalf("EstimateSize with file: %v", err)
	}
	if withFile <= empty {
		t.Fatalf("expected size estimate to grow after adding a file: %d -> %d", empty, withFile)
	}
}

func TestEstimateSizeRoundsToClusterSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tiny"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	size, err := EstimateSize(dir)
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if size < clusterSize {
		t.Fatalf("expected at least one cluster charged for a 1-byte file, got %d", size)
	}
}

func TestFormatAndPopulateRoundTrip(t *testing.T) {
	stagingDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(stagingDir, "a.txt"), []byte("alpha content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(stagingDir, "sub"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "sub", "b.txt"), []byte("bravo content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	diskDir := t.TempDir()
	diskPath := filepath.Join(diskDir, "esp.img")

	l := layout.New()
	l.Declare("EFI system partition", layout.TypeEFISystem, 32*1024*1024, 0)
	if err := l.Commit(diskPath); err != nil {
		t.Fatalf("layout.Commit: %v", err)
	}

	d, err := layout.Disk(diskPath)
	if err != nil {
		t.Fatalf("layout.Disk: %v", err)
	}
	defer d.Close()

	fs, err := Format(d, 1, "ESP")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	if err := Populate(fs, stagingDir); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	f, err := fs.OpenFile("/a.txt", os.O_RDONLY)
	if err != nil {
		t.Fatalf("OpenFile /a.txt: %v", err)
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "alpha content" {
		t.Fatalf("content mismatch: got %q", got)
	}

	f2, err := fs.OpenFile("/sub/b.txt", os.O_RDONLY)
	if err != nil {
		t.Fatalf("OpenFile /sub/b.txt: %v", err)
	}
	got2, err := io.ReadAll(f2)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got2) != "bravo content" {
		t.Fatalf("content mismatch: got %q", got2)
	}
}
